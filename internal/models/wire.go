package models

import "time"

// CommentRecord is the backend representation of a comment as it appears in
// REST responses and stream broadcasts.
type CommentRecord struct {
	ID          string    `json:"_id" mapstructure:"_id"`
	DashboardID string    `json:"dashboard_id" mapstructure:"dashboard_id"`
	UserID      string    `json:"user_id" mapstructure:"user_id"`
	UserName    string    `json:"user_name" mapstructure:"user_name"`
	Content     string    `json:"content" mapstructure:"content"`
	Coordinates []float64 `json:"coordinates" mapstructure:"coordinates"` // [x, y]
	CreatedAt   time.Time `json:"created_at" mapstructure:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" mapstructure:"updated_at"`
}

// XY returns the coordinate pair, tolerating short arrays from older
// backends.
func (r CommentRecord) XY() (float64, float64) {
	var x, y float64
	if len(r.Coordinates) > 0 {
		x = r.Coordinates[0]
	}
	if len(r.Coordinates) > 1 {
		y = r.Coordinates[1]
	}
	return x, y
}

// ChatMessageRecord is the backend representation of a chat message.
type ChatMessageRecord struct {
	ID          string    `json:"_id" mapstructure:"_id"`
	RoomID      string    `json:"room_id" mapstructure:"room_id"`
	UserID      string    `json:"user_id" mapstructure:"user_id"`
	Username    string    `json:"username" mapstructure:"username"`
	Content     string    `json:"content" mapstructure:"content"`
	MessageType string    `json:"message_type" mapstructure:"message_type"`
	Timestamp   time.Time `json:"timestamp" mapstructure:"timestamp"`
}

// Kind maps the wire message type onto the client-side message kind. The
// backend emits "text" for user-authored messages.
func (r ChatMessageRecord) Kind() string {
	switch r.MessageType {
	case "system":
		return MessageKindSystem
	default:
		return MessageKindUser
	}
}
