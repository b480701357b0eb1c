package models

import "time"

// ConfirmationState tracks whether an optimistic record has been acknowledged
// by the backend.
type ConfirmationState string

const (
	// StatePending marks a record created locally that has not been
	// acknowledged yet. Pending records never carry a remote ID.
	StatePending ConfirmationState = "pending"

	// StateConfirmed marks a record that carries a server-assigned ID and
	// matches the last known server state. The transition from pending is
	// irreversible for a given local ID.
	StateConfirmed ConfirmationState = "confirmed"
)

// Chat message kinds.
const (
	MessageKindUser   = "user"
	MessageKindSystem = "system"
)

// Comment is the client-side view of a board annotation. LocalID is minted on
// creation and stable for the lifetime of the in-memory record; RemoteID is
// empty until the create round-trip or the matching broadcast completes.
type Comment struct {
	LocalID    string
	RemoteID   string
	RoomID     string
	AuthorID   string
	AuthorName string
	Content    string
	X          float64
	Y          float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	State      ConfirmationState

	// SubmittedAt is the local wall-clock time the record was created. It
	// bounds the window in which an inbound broadcast may be matched
	// against a pending record that has no remote ID yet.
	SubmittedAt time.Time
}

// Pending reports whether the comment still awaits acknowledgement.
func (c Comment) Pending() bool {
	return c.State == StatePending
}

// ChatMessage is the client-side view of a chat entry.
type ChatMessage struct {
	LocalID    string
	RemoteID   string
	RoomID     string
	AuthorID   string
	AuthorName string
	Content    string
	Kind       string
	Timestamp  time.Time
	State      ConfirmationState

	SubmittedAt time.Time
}

// Pending reports whether the message still awaits its echo.
func (m ChatMessage) Pending() bool {
	return m.State == StatePending
}

// PresenceMember describes one user currently connected to a room.
type PresenceMember struct {
	UserID      string `json:"user_id" mapstructure:"user_id"`
	DisplayName string `json:"username" mapstructure:"username"`
	Status      string `json:"status" mapstructure:"status"`
}

// Author identifies the local user on whose behalf optimistic records are
// created.
type Author struct {
	ID   string
	Name string
}
