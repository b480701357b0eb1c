package events

import (
	"encoding/json"

	"github.com/charlesng35/boardsync/internal/models"
)

// Wire event type names for the comment stream.
const (
	TypeCommentCreated = "comment_created"
	TypeCommentUpdated = "comment_updated"
	TypeCommentDeleted = "comment_deleted"
)

// Wire event type names for the chat stream.
const (
	TypeChatMessage = "chat_message"
	TypeUserJoined  = "user_joined"
	TypeUserLeft    = "user_left"
	TypeUsersList   = "users_list"
	TypeStreamError = "error"
)

// Frame is the envelope shared by every stream message, inbound and
// outbound.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommentEvent is the closed set of decoded comment-stream events.
type CommentEvent interface {
	commentEvent()
}

// CommentCreated announces a comment accepted by the backend. It may be the
// echo of a local create or a third-party broadcast.
type CommentCreated struct {
	Comment models.CommentRecord
}

// CommentUpdated carries the authoritative state after an edit.
type CommentUpdated struct {
	Comment models.CommentRecord
}

// CommentDeleted announces a removal by remote ID.
type CommentDeleted struct {
	ID string
}

func (CommentCreated) commentEvent() {}
func (CommentUpdated) commentEvent() {}
func (CommentDeleted) commentEvent() {}

// ChatEvent is the closed set of decoded chat-stream events.
type ChatEvent interface {
	chatEvent()
}

// ChatMessageReceived carries one chat message, echo or broadcast.
type ChatMessageReceived struct {
	Message models.ChatMessageRecord
}

// UserJoined announces a user entering the room.
type UserJoined struct {
	UserID   string
	Username string
}

// UserLeft announces a user leaving the room.
type UserLeft struct {
	UserID   string
	Username string
}

// UsersList replaces the presence set wholesale.
type UsersList struct {
	Users []models.PresenceMember
}

// StreamError surfaces a server-reported error on the chat stream.
type StreamError struct {
	Message string
}

func (ChatMessageReceived) chatEvent() {}
func (UserJoined) chatEvent()          {}
func (UserLeft) chatEvent()            {}
func (UsersList) chatEvent()           {}
func (StreamError) chatEvent()         {}

// Unknown is the fallback for event types this client does not recognise.
// Servers may add new types; unknown frames are logged and ignored rather
// than treated as failures.
type Unknown struct {
	Type string
}

func (Unknown) commentEvent() {}
func (Unknown) chatEvent()    {}
