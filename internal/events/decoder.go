package events

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/charlesng35/boardsync/internal/models"
	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

// DecodeComment parses a raw comment-stream frame into its event variant.
// Unknown types decode to Unknown with a nil error; only malformed frames
// return a DecodeError.
func DecodeComment(raw []byte) (CommentEvent, error) {
	frame, err := parseFrame(raw)
	if err != nil {
		return nil, err
	}

	switch frame.Type {
	case TypeCommentCreated:
		var record models.CommentRecord
		if err := decodeData(frame.Data, &record); err != nil {
			return nil, err
		}
		return CommentCreated{Comment: record}, nil
	case TypeCommentUpdated:
		var record models.CommentRecord
		if err := decodeData(frame.Data, &record); err != nil {
			return nil, err
		}
		return CommentUpdated{Comment: record}, nil
	case TypeCommentDeleted:
		var payload struct {
			ID string `mapstructure:"_id"`
		}
		if err := decodeData(frame.Data, &payload); err != nil {
			return nil, err
		}
		return CommentDeleted{ID: payload.ID}, nil
	default:
		return Unknown{Type: frame.Type}, nil
	}
}

// DecodeChat parses a raw chat-stream frame into its event variant.
func DecodeChat(raw []byte) (ChatEvent, error) {
	frame, err := parseFrame(raw)
	if err != nil {
		return nil, err
	}

	switch frame.Type {
	case TypeChatMessage:
		var record models.ChatMessageRecord
		if err := decodeData(frame.Data, &record); err != nil {
			return nil, err
		}
		return ChatMessageReceived{Message: record}, nil
	case TypeUserJoined, TypeUserLeft:
		var payload struct {
			UserID   string `mapstructure:"user_id"`
			Username string `mapstructure:"username"`
		}
		if err := decodeData(frame.Data, &payload); err != nil {
			return nil, err
		}
		if frame.Type == TypeUserJoined {
			return UserJoined{UserID: payload.UserID, Username: payload.Username}, nil
		}
		return UserLeft{UserID: payload.UserID, Username: payload.Username}, nil
	case TypeUsersList:
		var payload struct {
			Users []models.PresenceMember `mapstructure:"users"`
		}
		if err := decodeData(frame.Data, &payload); err != nil {
			return nil, err
		}
		return UsersList{Users: payload.Users}, nil
	case TypeStreamError:
		var payload struct {
			Message string `mapstructure:"message"`
		}
		if err := decodeData(frame.Data, &payload); err != nil {
			return nil, err
		}
		return StreamError{Message: payload.Message}, nil
	default:
		return Unknown{Type: frame.Type}, nil
	}
}

func parseFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, &apperrors.DecodeError{Reason: "invalid JSON frame", Internal: err}
	}
	if frame.Type == "" {
		return Frame{}, &apperrors.DecodeError{Reason: "frame missing type field"}
	}
	return frame, nil
}

func decodeData(data json.RawMessage, out any) error {
	payload := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return &apperrors.DecodeError{Reason: "invalid data object", Internal: err}
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: stringToTimeHook(),
		Result:     out,
	})
	if err != nil {
		return &apperrors.DecodeError{Reason: "decoder setup failed", Internal: err}
	}
	if err := decoder.Decode(payload); err != nil {
		return &apperrors.DecodeError{Reason: "payload does not match event shape", Internal: err}
	}
	return nil
}

// Backends emit RFC 3339 timestamps, some without a timezone suffix.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func stringToTimeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		value := data.(string)
		if value == "" {
			return time.Time{}, nil
		}
		var lastErr error
		for _, layout := range timeLayouts {
			parsed, err := time.Parse(layout, value)
			if err == nil {
				return parsed, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}
