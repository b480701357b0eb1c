package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPersistErrorDetailConcatenation(t *testing.T) {
	err := NewPersist("create comment", 422, []ValidationDetail{
		{Msg: "content must not be empty"},
		{Msg: "coordinates out of range"},
	})

	require.Equal(t, "content must not be empty; coordinates out of range", err.Detail())
	require.Contains(t, err.Error(), "create comment")
	require.Contains(t, err.Error(), "422")
	require.Contains(t, err.Error(), "content must not be empty")
}

func TestPersistErrorWithoutDetails(t *testing.T) {
	err := NewPersist("delete comment", 500, nil)
	require.Equal(t, "", err.Detail())
	require.Equal(t, "delete comment: request failed (status 500)", err.Error())
}

func TestPersistErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &PersistError{Op: "list comments", StatusCode: 0, Internal: inner}
	require.ErrorIs(t, err, inner)
}

func TestConnectionErrorWrapsCause(t *testing.T) {
	cause := errors.New("broken pipe")
	err := &ConnectionError{Endpoint: "ws://example/ws/chat/room-1", Internal: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "ws://example/ws/chat/room-1")
}

func TestDecodeErrorMessage(t *testing.T) {
	err := &DecodeError{Reason: "invalid JSON frame"}
	require.Equal(t, "decode: invalid JSON frame", err.Error())
}
