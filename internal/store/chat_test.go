package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/boardsync/internal/models"

	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

func newTestChatStore(t *testing.T) *ChatStore {
	t.Helper()

	s, err := NewChatStore("room-1", models.Author{ID: "u1", Name: "alice"}, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func ts(minute int) time.Time {
	return time.Date(2026, 8, 24, 12, minute, 0, 0, time.UTC)
}

func TestAppendLocalRendersAtTail(t *testing.T) {
	s := newTestChatStore(t)

	s.SeedHistory([]models.ChatMessageRecord{
		{ID: "m1", UserID: "u2", Username: "bob", Content: "first", MessageType: "text", Timestamp: ts(0)},
	})

	localID, err := s.AppendLocal("my reply")
	require.NoError(t, err)

	messages := s.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "m1", messages[0].RemoteID)
	require.Equal(t, localID, messages[1].LocalID)
	require.Equal(t, models.StatePending, messages[1].State)
}

func TestEchoRepositionsPendingByServerTimestamp(t *testing.T) {
	s := newTestChatStore(t)

	s.SeedHistory([]models.ChatMessageRecord{
		{ID: "m1", UserID: "u2", Content: "early", MessageType: "text", Timestamp: ts(0)},
	})

	localID, err := s.AppendLocal("mine")
	require.NoError(t, err)

	// A third-party message with a later timestamp arrives while ours is
	// still pending; the pending message stays at the tail.
	s.ApplyRemoteMessage(models.ChatMessageRecord{
		ID: "m2", UserID: "u3", Content: "peer", MessageType: "text", Timestamp: ts(2),
	})
	messages := s.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, localID, messages[2].LocalID)

	// The echo carries the true timestamp, placing our message between the
	// two confirmed ones.
	s.ApplyRemoteMessage(models.ChatMessageRecord{
		ID: "m3", UserID: "u1", Content: "mine", MessageType: "text", Timestamp: ts(1),
	})

	messages = s.Messages()
	require.Len(t, messages, 3, "echo must replace the pending message, not duplicate it")
	require.Equal(t, []string{"m1", "m3", "m2"}, []string{messages[0].RemoteID, messages[1].RemoteID, messages[2].RemoteID})
	require.Equal(t, localID, messages[1].LocalID, "promotion keeps the local id")
	require.Equal(t, models.StateConfirmed, messages[1].State)
}

func TestApplyRemoteMessageIsIdempotent(t *testing.T) {
	s := newTestChatStore(t)

	record := models.ChatMessageRecord{ID: "m1", UserID: "u2", Content: "hello", MessageType: "text", Timestamp: ts(0)}
	s.ApplyRemoteMessage(record)
	first := s.Messages()
	s.ApplyRemoteMessage(record)
	second := s.Messages()

	require.Equal(t, first, second)
	require.Equal(t, 1, s.Len())
}

func TestSeedHistoryDeduplicates(t *testing.T) {
	s := newTestChatStore(t)

	s.ApplyRemoteMessage(models.ChatMessageRecord{ID: "m2", UserID: "u2", Content: "live", Timestamp: ts(3)})

	s.SeedHistory([]models.ChatMessageRecord{
		{ID: "m1", UserID: "u2", Content: "old", Timestamp: ts(1)},
		{ID: "m2", UserID: "u2", Content: "live", Timestamp: ts(3)},
	})

	messages := s.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "m1", messages[0].RemoteID, "history merges in timestamp order")
	require.Equal(t, "m2", messages[1].RemoteID)
}

func TestRemoveConfirmedKeepsPending(t *testing.T) {
	s := newTestChatStore(t)

	s.ApplyRemoteMessage(models.ChatMessageRecord{ID: "m1", UserID: "u2", Content: "wiped", Timestamp: ts(0)})
	localID, err := s.AppendLocal("unsent draft")
	require.NoError(t, err)

	s.RemoveConfirmed()

	messages := s.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, localID, messages[0].LocalID)
}

func TestSystemMessages(t *testing.T) {
	s := newTestChatStore(t)

	s.AddSystem("carol joined the room")

	messages := s.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, models.MessageKindSystem, messages[0].Kind)
	require.Equal(t, models.StateConfirmed, messages[0].State)
}

func TestDiscardLocalChatMessage(t *testing.T) {
	s := newTestChatStore(t)

	localID, err := s.AppendLocal("failed send")
	require.NoError(t, err)
	s.DiscardLocal(localID)
	require.Equal(t, 0, s.Len())
}

func TestChatOnChangeMayReadStoreBack(t *testing.T) {
	s := newTestChatStore(t)

	var seen []models.ChatMessage
	s.SetOnChange(func() {
		seen = s.Messages()
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.AppendLocal("hello")
		errCh <- err
	}()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AppendLocal blocked while the change callback read the store")
	}
	require.Len(t, seen, 1)

	done := make(chan struct{})
	go func() {
		s.ApplyRemoteMessage(models.ChatMessageRecord{ID: "m1", UserID: "u2", Content: "peer", Timestamp: ts(1)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyRemoteMessage blocked while the change callback read the store")
	}
	require.Len(t, seen, 2)
}

func TestChatDiscardLocalAfterCloseIsIgnored(t *testing.T) {
	s, err := NewChatStore("room-1", models.Author{ID: "u1"}, 0)
	require.NoError(t, err)

	localID, err := s.AppendLocal("draft")
	require.NoError(t, err)

	s.Close()
	s.DiscardLocal(localID)
	require.Equal(t, 1, s.Len(), "discard after close must not mutate the store")
}

func TestChatStoreClosedRejectsWrites(t *testing.T) {
	s, err := NewChatStore("room-1", models.Author{ID: "u1"}, 0)
	require.NoError(t, err)
	s.Close()

	_, err = s.AppendLocal("late")
	require.ErrorIs(t, err, apperrors.ErrSessionClosed)

	s.ApplyRemoteMessage(models.ChatMessageRecord{ID: "m1", Content: "late"})
	require.Equal(t, 0, s.Len())
}
