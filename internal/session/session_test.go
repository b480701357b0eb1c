package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/boardsync/internal/models"
	"github.com/charlesng35/boardsync/internal/stream"

	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

// testBackend is an in-process REST + stream backend for one room.
type testBackend struct {
	rest      *httptest.Server
	ws        *httptest.Server
	comments  chan *websocket.Conn
	chat      chan *websocket.Conn
	chatInbox chan []byte
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	b := &testBackend{
		comments:  make(chan *websocket.Conn, 4),
		chat:      make(chan *websocket.Conn, 4),
		chatInbox: make(chan []byte, 16),
	}

	b.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/comments/dashboards/"):
			_, _ = w.Write([]byte(`[{"_id":"seed-c1","dashboard_id":"room-1","user_id":"u9","user_name":"zoe","content":"seeded","coordinates":[1,2]}]`))
		case strings.HasPrefix(r.URL.Path, "/chat/messages/"):
			_, _ = w.Write([]byte(`[{"_id":"seed-m1","room_id":"room-1","user_id":"u9","username":"zoe","content":"old message","message_type":"text","timestamp":"2026-08-24T09:00:00Z"}]`))
		case strings.HasPrefix(r.URL.Path, "/chat/users/"):
			_, _ = w.Write([]byte(`[{"user_id":"u9","username":"zoe","status":"online"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.rest.Close)

	upgrader := websocket.Upgrader{}
	b.ws = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/ws/comments/"):
			b.comments <- conn
		case strings.HasPrefix(r.URL.Path, "/ws/chat/"):
			b.chat <- conn
			go func() {
				for {
					_, payload, err := conn.ReadMessage()
					if err != nil {
						return
					}
					b.chatInbox <- payload
				}
			}()
		default:
			_ = conn.Close()
		}
	}))
	t.Cleanup(b.ws.Close)

	return b
}

func (b *testBackend) config() Config {
	return Config{
		APIBaseURL:    b.rest.URL,
		StreamBaseURL: "ws" + strings.TrimPrefix(b.ws.URL, "http"),
		Author:        models.Author{ID: "u1", Name: "alice"},
		EchoWindow:    10 * time.Second,
	}
}

func openTestSession(t *testing.T, b *testBackend) (*RoomSession, *websocket.Conn, *websocket.Conn) {
	t.Helper()

	connected := make(chan stream.ConnEvent, 16)

	sess, err := Open(context.Background(), "room-1", b.config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	cancel := sess.OnConn(func(event stream.ConnEvent) {
		connected <- event
	})
	t.Cleanup(cancel)

	var commentWS, chatWS *websocket.Conn
	deadline := time.After(3 * time.Second)
	for commentWS == nil || chatWS == nil {
		select {
		case commentWS = <-b.comments:
		case chatWS = <-b.chat:
		case <-deadline:
			t.Fatal("timed out waiting for stream connections")
		}
	}

	// Wait until both streams report open before pushing frames.
	open := 0
	deadline = time.After(3 * time.Second)
	for open < 2 {
		select {
		case event := <-connected:
			if event.State == stream.StateOpen {
				open++
			}
		case <-deadline:
			t.Fatal("timed out waiting for open streams")
		}
	}

	return sess, commentWS, chatWS
}

func TestOpenSeedsStores(t *testing.T) {
	b := newTestBackend(t)
	sess, _, _ := openTestSession(t, b)

	comments := sess.Comments.Comments()
	require.Len(t, comments, 1)
	require.Equal(t, "seed-c1", comments[0].RemoteID)

	messages := sess.Chat.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "seed-m1", messages[0].RemoteID)

	require.Eventually(t, func() bool {
		return len(sess.Presence.Members()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastFramesReachStores(t *testing.T) {
	b := newTestBackend(t)
	sess, commentWS, chatWS := openTestSession(t, b)

	require.NoError(t, commentWS.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"comment_created","data":{"_id":"c2","dashboard_id":"room-1","user_id":"u2","user_name":"bob","content":"from peer","coordinates":[5,6]}}`)))

	require.Eventually(t, func() bool {
		return sess.Comments.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, chatWS.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"users_list","data":{"users":[{"user_id":"u2","username":"bob","status":"online"},{"user_id":"u1","username":"alice","status":"online"}]}}`)))

	require.Eventually(t, func() bool {
		return len(sess.Presence.Members()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Unknown event types are ignored without breaking the stream.
	require.NoError(t, commentWS.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"comment_reacted","data":{"_id":"c2"}}`)))
	require.NoError(t, commentWS.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"comment_deleted","data":{"_id":"c2"}}`)))

	require.Eventually(t, func() bool {
		return sess.Comments.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendChatRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	sess, _, chatWS := openTestSession(t, b)

	localID, err := sess.SendChat("hello room")
	require.NoError(t, err)
	require.NotEmpty(t, localID)

	// The backend received the outbound frame.
	select {
	case payload := <-b.chatInbox:
		require.Contains(t, string(payload), `"content":"hello room"`)
		require.Contains(t, string(payload), `"message_type":"text"`)
	case <-time.After(3 * time.Second):
		t.Fatal("outbound chat frame not received")
	}

	// Pending until the echo lands.
	messages := sess.Chat.Messages()
	require.Equal(t, models.StatePending, messages[len(messages)-1].State)

	require.NoError(t, chatWS.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"chat_message","data":{"_id":"m2","room_id":"room-1","user_id":"u1","username":"alice","content":"hello room","message_type":"text","timestamp":"2026-08-24T10:00:00Z"}}`)))

	require.Eventually(t, func() bool {
		messages := sess.Chat.Messages()
		for _, message := range messages {
			if message.RemoteID == "m2" && message.LocalID == localID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, sess.Chat.Len(), "echo must confirm, not duplicate")
}

func TestJoinLeaveSynthesizeSystemMessages(t *testing.T) {
	b := newTestBackend(t)
	sess, _, chatWS := openTestSession(t, b)

	require.NoError(t, chatWS.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"user_joined","data":{"user_id":"u3","username":"carol"}}`)))

	require.Eventually(t, func() bool {
		for _, message := range sess.Chat.Messages() {
			if message.Kind == models.MessageKindSystem && strings.Contains(message.Content, "carol joined") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendChatFailsWhenStreamDown(t *testing.T) {
	b := newTestBackend(t)
	sess, _, _ := openTestSession(t, b)

	require.NoError(t, sess.Close())

	before := sess.Chat.Len()
	_, err := sess.SendChat("too late")
	require.Error(t, err)
	require.NotErrorIs(t, err, apperrors.ErrNotConnected, "closed store rejects before the stream is consulted")
	require.Equal(t, before, sess.Chat.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	sess, _, _ := openTestSession(t, b)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}
