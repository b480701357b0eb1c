package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/boardsync/internal/events"
	"github.com/charlesng35/boardsync/internal/gateway"
	"github.com/charlesng35/boardsync/internal/models"
	"github.com/charlesng35/boardsync/internal/presence"
	"github.com/charlesng35/boardsync/internal/store"
	"github.com/charlesng35/boardsync/internal/stream"
	"github.com/charlesng35/boardsync/pkg/logger"
	"github.com/charlesng35/boardsync/pkg/metrics"

	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

const defaultHistoryLimit = 50

// Config carries everything a room session needs. APIBaseURL is the http(s)
// REST origin, StreamBaseURL the ws(s) origin.
type Config struct {
	APIBaseURL    string
	StreamBaseURL string
	Token         string
	Author        models.Author

	Stream                  stream.Config
	EchoWindow              time.Duration
	HistoryLimit            int
	PresenceRefreshInterval time.Duration
}

// RoomSession owns the synchronization state of one room: two stream
// connections (comments, chat), their stores, and the presence tracker. It is
// not shared across rooms; tearing it down releases everything it owns.
type RoomSession struct {
	// Comments, Chat, and Presence are the UI-facing state surfaces.
	Comments *store.CommentStore
	Chat     *store.ChatStore
	Presence *presence.Tracker

	roomID     string
	cfg        Config
	gateway    *gateway.Client
	dispatcher *stream.Dispatcher
	comments   *stream.Conn
	chat       *stream.Conn
	log        *zap.Logger

	closeOnce sync.Once
	unsub     []func()
}

// Open builds a session, seeds its stores from the REST gateway, and starts
// both stream connections.
func Open(ctx context.Context, roomID string, cfg Config) (*RoomSession, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.New("session: room id is required")
	}
	if cfg.Author.ID == "" {
		return nil, errors.New("session: author id is required")
	}

	gw, err := gateway.New(cfg.APIBaseURL, cfg.Token, nil)
	if err != nil {
		return nil, err
	}

	comments, err := store.NewCommentStore(roomID, cfg.Author, gw, cfg.EchoWindow)
	if err != nil {
		return nil, err
	}
	chat, err := store.NewChatStore(roomID, cfg.Author, cfg.EchoWindow)
	if err != nil {
		return nil, err
	}
	tracker, err := presence.NewTracker(roomID, gw)
	if err != nil {
		return nil, err
	}

	s := &RoomSession{
		Comments:   comments,
		Chat:       chat,
		Presence:   tracker,
		roomID:     roomID,
		cfg:        cfg,
		gateway:    gw,
		dispatcher: stream.NewDispatcher(),
		log:        logger.WithRoom("session", roomID),
	}

	if err := s.seed(ctx); err != nil {
		s.teardownStores()
		return nil, err
	}

	s.unsub = append(s.unsub, s.dispatcher.OnFrame(s.routeFrame))

	streamCfg := cfg.Stream
	if streamCfg.BaseURL == "" {
		streamCfg.BaseURL = cfg.StreamBaseURL
	}

	s.comments, err = stream.Open(roomID, stream.KindComments, streamCfg, s.dispatcher)
	if err != nil {
		s.teardownStores()
		return nil, err
	}
	s.chat, err = stream.Open(roomID, stream.KindChat, streamCfg, s.dispatcher)
	if err != nil {
		_ = s.comments.Close()
		s.teardownStores()
		return nil, err
	}

	if cfg.PresenceRefreshInterval > 0 {
		if err := tracker.Start(cfg.PresenceRefreshInterval); err != nil {
			s.log.Warn("presence schedule failed", zap.Error(err))
		}
	}

	return s, nil
}

// OnConn registers a connectivity subscriber for both streams and returns its
// cancel func.
func (s *RoomSession) OnConn(fn func(stream.ConnEvent)) func() {
	return s.dispatcher.OnConn(fn)
}

// SendChat renders the message immediately as pending and sends it over the
// chat stream. When the stream is not open the pending record is withdrawn
// and ErrNotConnected returned; nothing is queued.
func (s *RoomSession) SendChat(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("session: message content is required")
	}

	localID, err := s.Chat.AppendLocal(content)
	if err != nil {
		return "", err
	}

	sent := s.chat.Send(events.TypeChatMessage, map[string]string{
		"content":      content,
		"message_type": "text",
	})
	if !sent {
		s.Chat.DiscardLocal(localID)
		return "", apperrors.ErrNotConnected
	}
	return localID, nil
}

// ClearChat wipes the room history on the backend and locally.
func (s *RoomSession) ClearChat(ctx context.Context) error {
	if err := s.gateway.ClearChat(ctx, s.roomID); err != nil {
		return err
	}
	s.Chat.RemoveConfirmed()
	return nil
}

// Reconnect resets both stream retry budgets and retries immediately.
func (s *RoomSession) Reconnect() error {
	return multierr.Append(s.comments.Reconnect(), s.chat.Reconnect())
}

// Close tears the session down: stream connections, presence scheduler, and
// stores. Late REST results and frames are discarded afterwards. Safe to call
// multiple times.
func (s *RoomSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, cancel := range s.unsub {
			cancel()
		}
		if s.comments != nil {
			err = multierr.Append(err, s.comments.Close())
		}
		if s.chat != nil {
			err = multierr.Append(err, s.chat.Close())
		}
		s.teardownStores()
		s.log.Info("session closed")
	})
	return err
}

func (s *RoomSession) teardownStores() {
	s.Presence.Close()
	s.Comments.Close()
	s.Chat.Close()
}

func (s *RoomSession) seed(ctx context.Context) error {
	records, err := s.gateway.ListComments(ctx, s.roomID)
	if err != nil {
		return err
	}
	s.Comments.Seed(records)

	limit := s.cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history, err := s.gateway.ChatHistory(ctx, s.roomID, limit, 0)
	if err != nil {
		return err
	}
	s.Chat.SeedHistory(history)

	if err := s.Presence.Refresh(ctx); err != nil {
		// Presence is rebuilt by the first users_list event or the next
		// scheduled refresh; a failed initial snapshot is not fatal.
		s.log.Warn("initial presence snapshot failed", zap.Error(err))
	}
	return nil
}

// routeFrame decodes one inbound frame and applies it. Frames arrive in
// order on the connection's read goroutine; application stays sequential per
// stream so reconciliation remains idempotent.
func (s *RoomSession) routeFrame(kind stream.Kind, raw []byte) {
	switch kind {
	case stream.KindComments:
		s.routeCommentFrame(raw)
	case stream.KindChat:
		s.routeChatFrame(raw)
	}
}

func (s *RoomSession) routeCommentFrame(raw []byte) {
	event, err := events.DecodeComment(raw)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(string(stream.KindComments), "decode").Inc()
		s.log.Warn("dropping comment frame", zap.Error(err))
		return
	}

	switch e := event.(type) {
	case events.CommentCreated:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindComments), events.TypeCommentCreated).Inc()
		s.Comments.ApplyRemoteCreated(e.Comment)
	case events.CommentUpdated:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindComments), events.TypeCommentUpdated).Inc()
		s.Comments.ApplyRemoteUpdated(e.Comment)
	case events.CommentDeleted:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindComments), events.TypeCommentDeleted).Inc()
		s.Comments.ApplyRemoteDeleted(e.ID)
	case events.Unknown:
		metrics.FramesDropped.WithLabelValues(string(stream.KindComments), "unknown_type").Inc()
		s.log.Debug("ignoring unknown comment event", zap.String("type", e.Type))
	}
}

func (s *RoomSession) routeChatFrame(raw []byte) {
	event, err := events.DecodeChat(raw)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(string(stream.KindChat), "decode").Inc()
		s.log.Warn("dropping chat frame", zap.Error(err))
		return
	}

	switch e := event.(type) {
	case events.ChatMessageReceived:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindChat), events.TypeChatMessage).Inc()
		s.Chat.ApplyRemoteMessage(e.Message)
	case events.UserJoined:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindChat), events.TypeUserJoined).Inc()
		s.Presence.ApplyJoined(e.UserID)
		if e.Username != "" {
			s.Chat.AddSystem(e.Username + " joined the room")
		}
	case events.UserLeft:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindChat), events.TypeUserLeft).Inc()
		s.Presence.ApplyLeft(e.UserID)
		if e.Username != "" {
			s.Chat.AddSystem(e.Username + " left the room")
		}
	case events.UsersList:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindChat), events.TypeUsersList).Inc()
		s.Presence.ApplyUsersList(e.Users)
	case events.StreamError:
		metrics.FramesDecoded.WithLabelValues(string(stream.KindChat), events.TypeStreamError).Inc()
		s.log.Warn("server reported stream error", zap.String("message", e.Message))
	case events.Unknown:
		metrics.FramesDropped.WithLabelValues(string(stream.KindChat), "unknown_type").Inc()
		s.log.Debug("ignoring unknown chat event", zap.String("type", e.Type))
	}
}
