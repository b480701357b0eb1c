package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charlesng35/boardsync/internal/models"
	"github.com/charlesng35/boardsync/pkg/metrics"

	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

// ChatStore holds the chat messages of one room. Confirmed messages are
// ordered by server timestamp; a not-yet-acknowledged local message renders
// at the tail immediately and is repositioned to its confirmed order when the
// echo, carrying the true timestamp, arrives.
type ChatStore struct {
	roomID     string
	author     models.Author
	now        func() time.Time
	echoWindow time.Duration

	mu       sync.Mutex
	entries  []*models.ChatMessage
	closed   bool
	onChange func()
}

// NewChatStore constructs the store for one room session.
func NewChatStore(roomID string, author models.Author, echoWindow time.Duration) (*ChatStore, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.New("chat store: room id is required")
	}
	if echoWindow <= 0 {
		echoWindow = defaultEchoWindow
	}
	return &ChatStore{
		roomID:     roomID,
		author:     author,
		now:        time.Now,
		echoWindow: echoWindow,
	}, nil
}

// SetOnChange registers the render callback invoked after every mutation. The
// callback runs outside the store lock and may read the store back.
func (s *ChatStore) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// SeedHistory loads a history page, skipping messages already present.
// Records are expected oldest first and are merged by timestamp.
func (s *ChatStore) SeedHistory(records []models.ChatMessageRecord) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	for _, record := range records {
		if record.ID == "" || s.findRemoteLocked(record.ID) != nil {
			continue
		}
		s.insertConfirmedLocked(chatFromRecord(record))
	}
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// AppendLocal adds a pending message at the tail and returns its local ID.
// The message is confirmed only by its stream echo; if the outbound send
// failed, the caller discards it.
func (s *ChatStore) AppendLocal(content string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", apperrors.ErrSessionClosed
	}

	message := &models.ChatMessage{
		LocalID:     uuid.NewString(),
		RoomID:      s.roomID,
		AuthorID:    s.author.ID,
		AuthorName:  s.author.Name,
		Content:     content,
		Kind:        models.MessageKindUser,
		Timestamp:   s.now(),
		State:       models.StatePending,
		SubmittedAt: s.now(),
	}
	s.entries = append(s.entries, message)
	localID := message.LocalID
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return localID, nil
}

// DiscardLocal removes a still-pending message.
func (s *ChatStore) DiscardLocal(localID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	for i, entry := range s.entries {
		if entry.LocalID == localID {
			if !entry.Pending() {
				s.mu.Unlock()
				return
			}
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			notify := s.onChange
			s.mu.Unlock()
			if notify != nil {
				notify()
			}
			return
		}
	}
	s.mu.Unlock()
}

// AddSystem appends a locally synthesized system message (join/leave
// notices). System messages have no remote ID and no echo.
func (s *ChatStore) AddSystem(content string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.entries = append(s.entries, &models.ChatMessage{
		LocalID:   uuid.NewString(),
		RoomID:    s.roomID,
		Content:   content,
		Kind:      models.MessageKindSystem,
		Timestamp: s.now(),
		State:     models.StateConfirmed,
	})
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// ApplyRemoteMessage reconciles an inbound chat message: remote-ID match
// overwrites in place; an unambiguous pending match (same author and content
// inside the round-trip window) is promoted and repositioned by the server
// timestamp; anything else is inserted in timestamp order.
func (s *ChatStore) ApplyRemoteMessage(record models.ChatMessageRecord) {
	s.mu.Lock()
	if s.closed || record.ID == "" {
		s.mu.Unlock()
		return
	}

	if entry := s.findRemoteLocked(record.ID); entry != nil {
		overwriteChatFromRecord(entry, record)
		metrics.EventsApplied.WithLabelValues("chat", "message").Inc()
		notify := s.onChange
		s.mu.Unlock()
		if notify != nil {
			notify()
		}
		return
	}

	var match *models.ChatMessage
	ambiguous := false
	cutoff := s.now().Add(-s.echoWindow)
	for _, entry := range s.entries {
		if !entry.Pending() {
			continue
		}
		if entry.AuthorID != record.UserID || entry.Content != record.Content {
			continue
		}
		if entry.SubmittedAt.Before(cutoff) {
			continue
		}
		if match != nil {
			ambiguous = true
			break
		}
		match = entry
	}

	if match != nil && !ambiguous {
		s.removeLocked(match)
		match.RemoteID = record.ID
		match.State = models.StateConfirmed
		overwriteChatFromRecord(match, record)
		s.insertConfirmedLocked(match)
	} else {
		s.insertConfirmedLocked(chatFromRecord(record))
	}
	metrics.EventsApplied.WithLabelValues("chat", "message").Inc()
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// RemoveConfirmed drops all confirmed messages, mirroring a backend history
// wipe. Pending user input is never silently discarded.
func (s *ChatStore) RemoveConfirmed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.Pending() {
			kept = append(kept, entry)
		}
	}
	s.entries = kept
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Messages returns a snapshot in display order.
func (s *ChatStore) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ChatMessage, len(s.entries))
	for i, entry := range s.entries {
		out[i] = *entry
	}
	return out
}

// Len reports the number of messages, pending included.
func (s *ChatStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close marks the store dead; late events no longer mutate it.
func (s *ChatStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.onChange = nil
}

// insertConfirmedLocked places a confirmed message after the last confirmed
// entry with an earlier-or-equal timestamp. Pending messages stay at the
// tail.
func (s *ChatStore) insertConfirmedLocked(message *models.ChatMessage) {
	idx := 0
	for i, entry := range s.entries {
		if entry.Pending() {
			continue
		}
		if !entry.Timestamp.After(message.Timestamp) {
			idx = i + 1
		}
	}

	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = message
}

func (s *ChatStore) removeLocked(message *models.ChatMessage) {
	for i, entry := range s.entries {
		if entry == message {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *ChatStore) findRemoteLocked(remoteID string) *models.ChatMessage {
	for _, entry := range s.entries {
		if entry.RemoteID != "" && entry.RemoteID == remoteID {
			return entry
		}
	}
	return nil
}

func chatFromRecord(record models.ChatMessageRecord) *models.ChatMessage {
	return &models.ChatMessage{
		LocalID:    uuid.NewString(),
		RemoteID:   record.ID,
		RoomID:     record.RoomID,
		AuthorID:   record.UserID,
		AuthorName: record.Username,
		Content:    record.Content,
		Kind:       record.Kind(),
		Timestamp:  record.Timestamp,
		State:      models.StateConfirmed,
	}
}

func overwriteChatFromRecord(entry *models.ChatMessage, record models.ChatMessageRecord) {
	entry.Content = record.Content
	entry.Kind = record.Kind()
	if record.RoomID != "" {
		entry.RoomID = record.RoomID
	}
	if record.UserID != "" {
		entry.AuthorID = record.UserID
	}
	if record.Username != "" {
		entry.AuthorName = record.Username
	}
	if !record.Timestamp.IsZero() {
		entry.Timestamp = record.Timestamp
	}
}
