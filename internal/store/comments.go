package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/boardsync/internal/gateway"
	"github.com/charlesng35/boardsync/internal/models"
	"github.com/charlesng35/boardsync/pkg/logger"
	"github.com/charlesng35/boardsync/pkg/metrics"

	apperrors "github.com/charlesng35/boardsync/pkg/errors"
)

const defaultEchoWindow = 10 * time.Second

// CommentPersister is the gateway surface the comment store drives.
type CommentPersister interface {
	CreateComment(ctx context.Context, roomID, userID string, in gateway.CreateCommentInput) (models.CommentRecord, error)
	UpdateComment(ctx context.Context, commentID string, in gateway.UpdateCommentInput) (models.CommentRecord, error)
	UpdateCommentCoordinates(ctx context.Context, commentID string, x, y float64) error
	DeleteComment(ctx context.Context, commentID string) error
}

// CommentStore holds the comments of one room in insertion order. Records are
// either pending (created locally, unacknowledged) or confirmed (carrying a
// server ID). The store reconciles local writes, server echoes, and
// third-party broadcasts without duplication; reconciliation itself never
// fails.
type CommentStore struct {
	roomID     string
	author     models.Author
	persister  CommentPersister
	log        *zap.Logger
	now        func() time.Time
	echoWindow time.Duration

	mu       sync.Mutex
	entries  []*models.Comment
	closed   bool
	onChange func()
}

// NewCommentStore constructs the store for one room session.
func NewCommentStore(roomID string, author models.Author, persister CommentPersister, echoWindow time.Duration) (*CommentStore, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.New("comment store: room id is required")
	}
	if persister == nil {
		return nil, errors.New("comment store: persister is required")
	}
	if echoWindow <= 0 {
		echoWindow = defaultEchoWindow
	}
	return &CommentStore{
		roomID:     roomID,
		author:     author,
		persister:  persister,
		log:        logger.WithRoom("comments", roomID),
		now:        time.Now,
		echoWindow: echoWindow,
	}, nil
}

// SetOnChange registers the render callback invoked after every store
// mutation. The callback runs outside the store lock and may read the store
// back.
func (s *CommentStore) SetOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Seed loads the room history, skipping records already present.
func (s *CommentStore) Seed(records []models.CommentRecord) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	for _, record := range records {
		if record.ID == "" || s.findRemoteLocked(record.ID) != nil {
			continue
		}
		s.entries = append(s.entries, confirmedFromRecord(record))
	}
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// CreateLocal appends a pending comment and returns its local ID. The record
// renders immediately; Persist sends it to the backend.
func (s *CommentStore) CreateLocal(content string, x, y float64) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", apperrors.ErrSessionClosed
	}

	comment := &models.Comment{
		LocalID:     uuid.NewString(),
		RoomID:      s.roomID,
		AuthorID:    s.author.ID,
		AuthorName:  s.author.Name,
		Content:     content,
		X:           x,
		Y:           y,
		State:       models.StatePending,
		SubmittedAt: s.now(),
	}
	s.entries = append(s.entries, comment)
	localID := comment.LocalID
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return localID, nil
}

// Persist sends a pending comment to the backend and confirms it in place on
// success. On failure the pending record is left untouched so the caller can
// retry or discard it. If the broadcast echo confirmed the record before the
// create response arrived, Persist is a no-op returning the confirmed state.
// A session teardown while the request is in flight discards the result and
// returns ErrSessionClosed.
func (s *CommentStore) Persist(ctx context.Context, localID string) (models.Comment, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Comment{}, apperrors.ErrSessionClosed
	}
	entry := s.findLocalLocked(localID)
	if entry == nil {
		s.mu.Unlock()
		return models.Comment{}, apperrors.ErrNotFound
	}
	if !entry.Pending() {
		confirmed := *entry
		s.mu.Unlock()
		return confirmed, nil
	}
	input := gateway.CreateCommentInput{
		Content:     entry.Content,
		Coordinates: []float64{entry.X, entry.Y},
	}
	s.mu.Unlock()

	record, err := s.persister.CreateComment(ctx, s.roomID, s.author.ID, input)
	if err != nil {
		return models.Comment{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Comment{}, apperrors.ErrSessionClosed
	}

	result := *s.reconcileCreatedLocked(record, localID)
	metrics.EventsApplied.WithLabelValues("comments", "persist").Inc()
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return result, nil
}

// DiscardLocal removes a still-pending comment. Confirmed records are not
// touched.
func (s *CommentStore) DiscardLocal(localID string) {
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

// ApplyRemoteCreated reconciles an inbound created broadcast. Applying the
// same record twice matches by remote ID and overwrites in place.
func (s *CommentStore) ApplyRemoteCreated(record models.CommentRecord) {
	s.mu.Lock()
	if s.closed || record.ID == "" {
		s.mu.Unlock()
		return
	}

	s.reconcileCreatedLocked(record, "")
	metrics.EventsApplied.WithLabelValues("comments", "created").Inc()
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// ApplyRemoteUpdated overwrites the matching comment in place. An update for
// an unseen remote ID is treated as a missed create and inserted, tolerating
// out-of-order delivery.
func (s *CommentStore) ApplyRemoteUpdated(record models.CommentRecord) {
	s.mu.Lock()
	if s.closed || record.ID == "" {
		s.mu.Unlock()
		return
	}

	if entry := s.findRemoteLocked(record.ID); entry != nil {
		overwriteFromRecord(entry, record)
	} else {
		s.entries = append(s.entries, confirmedFromRecord(record))
	}
	metrics.EventsApplied.WithLabelValues("comments", "updated").Inc()
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// ApplyRemoteDeleted drops the comment with the given remote ID. Absence is a
// silent no-op.
func (s *CommentStore) ApplyRemoteDeleted(remoteID string) {
	s.mu.Lock()
	if s.closed || remoteID == "" {
		s.mu.Unlock()
		return
	}

	for i, entry := range s.entries {
		if entry.RemoteID == remoteID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			metrics.EventsApplied.WithLabelValues("comments", "deleted").Inc()
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

// UpdatePositionLocal moves a comment immediately for drag interactions. The
// coordinate persist call runs asynchronously; its failure is logged, not
// returned, and the authoritative updated broadcast wins either way.
func (s *CommentStore) UpdatePositionLocal(id string, x, y float64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	entry := s.findAnyLocked(id)
	if entry == nil {
		s.mu.Unlock()
		return apperrors.ErrNotFound
	}
	entry.X = x
	entry.Y = y
	remoteID := entry.RemoteID
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}

	if remoteID == "" {
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultEchoWindow)
		defer cancel()
		if err := s.persister.UpdateCommentCoordinates(ctx, remoteID, x, y); err != nil && !s.isClosed() {
			s.log.Warn("coordinate persist failed", zap.String("remote_id", remoteID), zap.Error(err))
		}
	}()
	return nil
}

// UpdateContent edits a comment optimistically and persists the edit. On
// persist failure the optimistic content is kept for the caller to retry.
func (s *CommentStore) UpdateContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	entry := s.findAnyLocked(id)
	if entry == nil {
		s.mu.Unlock()
		return apperrors.ErrNotFound
	}
	entry.Content = content
	remoteID := entry.RemoteID
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}

	if remoteID == "" {
		// Still pending: the content rides along with the eventual create.
		return nil
	}

	record, err := s.persister.UpdateComment(ctx, remoteID, gateway.UpdateCommentInput{Content: content})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	notify = nil
	if entry := s.findRemoteLocked(record.ID); entry != nil {
		overwriteFromRecord(entry, record)
		notify = s.onChange
	}
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// Delete removes a comment optimistically and issues the backend delete.
// Deleting an entity the backend no longer knows is treated as success.
func (s *CommentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	var remoteID string
	for i, entry := range s.entries {
		if entry.LocalID == id || (entry.RemoteID != "" && entry.RemoteID == id) {
			remoteID = entry.RemoteID
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify()
	}

	if remoteID == "" {
		return nil
	}
	return s.persister.DeleteComment(ctx, remoteID)
}

// Comments returns a snapshot in display (insertion) order.
func (s *CommentStore) Comments() []models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Comment, len(s.entries))
	for i, entry := range s.entries {
		out[i] = *entry
	}
	return out
}

// Len reports the number of records, pending included.
func (s *CommentStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close marks the store dead. Late REST results and stream events arriving
// after Close never mutate it.
func (s *CommentStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.onChange = nil
}

// reconcileCreatedLocked is the core merge: remote-ID match first, then the
// pending-echo heuristic (same author and content inside the round-trip
// window, unambiguous), else append as a new confirmed record.
func (s *CommentStore) reconcileCreatedLocked(record models.CommentRecord, localIDHint string) *models.Comment {
	if entry := s.findRemoteLocked(record.ID); entry != nil {
		overwriteFromRecord(entry, record)
		return entry
	}

	if localIDHint != "" {
		if entry := s.findLocalLocked(localIDHint); entry != nil && entry.Pending() {
			promoteFromRecord(entry, record)
			return entry
		}
	}

	var match *models.Comment
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
		promoteFromRecord(match, record)
		return match
	}

	entry := confirmedFromRecord(record)
	s.entries = append(s.entries, entry)
	return entry
}

func (s *CommentStore) findRemoteLocked(remoteID string) *models.Comment {
	for _, entry := range s.entries {
		if entry.RemoteID != "" && entry.RemoteID == remoteID {
			return entry
		}
	}
	return nil
}

func (s *CommentStore) findLocalLocked(localID string) *models.Comment {
	for _, entry := range s.entries {
		if entry.LocalID == localID {
			return entry
		}
	}
	return nil
}

func (s *CommentStore) findAnyLocked(id string) *models.Comment {
	for _, entry := range s.entries {
		if entry.LocalID == id || (entry.RemoteID != "" && entry.RemoteID == id) {
			return entry
		}
	}
	return nil
}

func (s *CommentStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func confirmedFromRecord(record models.CommentRecord) *models.Comment {
	x, y := record.XY()
	return &models.Comment{
		LocalID:    uuid.NewString(),
		RemoteID:   record.ID,
		RoomID:     record.DashboardID,
		AuthorID:   record.UserID,
		AuthorName: record.UserName,
		Content:    record.Content,
		X:          x,
		Y:          y,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
		State:      models.StateConfirmed,
	}
}

// promoteFromRecord confirms a pending record in place, keeping its local ID
// and slice position. The transition is irreversible.
func promoteFromRecord(entry *models.Comment, record models.CommentRecord) {
	entry.RemoteID = record.ID
	entry.State = models.StateConfirmed
	overwriteFromRecord(entry, record)
}

// overwriteFromRecord adopts the authoritative payload and timestamps.
func overwriteFromRecord(entry *models.Comment, record models.CommentRecord) {
	x, y := record.XY()
	entry.Content = record.Content
	entry.X = x
	entry.Y = y
	if record.DashboardID != "" {
		entry.RoomID = record.DashboardID
	}
	if record.UserID != "" {
		entry.AuthorID = record.UserID
	}
	if record.UserName != "" {
		entry.AuthorName = record.UserName
	}
	if !record.CreatedAt.IsZero() {
		entry.CreatedAt = record.CreatedAt
	}
	if !record.UpdatedAt.IsZero() {
		entry.UpdatedAt = record.UpdatedAt
	}
}
