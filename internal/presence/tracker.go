package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/boardsync/internal/models"
	"github.com/charlesng35/boardsync/pkg/logger"
)

const refreshTimeout = 10 * time.Second

// Snapshotter is the gateway surface the tracker refreshes from.
type Snapshotter interface {
	RoomUsers(ctx context.Context, roomID string) ([]models.PresenceMember, error)
}

// Tracker maintains the set of users connected to a room. Join and leave
// events do not carry enough information to patch the set safely, so they
// mark it stale and trigger a wholesale refresh; a users_list stream event
// replaces the set directly. A scheduled job refreshes periodically as well.
type Tracker struct {
	roomID   string
	snapshot Snapshotter
	log      *zap.Logger

	mu         sync.Mutex
	members    map[string]models.PresenceMember
	stale      bool
	refreshing bool
	scheduler  *cron.Cron
	onChange   func([]models.PresenceMember)
	closed     bool
}

// NewTracker constructs a tracker for one room session.
func NewTracker(roomID string, snapshot Snapshotter) (*Tracker, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.New("presence: room id is required")
	}
	if snapshot == nil {
		return nil, errors.New("presence: snapshotter is required")
	}
	return &Tracker{
		roomID:   roomID,
		snapshot: snapshot,
		log:      logger.WithRoom("presence", roomID),
		members:  make(map[string]models.PresenceMember),
	}, nil
}

// SetOnChange registers the callback invoked with the new member list after
// every presence change.
func (t *Tracker) SetOnChange(fn func([]models.PresenceMember)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Start schedules periodic refreshes at the given interval.
func (t *Tracker) Start(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("presence: refresh interval must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("presence: tracker is closed")
	}
	if t.scheduler != nil {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", interval), t.refreshJob); err != nil {
		return err
	}
	scheduler.Start()
	t.scheduler = scheduler
	return nil
}

// Refresh replaces the presence set from the backend snapshot.
func (t *Tracker) Refresh(ctx context.Context) error {
	members, err := t.snapshot.RoomUsers(ctx, t.roomID)
	if err != nil {
		return err
	}

	t.replace(members)
	return nil
}

// ApplyJoined handles a user_joined stream event: the set is marked stale and
// re-fetched, favouring correctness over latency.
func (t *Tracker) ApplyJoined(userID string) {
	t.markStaleAndRefresh("joined", userID)
}

// ApplyLeft handles a user_left stream event the same way.
func (t *Tracker) ApplyLeft(userID string) {
	t.markStaleAndRefresh("left", userID)
}

// ApplyUsersList replaces the set wholesale from a users_list stream event.
func (t *Tracker) ApplyUsersList(members []models.PresenceMember) {
	t.replace(members)
}

// Members returns the current set sorted by display name.
func (t *Tracker) Members() []models.PresenceMember {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.PresenceMember, 0, len(t.members))
	for _, member := range t.members {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Stale reports whether a join/leave has invalidated the set and the refresh
// has not landed yet.
func (t *Tracker) Stale() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stale
}

// Close stops the scheduler and drops the callback. Safe to call repeatedly.
func (t *Tracker) Close() {
	t.mu.Lock()
	scheduler := t.scheduler
	t.scheduler = nil
	t.closed = true
	t.onChange = nil
	t.mu.Unlock()

	if scheduler != nil {
		scheduler.Stop()
	}
}

func (t *Tracker) markStaleAndRefresh(event, userID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.stale = true
	alreadyRunning := t.refreshing
	if !alreadyRunning {
		t.refreshing = true
	}
	t.mu.Unlock()

	t.log.Debug("presence invalidated", zap.String("event", event), zap.String("user_id", userID))
	if alreadyRunning {
		return
	}

	go func() {
		defer func() {
			t.mu.Lock()
			t.refreshing = false
			t.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := t.Refresh(ctx); err != nil {
			t.log.Warn("presence refresh failed", zap.Error(err))
		}
	}()
}

func (t *Tracker) refreshJob() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := t.Refresh(ctx); err != nil {
		t.log.Warn("scheduled presence refresh failed", zap.Error(err))
	}
}

func (t *Tracker) replace(members []models.PresenceMember) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.members = make(map[string]models.PresenceMember, len(members))
	for _, member := range members {
		if member.UserID == "" {
			continue
		}
		t.members[member.UserID] = member
	}
	t.stale = false
	onChange := t.onChange
	t.mu.Unlock()

	if onChange != nil {
		onChange(t.Members())
	}
}
