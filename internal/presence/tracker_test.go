package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/boardsync/internal/models"
)

type fakeSnapshotter struct {
	mu      sync.Mutex
	calls   int
	members []models.PresenceMember
	err     error
}

func (f *fakeSnapshotter) RoomUsers(_ context.Context, roomID string) ([]models.PresenceMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.members, nil
}

func (f *fakeSnapshotter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRefreshReplacesWholesale(t *testing.T) {
	snapshot := &fakeSnapshotter{members: []models.PresenceMember{
		{UserID: "u1", DisplayName: "alice", Status: "online"},
		{UserID: "u2", DisplayName: "bob", Status: "online"},
	}}

	tracker, err := NewTracker("room-1", snapshot)
	require.NoError(t, err)
	defer tracker.Close()

	require.NoError(t, tracker.Refresh(context.Background()))
	require.Len(t, tracker.Members(), 2)

	snapshot.mu.Lock()
	snapshot.members = []models.PresenceMember{{UserID: "u2", DisplayName: "bob", Status: "online"}}
	snapshot.mu.Unlock()

	require.NoError(t, tracker.Refresh(context.Background()))
	members := tracker.Members()
	require.Len(t, members, 1)
	require.Equal(t, "u2", members[0].UserID)
}

func TestApplyJoinedMarksStaleAndRefreshes(t *testing.T) {
	snapshot := &fakeSnapshotter{members: []models.PresenceMember{
		{UserID: "u3", DisplayName: "carol", Status: "online"},
	}}

	tracker, err := NewTracker("room-1", snapshot)
	require.NoError(t, err)
	defer tracker.Close()

	tracker.ApplyJoined("u3")

	require.Eventually(t, func() bool {
		return !tracker.Stale() && len(tracker.Members()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "carol", tracker.Members()[0].DisplayName)
}

func TestApplyUsersListReplacesDirectly(t *testing.T) {
	snapshot := &fakeSnapshotter{}
	tracker, err := NewTracker("room-1", snapshot)
	require.NoError(t, err)
	defer tracker.Close()

	var notified []models.PresenceMember
	var mu sync.Mutex
	tracker.SetOnChange(func(members []models.PresenceMember) {
		mu.Lock()
		defer mu.Unlock()
		notified = members
	})

	tracker.ApplyUsersList([]models.PresenceMember{
		{UserID: "u2", DisplayName: "bob"},
		{UserID: "u1", DisplayName: "alice"},
	})

	members := tracker.Members()
	require.Len(t, members, 2)
	require.Equal(t, "alice", members[0].DisplayName, "members sorted by display name")
	require.Equal(t, 0, snapshot.callCount(), "users_list does not trigger a refetch")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notified, 2)
}

func TestClosedTrackerIgnoresEvents(t *testing.T) {
	snapshot := &fakeSnapshotter{members: []models.PresenceMember{{UserID: "u1", DisplayName: "alice"}}}
	tracker, err := NewTracker("room-1", snapshot)
	require.NoError(t, err)

	tracker.Close()
	tracker.Close()

	tracker.ApplyJoined("u1")
	tracker.ApplyUsersList([]models.PresenceMember{{UserID: "u1", DisplayName: "alice"}})
	require.Empty(t, tracker.Members())
}

func TestStartValidatesInterval(t *testing.T) {
	tracker, err := NewTracker("room-1", &fakeSnapshotter{})
	require.NoError(t, err)
	defer tracker.Close()

	require.Error(t, tracker.Start(0))
	require.NoError(t, tracker.Start(time.Minute))
	require.NoError(t, tracker.Start(time.Minute), "second start is a no-op")
}
