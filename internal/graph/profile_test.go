package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
)

func openProfile(t *testing.T, users *faultyUsers, m *Mutator, self, target string) *ProfileView {
	t.Helper()
	feeds := feed.NewManager(users.MemoryStore, feed.Config{})
	v, err := OpenProfile(context.Background(), m, feeds, self, target)
	require.NoError(t, err)
	t.Cleanup(func() {
		v.Close()
		feeds.Close()
	})
	require.Eventually(t, func() bool { return v.State().loaded() }, 2*time.Second, 5*time.Millisecond)
	return v
}

func TestProfileViewShowsFollowBeforeWriteLands(t *testing.T) {
	users := newUsers(t, "alice", "bob")
	users.gate = make(chan struct{})
	v := openProfile(t, users, NewMutator(users, nil).WithoutTransactions(), "alice", "bob")

	res := v.SetFollowing(true)
	state := v.State()
	assert.True(t, state.Following())
	assert.Equal(t, 1, state.Target.FollowerCount)
	assert.Equal(t, 1, state.Self.FollowingCount)

	close(users.gate)
	require.NoError(t, res.Wait(context.Background()))
	require.Eventually(t, func() bool { return v.queue.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, v.State().Following())

	following, followedBy := edge(t, users, "alice", "bob")
	assert.True(t, following)
	assert.True(t, followedBy)
}

func TestProfileViewRollsBackFailedFollow(t *testing.T) {
	users := newUsers(t, "alice", "bob")
	users.setFail(func(string, domain.GraphField, bool) error { return errWriteFailed })
	v := openProfile(t, users, NewMutator(users, nil), "alice", "bob")

	res := v.SetFollowing(true)
	assert.ErrorIs(t, res.Wait(context.Background()), errWriteFailed)
	assert.False(t, v.State().Following())
	assert.Equal(t, 0, v.State().Target.FollowerCount)
	assert.Equal(t, 0, v.queue.Pending())
}

func TestProfileViewDoubleTapSettlesOnLastIntent(t *testing.T) {
	users := newUsers(t, "alice", "bob")
	v := openProfile(t, users, NewMutator(users, nil), "alice", "bob")

	first := v.SetFollowing(true)
	second := v.SetFollowing(false)
	assert.False(t, v.State().Following())

	require.NoError(t, first.Wait(context.Background()))
	require.NoError(t, second.Wait(context.Background()))
	require.Eventually(t, func() bool { return v.queue.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, v.State().Following())

	following, followedBy := edge(t, users, "alice", "bob")
	assert.False(t, following)
	assert.False(t, followedBy)
}

func TestProfileViewSkipsNoopWrites(t *testing.T) {
	users := newUsers(t, "alice", "bob")
	v := openProfile(t, users, NewMutator(users, nil), "alice", "bob")

	res := v.SetFollowing(false)
	select {
	case <-res.Done():
	default:
		t.Fatal("no-op follow change should resolve immediately")
	}
	assert.NoError(t, res.Err())
	assert.Equal(t, 0, v.queue.Pending())
}

func TestProfileViewOwnProfile(t *testing.T) {
	users := newUsers(t, "alice")
	v := openProfile(t, users, NewMutator(users, nil), "alice", "alice")

	assert.Equal(t, "alice", v.State().Self.ID)
	assert.ErrorIs(t, v.SetFollowing(true).Err(), domain.ErrInvalidParticipants)
}

func TestOpenProfileRejectsEmptyIDs(t *testing.T) {
	users := newUsers(t, "alice")
	feeds := feed.NewManager(users.MemoryStore, feed.Config{})
	defer feeds.Close()

	_, err := OpenProfile(context.Background(), NewMutator(users, nil), feeds, "alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidParticipants)
}
