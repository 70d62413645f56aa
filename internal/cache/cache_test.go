package cache

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/store"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"github.com/weiawesome/games-society/pkg/pubsub"
)

func TestParseCounter(t *testing.T) {
	c, err := ParseCounter("followers:u1")
	require.NoError(t, err)
	assert.Equal(t, Counter{Kind: KindFollowers, ID: "u1"}, c)
	assert.Equal(t, "followers:u1", c.String())

	_, err = ParseCounter("followers")
	assert.Error(t, err)
	_, err = ParseCounter("shares:p1")
	assert.Error(t, err)
}

func TestMemoryCounterStoreConditionalUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCounterStore()
	c := Counter{Kind: KindLikes, ID: "p1"}

	require.NoError(t, s.CondIncr(ctx, c))
	_, ok, _ := s.Get(ctx, c)
	assert.False(t, ok, "cold counters must not be created by increments")

	require.NoError(t, s.Set(ctx, c, 0))
	require.NoError(t, s.CondDecr(ctx, c))
	n, _, _ := s.Get(ctx, c)
	assert.Equal(t, int64(0), n, "counts never go negative")

	require.NoError(t, s.CondIncr(ctx, c))
	n, _, _ = s.Get(ctx, c)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCounterStoreHotKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCounterStore()
	hot := Counter{Kind: KindFollowers, ID: "star"}
	cold := Counter{Kind: KindFollowers, ID: "lurker"}
	for range 3 {
		require.NoError(t, s.RecordAccess(ctx, hot))
	}
	require.NoError(t, s.RecordAccess(ctx, cold))

	top, err := s.TopHotKeys(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []Counter{hot}, top)

	require.NoError(t, s.ResetHotKeys(ctx))
	top, err = s.TopHotKeys(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestProjectorAppliesEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCounterStore()
	followers := Counter{Kind: KindFollowers, ID: "b"}
	following := Counter{Kind: KindFollowing, ID: "a"}
	likes := Counter{Kind: KindLikes, ID: "p"}
	require.NoError(t, s.Set(ctx, followers, 2))
	require.NoError(t, s.Set(ctx, following, 0))
	require.NoError(t, s.Set(ctx, likes, 5))

	p := NewProjector(s)
	evt, err := pubsub.NewEvent(events.TypeFollowChanged, "b", events.FollowChanged{FollowerID: "a", FollowingID: "b", Following: true})
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, events.TopicGraph, evt))

	evt, err = pubsub.NewEvent(events.TypeToggleChanged, "p", events.ToggleChanged{PostID: "p", ActorID: "a", Field: domain.FieldLikes, Member: false})
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, events.TopicEngagement, evt))

	n, _, _ := s.Get(ctx, followers)
	assert.Equal(t, int64(3), n)
	n, _, _ = s.Get(ctx, following)
	assert.Equal(t, int64(1), n)
	n, _, _ = s.Get(ctx, likes)
	assert.Equal(t, int64(4), n)
}

// brokenCounters fails every cache call.
type brokenCounters struct{ *MemoryCounterStore }

var errCacheDown = errors.New("cache down")

func (brokenCounters) Get(context.Context, Counter) (int64, bool, error) { return 0, false, errCacheDown }
func (brokenCounters) Set(context.Context, Counter, int64) error        { return errCacheDown }
func (brokenCounters) RecordAccess(context.Context, Counter) error      { return errCacheDown }

func TestReadThroughFallsBackAndLogsCacheFailures(t *testing.T) {
	var buf bytes.Buffer
	ctx := pkglog.WithLogger(context.Background(), pkglog.NewWithWriter(pkglog.Config{Level: "debug"}, &buf))

	st := store.NewMemoryStore()
	require.NoError(t, st.CreateUser(ctx, &domain.User{ID: "a"}))
	require.NoError(t, st.CreateUser(ctx, &domain.User{ID: "b"}))
	_, err := st.SetGraphMembership(ctx, "b", domain.FieldFollowers, "a", true)
	require.NoError(t, err)

	src := StoreSource{Users: st, Posts: st}
	n, err := ReadThrough(ctx, brokenCounters{NewMemoryCounterStore()}, src, Counter{Kind: KindFollowers, ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	out := buf.String()
	assert.Contains(t, out, "hot key score not recorded")
	assert.Contains(t, out, "counter cache read failed, using store")
	assert.Contains(t, out, "counter cache fill failed")
	assert.Contains(t, out, "cache down")
}

func TestReadThroughFillsColdCounter(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateUser(ctx, &domain.User{ID: "a"}))

	counters := NewMemoryCounterStore()
	c := Counter{Kind: KindFollowing, ID: "a"}
	n, err := ReadThrough(ctx, counters, StoreSource{Users: st, Posts: st}, c)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	cached, ok, err := counters.Get(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), cached)
}
