package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/cache"
	"github.com/weiawesome/games-society/internal/config"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/store"
)

func TestReconcileRepairsDriftedCounters(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.CreateUser(ctx, &domain.User{ID: "alice"}))
	require.NoError(t, mem.CreateUser(ctx, &domain.User{ID: "bob"}))
	require.NoError(t, mem.CreatePost(ctx, &domain.Post{ID: "p1", AuthorID: "alice"}))
	_, err := mem.SetGraphMembership(ctx, "bob", domain.FieldFollowers, "alice", true)
	require.NoError(t, err)
	_, err = mem.SetToggleMembership(ctx, "p1", domain.FieldLikes, "bob", true)
	require.NoError(t, err)

	counters := cache.NewMemoryCounterStore()
	followers := cache.Counter{Kind: cache.KindFollowers, ID: "bob"}
	likes := cache.Counter{Kind: cache.KindLikes, ID: "p1"}
	ghost := cache.Counter{Kind: cache.KindFollowing, ID: "ghost"}
	require.NoError(t, counters.Set(ctx, followers, 7))
	require.NoError(t, counters.Set(ctx, likes, 0))
	for _, c := range []cache.Counter{followers, likes, ghost} {
		require.NoError(t, counters.RecordAccess(ctx, c))
	}

	r := New(counters, cache.StoreSource{Users: mem, Posts: mem}, config.ReconcilerConfig{TopN: 10})
	assert.Equal(t, 2, r.Reconcile(ctx))

	n, _, err := counters.Get(ctx, followers)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _, err = counters.Get(ctx, likes)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hot, err := counters.TopHotKeys(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, hot)
}

func TestReconcilerStops(t *testing.T) {
	r := New(cache.NewMemoryCounterStore(), cache.StoreSource{}, config.ReconcilerConfig{Interval: time.Millisecond})
	r.Start(context.Background())
	r.Stop()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
