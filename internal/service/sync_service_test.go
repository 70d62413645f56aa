package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/cache"
	"github.com/weiawesome/games-society/internal/conversation"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/graph"
	"github.com/weiawesome/games-society/internal/messagelog"
	"github.com/weiawesome/games-society/internal/store"
	"github.com/weiawesome/games-society/internal/toggle"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

func newTestService(t *testing.T, users ...string) (SyncService, *cache.MemoryCounterStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	counters := cache.NewMemoryCounterStore()
	emitter := events.NewEmitter(cache.NewProjector(counters))
	feeds := feed.NewManager(mem, feed.Config{})
	t.Cleanup(func() {
		feeds.Close()
		_ = mem.Close(context.Background())
	})

	svc := NewSyncService(Deps{
		Store:    mem,
		Counters: counters,
		Resolver: conversation.NewResolver(mem, mem, emitter),
		Messages: messagelog.New(mem, feeds, nil, emitter, messagelog.Config{}),
		Graph:    graph.NewMutator(mem, emitter),
		Toggles:  toggle.NewCoordinator(mem, emitter),
	})
	for _, id := range users {
		require.NoError(t, svc.CreateUser(context.Background(), &domain.User{ID: id, Username: id, DisplayName: "Player " + id}))
	}
	return svc, counters
}

func TestGetCountsFollowsCachedProjection(t *testing.T) {
	ctx := context.Background()
	svc, counters := newTestService(t, "alice", "bob")

	counts, err := svc.GetCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.Counts{}, counts)
	_, cached, err := counters.Get(ctx, cache.Counter{Kind: cache.KindFollowers, ID: "bob"})
	require.NoError(t, err)
	assert.True(t, cached)

	require.NoError(t, svc.SetFollowing(ctx, "alice", "bob", true))
	counts, err = svc.GetCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Followers)

	hot, err := counters.TopHotKeys(ctx, 10)
	require.NoError(t, err)
	assert.Contains(t, hot, cache.Counter{Kind: cache.KindFollowers, ID: "bob"})

	_, err = svc.GetCounts(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateProfileLeavesGraphAlone(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "alice", "bob")
	require.NoError(t, svc.SetFollowing(ctx, "alice", "bob", true))

	bio := "speedrunner"
	u, err := svc.UpdateProfile(ctx, "bob", domain.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "speedrunner", u.Bio)
	assert.Equal(t, 1, u.FollowerCount)
	assert.True(t, u.Followers.Contains("alice"))
}

func TestMessagesAreVisibleOnlyToParticipants(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "alice", "bob", "mallory")

	h, err := svc.ResolveConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "alice", h.ID, "  gg wp  ")
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, "bob", h.ID, "rematch?")
	require.NoError(t, err)

	msgs, err := svc.ListMessages(ctx, "bob", h.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "gg wp", msgs[0].Text)
	assert.Equal(t, "rematch?", msgs[1].Text)

	_, err = svc.ListMessages(ctx, "mallory", h.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.SendMessage(ctx, "mallory", h.ID, "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.SendMessage(ctx, "alice", h.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	convs, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "rematch?", convs[0].LastMessage.Text)
}

func TestGetPostProjectsAuthor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "alice", "bob")

	p := &domain.Post{AuthorID: "alice", Content: "new high score", GameTag: "tetris"}
	require.NoError(t, svc.CreatePost(ctx, p))
	require.NotEmpty(t, p.ID)

	_, err := svc.Toggle(ctx, p.ID, "bob", domain.FieldLikes, true)
	require.NoError(t, err)

	got, err := svc.GetPost(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Author)
	assert.Equal(t, "Player alice", got.Author.DisplayName)
	assert.Equal(t, 1, got.LikesCount)

	err = svc.CreatePost(ctx, &domain.Post{AuthorID: "ghost", Content: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateUserLogsThroughRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := pkglog.WithLogger(context.Background(), pkglog.NewWithWriter(pkglog.Config{Level: "info"}, &buf))
	svc, _ := newTestService(t)

	require.NoError(t, svc.CreateUser(ctx, &domain.User{ID: "carol", Username: "carol"}))
	assert.Contains(t, buf.String(), "user created")
	assert.Contains(t, buf.String(), `"user_id":"carol"`)

	err := svc.CreateUser(ctx, &domain.User{ID: "carol", Username: "carol"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}
