package toggle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/store"
	"github.com/weiawesome/games-society/pkg/pubsub"
)

var errUnavailable = errors.New("store unavailable")

// flakyPosts fails every toggle write while err is set and holds writes
// while gate is open.
type flakyPosts struct {
	store.PostStore
	err  error
	gate chan struct{}
}

func (f *flakyPosts) SetToggleMembership(ctx context.Context, postID string, field domain.ToggleField, actor string, present bool) (store.MembershipResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return store.MembershipResult{}, f.err
	}
	return f.PostStore.SetToggleMembership(ctx, postID, field, actor, present)
}

type counter struct{ n int }

func (c *counter) Publish(context.Context, string, *pubsub.Event) error { c.n++; return nil }
func (c *counter) Close() error                                       { return nil }

func newPost(t *testing.T) *store.MemoryStore {
	t.Helper()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.CreatePost(context.Background(), &domain.Post{ID: "p1", AuthorID: "alice", Content: "gg"}))
	t.Cleanup(func() { _ = mem.Close(context.Background()) })
	return mem
}

func TestToggleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := newPost(t)
	pub := &counter{}
	c := NewCoordinator(mem, events.NewEmitter(pub))

	res, err := c.Toggle(ctx, "p1", "bob", domain.FieldLikes, true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Count)

	res, err = c.Toggle(ctx, "p1", "bob", domain.FieldLikes, true)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, pub.n)

	res, err = c.Toggle(ctx, "p1", "bob", domain.FieldLikes, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	post, err := mem.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, post.Likes)
	assert.Equal(t, 0, post.LikesCount)
}

func TestToggleValidatesInput(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(newPost(t), nil)

	_, err := c.Toggle(ctx, "p1", "bob", domain.ToggleField("shares"), true)
	assert.ErrorIs(t, err, domain.ErrInvalidField)
	_, err = c.Toggle(ctx, "p1", "", domain.FieldSaves, true)
	assert.ErrorIs(t, err, domain.ErrInvalidParticipants)
	_, err = c.Toggle(ctx, "missing", "bob", domain.FieldSaves, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func openView(t *testing.T, mem *store.MemoryStore, posts store.PostStore) *PostView {
	t.Helper()
	feeds := feed.NewManager(mem, feed.Config{})
	v, err := OpenPost(context.Background(), NewCoordinator(posts, nil), feeds, "p1", "bob")
	require.NoError(t, err)
	t.Cleanup(func() {
		v.Close()
		feeds.Close()
	})
	require.Eventually(t, func() bool { return v.State().Post != nil }, 2*time.Second, 5*time.Millisecond)
	return v
}

func TestPostViewPredictsThenConfirms(t *testing.T) {
	mem := newPost(t)
	posts := &flakyPosts{PostStore: mem, gate: make(chan struct{})}
	v := openView(t, mem, posts)

	res := v.Toggle(domain.FieldLikes, true)
	assert.True(t, v.State().Member(domain.FieldLikes, "bob"))
	assert.Equal(t, 1, v.State().Count(domain.FieldLikes))

	close(posts.gate)
	require.NoError(t, res.Wait(context.Background()))
	require.Eventually(t, func() bool { return v.queue.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, v.State().Count(domain.FieldLikes))
}

func TestPostViewRevertsOnFailure(t *testing.T) {
	mem := newPost(t)
	v := openView(t, mem, &flakyPosts{PostStore: mem, err: errUnavailable})

	res := v.Toggle(domain.FieldSaves, true)
	assert.ErrorIs(t, res.Wait(context.Background()), errUnavailable)
	assert.False(t, v.State().Member(domain.FieldSaves, "bob"))
	assert.Equal(t, 0, v.State().Count(domain.FieldSaves))
}

func TestPostViewDoubleTap(t *testing.T) {
	mem := newPost(t)
	v := openView(t, mem, mem)

	first := v.Toggle(domain.FieldLikes, true)
	second := v.Toggle(domain.FieldLikes, false)
	assert.False(t, v.State().Member(domain.FieldLikes, "bob"))

	require.NoError(t, first.Wait(context.Background()))
	require.NoError(t, second.Wait(context.Background()))
	require.Eventually(t, func() bool { return v.queue.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	post, err := mem.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, post.LikesCount)
	assert.Equal(t, 0, v.State().Count(domain.FieldLikes))
}

func TestPostViewNoopAndUnknownField(t *testing.T) {
	mem := newPost(t)
	v := openView(t, mem, mem)

	res := v.Toggle(domain.FieldLikes, false)
	select {
	case <-res.Done():
	default:
		t.Fatal("toggle to current state should resolve immediately")
	}
	assert.NoError(t, res.Err())
	assert.ErrorIs(t, v.Toggle(domain.ToggleField("shares"), true).Err(), domain.ErrInvalidField)
}
