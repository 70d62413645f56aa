package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func seedUsers(t *testing.T, s *MemoryStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.CreateUser(context.Background(), &domain.User{ID: id, Username: id}))
	}
}

func TestMemoryStoreUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUsers(t, s, "a")

	err := s.CreateUser(ctx, &domain.User{ID: "a"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bio := "speedrunner"
	u, err := s.UpdateProfile(ctx, "a", domain.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "speedrunner", u.Bio)
	assert.Equal(t, int64(2), u.Version)
}

func TestMemoryStoreSetGraphMembershipIsConditional(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUsers(t, s, "a", "b")

	res, err := s.SetGraphMembership(ctx, "b", domain.FieldFollowers, "a", true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Count)

	again, err := s.SetGraphMembership(ctx, "b", domain.FieldFollowers, "a", true)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, res.Version, again.Version)

	b, err := s.GetUser(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, b.FollowerCount)
	assert.Equal(t, domain.IdentitySet{"a"}, b.Followers)

	_, err = s.SetGraphMembership(ctx, "b", domain.FieldFollowers, "b", true)
	assert.ErrorIs(t, err, domain.ErrInvalidParticipants)
	_, err = s.SetGraphMembership(ctx, "b", domain.GraphField("blocked"), "a", true)
	assert.ErrorIs(t, err, domain.ErrInvalidField)
}

func TestMemoryStoreConversationsAndMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv := &domain.Conversation{ID: "c1", Participants: []string{"a", "b"}}
	stored, created, err := s.CreateConversationIfAbsent(ctx, conv)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, stored.LastMessage)

	_, created, err = s.CreateConversationIfAbsent(ctx, conv)
	require.NoError(t, err)
	assert.False(t, created)

	m, err := s.AppendMessage(ctx, domain.Message{ConversationID: "c1", SenderID: "a", Text: "  hi  ", ClientID: "k1"})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "hi", m.Text)
	assert.False(t, m.Timestamp.IsZero())

	retry, err := s.AppendMessage(ctx, domain.Message{ConversationID: "c1", SenderID: "a", Text: "hi", ClientID: "k1"})
	require.NoError(t, err)
	assert.Equal(t, m.ID, retry.ID)

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	c, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "hi", c.LastMessage.Text)

	_, err = s.AppendMessage(ctx, domain.Message{ConversationID: "c1", SenderID: "x", Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrInvalidParticipants)
	_, err = s.AppendMessage(ctx, domain.Message{ConversationID: "nope", SenderID: "a", Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.AppendMessage(ctx, domain.Message{ConversationID: "c1", SenderID: "a", Text: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestMemoryStoreMessageTimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time { return now }))
	_, _, err := s.CreateConversationIfAbsent(ctx, &domain.Conversation{ID: "c", Participants: []string{"a", "b"}})
	require.NoError(t, err)

	first, err := s.AppendMessage(ctx, domain.Message{ConversationID: "c", SenderID: "a", Text: "1"})
	require.NoError(t, err)
	now = now.Add(-time.Minute)
	second, err := s.AppendMessage(ctx, domain.Message{ConversationID: "c", SenderID: "b", Text: "2"})
	require.NoError(t, err)
	assert.False(t, second.Timestamp.Before(first.Timestamp))
}

func TestMemoryStoreTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUsers(t, s, "a", "b")

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := s.SetGraphMembership(ctx, "b", domain.FieldFollowers, "a", true)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	b, err := s.GetUser(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, b.Followers)
	assert.Equal(t, int64(1), b.Version)

	err = s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.SetGraphMembership(ctx, "b", domain.FieldFollowers, "a", true); err != nil {
			return err
		}
		_, err := s.SetGraphMembership(ctx, "a", domain.FieldFollowing, "b", true)
		return err
	})
	require.NoError(t, err)

	a, err := s.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.True(t, a.Following.Contains("b"))
}

func TestMemoryStoreWatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := newTestStore(t)
	seedUsers(t, s, "a", "b")

	stream, err := s.Watch(ctx, feed.User("b"), nil)
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first.User)
	assert.Empty(t, first.User.Followers)

	_, err = s.SetGraphMembership(ctx, "b", domain.FieldFollowers, "a", true)
	require.NoError(t, err)

	second, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IdentitySet{"a"}, second.User.Followers)

	// Resuming at the last position yields nothing until the next change.
	resumed, err := s.Watch(ctx, feed.User("b"), second.Resume)
	require.NoError(t, err)
	defer resumed.Close()

	short, cancelShort := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = resumed.Next(short)
	cancelShort()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.SetGraphMembership(ctx, "b", domain.FieldFollowers, "a", false)
	require.NoError(t, err)
	third, err := resumed.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, third.User.Followers)
}

func TestMemoryStoreWatchMissingDocument(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s := newTestStore(t)

	stream, err := s.Watch(ctx, feed.Post("ghost"), nil)
	require.NoError(t, err)
	defer stream.Close()

	snap, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Post)
}

func TestMemoryStoreCloseEndsStreams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s := NewMemoryStore()

	stream, err := s.Watch(ctx, feed.ConversationList("a"), nil)
	require.NoError(t, err)
	_, err = stream.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, feed.ErrStreamClosed)

	_, err = s.GetUser(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
}
