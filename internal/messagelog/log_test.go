package messagelog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/store"
)

// gatedStore holds AppendMessage before and/or after the underlying write.
type gatedStore struct {
	store.MessageStore
	before chan struct{}
	after  chan struct{}
	err    error
}

func (g *gatedStore) AppendMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if g.before != nil {
		<-g.before
	}
	if g.err != nil {
		return nil, g.err
	}
	m, err := g.MessageStore.AppendMessage(ctx, msg)
	if g.after != nil {
		<-g.after
	}
	return m, err
}

type fixture struct {
	mem   *store.MemoryStore
	feeds *feed.Manager
	conv  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	feeds := feed.NewManager(mem, feed.Config{})
	t.Cleanup(func() {
		feeds.Close()
		_ = mem.Close(context.Background())
	})
	_, _, err := mem.CreateConversationIfAbsent(context.Background(), &domain.Conversation{ID: "c1", Participants: []string{"alice", "bob"}})
	require.NoError(t, err)
	_, _, err = mem.CreateConversationIfAbsent(context.Background(), &domain.Conversation{ID: "c2", Participants: []string{"alice", "carol"}})
	require.NoError(t, err)
	return &fixture{mem: mem, feeds: feeds, conv: "c1"}
}

func (f *fixture) log(st store.MessageStore) *Log {
	if st == nil {
		st = f.mem
	}
	return New(st, f.feeds, nil, nil, Config{})
}

func texts(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func eventually(t *testing.T, v *View, cond func([]domain.Message) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(v.Messages()) }, 2*time.Second, 5*time.Millisecond)
}

func TestViewShowsPlaceholderWhileOffline(t *testing.T) {
	f := newFixture(t)
	gate := &gatedStore{MessageStore: f.mem, before: make(chan struct{})}
	l := f.log(gate)

	v, err := l.Open(context.Background(), f.conv)
	require.NoError(t, err)
	defer v.Close()

	pending, res, err := v.Append("alice", "  brb  ")
	require.NoError(t, err)
	assert.True(t, pending.Pending)
	assert.Equal(t, "brb", pending.Text)

	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Pending)

	close(gate.before)
	require.NoError(t, res.Wait(context.Background()))

	eventually(t, v, func(msgs []domain.Message) bool {
		return len(msgs) == 1 && !msgs[0].Pending
	})
	stored, err := f.mem.ListMessages(context.Background(), f.conv)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ID, v.Messages()[0].ID)
}

func TestViewFeedBeforeAckShowsMessageOnce(t *testing.T) {
	f := newFixture(t)
	gate := &gatedStore{MessageStore: f.mem, after: make(chan struct{})}
	l := f.log(gate)

	v, err := l.Open(context.Background(), f.conv)
	require.NoError(t, err)
	defer v.Close()

	_, res, err := v.Append("alice", "first")
	require.NoError(t, err)

	// The write has landed and the feed has delivered it; the ack has not.
	eventually(t, v, func(msgs []domain.Message) bool {
		return len(msgs) == 1 && !msgs[0].Pending
	})

	close(gate.after)
	require.NoError(t, res.Wait(context.Background()))
	assert.Len(t, v.Messages(), 1)
}

func TestViewRollsBackFailedSend(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("permission denied")
	l := f.log(&gatedStore{MessageStore: f.mem, err: boom})

	v, err := l.Open(context.Background(), f.conv)
	require.NoError(t, err)
	defer v.Close()

	_, res, err := v.Append("alice", "nope")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Wait(context.Background()), boom)
	assert.Empty(t, v.Messages())
}

func TestViewRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	v, err := f.log(nil).Open(context.Background(), f.conv)
	require.NoError(t, err)
	defer v.Close()

	_, _, err = v.Append("alice", " \t\n ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Empty(t, v.Messages())
}

func TestViewsConvergeOnOneOrder(t *testing.T) {
	f := newFixture(t)
	alice, err := f.log(nil).Open(context.Background(), f.conv)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := f.log(nil).Open(context.Background(), f.conv)
	require.NoError(t, err)
	defer bob.Close()

	for i, text := range []string{"a1", "a2", "a3"} {
		_, _, err := alice.Append("alice", text)
		require.NoError(t, err)
		_, _, err = bob.Append("bob", []string{"b1", "b2", "b3"}[i])
		require.NoError(t, err)
	}

	settled := func(msgs []domain.Message) bool {
		if len(msgs) != 6 {
			return false
		}
		for _, m := range msgs {
			if m.Pending {
				return false
			}
		}
		return true
	}
	eventually(t, alice, settled)
	eventually(t, bob, settled)
	assert.Equal(t, texts(alice.Messages()), texts(bob.Messages()))

	got := texts(alice.Messages())
	assert.Less(t, indexOf(got, "a1"), indexOf(got, "a2"))
	assert.Less(t, indexOf(got, "a2"), indexOf(got, "a3"))
	assert.Less(t, indexOf(got, "b1"), indexOf(got, "b3"))
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func TestFocusSwitchStopsOldConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.log(nil)

	first, err := l.Focus(ctx, "c1")
	require.NoError(t, err)
	eventually(t, first, func(msgs []domain.Message) bool { return len(msgs) == 0 })

	second, err := l.Focus(ctx, "c2")
	require.NoError(t, err)
	assert.Same(t, second, l.Focused())

	_, err = l.Append(ctx, "c1", "bob", "you there?")
	require.NoError(t, err)
	_, err = l.Append(ctx, "c2", "carol", "hello")
	require.NoError(t, err)

	eventually(t, second, func(msgs []domain.Message) bool {
		return len(msgs) == 1 && msgs[0].Text == "hello"
	})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, first.Messages(), "closed view must not receive updates")

	l.Blur()
	assert.Nil(t, l.Focused())
}

func TestAppendValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := f.log(nil)

	_, err := l.Append(ctx, "c1", "alice", "")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	_, err = l.Append(ctx, "missing", "alice", "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = l.Append(ctx, "c1", "mallory", "hi")
	assert.ErrorIs(t, err, domain.ErrInvalidParticipants)
}

func TestConfirmedYieldsEachMessageOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	f := newFixture(t)
	l := f.log(nil)

	_, err := l.Append(ctx, "c1", "alice", "one")
	require.NoError(t, err)

	var got []string
	for m, err := range l.Confirmed(ctx, "c1") {
		require.NoError(t, err)
		got = append(got, m.Text)
		if len(got) == 1 {
			_, err := l.Append(ctx, "c1", "bob", "two")
			require.NoError(t, err)
		}
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"one", "two"}, got)
	require.Eventually(t, func() bool { return f.feeds.Active() == 0 }, time.Second, 5*time.Millisecond)
}
