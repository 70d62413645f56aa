package messagelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/games-society/internal/domain"
)

var t0 = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

func msg(id, sender, text string, at time.Duration, clientID string) domain.Message {
	return domain.Message{ID: id, SenderID: sender, Text: text, Timestamp: t0.Add(at), ClientID: clientID}
}

func placeholder(clientID, sender, text string, at time.Duration) domain.Message {
	m := msg("local:"+clientID, sender, text, at, clientID)
	m.Pending = true
	return m
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMergeHidesPlaceholderOnceConfirmedByClientID(t *testing.T) {
	confirmed := []domain.Message{msg("s1", "alice", "gg", time.Second, "k1")}
	pending := []domain.Message{placeholder("k1", "alice", "gg", 0)}

	got := merge(confirmed, pending, time.Minute)
	assert.Equal(t, []string{"s1"}, ids(got))
	assert.False(t, got[0].Pending)
}

func TestMergeSortsConfirmedStably(t *testing.T) {
	confirmed := []domain.Message{
		msg("b", "bob", "2", 2*time.Second, ""),
		msg("a", "alice", "1", time.Second, ""),
		msg("c", "alice", "3", 2*time.Second, ""),
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids(merge(confirmed, nil, time.Minute)))
}

func TestMergePlaceholderNeverPrecedesConfirmed(t *testing.T) {
	confirmed := []domain.Message{msg("s1", "bob", "hey", time.Hour, "")}
	pending := []domain.Message{placeholder("k1", "alice", "yo", 0)}

	got := merge(confirmed, pending, time.Minute)
	require.Equal(t, []string{"s1", "local:k1"}, ids(got))
	assert.Equal(t, t0.Add(time.Hour), got[1].Timestamp)
}

func TestMergeFallsBackToContentMatch(t *testing.T) {
	// Stored without correlation id, e.g. by an older client.
	confirmed := []domain.Message{
		msg("s1", "alice", "hi", 2*time.Second, ""),
	}
	pending := []domain.Message{
		placeholder("k1", "alice", "hi", 0),
		placeholder("k2", "alice", "hi", time.Second),
	}

	got := merge(confirmed, pending, time.Minute)
	assert.Equal(t, []string{"s1", "local:k2"}, ids(got), "one confirmed message accounts for one placeholder")
}

func TestMergeContentMatchRespectsSkew(t *testing.T) {
	confirmed := []domain.Message{msg("old", "alice", "hi", -time.Hour, "")}
	pending := []domain.Message{placeholder("k1", "alice", "hi", 0)}

	got := merge(confirmed, pending, time.Minute)
	assert.Equal(t, []string{"old", "local:k1"}, ids(got))
}

func TestMergeIgnoresOtherCorrelationIDs(t *testing.T) {
	confirmed := []domain.Message{msg("s1", "alice", "hi", time.Second, "other")}
	pending := []domain.Message{placeholder("k1", "alice", "hi", 0)}

	assert.Len(t, merge(confirmed, pending, time.Minute), 2)
}
