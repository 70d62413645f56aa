package messagelog

import (
	"time"

	"github.com/weiawesome/games-society/internal/domain"
)

// merge builds the visible log: confirmed messages in timestamp order,
// followed by the placeholders no confirmed message accounts for yet.
// Each confirmed message accounts for at most one placeholder.
func merge(confirmed, pending []domain.Message, skew time.Duration) []domain.Message {
	out := make([]domain.Message, len(confirmed), len(confirmed)+len(pending))
	copy(out, confirmed)
	domain.SortMessages(out)

	n := len(out)
	claimed := make([]bool, n)
	var last time.Time
	if n > 0 {
		last = out[n-1].Timestamp
	}

	for _, p := range pending {
		if i := matchConfirmed(out[:n], claimed, p, skew); i >= 0 {
			claimed[i] = true
			continue
		}
		// A placeholder never sorts before what is already on screen.
		if p.Timestamp.Before(last) {
			p.Timestamp = last
		}
		last = p.Timestamp
		out = append(out, p)
	}
	return out
}

// matchConfirmed finds the confirmed copy of placeholder p. The
// correlation id is authoritative. Messages stored without one fall back
// to same sender and text, timestamped no earlier than the placeholder
// minus skew, closest in time first.
func matchConfirmed(confirmed []domain.Message, claimed []bool, p domain.Message, skew time.Duration) int {
	if p.ClientID != "" {
		for i, m := range confirmed {
			if m.ClientID == p.ClientID && m.SenderID == p.SenderID {
				return i
			}
		}
	}

	best, bestDist := -1, time.Duration(0)
	floor := p.Timestamp.Add(-skew)
	for i, m := range confirmed {
		if claimed[i] || m.ClientID != "" || m.SenderID != p.SenderID || m.Text != p.Text || m.Timestamp.Before(floor) {
			continue
		}
		d := m.Timestamp.Sub(p.Timestamp)
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func containsID(msgs []domain.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
