package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/pkg/pubsub"
)

// Projector applies confirmed change events to cached counters. It sits on
// the event bus as a Publisher so it sees exactly what is produced.
type Projector struct {
	counters CounterStore
}

func NewProjector(counters CounterStore) *Projector {
	return &Projector{counters: counters}
}

func (p *Projector) Publish(ctx context.Context, _ string, evt *pubsub.Event) error {
	switch evt.Type {
	case events.TypeFollowChanged:
		var fc events.FollowChanged
		if err := evt.UnmarshalPayload(&fc); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Type, err)
		}
		return errors.Join(
			p.adjust(ctx, Counter{Kind: KindFollowers, ID: fc.FollowingID}, fc.Following),
			p.adjust(ctx, Counter{Kind: KindFollowing, ID: fc.FollowerID}, fc.Following),
		)

	case events.TypeToggleChanged:
		var tc events.ToggleChanged
		if err := evt.UnmarshalPayload(&tc); err != nil {
			return fmt.Errorf("decode %s: %w", evt.Type, err)
		}
		kind := KindLikes
		if tc.Field == domain.FieldSaves {
			kind = KindSaves
		}
		return p.adjust(ctx, Counter{Kind: kind, ID: tc.PostID}, tc.Member)
	}
	return nil
}

func (p *Projector) adjust(ctx context.Context, c Counter, up bool) error {
	if up {
		return p.counters.CondIncr(ctx, c)
	}
	return p.counters.CondDecr(ctx, c)
}

// Close is a no-op; the counter store is closed by its owner.
func (p *Projector) Close() error { return nil }

var _ pubsub.Publisher = (*Projector)(nil)
