package cache

import (
	"context"
	"fmt"

	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/store"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

// StoreSource reads authoritative counts from the document store, where
// they are derived from the membership sets in the same write.
type StoreSource struct {
	Users store.UserStore
	Posts store.PostStore
}

// Count returns the stored value behind c.
func (s StoreSource) Count(ctx context.Context, c Counter) (int64, error) {
	switch c.Kind {
	case KindFollowers, KindFollowing:
		u, err := s.Users.GetUser(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		if c.Kind == KindFollowers {
			return int64(u.FollowerCount), nil
		}
		return int64(u.FollowingCount), nil
	case KindLikes, KindSaves:
		p, err := s.Posts.GetPost(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		if c.Kind == KindLikes {
			return int64(p.Count(domain.FieldLikes)), nil
		}
		return int64(p.Count(domain.FieldSaves)), nil
	default:
		return 0, fmt.Errorf("unknown counter kind %q", c.Kind)
	}
}

// ReadThrough returns the cached count for c, filling it from src on a
// miss. Every read is scored for hot-key reconciliation. Cache failures
// fall back to the store.
func ReadThrough(ctx context.Context, counters CounterStore, src StoreSource, c Counter) (int64, error) {
	l := pkglog.Ctx(ctx)
	if err := counters.RecordAccess(ctx, c); err != nil {
		l.Debug().Err(err).Str("counter", c.String()).Msg("hot key score not recorded")
	}
	n, ok, err := counters.Get(ctx, c)
	switch {
	case err != nil:
		l.Debug().Err(err).Str("counter", c.String()).Msg("counter cache read failed, using store")
	case ok:
		return n, nil
	}
	n, err = src.Count(ctx, c)
	if err != nil {
		return 0, err
	}
	if err := counters.Set(ctx, c, n); err != nil {
		l.Debug().Err(err).Str("counter", c.String()).Msg("counter cache fill failed")
	}
	return n, nil
}
