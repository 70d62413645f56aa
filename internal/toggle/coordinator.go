// Package toggle applies set-membership toggles such as likes and saves.
// A toggle names the desired state rather than flipping, so repeating it
// is harmless.
package toggle

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/store"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

type Coordinator struct {
	posts  store.PostStore
	events *events.Emitter
	logger zerolog.Logger
}

func NewCoordinator(posts store.PostStore, emitter *events.Emitter) *Coordinator {
	return &Coordinator{
		posts:  posts,
		events: emitter,
		logger: pkglog.Component("toggle"),
	}
}

// Toggle sets actorID's membership in field of postID to desired. The
// result reports whether anything was written and the post's version and
// count afterwards.
func (c *Coordinator) Toggle(ctx context.Context, postID, actorID string, field domain.ToggleField, desired bool) (store.MembershipResult, error) {
	if _, err := domain.ParseToggleField(string(field)); err != nil {
		return store.MembershipResult{}, err
	}
	if postID == "" || actorID == "" {
		return store.MembershipResult{}, domain.ErrInvalidParticipants
	}

	res, err := c.posts.SetToggleMembership(ctx, postID, field, actorID, desired)
	if err != nil {
		return store.MembershipResult{}, err
	}
	if res.Changed {
		c.logger.Debug().
			Str(pkglog.FieldPostID, postID).
			Str(pkglog.FieldUserID, actorID).
			Str(pkglog.FieldField, string(field)).
			Bool("member", desired).
			Int("count", res.Count).
			Msg("toggle applied")
		c.events.ToggleChanged(ctx, events.ToggleChanged{
			PostID:  postID,
			ActorID: actorID,
			Field:   field,
			Member:  desired,
			Count:   res.Count,
		})
	}
	return res, nil
}
