// Package graph maintains the follow relation, which is stored twice: in
// the follower's following set and in the target's followers set.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/store"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

// compensationTimeout bounds the reverting write after a failed second
// write, which runs even if the caller's context is already done.
const compensationTimeout = 10 * time.Second

// Change describes the documents after SetFollowing. Versions let callers
// tell when a feed snapshot includes the change.
type Change struct {
	Changed       bool
	SelfVersion   int64
	TargetVersion int64
}

// Mutator writes both sides of a follow edge.
type Mutator struct {
	users  store.UserStore
	tx     store.Transactor
	events *events.Emitter
	logger zerolog.Logger
}

// NewMutator creates a Mutator. When users also implements
// store.Transactor both sides are written in one transaction; otherwise
// they are written in sequence with compensation.
func NewMutator(users store.UserStore, emitter *events.Emitter) *Mutator {
	m := &Mutator{
		users:  users,
		events: emitter,
		logger: pkglog.Component("graph"),
	}
	if tx, ok := users.(store.Transactor); ok {
		m.tx = tx
	}
	return m
}

// WithoutTransactions forces the sequential write path.
func (m *Mutator) WithoutTransactions() *Mutator {
	c := *m
	c.tx = nil
	return &c
}

// SetFollowing makes selfID follow (desired) or unfollow targetID. It is
// idempotent: with both sides already at desired nothing is written, and a
// half-applied edge left by an earlier failure is completed.
//
// On the sequential path a failed second write is compensated by undoing
// the first; the error then wraps domain.ErrPartialGraphUpdate, joined
// with the compensation error if that failed as well.
func (m *Mutator) SetFollowing(ctx context.Context, selfID, targetID string, desired bool) (Change, error) {
	if selfID == "" || targetID == "" || selfID == targetID {
		return Change{}, domain.ErrInvalidParticipants
	}

	self, err := m.users.GetUser(ctx, selfID)
	if err != nil {
		return Change{}, err
	}
	target, err := m.users.GetUser(ctx, targetID)
	if err != nil {
		return Change{}, err
	}

	if target.Followers.Contains(selfID) == desired && self.Following.Contains(targetID) == desired {
		return Change{SelfVersion: self.Version, TargetVersion: target.Version}, nil
	}

	var change Change
	if m.tx != nil {
		err = m.tx.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			change, err = m.writeBoth(ctx, selfID, targetID, desired)
			return err
		})
	} else {
		change, err = m.writeSequential(ctx, selfID, targetID, desired)
	}
	if err != nil {
		return Change{}, err
	}

	if change.Changed {
		m.logger.Info().
			Str(pkglog.FieldUserID, selfID).
			Str(pkglog.FieldTargetID, targetID).
			Bool("following", desired).
			Msg("follow edge updated")
		m.events.FollowChanged(ctx, selfID, targetID, desired)
	}
	return change, nil
}

func (m *Mutator) writeBoth(ctx context.Context, selfID, targetID string, desired bool) (Change, error) {
	t, err := m.users.SetGraphMembership(ctx, targetID, domain.FieldFollowers, selfID, desired)
	if err != nil {
		return Change{}, err
	}
	s, err := m.users.SetGraphMembership(ctx, selfID, domain.FieldFollowing, targetID, desired)
	if err != nil {
		return Change{}, err
	}
	return Change{Changed: t.Changed || s.Changed, SelfVersion: s.Version, TargetVersion: t.Version}, nil
}

func (m *Mutator) writeSequential(ctx context.Context, selfID, targetID string, desired bool) (Change, error) {
	t, err := m.users.SetGraphMembership(ctx, targetID, domain.FieldFollowers, selfID, desired)
	if err != nil {
		return Change{}, err
	}

	s, err := m.users.SetGraphMembership(ctx, selfID, domain.FieldFollowing, targetID, desired)
	if err == nil {
		return Change{Changed: t.Changed || s.Changed, SelfVersion: s.Version, TargetVersion: t.Version}, nil
	}

	partial := fmt.Errorf("%w: %s -> %s: %w", domain.ErrPartialGraphUpdate, selfID, targetID, err)
	if !t.Changed {
		// The first side was already at desired; nothing to undo.
		return Change{}, partial
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if _, cerr := m.users.SetGraphMembership(cctx, targetID, domain.FieldFollowers, selfID, !desired); cerr != nil {
		m.logger.Error().
			Err(cerr).
			Str(pkglog.FieldUserID, selfID).
			Str(pkglog.FieldTargetID, targetID).
			Msg("follow compensation failed, edge left asymmetric")
		return Change{}, errors.Join(partial, fmt.Errorf("compensation: %w", cerr))
	}
	return Change{}, partial
}

// IsFollowing reports whether selfID follows targetID according to the
// follower's own document.
func (m *Mutator) IsFollowing(ctx context.Context, selfID, targetID string) (bool, error) {
	self, err := m.users.GetUser(ctx, selfID)
	if err != nil {
		return false, err
	}
	return self.Following.Contains(targetID), nil
}
