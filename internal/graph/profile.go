package graph

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/reconcile"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

var ErrViewClosed = errors.New("profile view closed")

// Profile is what a viewer sees on someone's profile page. Either user is
// nil until its first snapshot arrives or if the document is missing.
type Profile struct {
	Self   *domain.User
	Target *domain.User
}

// Following reports whether the viewer follows the target, judged from
// the target's followers set.
func (p Profile) Following() bool {
	return p.Target != nil && p.Self != nil && p.Target.Followers.Contains(p.Self.ID)
}

func (p Profile) loaded() bool { return p.Self != nil && p.Target != nil }

func cloneProfile(p Profile) Profile {
	if p.Self != nil {
		c := p.Self.Clone()
		p.Self = &c
	}
	if p.Target != nil {
		c := p.Target.Clone()
		p.Target = &c
	}
	return p
}

// ProfileView follows both users live and applies follow changes
// optimistically on top of them.
type ProfileView struct {
	selfID   string
	targetID string
	mutator  *Mutator
	feeds    *feed.Manager
	queue    *reconcile.Queue[Profile]
	runner   *reconcile.Runner
	handles  []feed.Handle
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

// OpenProfile starts a view of targetID as seen by selfID. Viewing one's
// own profile is allowed; following oneself is not.
func OpenProfile(ctx context.Context, m *Mutator, feeds *feed.Manager, selfID, targetID string) (*ProfileView, error) {
	if selfID == "" || targetID == "" {
		return nil, domain.ErrInvalidParticipants
	}

	viewCtx, cancel := context.WithCancel(ctx)
	v := &ProfileView{
		selfID:   selfID,
		targetID: targetID,
		mutator:  m,
		feeds:    feeds,
		queue:    reconcile.NewQueue(Profile{}, cloneProfile),
		runner:   reconcile.NewRunner(),
		ctx:      viewCtx,
		cancel:   cancel,
		logger: pkglog.Component("graph").With().
			Str(pkglog.FieldUserID, selfID).
			Str(pkglog.FieldTargetID, targetID).
			Logger(),
	}

	subscribe := func(id string, set func(Profile, *domain.User) Profile) error {
		h, err := feeds.Subscribe(viewCtx, feed.User(id), func(snap feed.Snapshot) {
			v.queue.Update(func(p Profile) Profile { return set(p, snap.User) })
		}, feed.WithErrorHandler(v.fail))
		if err == nil {
			v.handles = append(v.handles, h)
		}
		return err
	}

	err := subscribe(targetID, func(p Profile, u *domain.User) Profile {
		p.Target = u
		if selfID == targetID {
			p.Self = u
		}
		return p
	})
	if err == nil && selfID != targetID {
		err = subscribe(selfID, func(p Profile, u *domain.User) Profile {
			p.Self = u
			return p
		})
	}
	if err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// State returns the profile with pending follow changes applied.
func (v *ProfileView) State() Profile { return v.queue.State() }

// Changes signals that State or Err may have changed.
func (v *ProfileView) Changes() <-chan struct{} { return v.queue.Changes() }

// Err reports why a live feed stopped, if one did.
func (v *ProfileView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// SetFollowing shows the follow state as desired right away and writes it
// in the background. Writes from one view reach the store in call order.
// If the write fails the prediction is rolled back and the Result carries
// the error.
func (v *ProfileView) SetFollowing(desired bool) *reconcile.Result {
	if v.selfID == v.targetID {
		return reconcile.Completed(domain.ErrInvalidParticipants)
	}
	if cur := v.queue.State(); cur.loaded() &&
		cur.Target.Followers.Contains(v.selfID) == desired &&
		cur.Self.Following.Contains(v.targetID) == desired {
		return reconcile.Completed(nil)
	}

	selfID, targetID := v.selfID, v.targetID
	entry := v.queue.Push(func(p Profile) Profile {
		if p.Target != nil {
			p.Target.SetGraph(domain.FieldFollowers, selfID, desired)
		}
		if p.Self != nil {
			p.Self.SetGraph(domain.FieldFollowing, targetID, desired)
		}
		return p
	})

	res := reconcile.NewResult()
	ok := v.runner.Go(func() {
		change, err := v.mutator.SetFollowing(v.ctx, selfID, targetID, desired)
		if err != nil {
			v.queue.Reject(entry)
			v.logger.Warn().Err(err).Bool("following", desired).Msg("follow change rolled back")
			res.Complete(err)
			return
		}
		v.queue.Ack(entry, func(p Profile) bool {
			return p.loaded() && p.Self.Version >= change.SelfVersion && p.Target.Version >= change.TargetVersion
		})
		res.Complete(nil)
	})
	if !ok {
		v.queue.Reject(entry)
		return reconcile.Completed(ErrViewClosed)
	}
	return res
}

func (v *ProfileView) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.queue.Update(func(p Profile) Profile { return p })
}

// Close stops live updates before returning; queued writes finish in the
// background.
func (v *ProfileView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	for _, h := range v.handles {
		v.feeds.Cancel(h)
	}
	go func() {
		v.runner.Stop()
		v.cancel()
	}()
}
