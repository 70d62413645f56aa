package toggle

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

var ErrViewClosed = errors.New("post view closed")

// PostState is one viewer's picture of a post. Post is nil until the
// first snapshot arrives.
type PostState struct {
	Post *domain.Post
}

// Member reports whether actorID is in field.
func (s PostState) Member(field domain.ToggleField, actorID string) bool {
	return s.Post != nil && s.Post.Members(field).Contains(actorID)
}

// Count returns the count for field, zero before the post has loaded.
func (s PostState) Count(field domain.ToggleField) int {
	if s.Post == nil {
		return 0
	}
	return s.Post.Count(field)
}

func cloneState(s PostState) PostState {
	if s.Post != nil {
		c := s.Post.Clone()
		s.Post = &c
	}
	return s
}

// PostView keeps a post live for one actor and applies their toggles
// optimistically.
type PostView struct {
	postID  string
	actorID string
	coord   *Coordinator
	feeds   *feed.Manager
	queue   *reconcile.Queue[PostState]
	runner  *reconcile.Runner
	handle  feed.Handle
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

func OpenPost(ctx context.Context, coord *Coordinator, feeds *feed.Manager, postID, actorID string) (*PostView, error) {
	if postID == "" || actorID == "" {
		return nil, domain.ErrInvalidParticipants
	}
	viewCtx, cancel := context.WithCancel(ctx)
	v := &PostView{
		postID:  postID,
		actorID: actorID,
		coord:   coord,
		feeds:   feeds,
		queue:   reconcile.NewQueue(PostState{}, cloneState),
		runner:  reconcile.NewRunner(),
		ctx:     viewCtx,
		cancel:  cancel,
		logger: pkglog.Component("toggle").With().
			Str(pkglog.FieldPostID, postID).
			Str(pkglog.FieldUserID, actorID).
			Logger(),
	}

	h, err := feeds.Subscribe(viewCtx, feed.Post(postID), func(snap feed.Snapshot) {
		v.queue.Observe(PostState{Post: snap.Post})
	}, feed.WithErrorHandler(v.fail))
	if err != nil {
		cancel()
		v.runner.Stop()
		return nil, err
	}
	v.handle = h
	return v, nil
}

func (v *PostView) PostID() string { return v.postID }

// State returns the post with pending toggles applied.
func (v *PostView) State() PostState { return v.queue.State() }

func (v *PostView) Changes() <-chan struct{} { return v.queue.Changes() }

func (v *PostView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Toggle shows membership in field as desired immediately and writes it
// in the background, in call order. A failed write rolls the prediction
// back and is reported through the Result.
func (v *PostView) Toggle(field domain.ToggleField, desired bool) *reconcile.Result {
	if _, err := domain.ParseToggleField(string(field)); err != nil {
		return reconcile.Completed(err)
	}
	if cur := v.queue.State(); cur.Post != nil && cur.Member(field, v.actorID) == desired {
		return reconcile.Completed(nil)
	}

	actorID := v.actorID
	entry := v.queue.Push(func(s PostState) PostState {
		if s.Post != nil {
			s.Post.SetMember(field, actorID, desired)
		}
		return s
	})

	res := reconcile.NewResult()
	ok := v.runner.Go(func() {
		written, err := v.coord.Toggle(v.ctx, v.postID, actorID, field, desired)
		if err != nil {
			v.queue.Reject(entry)
			v.logger.Warn().Err(err).Str(pkglog.FieldField, string(field)).Msg("toggle rolled back")
			res.Complete(err)
			return
		}
		v.queue.Ack(entry, func(s PostState) bool {
			return s.Post != nil && s.Post.Version >= written.Version
		})
		res.Complete(nil)
	})
	if !ok {
		v.queue.Reject(entry)
		return reconcile.Completed(ErrViewClosed)
	}
	return res
}

func (v *PostView) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.queue.Update(func(s PostState) PostState { return s })
}

// Close stops live updates; queued toggles still reach the store.
func (v *PostView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.feeds.Cancel(v.handle)
	go func() {
		v.runner.Stop()
		v.cancel()
	}()
}
