package messagelog

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/reconcile"
)

// ErrViewClosed is returned by Append on a closed view.
var ErrViewClosed = errors.New("message view closed")

type logState struct {
	confirmed []domain.Message
	pending   []domain.Message
}

func cloneState(s logState) logState {
	return logState{confirmed: slices.Clone(s.confirmed), pending: slices.Clone(s.pending)}
}

// View is the live, optimistic message log of one conversation.
type View struct {
	conversationID string
	log            *Log
	queue          *reconcile.Queue[logState]
	runner         *reconcile.Runner
	handle         feed.Handle
	ctx            context.Context
	cancel         context.CancelFunc
	logger         zerolog.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

// ConversationID returns the conversation the view follows.
func (v *View) ConversationID() string { return v.conversationID }

// Messages returns the visible log: confirmed messages in timestamp order
// and then this device's unconfirmed messages in send order.
func (v *View) Messages() []domain.Message {
	st := v.queue.State()
	return merge(st.confirmed, st.pending, v.log.cfg.ClockSkew)
}

// Changes signals that Messages or Err may have changed.
func (v *View) Changes() <-chan struct{} { return v.queue.Changes() }

// Err reports why the live feed stopped, if it did.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Append shows text as sent by senderID immediately and writes it in the
// background. The returned Result resolves when the store has accepted the
// message; on failure the placeholder is removed.
func (v *View) Append(senderID, text string) (domain.Message, *reconcile.Result, error) {
	msg, err := v.log.draft(v.conversationID, senderID, text)
	if err != nil {
		return domain.Message{}, nil, err
	}

	placeholder := msg
	placeholder.ID = "local:" + msg.ClientID
	placeholder.Pending = true

	entry := v.queue.Push(func(s logState) logState {
		s.pending = append(s.pending, placeholder)
		return s
	})

	res := reconcile.NewResult()
	ok := v.runner.Go(func() {
		stored, err := v.log.write(v.ctx, msg)
		if err != nil {
			v.queue.Reject(entry)
			v.logger.Warn().Err(err).Str("client_id", msg.ClientID).Msg("message send failed, rolled back")
			res.Complete(err)
			return
		}
		v.queue.Ack(entry, func(s logState) bool { return containsID(s.confirmed, stored.ID) })
		res.Complete(nil)
	})
	if !ok {
		v.queue.Reject(entry)
		return domain.Message{}, nil, ErrViewClosed
	}
	return placeholder, res, nil
}

func (v *View) observe(snap feed.Snapshot) {
	msgs := slices.Clone(snap.Messages)
	domain.SortMessages(msgs)
	v.queue.Update(func(s logState) logState {
		s.confirmed = msgs
		return s
	})
}

func (v *View) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
	v.queue.Update(func(s logState) logState { return s })
}

// Close stops live updates before returning. Sends already queued keep
// going in the background.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.log.feeds.Cancel(v.handle)
	go func() {
		v.runner.Stop()
		v.cancel()
	}()
}
