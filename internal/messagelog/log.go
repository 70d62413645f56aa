// Package messagelog sends and follows the messages of a conversation.
package messagelog

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/idgen"
	"github.com/weiawesome/games-society/internal/reconcile"
	"github.com/weiawesome/games-society/internal/store"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

// Config tunes placeholder matching.
type Config struct {
	// ClockSkew bounds how far the device clock may run ahead of the
	// store's when matching a placeholder to a message stored without a
	// correlation id.
	ClockSkew time.Duration `mapstructure:"clock_skew"`
}

// Log appends to and follows conversation message logs. At most one
// conversation is focused at a time.
type Log struct {
	store  store.MessageStore
	feeds  *feed.Manager
	ids    idgen.Generator
	events *events.Emitter
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	focused *View
}

// New creates a Log.
func New(st store.MessageStore, feeds *feed.Manager, ids idgen.Generator, emitter *events.Emitter, cfg Config) *Log {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	if ids == nil {
		ids = idgen.NewULIDGenerator()
	}
	return &Log{
		store:  st,
		feeds:  feeds,
		ids:    ids,
		events: emitter,
		cfg:    cfg,
		now:    time.Now,
		logger: pkglog.Component("messagelog"),
	}
}

// draft validates input and fills in the fields the device owns.
func (l *Log) draft(conversationID, senderID, text string) (domain.Message, error) {
	if conversationID == "" || senderID == "" {
		return domain.Message{}, domain.ErrInvalidParticipants
	}
	text, err := domain.NormalizeText(text)
	if err != nil {
		return domain.Message{}, err
	}
	clientID, err := l.ids.Generate()
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Timestamp:      l.now().UTC(),
		ClientID:       clientID,
	}, nil
}

func (l *Log) write(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	stored, err := l.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	l.events.MessageAppended(ctx, stored)
	return stored, nil
}

// Append stores a message and returns the confirmed copy.
func (l *Log) Append(ctx context.Context, conversationID, senderID, text string) (*domain.Message, error) {
	msg, err := l.draft(conversationID, senderID, text)
	if err != nil {
		return nil, err
	}
	return l.write(ctx, msg)
}

// Open starts a live view of conversationID without affecting focus.
func (l *Log) Open(ctx context.Context, conversationID string) (*View, error) {
	viewCtx, cancel := context.WithCancel(ctx)
	v := &View{
		conversationID: conversationID,
		log:            l,
		queue:          reconcile.NewQueue(logState{}, cloneState),
		runner:         reconcile.NewRunner(),
		ctx:            viewCtx,
		cancel:         cancel,
		logger:         l.logger.With().Str(pkglog.FieldConversationID, conversationID).Logger(),
	}

	h, err := l.feeds.Subscribe(viewCtx, feed.MessageLog(conversationID), v.observe, feed.WithErrorHandler(v.fail))
	if err != nil {
		v.runner.Stop()
		cancel()
		return nil, err
	}
	v.handle = h
	return v, nil
}

// Focus switches the live view to conversationID. The previous view is
// closed before the new subscription starts, so no update for it can
// reach the caller afterwards.
func (l *Log) Focus(ctx context.Context, conversationID string) (*View, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.focused != nil {
		l.focused.Close()
		l.focused = nil
	}
	v, err := l.Open(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	l.focused = v
	return v, nil
}

// Focused returns the focused view, or nil.
func (l *Log) Focused() *View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.focused
}

// Blur closes the focused view, if any.
func (l *Log) Blur() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.focused != nil {
		l.focused.Close()
		l.focused = nil
	}
}

// Confirmed yields the confirmed messages of conversationID, each exactly
// once, in timestamp order within each snapshot and then as new ones
// arrive. Iteration subscribes lazily and stops when the consumer breaks,
// ctx ends, or the feed fails, in which case the error is yielded last.
func (l *Log) Confirmed(ctx context.Context, conversationID string) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		latest := make(chan []domain.Message, 1)
		failed := make(chan error, 1)
		h, err := l.feeds.Subscribe(ctx, feed.MessageLog(conversationID),
			func(snap feed.Snapshot) {
				select {
				case <-latest:
				default:
				}
				latest <- snap.Messages
			},
			feed.WithErrorHandler(func(err error) { failed <- err }),
		)
		if err != nil {
			yield(domain.Message{}, err)
			return
		}
		defer l.feeds.Cancel(h)

		seen := make(map[string]struct{})
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-failed:
				yield(domain.Message{}, err)
				return
			case msgs := <-latest:
				msgs = slices.Clone(msgs)
				domain.SortMessages(msgs)
				for _, m := range msgs {
					if _, dup := seen[m.ID]; dup {
						continue
					}
					seen[m.ID] = struct{}{}
					if !yield(m, nil) {
						return
					}
				}
			}
		}
	}
}
