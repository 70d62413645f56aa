package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/games-society/internal/cache"
	"github.com/weiawesome/games-society/internal/config"
	"github.com/weiawesome/games-society/internal/domain"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

// Reconciler periodically overwrites the most read cached counters with
// the counts held by the document store, repairing drift from events that
// were lost or applied twice.
type Reconciler struct {
	counters cache.CounterStore
	source   cache.StoreSource
	cfg      config.ReconcilerConfig
	quit     chan struct{}
	doneCh   chan struct{}
}

// New creates a new Reconciler.
func New(counters cache.CounterStore, source cache.StoreSource, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		counters: counters,
		source:   source,
		cfg:      cfg,
		quit:     make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the reconciler in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the reconciler to stop and returns immediately.
// Call Done() to wait for it to exit.
func (r *Reconciler) Stop() {
	close(r.quit)
}

// Done returns a channel that is closed when the reconciler has fully stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile runs one pass and returns how many counters were rewritten.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	l := pkglog.Component("reconciler")

	topN := int64(r.cfg.TopN)
	if topN <= 0 {
		topN = 100
	}

	hot, err := r.counters.TopHotKeys(ctx, topN)
	if err != nil {
		l.Error().Err(err).Msg("failed to get top hot keys")
		return 0
	}
	if len(hot) == 0 {
		l.Debug().Msg("no hot keys to reconcile")
		return 0
	}

	fixed := 0
	for _, c := range hot {
		n, err := r.source.Count(ctx, c)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			l.Error().Err(err).Str("counter", c.String()).Msg("failed to read authoritative count")
			continue
		}
		if err := r.counters.Set(ctx, c, n); err != nil {
			l.Error().Err(err).Str("counter", c.String()).Msg("failed to set cached count")
			continue
		}
		fixed++
	}

	// Scores start over so the next pass follows current traffic.
	if err := r.counters.ResetHotKeys(ctx); err != nil {
		l.Error().Err(err).Msg("failed to reset hot key scores")
	}

	l.Info().Int("count", fixed).Msg("hot-key reconciliation complete")
	return fixed
}
