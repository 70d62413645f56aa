package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

// Config controls resubscription after transport failures.
type Config struct {
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// DefaultConfig returns the defaults used when a field is zero.
func DefaultConfig() Config {
	return Config{
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     10 * time.Second,
		MaxRetries:     8,
	}
}

// Handle identifies a subscription.
type Handle uint64

// Option configures a single subscription.
type Option func(*subscription)

// WithErrorHandler installs fn to be told, at most once, that a
// subscription gave up. It is never called after Cancel returns.
func WithErrorHandler(fn func(error)) Option {
	return func(s *subscription) { s.onError = fn }
}

// Manager runs subscriptions against a Source. Each subscription has its
// own goroutine; callbacks for one subscription never overlap and arrive
// in commit order.
type Manager struct {
	source Source
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	nextID Handle
	subs   map[Handle]*subscription
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a Manager. Zero config fields take their defaults.
func NewManager(source Source, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(def.BackoffMax, cfg.BackoffInitial)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Manager{
		source: source,
		cfg:    cfg,
		logger: pkglog.Component("feed"),
		subs:   make(map[Handle]*subscription),
	}
}

var errManagerClosed = errors.New("feed manager closed")

// Subscribe starts watching shape and calls onSnapshot with every state
// the shape goes through, starting with the current one. The subscription
// lives until Cancel, Close, or ctx is done.
func (m *Manager) Subscribe(ctx context.Context, shape Shape, onSnapshot func(Snapshot), opts ...Option) (Handle, error) {
	if err := shape.Validate(); err != nil {
		return 0, err
	}
	if onSnapshot == nil {
		return 0, errors.New("feed: nil snapshot callback")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errManagerClosed
	}

	m.nextID++
	id := m.nextID
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:         id,
		shape:      shape,
		manager:    m,
		onSnapshot: onSnapshot,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger: m.logger.With().
			Str(pkglog.FieldShape, shape.String()).
			Uint64(pkglog.FieldSubscription, uint64(id)).
			Logger(),
	}
	for _, opt := range opts {
		opt(sub)
	}
	m.subs[id] = sub

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sub.run(subCtx)
		m.remove(id, sub)
	}()

	return id, nil
}

// Cancel stops a subscription. Once Cancel returns, no callback for h runs
// again. Cancel must not be called from inside that subscription's own
// callback; cancel from another goroutine instead. Unknown or already
// finished handles are ignored.
func (m *Manager) Cancel(h Handle) {
	m.mu.Lock()
	sub, ok := m.subs[h]
	delete(m.subs, h)
	m.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// Active returns the number of live subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close cancels every subscription and waits for their goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for h, sub := range m.subs {
		subs = append(subs, sub)
		delete(m.subs, h)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	m.wg.Wait()
}

func (m *Manager) remove(h Handle, sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[h] == sub {
		delete(m.subs, h)
	}
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.BackoffInitial
	for i := 1; i < attempt && d < m.cfg.BackoffMax; i++ {
		d *= 2
	}
	return min(d, m.cfg.BackoffMax)
}

type subscription struct {
	id         Handle
	shape      Shape
	manager    *Manager
	onSnapshot func(Snapshot)
	onError    func(error)
	cancel     context.CancelFunc
	done       chan struct{}
	logger     zerolog.Logger

	// mu is held for the duration of every callback so stop can wait out
	// one that is in flight.
	mu        sync.Mutex
	cancelled bool
}

func (s *subscription) stop() {
	s.cancel()
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	m := s.manager
	var resume ResumeToken
	attempt := 0

	for {
		if !m.source.SupportsResume() {
			resume = nil
		}

		err := s.watch(ctx, &resume, &attempt)
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, domain.ErrTransientTransport) {
			s.logger.Error().Err(err).Msg("subscription failed")
			s.fail(err)
			return
		}

		attempt++
		if attempt > m.cfg.MaxRetries {
			s.logger.Error().Err(err).Int(pkglog.FieldAttempt, attempt).Msg("subscription retries exhausted")
			s.fail(err)
			return
		}

		wait := m.backoff(attempt)
		s.logger.Warn().Err(err).
			Int(pkglog.FieldAttempt, attempt).
			Dur("backoff", wait).
			Bool("resume", resume != nil).
			Msg("feed interrupted, resubscribing")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// watch opens one stream and pumps it until it fails.
func (s *subscription) watch(ctx context.Context, resume *ResumeToken, attempt *int) error {
	stream, err := s.manager.source.Watch(ctx, s.shape, *resume)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		snap, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if snap.Resume != nil {
			*resume = snap.Resume
		}
		*attempt = 0
		if !s.deliver(snap) {
			return context.Canceled
		}
	}
}

func (s *subscription) deliver(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.onSnapshot(snap)
	return true
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.onError == nil {
		return
	}
	s.onError(err)
}
