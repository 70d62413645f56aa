package store

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/idgen"
)

// MemoryStore keeps every document in process. It implements the full
// Store surface including transactions and resumable change feeds, and
// backs tests and single-node development.
type MemoryStore struct {
	ids idgen.Generator
	now func() time.Time

	// mu guards everything below. A transaction holds it for its whole
	// duration.
	mu       sync.RWMutex
	users    map[string]*domain.User
	convs    map[string]*domain.Conversation
	messages map[string][]domain.Message
	posts    map[string]*domain.Post
	seq      uint64
	shapeSeq map[feed.Shape]uint64
	watchers map[feed.Shape]map[*memoryStream]struct{}
	closed   bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIDGenerator sets the generator used for message and post ids.
func WithIDGenerator(g idgen.Generator) MemoryOption {
	return func(s *MemoryStore) { s.ids = g }
}

// WithClock sets the clock used for server timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		ids:      idgen.NewULIDGenerator(),
		now:      time.Now,
		users:    make(map[string]*domain.User),
		convs:    make(map[string]*domain.Conversation),
		messages: make(map[string][]domain.Message),
		posts:    make(map[string]*domain.Post),
		shapeSeq: make(map[feed.Shape]uint64),
		watchers: make(map[feed.Shape]map[*memoryStream]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type memoryTxKey struct{}

type memoryTx struct {
	store   *MemoryStore
	touched []feed.Shape
}

func (s *MemoryStore) txFrom(ctx context.Context) *memoryTx {
	if tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx); ok && tx.store == s {
		return tx
	}
	return nil
}

func (s *MemoryStore) read(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.txFrom(ctx) != nil {
		return fn()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn()
}

// write runs fn under the write lock and, on success, advances the
// sequence of every shape fn reports as touched.
func (s *MemoryStore) write(ctx context.Context, fn func() ([]feed.Shape, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx := s.txFrom(ctx); tx != nil {
		touched, err := fn()
		if err == nil {
			tx.touched = append(tx.touched, touched...)
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	touched, err := fn()
	if err == nil {
		s.touchLocked(touched)
	}
	s.mu.Unlock()

	if err == nil {
		s.notify(touched)
	}
	return err
}

// RunInTransaction holds the store lock while fn runs and restores every
// document if fn fails. Nested calls join the outer transaction.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	users, convs, posts := maps.Clone(s.users), maps.Clone(s.convs), maps.Clone(s.posts)
	messages := maps.Clone(s.messages)

	tx := &memoryTx{store: s}
	err := fn(context.WithValue(ctx, memoryTxKey{}, tx))
	if err != nil {
		s.users, s.convs, s.posts, s.messages = users, convs, posts, messages
		s.mu.Unlock()
		return err
	}
	s.touchLocked(tx.touched)
	s.mu.Unlock()

	s.notify(tx.touched)
	return nil
}

func (s *MemoryStore) touchLocked(shapes []feed.Shape) {
	if len(shapes) == 0 {
		return
	}
	s.seq++
	for _, sh := range shapes {
		s.shapeSeq[sh] = s.seq
	}
}

func (s *MemoryStore) notify(shapes []feed.Shape) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sh := range shapes {
		for w := range s.watchers[sh] {
			w.signal()
		}
	}
}

// Users

func (s *MemoryStore) CreateUser(ctx context.Context, u *domain.User) error {
	doc := u.Clone()
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	doc.Version = 1

	return s.write(ctx, func() ([]feed.Shape, error) {
		if _, ok := s.users[doc.ID]; ok {
			return nil, fmt.Errorf("%w: user %s", domain.ErrAlreadyExists, doc.ID)
		}
		s.users[doc.ID] = &doc
		*u = doc.Clone()
		return []feed.Shape{feed.User(doc.ID)}, nil
	})
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var out domain.User
	err := s.read(ctx, func() error {
		u, ok := s.users[id]
		if !ok {
			return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
		out = u.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (*domain.User, error) {
	var out domain.User
	err := s.write(ctx, func() ([]feed.Shape, error) {
		u, ok := s.users[id]
		if !ok {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
		next := u.Clone()
		update.Apply(&next)
		next.Version++
		s.users[id] = &next
		out = next.Clone()
		return []feed.Shape{feed.User(id)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) SetGraphMembership(ctx context.Context, userID string, field domain.GraphField, member string, present bool) (MembershipResult, error) {
	if !field.Valid() {
		return MembershipResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidField, field)
	}
	if member == "" || member == userID {
		return MembershipResult{}, domain.ErrInvalidParticipants
	}

	var res MembershipResult
	err := s.write(ctx, func() ([]feed.Shape, error) {
		u, ok := s.users[userID]
		if !ok {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
		}
		set := u.Graph(field)
		if set.Contains(member) == present {
			res = MembershipResult{Version: u.Version, Count: len(set)}
			return nil, nil
		}
		next := u.Clone()
		next.SetGraph(field, member, present)
		next.Version++
		s.users[userID] = &next
		res = MembershipResult{Changed: true, Version: next.Version, Count: len(next.Graph(field))}
		return []feed.Shape{feed.User(userID)}, nil
	})
	return res, err
}

// Conversations

func (s *MemoryStore) CreateConversationIfAbsent(ctx context.Context, c *domain.Conversation) (*domain.Conversation, bool, error) {
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	var (
		out     domain.Conversation
		created bool
	)
	err := s.write(ctx, func() ([]feed.Shape, error) {
		if existing, ok := s.convs[c.ID]; ok {
			out = existing.Clone()
			return nil, nil
		}
		doc := c.Clone()
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = s.now().UTC()
		}
		doc.Version = 1
		s.convs[doc.ID] = &doc
		out, created = doc.Clone(), true
		return conversationListShapes(&doc), nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var out domain.Conversation
	err := s.read(ctx, func() error {
		c, ok := s.convs[id]
		if !ok {
			return fmt.Errorf("%w: conversation %s", domain.ErrNotFound, id)
		}
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := s.read(ctx, func() error {
		out = s.conversationsLocked(userID)
		return nil
	})
	return out, err
}

func (s *MemoryStore) conversationsLocked(userID string) []domain.Conversation {
	out := make([]domain.Conversation, 0)
	for _, c := range s.convs {
		if c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	domain.SortByActivity(out)
	return out
}

func conversationListShapes(c *domain.Conversation) []feed.Shape {
	shapes := make([]feed.Shape, 0, len(c.Participants))
	for _, p := range c.Participants {
		shapes = append(shapes, feed.ConversationList(p))
	}
	return shapes
}

// Messages

func (s *MemoryStore) AppendMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	text, err := domain.NormalizeText(msg.Text)
	if err != nil {
		return nil, err
	}
	msg.Text = text
	msg.Pending = false

	id, err := s.ids.Generate()
	if err != nil {
		return nil, err
	}

	var out domain.Message
	err = s.write(ctx, func() ([]feed.Shape, error) {
		c, ok := s.convs[msg.ConversationID]
		if !ok {
			return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, msg.ConversationID)
		}
		if !c.HasParticipant(msg.SenderID) {
			return nil, fmt.Errorf("%w: %s is not in conversation %s", domain.ErrInvalidParticipants, msg.SenderID, c.ID)
		}

		history := s.messages[c.ID]
		if msg.ClientID != "" {
			for _, m := range history {
				if m.ClientID == msg.ClientID && m.SenderID == msg.SenderID {
					out = m
					return nil, nil
				}
			}
		}

		msg.ID = id
		msg.Timestamp = s.now().UTC()
		if n := len(history); n > 0 && msg.Timestamp.Before(history[n-1].Timestamp) {
			msg.Timestamp = history[n-1].Timestamp
		}
		s.messages[c.ID] = append(history, msg)

		next := c.Clone()
		next.LastMessage = msg.Preview()
		next.Version++
		s.convs[c.ID] = &next

		out = msg
		return append(conversationListShapes(&next), feed.MessageLog(c.ID)), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := s.read(ctx, func() error {
		if _, ok := s.convs[conversationID]; !ok {
			return fmt.Errorf("%w: conversation %s", domain.ErrNotFound, conversationID)
		}
		out = append(make([]domain.Message, 0, len(s.messages[conversationID])), s.messages[conversationID]...)
		return nil
	})
	return out, err
}

// Posts

func (s *MemoryStore) CreatePost(ctx context.Context, p *domain.Post) error {
	doc := p.Clone()
	if doc.ID == "" {
		id, err := s.ids.Generate()
		if err != nil {
			return err
		}
		doc.ID = id
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	doc.Version = 1

	return s.write(ctx, func() ([]feed.Shape, error) {
		if _, ok := s.posts[doc.ID]; ok {
			return nil, fmt.Errorf("%w: post %s", domain.ErrAlreadyExists, doc.ID)
		}
		s.posts[doc.ID] = &doc
		*p = doc.Clone()
		return []feed.Shape{feed.Post(doc.ID)}, nil
	})
}

func (s *MemoryStore) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	var out domain.Post
	err := s.read(ctx, func() error {
		p, ok := s.posts[id]
		if !ok {
			return fmt.Errorf("%w: post %s", domain.ErrNotFound, id)
		}
		out = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) SetToggleMembership(ctx context.Context, postID string, field domain.ToggleField, actor string, present bool) (MembershipResult, error) {
	if _, err := domain.ParseToggleField(string(field)); err != nil {
		return MembershipResult{}, err
	}
	if actor == "" {
		return MembershipResult{}, domain.ErrInvalidParticipants
	}

	var res MembershipResult
	err := s.write(ctx, func() ([]feed.Shape, error) {
		p, ok := s.posts[postID]
		if !ok {
			return nil, fmt.Errorf("%w: post %s", domain.ErrNotFound, postID)
		}
		if p.Members(field).Contains(actor) == present {
			res = MembershipResult{Version: p.Version, Count: p.Count(field)}
			return nil, nil
		}
		next := p.Clone()
		next.SetMember(field, actor, present)
		next.Version++
		s.posts[postID] = &next
		res = MembershipResult{Changed: true, Version: next.Version, Count: next.Count(field)}
		return []feed.Shape{feed.Post(postID)}, nil
	})
	return res, err
}

// Close ends every open stream. Later calls fail with ErrClosed.
func (s *MemoryStore) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	streams := make([]*memoryStream, 0)
	for _, ws := range s.watchers {
		for w := range ws {
			streams = append(streams, w)
		}
	}
	s.mu.Unlock()

	for _, w := range streams {
		_ = w.Close()
	}
	return nil
}

// Change feeds

// SupportsResume is always true: tokens are positions in the store's
// write sequence.
func (s *MemoryStore) SupportsResume() bool { return true }

func (s *MemoryStore) Watch(ctx context.Context, shape feed.Shape, resume feed.ResumeToken) (feed.Stream, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &memoryStream{
		store:  s,
		shape:  shape,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if pos, ok := decodeSeq(resume); ok && pos <= s.seq {
		w.sent, w.primed = pos, true
	}
	if s.watchers[shape] == nil {
		s.watchers[shape] = make(map[*memoryStream]struct{})
	}
	s.watchers[shape][w] = struct{}{}
	return w, nil
}

func (s *MemoryStore) snapshotLocked(shape feed.Shape) feed.Snapshot {
	snap := feed.Snapshot{Shape: shape, At: s.now().UTC()}
	switch shape.Kind {
	case feed.KindConversationList:
		snap.Conversations = s.conversationsLocked(shape.Key)
	case feed.KindMessageLog:
		snap.Messages = append(make([]domain.Message, 0, len(s.messages[shape.Key])), s.messages[shape.Key]...)
	case feed.KindUser:
		if u, ok := s.users[shape.Key]; ok {
			c := u.Clone()
			snap.User = &c
		}
	case feed.KindPost:
		if p, ok := s.posts[shape.Key]; ok {
			c := p.Clone()
			snap.Post = &c
		}
	}
	return snap
}

type memoryStream struct {
	store  *MemoryStore
	shape  feed.Shape
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once

	// Only touched by the goroutine calling Next.
	sent   uint64
	primed bool
}

func (w *memoryStream) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memoryStream) Next(ctx context.Context) (feed.Snapshot, error) {
	for {
		select {
		case <-w.closed:
			return feed.Snapshot{}, feed.ErrStreamClosed
		default:
		}

		s := w.store
		s.mu.RLock()
		pos := s.shapeSeq[w.shape]
		if !w.primed || pos > w.sent {
			snap := s.snapshotLocked(w.shape)
			// The token is the global position, so a resumed stream skips
			// writes to other shapes that happened in between.
			snap.Resume = encodeSeq(s.seq)
			w.sent, w.primed = s.seq, true
			s.mu.RUnlock()
			return snap, nil
		}
		s.mu.RUnlock()

		select {
		case <-w.wake:
		case <-w.closed:
			return feed.Snapshot{}, feed.ErrStreamClosed
		case <-ctx.Done():
			return feed.Snapshot{}, ctx.Err()
		}
	}
}

func (w *memoryStream) Close() error {
	w.once.Do(func() {
		close(w.closed)
		s := w.store
		s.mu.Lock()
		delete(s.watchers[w.shape], w)
		if len(s.watchers[w.shape]) == 0 {
			delete(s.watchers, w.shape)
		}
		s.mu.Unlock()
	})
	return nil
}

func encodeSeq(seq uint64) feed.ResumeToken {
	return strconv.AppendUint(nil, seq, 10)
}

func decodeSeq(tok feed.ResumeToken) (uint64, bool) {
	if len(tok) == 0 {
		return 0, false
	}
	seq, err := strconv.ParseUint(string(tok), 10, 64)
	return seq, err == nil
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ Transactor = (*MemoryStore)(nil)
)
