package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/conversation"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/graph"
	"github.com/weiawesome/games-society/internal/idgen"
	"github.com/weiawesome/games-society/internal/messagelog"
	"github.com/weiawesome/games-society/internal/reconcile"
	"github.com/weiawesome/games-society/internal/store"
	"github.com/weiawesome/games-society/internal/toggle"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoConversation   = errors.New("no conversation focused")
	ErrNoProfile        = errors.New("no profile focused")
	ErrPostNotWatched   = errors.New("post not watched")
	ErrSessionClosed    = errors.New("session closed")
)

// maxWatchedPosts bounds the post views one connection keeps open.
const maxWatchedPosts = 64

// Core is what a session needs from the sync core.
type Core struct {
	Messages  store.MessageStore
	Feeds     *feed.Manager
	IDs       idgen.Generator
	Events    *events.Emitter
	LogConfig messagelog.Config
	Resolver  *conversation.Resolver
	Graph     *graph.Mutator
	Toggles   *toggle.Coordinator
}

// focus is one live view plus the goroutine pushing its state.
type focus struct {
	close func()
	stop  chan struct{}
	done  chan struct{}
}

func (f *focus) end() {
	close(f.stop)
	f.close()
	<-f.done
}

// Session is one connection's view of the core: an identity, at most one
// focused conversation and profile, and any number of watched posts.
// Every state change is pushed to the client as a full state message.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time

	core   Core
	push   func(any)
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu            sync.Mutex
	userID        string
	username      string
	authenticated bool
	closed        bool
	log           *messagelog.Log
	listHandle    feed.Handle
	conv          *messagelog.View
	convFocus     *focus
	profile       *graph.ProfileView
	profileFocus  *focus
	posts         map[string]*toggle.PostView
	postFocus     map[string]*focus
	pending       sync.WaitGroup
}

// NewSession creates a session that reports state through push. push must
// not block.
func NewSession(id string, core Core, push func(any)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		core:         core,
		push:         push,
		ctx:          ctx,
		cancel:       cancel,
		logger:       pkglog.Component("hub").With().Str(pkglog.FieldSession, id).Logger(),
		posts:        make(map[string]*toggle.PostView),
		postFocus:    make(map[string]*focus),
	}
}

// Authenticate binds the session to a user and starts pushing their
// conversation list.
func (s *Session) Authenticate(userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.authenticated {
		if s.userID == userID {
			return nil
		}
		return errors.New("session already bound to another user")
	}

	h, err := s.core.Feeds.Subscribe(s.ctx, feed.ConversationList(userID), func(snap feed.Snapshot) {
		convs := snap.Conversations
		domain.SortByActivity(convs)
		s.push(&ConversationListMessage{Type: MsgTypeConversationList, Conversations: convs})
	}, feed.WithErrorHandler(func(err error) {
		s.push(NewErrorMessage(ErrorCode(err), "conversation list feed stopped: "+err.Error()))
	}))
	if err != nil {
		return err
	}

	s.userID, s.username, s.authenticated = userID, username, true
	s.listHandle = h
	s.log = messagelog.New(s.core.Messages, s.core.Feeds, s.core.IDs, s.core.Events, s.core.LogConfig)
	s.logger = s.logger.With().Str(pkglog.FieldUserID, userID).Logger()
	s.logger.Info().Msg("session authenticated")
	return nil
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.LastActiveAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) ready() error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

// viewContext outlives the session so writes queued before a disconnect
// still reach the store.
func (s *Session) viewContext() context.Context {
	return context.WithoutCancel(s.ctx)
}

// watch pushes render() after every change signal until the focus ends.
func (s *Session) watch(changes <-chan struct{}, closeView func(), render func() any) *focus {
	f := &focus{close: closeView, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(f.done)
		for {
			select {
			case <-f.stop:
				return
			case <-changes:
				s.push(render())
			}
		}
	}()
	return f
}

// FocusConversation switches the live conversation. With otherID set the
// conversation with that user is resolved, and created if needed, first.
func (s *Session) FocusConversation(ctx context.Context, conversationID, otherID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return "", err
	}

	if conversationID == "" {
		h, err := s.core.Resolver.Resolve(ctx, s.userID, otherID)
		if err != nil {
			return "", err
		}
		conversationID = h.ID
	} else if _, err := s.core.Resolver.Get(ctx, s.userID, conversationID); err != nil {
		return "", err
	}

	if s.convFocus != nil {
		s.convFocus.end()
		s.convFocus, s.conv = nil, nil
	}
	v, err := s.log.Focus(s.viewContext(), conversationID)
	if err != nil {
		return "", err
	}
	s.conv = v
	s.convFocus = s.watch(v.Changes(), s.log.Blur, func() any {
		return &ConversationStateMessage{
			Type:           MsgTypeConversationState,
			ConversationID: v.ConversationID(),
			Messages:       v.Messages(),
			Error:          errString(v.Err()),
		}
	})
	return conversationID, nil
}

// SendMessage appends text to the focused conversation. The placeholder is
// pushed with the next state message; the ack follows the store write.
func (s *Session) SendMessage(ref, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if s.conv == nil {
		return ErrNoConversation
	}
	_, res, err := s.conv.Append(s.userID, text)
	if err != nil {
		return err
	}
	s.ackWhenDone(ref, res)
	return nil
}

// FocusProfile switches the live profile to userID.
func (s *Session) FocusProfile(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	if s.profileFocus != nil {
		s.profileFocus.end()
		s.profileFocus, s.profile = nil, nil
	}
	v, err := graph.OpenProfile(s.viewContext(), s.core.Graph, s.core.Feeds, s.userID, userID)
	if err != nil {
		return err
	}
	s.profile = v
	s.profileFocus = s.watch(v.Changes(), v.Close, func() any {
		p := v.State()
		return &ProfileStateMessage{
			Type:      MsgTypeProfileState,
			UserID:    userID,
			Profile:   p.Target,
			Following: p.Following(),
			Error:     errString(v.Err()),
		}
	})
	return nil
}

// SetFollowing follows or unfollows the focused profile.
func (s *Session) SetFollowing(ref string, desired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if s.profile == nil {
		return ErrNoProfile
	}
	s.ackWhenDone(ref, s.profile.SetFollowing(desired))
	return nil
}

// WatchPost starts pushing postID's state. Watching a post twice is a no-op.
func (s *Session) WatchPost(postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if _, ok := s.posts[postID]; ok {
		return nil
	}
	if len(s.posts) >= maxWatchedPosts {
		return errors.New("too many watched posts")
	}

	v, err := toggle.OpenPost(s.viewContext(), s.core.Toggles, s.core.Feeds, postID, s.userID)
	if err != nil {
		return err
	}
	actor := s.userID
	s.posts[postID] = v
	s.postFocus[postID] = s.watch(v.Changes(), v.Close, func() any {
		st := v.State()
		return &PostStateMessage{
			Type:  MsgTypePostState,
			Post:  st.Post,
			Liked: st.Member(domain.FieldLikes, actor),
			Saved: st.Member(domain.FieldSaves, actor),
			Error: errString(v.Err()),
		}
	})
	return nil
}

// UnwatchPost stops pushing postID.
func (s *Session) UnwatchPost(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.postFocus[postID]; ok {
		f.end()
		delete(s.postFocus, postID)
		delete(s.posts, postID)
	}
}

// Toggle sets the user's like or save on a watched post.
func (s *Session) Toggle(ref, postID, field string, desired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	f, err := domain.ParseToggleField(field)
	if err != nil {
		return err
	}
	v, ok := s.posts[postID]
	if !ok {
		return ErrPostNotWatched
	}
	s.ackWhenDone(ref, v.Toggle(f, desired))
	return nil
}

// ackWhenDone pushes the outcome of res once it resolves. Callers hold s.mu.
func (s *Session) ackWhenDone(ref string, res *reconcile.Result) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		select {
		case <-res.Done():
			s.push(newAck(ref, res.Err()))
		case <-s.ctx.Done():
		}
	}()
}

// Close ends every view. No push happens after Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.authenticated {
		s.core.Feeds.Cancel(s.listHandle)
	}
	if s.convFocus != nil {
		s.convFocus.end()
	}
	if s.profileFocus != nil {
		s.profileFocus.end()
	}
	for _, f := range s.postFocus {
		f.end()
	}
	s.mu.Unlock()

	s.cancel()
	s.pending.Wait()
	s.logger.Debug().Msg("session closed")
}
