package service

import (
	"context"
	"errors"

	"github.com/weiawesome/games-society/internal/cache"
	"github.com/weiawesome/games-society/internal/conversation"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/graph"
	"github.com/weiawesome/games-society/internal/messagelog"
	"github.com/weiawesome/games-society/internal/store"
	"github.com/weiawesome/games-society/internal/toggle"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

// Deps are the core components the service delegates to.
type Deps struct {
	Store    store.Store
	Counters cache.CounterStore
	Resolver *conversation.Resolver
	Messages *messagelog.Log
	Graph    *graph.Mutator
	Toggles  *toggle.Coordinator
}

// syncService implements SyncService.
type syncService struct {
	store    store.Store
	counters cache.CounterStore
	source   cache.StoreSource
	resolver *conversation.Resolver
	messages *messagelog.Log
	graph    *graph.Mutator
	toggles  *toggle.Coordinator
}

// NewSyncService creates a new SyncService instance.
func NewSyncService(d Deps) SyncService {
	return &syncService{
		store:    d.Store,
		counters: d.Counters,
		source:   cache.StoreSource{Users: d.Store, Posts: d.Store},
		resolver: d.Resolver,
		messages: d.Messages,
		graph:    d.Graph,
		toggles:  d.Toggles,
	}
}

// CreateUser registers a profile document with empty graph sets.
func (s *syncService) CreateUser(ctx context.Context, u *domain.User) error {
	u.Followers, u.Following = nil, nil
	if err := s.store.CreateUser(ctx, u); err != nil {
		return err
	}
	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldUserID, u.ID).Msg("user created")
	return nil
}

func (s *syncService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *syncService) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error) {
	if update.Empty() {
		return s.store.GetUser(ctx, userID)
	}
	return s.store.UpdateProfile(ctx, userID, update)
}

// GetCounts returns follower counts from the counter cache, filling it
// from the user document on a miss.
func (s *syncService) GetCounts(ctx context.Context, userID string) (domain.Counts, error) {
	l := pkglog.Ctx(ctx)
	if s.counters == nil {
		u, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return domain.Counts{}, err
		}
		return u.Counts(), nil
	}

	followers, err := cache.ReadThrough(ctx, s.counters, s.source, cache.Counter{Kind: cache.KindFollowers, ID: userID})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.Error().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to read follower count")
		}
		return domain.Counts{}, err
	}
	following, err := cache.ReadThrough(ctx, s.counters, s.source, cache.Counter{Kind: cache.KindFollowing, ID: userID})
	if err != nil {
		return domain.Counts{}, err
	}
	return domain.Counts{Followers: int(followers), Following: int(following)}, nil
}

func (s *syncService) SetFollowing(ctx context.Context, selfID, targetID string, desired bool) error {
	if _, err := s.graph.SetFollowing(ctx, selfID, targetID, desired); err != nil {
		if errors.Is(err, domain.ErrPartialGraphUpdate) {
			l := pkglog.Ctx(ctx)
			l.Error().Err(err).
				Str(pkglog.FieldUserID, selfID).
				Str(pkglog.FieldTargetID, targetID).
				Msg("follow change failed halfway")
		}
		return err
	}
	return nil
}

func (s *syncService) ResolveConversation(ctx context.Context, selfID, otherID string) (conversation.Handle, error) {
	return s.resolver.Resolve(ctx, selfID, otherID)
}

// ListConversations returns selfID's conversations, most recent activity first.
func (s *syncService) ListConversations(ctx context.Context, selfID string) ([]domain.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, selfID)
	if err != nil {
		return nil, err
	}
	domain.SortByActivity(convs)
	return convs, nil
}

func (s *syncService) ListMessages(ctx context.Context, selfID, conversationID string) ([]domain.Message, error) {
	if _, err := s.resolver.Get(ctx, selfID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	domain.SortMessages(msgs)
	return msgs, nil
}

func (s *syncService) SendMessage(ctx context.Context, selfID, conversationID, text string) (*domain.Message, error) {
	if _, err := s.resolver.Get(ctx, selfID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.Append(ctx, conversationID, selfID, text)
}

func (s *syncService) CreatePost(ctx context.Context, p *domain.Post) error {
	if _, err := s.store.GetUser(ctx, p.AuthorID); err != nil {
		return err
	}
	p.Likes, p.Saves = nil, nil
	return s.store.CreatePost(ctx, p)
}

// GetPost returns the post with its author attached. A missing author
// leaves Author nil rather than failing the read.
func (s *syncService) GetPost(ctx context.Context, postID string) (*PostWithAuthor, error) {
	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	out := &PostWithAuthor{Post: *p}
	u, err := s.store.GetUser(ctx, p.AuthorID)
	switch {
	case err == nil:
		out.Author = &Author{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, PhotoURL: u.PhotoURL}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	return out, nil
}

func (s *syncService) Toggle(ctx context.Context, postID, actorID string, field domain.ToggleField, desired bool) (store.MembershipResult, error) {
	return s.toggles.Toggle(ctx, postID, actorID, field, desired)
}

// Ensure interface is satisfied at compile time.
var _ SyncService = (*syncService)(nil)
