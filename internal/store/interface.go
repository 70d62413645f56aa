// Package store persists users, conversations, messages and posts.
// Every document write is atomic on its own document; cross-document
// atomicity is only available through Transactor.
package store

import (
	"context"
	"errors"

	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
)

// ErrClosed is returned by every call on a closed store.
var ErrClosed = errors.New("store closed")

// MembershipResult reports the outcome of a conditional set write.
// Changed is false when the member was already in the desired state.
// Version and Count describe the document after the write.
type MembershipResult struct {
	Changed bool
	Version int64
	Count   int
}

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (*domain.User, error)

	// SetGraphMembership adds or removes member on one side of a user's
	// follow edges, keeping the matching count in the same write.
	SetGraphMembership(ctx context.Context, userID string, field domain.GraphField, member string, present bool) (MembershipResult, error)
}

type ConversationStore interface {
	// CreateConversationIfAbsent inserts c unless a conversation with the
	// same id exists. It reports whether this call inserted it; either way
	// the stored conversation is returned.
	CreateConversationIfAbsent(ctx context.Context, c *domain.Conversation) (*domain.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
}

type MessageStore interface {
	// AppendMessage stores msg with a store-assigned id and timestamp and
	// refreshes the conversation's lastMessage.
	AppendMessage(ctx context.Context, msg domain.Message) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

type PostStore interface {
	CreatePost(ctx context.Context, p *domain.Post) error
	GetPost(ctx context.Context, id string) (*domain.Post, error)
	SetToggleMembership(ctx context.Context, postID string, field domain.ToggleField, actor string, present bool) (MembershipResult, error)
}

// Transactor runs fn so that all of its writes commit together or not at
// all. Store calls inside fn must use the context fn receives.
type Transactor interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the full persistence surface plus the live query source.
type Store interface {
	UserStore
	ConversationStore
	MessageStore
	PostStore
	feed.Source
	Close(ctx context.Context) error
}
