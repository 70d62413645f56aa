package service

import (
	"context"

	"github.com/weiawesome/games-society/internal/conversation"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/store"
)

// Author is the public slice of a user shown next to their posts.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// PostWithAuthor is a post joined with its author's display fields at
// read time. Posts store only the author id, so profile edits never need
// to fan out.
type PostWithAuthor struct {
	domain.Post
	Author *Author `json:"author,omitempty"`
}

// SyncService is the request/response face of the sync core, used by the
// REST handlers and the seed command.
type SyncService interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error)
	GetCounts(ctx context.Context, userID string) (domain.Counts, error)
	SetFollowing(ctx context.Context, selfID, targetID string, desired bool) error

	ResolveConversation(ctx context.Context, selfID, otherID string) (conversation.Handle, error)
	ListConversations(ctx context.Context, selfID string) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, selfID, conversationID string) ([]domain.Message, error)
	SendMessage(ctx context.Context, selfID, conversationID, text string) (*domain.Message, error)

	CreatePost(ctx context.Context, p *domain.Post) error
	GetPost(ctx context.Context, postID string) (*PostWithAuthor, error)
	Toggle(ctx context.Context, postID, actorID string, field domain.ToggleField, desired bool) (store.MembershipResult, error)
}
