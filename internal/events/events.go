// Package events publishes confirmed domain changes to the event bus.
package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"github.com/weiawesome/games-society/pkg/pubsub"
)

const (
	TopicChat       = "chat-messages"
	TopicGraph      = "social-graph"
	TopicEngagement = "post-engagement"
)

const (
	TypeConversationCreated = "conversation.created"
	TypeMessageAppended     = "message.appended"
	TypeFollowChanged       = "follow.changed"
	TypeToggleChanged       = "toggle.changed"
)

// Topics lists every topic this service produces to.
func Topics() []string {
	return []string{TopicChat, TopicGraph, TopicEngagement}
}

type ConversationCreated struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
}

type MessageAppended struct {
	Message domain.Message `json:"message"`
}

// FollowChanged is emitted once per confirmed edge change, after both
// sides are written.
type FollowChanged struct {
	FollowerID  string `json:"follower_id"`
	FollowingID string `json:"following_id"`
	Following   bool   `json:"following"`
}

type ToggleChanged struct {
	PostID  string             `json:"post_id"`
	ActorID string             `json:"actor_id"`
	Field   domain.ToggleField `json:"field"`
	Member  bool               `json:"member"`
	Count   int                `json:"count"`
}

// Emitter publishes events without failing the caller: publish errors are
// logged and dropped. A nil *Emitter discards everything.
type Emitter struct {
	pub    pubsub.Publisher
	logger zerolog.Logger
}

// NewEmitter wraps pub.
func NewEmitter(pub pubsub.Publisher) *Emitter {
	if pub == nil {
		pub = pubsub.Noop{}
	}
	return &Emitter{pub: pub, logger: pkglog.Component("events")}
}

func (e *Emitter) emit(ctx context.Context, topic, typ, key string, payload any) {
	if e == nil {
		return
	}
	evt, err := pubsub.NewEvent(typ, key, payload)
	if err == nil {
		err = e.pub.Publish(context.WithoutCancel(ctx), topic, evt)
	}
	if err != nil {
		e.logger.Error().Err(err).Str("type", typ).Str("key", key).Msg("failed to publish event")
	}
}

func (e *Emitter) ConversationCreated(ctx context.Context, c *domain.Conversation) {
	e.emit(ctx, TopicChat, TypeConversationCreated, c.ID, ConversationCreated{
		ConversationID: c.ID,
		Participants:   c.Participants,
	})
}

func (e *Emitter) MessageAppended(ctx context.Context, m *domain.Message) {
	e.emit(ctx, TopicChat, TypeMessageAppended, m.ConversationID, MessageAppended{Message: *m})
}

func (e *Emitter) FollowChanged(ctx context.Context, followerID, followingID string, following bool) {
	e.emit(ctx, TopicGraph, TypeFollowChanged, followingID, FollowChanged{
		FollowerID:  followerID,
		FollowingID: followingID,
		Following:   following,
	})
}

func (e *Emitter) ToggleChanged(ctx context.Context, evt ToggleChanged) {
	e.emit(ctx, TopicEngagement, TypeToggleChanged, evt.PostID, evt)
}
