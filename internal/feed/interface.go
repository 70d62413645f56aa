// Package feed delivers live snapshots of store queries. A Source watches
// one query shape; the Manager owns subscriptions on top of it and hides
// transport interruptions from callers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/games-society/internal/domain"
)

var (
	ErrStreamClosed = errors.New("feed stream closed")
	ErrInvalidShape = errors.New("invalid feed shape")
)

// Kind enumerates the query shapes a Source can watch.
type Kind string

const (
	KindConversationList Kind = "conversation_list"
	KindMessageLog       Kind = "message_log"
	KindUser             Kind = "user"
	KindPost             Kind = "post"
)

// Shape identifies a watched query: the kind plus the key it is filtered on.
type Shape struct {
	Kind Kind
	Key  string
}

// ConversationList watches every conversation userID takes part in.
func ConversationList(userID string) Shape { return Shape{Kind: KindConversationList, Key: userID} }

// MessageLog watches the messages of one conversation.
func MessageLog(conversationID string) Shape { return Shape{Kind: KindMessageLog, Key: conversationID} }

// User watches one user document.
func User(userID string) Shape { return Shape{Kind: KindUser, Key: userID} }

// Post watches one post document.
func Post(postID string) Shape { return Shape{Kind: KindPost, Key: postID} }

func (s Shape) String() string { return string(s.Kind) + ":" + s.Key }

// Validate rejects unknown kinds and empty keys.
func (s Shape) Validate() error {
	switch s.Kind {
	case KindConversationList, KindMessageLog, KindUser, KindPost:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidShape, s.Kind)
	}
	if s.Key == "" {
		return fmt.Errorf("%w: empty key for %s", ErrInvalidShape, s.Kind)
	}
	return nil
}

// ResumeToken is an opaque position in a Source's change history.
type ResumeToken []byte

// Snapshot is the complete state of a shape at one point in time. Exactly
// the field matching Shape.Kind is populated; User and Post are nil when
// the document does not exist.
type Snapshot struct {
	Shape         Shape
	Conversations []domain.Conversation
	Messages      []domain.Message
	User          *domain.User
	Post          *domain.Post
	Resume        ResumeToken
	At            time.Time
}

// Stream yields snapshots of one shape in commit order.
type Stream interface {
	// Next blocks until the shape changes. Errors wrapping
	// domain.ErrTransientTransport are recoverable by watching again.
	Next(ctx context.Context) (Snapshot, error)
	Close() error
}

// Source opens streams. Without a resume token the first Next returns the
// current state immediately; with one it returns only once something has
// changed after that position.
type Source interface {
	Watch(ctx context.Context, shape Shape, resume ResumeToken) (Stream, error)
	SupportsResume() bool
}

// Transient wraps err as a recoverable transport failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransientTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientTransport, err)
}
