// Package conversation resolves the single conversation shared by two users.
package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/events"
	"github.com/weiawesome/games-society/internal/store"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"golang.org/x/sync/singleflight"
)

const createTimeout = 10 * time.Second

// Handle identifies a resolved conversation. Participants is the sorted pair.
type Handle struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
}

// ConversationID derives the id for the unordered pair {a, b}. Each
// identity is length-prefixed before hashing, so no two distinct pairs
// share an encoding.
func ConversationID(a, b string) string {
	lo, hi := sortedPair(a, b)
	h := sha256.New()
	var n [8]byte
	for _, id := range [2]string{lo, hi} {
		binary.BigEndian.PutUint64(n[:], uint64(len(id)))
		h.Write(n[:])
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func sortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Resolver finds or creates the conversation for a pair of users. Since
// the id is a pure function of the pair, concurrent resolutions from
// either side converge on the same document.
type Resolver struct {
	convs  store.ConversationStore
	users  store.UserStore
	events *events.Emitter
	now    func() time.Time
	group  singleflight.Group
	logger zerolog.Logger
}

// NewResolver creates a Resolver. users may be nil to skip checking that
// the other participant exists.
func NewResolver(convs store.ConversationStore, users store.UserStore, emitter *events.Emitter) *Resolver {
	return &Resolver{
		convs:  convs,
		users:  users,
		events: emitter,
		now:    time.Now,
		logger: pkglog.Component("conversation"),
	}
}

// Resolve returns the conversation between selfID and otherID, creating it
// with an empty preview if it does not exist yet. Calling it again for the
// same pair in either order returns the same Handle.
func (r *Resolver) Resolve(ctx context.Context, selfID, otherID string) (Handle, error) {
	if selfID == "" || otherID == "" || selfID == otherID {
		return Handle{}, domain.ErrInvalidParticipants
	}
	if r.users != nil {
		if _, err := r.users.GetUser(ctx, otherID); err != nil {
			return Handle{}, err
		}
	}

	lo, hi := sortedPair(selfID, otherID)
	id := ConversationID(lo, hi)

	// The shared create outlives any one caller, so a caller giving up
	// does not fail the others waiting on the same pair.
	ch := r.group.DoChan(id, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
		defer cancel()
		conv, created, err := r.convs.CreateConversationIfAbsent(ctx, &domain.Conversation{
			ID:           id,
			Participants: []string{lo, hi},
			CreatedAt:    r.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		if created {
			r.logger.Info().Str(pkglog.FieldConversationID, id).Msg("conversation created")
			r.events.ConversationCreated(ctx, conv)
		}
		return Handle{ID: conv.ID, Participants: [2]string{lo, hi}}, nil
	})
	select {
	case <-ctx.Done():
		return Handle{}, fmt.Errorf("resolve conversation: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Handle{}, fmt.Errorf("resolve conversation: %w", res.Err)
		}
		return res.Val.(Handle), nil
	}
}

// Get loads a conversation and checks that selfID takes part in it.
// Conversations the caller is not in are reported as not found.
func (r *Resolver) Get(ctx context.Context, selfID, conversationID string) (*domain.Conversation, error) {
	conv, err := r.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(selfID) {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, conversationID)
	}
	return conv, nil
}
