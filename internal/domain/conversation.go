package domain

import (
	"fmt"
	"slices"
	"time"
)

// LastMessage is the preview of the newest message kept on a conversation.
type LastMessage struct {
	Text      string    `bson:"text" json:"text"`
	SenderID  string    `bson:"senderId" json:"senderId"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Conversation is a two-party chat. Its id is derived from the participant
// pair, so at most one exists per pair.
type Conversation struct {
	ID           string       `bson:"_id" json:"id"`
	Participants []string     `bson:"participants" json:"participants"`
	LastMessage  *LastMessage `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	CreatedAt    time.Time    `bson:"createdAt" json:"createdAt"`
	Version      int64        `bson:"version" json:"version"`
}

// HasParticipant reports whether id takes part in c.
func (c *Conversation) HasParticipant(id string) bool {
	return slices.Contains(c.Participants, id)
}

// Other returns the participant that is not self.
func (c *Conversation) Other(self string) string {
	for _, p := range c.Participants {
		if p != self {
			return p
		}
	}
	return ""
}

// ActivityAt is the time conversation lists sort by: the last message, or
// creation when nothing has been sent yet.
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

// Validate checks the participant invariant.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: conversation id is empty", ErrInvalidDocument)
	}
	if len(c.Participants) != 2 || c.Participants[0] == "" || c.Participants[1] == "" ||
		c.Participants[0] == c.Participants[1] {
		return fmt.Errorf("%w: conversation %s", ErrInvalidParticipants, c.ID)
	}
	return nil
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}
	return c
}

// SortByActivity orders conversations newest activity first; ties keep id order.
func SortByActivity(convs []Conversation) {
	slices.SortStableFunc(convs, func(a, b Conversation) int {
		if c := b.ActivityAt().Compare(a.ActivityAt()); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
