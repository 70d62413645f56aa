package domain

import (
	"slices"
	"strings"
	"time"
)

// Message is a chat message. ID and Timestamp are assigned by the store;
// ClientID is the correlation id the sending device chose so it can match
// the stored copy to its local placeholder.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	SenderID       string    `bson:"senderId" json:"senderId"`
	Text           string    `bson:"text" json:"text"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	ClientID       string    `bson:"clientId,omitempty" json:"clientId,omitempty"`
	Pending        bool      `bson:"-" json:"pending,omitempty"`
}

// NormalizeText trims surrounding whitespace and rejects empty text.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return text, nil
}

// Preview returns the conversation preview for m.
func (m *Message) Preview() *LastMessage {
	return &LastMessage{Text: m.Text, SenderID: m.SenderID, Timestamp: m.Timestamp}
}

// SortMessages orders messages by timestamp ascending. The sort is stable,
// so equal timestamps keep their incoming order.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}
