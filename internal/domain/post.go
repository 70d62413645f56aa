package domain

import (
	"fmt"
	"slices"
	"time"
)

// ToggleField names a boolean per-user membership on a post.
type ToggleField string

const (
	FieldLikes ToggleField = "likes"
	FieldSaves ToggleField = "saves"
)

// ParseToggleField validates a field name from the wire.
func ParseToggleField(s string) (ToggleField, error) {
	switch f := ToggleField(s); f {
	case FieldLikes, FieldSaves:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidField, s)
	}
}

// CountField is the document field holding the size of f.
func (f ToggleField) CountField() string {
	if f == FieldLikes {
		return "likesCount"
	}
	return "savesCount"
}

// Post is a feed entry. Likes and Saves are the membership sets the toggle
// coordinator writes; the counts are derived from them.
type Post struct {
	ID            string      `bson:"_id" json:"id"`
	AuthorID      string      `bson:"authorId" json:"authorId"`
	Content       string      `bson:"content" json:"content"`
	Media         []string    `bson:"media,omitempty" json:"media,omitempty"`
	GameTag       string      `bson:"gameTag,omitempty" json:"gameTag,omitempty"`
	Likes         IdentitySet `bson:"likes" json:"likes"`
	Saves         IdentitySet `bson:"saves" json:"saves"`
	LikesCount    int         `bson:"likesCount" json:"likesCount"`
	SavesCount    int         `bson:"savesCount" json:"savesCount"`
	CommentsCount int         `bson:"commentsCount" json:"commentsCount"`
	CreatedAt     time.Time   `bson:"createdAt" json:"createdAt"`
	Version       int64       `bson:"version" json:"version"`
}

// Members returns the set stored under f.
func (p *Post) Members(f ToggleField) IdentitySet {
	if f == FieldLikes {
		return p.Likes
	}
	return p.Saves
}

// Count returns the derived count for f.
func (p *Post) Count(f ToggleField) int {
	if f == FieldLikes {
		return p.LikesCount
	}
	return p.SavesCount
}

// SetMember sets actor's membership in f and refreshes the matching count.
func (p *Post) SetMember(f ToggleField, actor string, present bool) {
	switch f {
	case FieldLikes:
		p.Likes = p.Likes.Set(actor, present)
		p.LikesCount = len(p.Likes)
	case FieldSaves:
		p.Saves = p.Saves.Set(actor, present)
		p.SavesCount = len(p.Saves)
	}
}

// Normalize removes duplicate members and rederives the counts.
func (p *Post) Normalize() {
	p.Likes = p.Likes.Dedup()
	p.Saves = p.Saves.Dedup()
	p.LikesCount = len(p.Likes)
	p.SavesCount = len(p.Saves)
}

// Validate checks the fields every stored post must have.
func (p *Post) Validate() error {
	if p.ID == "" || p.AuthorID == "" {
		return fmt.Errorf("%w: post id and author are required", ErrInvalidDocument)
	}
	return nil
}

// Clone returns a deep copy.
func (p Post) Clone() Post {
	p.Likes = p.Likes.Clone()
	p.Saves = p.Saves.Clone()
	p.Media = slices.Clone(p.Media)
	return p
}
