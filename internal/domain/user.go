package domain

import (
	"fmt"
	"maps"
	"time"
)

// GraphField names one side of a follow edge on a user document.
type GraphField string

const (
	FieldFollowers GraphField = "followers"
	FieldFollowing GraphField = "following"
)

// Valid reports whether f is a known graph field.
func (f GraphField) Valid() bool {
	return f == FieldFollowers || f == FieldFollowing
}

// CountField is the document field holding the size of f.
func (f GraphField) CountField() string {
	if f == FieldFollowers {
		return "followerCount"
	}
	return "followingCount"
}

// User is a profile document. Followers and Following are the authoritative
// sides of the follow graph; the counts are derived from them and written
// in the same document write.
type User struct {
	ID             string            `bson:"_id" json:"id"`
	Email          string            `bson:"email,omitempty" json:"email,omitempty"`
	Username       string            `bson:"username" json:"username"`
	DisplayName    string            `bson:"displayName" json:"displayName"`
	PhotoURL       string            `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
	Bio            string            `bson:"bio,omitempty" json:"bio,omitempty"`
	IsPrivate      bool              `bson:"isPrivate" json:"isPrivate"`
	GameIDs        map[string]string `bson:"gameIds,omitempty" json:"gameIds,omitempty"`
	SocialLinks    map[string]string `bson:"socialLinks,omitempty" json:"socialLinks,omitempty"`
	SavedPosts     IdentitySet       `bson:"savedPosts,omitempty" json:"savedPosts,omitempty"`
	Followers      IdentitySet       `bson:"followers" json:"followers"`
	Following      IdentitySet       `bson:"following" json:"following"`
	FollowerCount  int               `bson:"followerCount" json:"followerCount"`
	FollowingCount int               `bson:"followingCount" json:"followingCount"`
	CreatedAt      time.Time         `bson:"createdAt" json:"createdAt"`
	Version        int64             `bson:"version" json:"version"`
}

// Counts is the public follower summary of a user.
type Counts struct {
	Followers int `json:"followers"`
	Following int `json:"following"`
}

// Graph returns the set stored under f.
func (u *User) Graph(f GraphField) IdentitySet {
	if f == FieldFollowers {
		return u.Followers
	}
	return u.Following
}

// SetGraph replaces membership of member in f and refreshes the matching count.
func (u *User) SetGraph(f GraphField, member string, present bool) {
	switch f {
	case FieldFollowers:
		u.Followers = u.Followers.Set(member, present)
		u.FollowerCount = len(u.Followers)
	case FieldFollowing:
		u.Following = u.Following.Set(member, present)
		u.FollowingCount = len(u.Following)
	}
}

// Normalize removes duplicate members and rederives the counts. Documents
// written by older tools carry sets without counts.
func (u *User) Normalize() {
	u.Followers = u.Followers.Dedup()
	u.Following = u.Following.Dedup()
	u.FollowerCount = len(u.Followers)
	u.FollowingCount = len(u.Following)
}

// Validate checks the fields every stored user must have.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidDocument)
	}
	if u.Followers.Contains(u.ID) || u.Following.Contains(u.ID) {
		return fmt.Errorf("%w: user %s follows itself", ErrInvalidDocument, u.ID)
	}
	return nil
}

// Counts returns the derived follower summary.
func (u *User) Counts() Counts {
	return Counts{Followers: u.FollowerCount, Following: u.FollowingCount}
}

// Clone returns a deep copy.
func (u User) Clone() User {
	u.Followers = u.Followers.Clone()
	u.Following = u.Following.Clone()
	if u.SavedPosts != nil {
		u.SavedPosts = u.SavedPosts.Clone()
	}
	u.GameIDs = maps.Clone(u.GameIDs)
	u.SocialLinks = maps.Clone(u.SocialLinks)
	return u
}

// ProfileUpdate carries the user-editable profile fields. Nil fields are
// left unchanged.
type ProfileUpdate struct {
	Username    *string           `json:"username,omitempty"`
	DisplayName *string           `json:"displayName,omitempty"`
	PhotoURL    *string           `json:"photoURL,omitempty"`
	Bio         *string           `json:"bio,omitempty"`
	IsPrivate   *bool             `json:"isPrivate,omitempty"`
	GameIDs     map[string]string `json:"gameIds,omitempty"`
	SocialLinks map[string]string `json:"socialLinks,omitempty"`
}

// Apply writes the set fields of p onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	if p.PhotoURL != nil {
		u.PhotoURL = *p.PhotoURL
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.IsPrivate != nil {
		u.IsPrivate = *p.IsPrivate
	}
	if p.GameIDs != nil {
		u.GameIDs = maps.Clone(p.GameIDs)
	}
	if p.SocialLinks != nil {
		u.SocialLinks = maps.Clone(p.SocialLinks)
	}
}

// Empty reports whether p changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Username == nil && p.DisplayName == nil && p.PhotoURL == nil && p.Bio == nil &&
		p.IsPrivate == nil && p.GameIDs == nil && p.SocialLinks == nil
}
