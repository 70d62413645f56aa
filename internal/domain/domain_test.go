package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestIdentitySetDoesNotAlias(t *testing.T) {
	base := make(IdentitySet, 1, 4)
	base[0] = "a"

	withB := base.With("b")
	withC := base.With("c")

	assert.Equal(t, IdentitySet{"a", "b"}, withB)
	assert.Equal(t, IdentitySet{"a", "c"}, withC)
	assert.Equal(t, IdentitySet{"a"}, base)
	assert.Equal(t, IdentitySet{"a"}, withB.Without("b"))
	assert.Len(t, base.With("a"), 1)
}

func TestUserSetGraphKeepsCountsDerived(t *testing.T) {
	u := User{ID: "u1"}
	u.SetGraph(FieldFollowers, "u2", true)
	u.SetGraph(FieldFollowers, "u2", true)
	u.SetGraph(FieldFollowing, "u3", true)
	assert.Equal(t, Counts{Followers: 1, Following: 1}, u.Counts())

	u.SetGraph(FieldFollowers, "u2", false)
	assert.Equal(t, 0, u.FollowerCount)
	assert.Equal(t, "followingCount", FieldFollowing.CountField())
	assert.Equal(t, "followerCount", FieldFollowers.CountField())
}

func TestUserNormalizeDerivesCounts(t *testing.T) {
	u := User{ID: "u1", Followers: IdentitySet{"a", "a", "b"}, FollowerCount: 9}
	u.Normalize()
	assert.Equal(t, 2, u.FollowerCount)
	assert.Equal(t, 0, u.FollowingCount)
	require.NoError(t, u.Validate())

	u.Following = IdentitySet{"u1"}
	assert.ErrorIs(t, u.Validate(), ErrInvalidDocument)
}

func TestConversationValidate(t *testing.T) {
	ok := Conversation{ID: "c", Participants: []string{"a", "b"}}
	require.NoError(t, ok.Validate())
	assert.Equal(t, "b", ok.Other("a"))

	self := Conversation{ID: "c", Participants: []string{"a", "a"}}
	assert.ErrorIs(t, self.Validate(), ErrInvalidParticipants)
}

func TestSortByActivity(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	convs := []Conversation{
		{ID: "old", CreatedAt: t0},
		{ID: "active", CreatedAt: t0, LastMessage: &LastMessage{Timestamp: t0.Add(time.Hour)}},
		{ID: "new", CreatedAt: t0.Add(time.Minute)},
	}
	SortByActivity(convs)
	assert.Equal(t, "active", convs[0].ID)
	assert.Equal(t, "new", convs[1].ID)
	assert.Equal(t, "old", convs[2].ID)
}

func TestNormalizeText(t *testing.T) {
	text, err := NormalizeText("  gg  ")
	require.NoError(t, err)
	assert.Equal(t, "gg", text)

	_, err = NormalizeText(" \n\t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestParseToggleField(t *testing.T) {
	f, err := ParseToggleField("likes")
	require.NoError(t, err)
	assert.Equal(t, FieldLikes, f)

	_, err = ParseToggleField("shares")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestPostSetMember(t *testing.T) {
	p := Post{ID: "p", AuthorID: "a"}
	p.SetMember(FieldLikes, "u1", true)
	p.SetMember(FieldSaves, "u1", true)
	p.SetMember(FieldSaves, "u1", false)
	assert.Equal(t, 1, p.Count(FieldLikes))
	assert.Equal(t, 0, p.Count(FieldSaves))
	assert.True(t, p.Members(FieldLikes).Contains("u1"))
}

func TestPostStoresAuthorReference(t *testing.T) {
	p := Post{ID: "p1", AuthorID: "u1", Content: "gg"}

	raw, err := bson.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, "u1", bson.Raw(raw).Lookup("authorId").StringValue())
	_, err = bson.Raw(raw).LookupErr("userId")
	assert.Error(t, err)

	body, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"authorId":"u1"`)
}
