package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
	"github.com/weiawesome/games-society/internal/idgen"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collUsers         = "users"
	collConversations = "conversations"
	collMessages      = "messages"
	collPosts         = "posts"
)

// MongoStore persists documents in MongoDB. Transactions and change
// streams require a replica set.
type MongoStore struct {
	client        *mongo.Client
	db            *mongo.Database
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	posts         *mongo.Collection
	ids           idgen.Generator
	now           func() time.Time
}

// NewMongoStore binds to database dbName and ensures indexes exist.
func NewMongoStore(ctx context.Context, client *mongo.Client, dbName string, ids idgen.Generator) (*MongoStore, error) {
	if ids == nil {
		ids = idgen.NewULIDGenerator()
	}
	db := client.Database(dbName)
	s := &MongoStore{
		client:        client,
		db:            db,
		users:         db.Collection(collUsers),
		conversations: db.Collection(collConversations),
		messages:      db.Collection(collMessages),
		posts:         db.Collection(collPosts),
		ids:           ids,
		now:           time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create conversation index: %w", err)
	}
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "timestamp", Value: 1}}},
		{
			Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "senderId", Value: 1}, {Key: "clientId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"clientId": bson.M{"$type": "string"}}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

// classify maps driver errors onto domain errors.
func classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, what)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return feed.Transient(err)
	default:
		return err
	}
}

// RunInTransaction runs fn in a session transaction. The driver retries
// fn on transient transaction errors, so fn must be safe to repeat.
func (s *MongoStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return classify(err, "start session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// Users

func (s *MongoStore) CreateUser(ctx context.Context, u *domain.User) error {
	doc := u.Clone()
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	doc.Version = 1
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return classify(err, "user "+doc.ID)
	}
	*u = doc
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, classify(err, "user "+id)
	}
	u.Normalize()
	return &u, nil
}

func (s *MongoStore) UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (*domain.User, error) {
	set := bson.M{}
	if update.Username != nil {
		set["username"] = *update.Username
	}
	if update.DisplayName != nil {
		set["displayName"] = *update.DisplayName
	}
	if update.PhotoURL != nil {
		set["photoURL"] = *update.PhotoURL
	}
	if update.Bio != nil {
		set["bio"] = *update.Bio
	}
	if update.IsPrivate != nil {
		set["isPrivate"] = *update.IsPrivate
	}
	if update.GameIDs != nil {
		set["gameIds"] = update.GameIDs
	}
	if update.SocialLinks != nil {
		set["socialLinks"] = update.SocialLinks
	}
	if len(set) == 0 {
		return s.GetUser(ctx, id)
	}

	var u domain.User
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err != nil {
		return nil, classify(err, "user "+id)
	}
	u.Normalize()
	return &u, nil
}

func (s *MongoStore) SetGraphMembership(ctx context.Context, userID string, field domain.GraphField, member string, present bool) (MembershipResult, error) {
	if !field.Valid() {
		return MembershipResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidField, field)
	}
	if member == "" || member == userID {
		return MembershipResult{}, domain.ErrInvalidParticipants
	}

	var u domain.User
	changed, err := s.setMembership(ctx, s.users, userID, string(field), field.CountField(), member, present, &u)
	if err != nil {
		return MembershipResult{}, classify(err, "user "+userID)
	}
	u.Normalize()
	return MembershipResult{Changed: changed, Version: u.Version, Count: len(u.Graph(field))}, nil
}

// setMembership adds or removes member from the array field of document
// id only if it is not already in that state, adjusting countField and the
// version in the same update. out receives the document after the call.
func (s *MongoStore) setMembership(ctx context.Context, coll *mongo.Collection, id, field, countField, member string, present bool, out any) (bool, error) {
	filter := bson.M{"_id": id}
	var update bson.M
	if present {
		filter[field] = bson.M{"$ne": member}
		update = bson.M{
			"$addToSet": bson.M{field: member},
			"$inc":      bson.M{countField: 1, "version": 1},
		}
	} else {
		filter[field] = member
		update = bson.M{
			"$pull": bson.M{field: member},
			"$inc":  bson.M{countField: -1, "version": 1},
		}
	}

	err := coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(out)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return false, err
	}

	// Either the document is missing or the member is already in the
	// desired state.
	return false, coll.FindOne(ctx, bson.M{"_id": id}).Decode(out)
}

// Conversations

func (s *MongoStore) CreateConversationIfAbsent(ctx context.Context, c *domain.Conversation) (*domain.Conversation, bool, error) {
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": c.ID},
		bson.M{"$setOnInsert": bson.M{
			"participants": c.Participants,
			"createdAt":    createdAt,
			"version":      int64(1),
		}},
		options.Update().SetUpsert(true),
	)
	created := err == nil && res.UpsertedCount == 1
	// Two concurrent upserts on the same _id can race; the loser sees a
	// duplicate key error and the document exists.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, false, classify(err, "conversation "+c.ID)
	}

	stored, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, classify(err, "conversation "+id)
	}
	return &c, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	cur, err := s.conversations.Find(ctx, bson.M{"participants": userID})
	if err != nil {
		return nil, classify(err, "conversations")
	}
	out := make([]domain.Conversation, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(err, "conversations")
	}
	domain.SortByActivity(out)
	return out, nil
}

// Messages

func (s *MongoStore) AppendMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	text, err := domain.NormalizeText(msg.Text)
	if err != nil {
		return nil, err
	}
	msg.Text = text
	msg.Pending = false
	id, err := s.ids.Generate()
	if err != nil {
		return nil, err
	}

	var out domain.Message
	err = s.RunInTransaction(ctx, func(ctx context.Context) error {
		conv, err := s.GetConversation(ctx, msg.ConversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(msg.SenderID) {
			return fmt.Errorf("%w: %s is not in conversation %s", domain.ErrInvalidParticipants, msg.SenderID, conv.ID)
		}

		if msg.ClientID != "" {
			existing, err := s.findByClientID(ctx, msg)
			if err != nil {
				return err
			}
			if existing != nil {
				out = *existing
				return nil
			}
		}

		m := msg
		m.ID = id
		m.Timestamp = s.now().UTC().Truncate(time.Millisecond)
		if conv.LastMessage != nil && m.Timestamp.Before(conv.LastMessage.Timestamp) {
			m.Timestamp = conv.LastMessage.Timestamp
		}
		if _, err := s.messages.InsertOne(ctx, m); err != nil {
			return classify(err, "message "+m.ID)
		}
		if _, err := s.conversations.UpdateOne(ctx,
			bson.M{"_id": conv.ID},
			bson.M{"$set": bson.M{"lastMessage": m.Preview()}, "$inc": bson.M{"version": 1}},
		); err != nil {
			return classify(err, "conversation "+conv.ID)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MongoStore) findByClientID(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	var m domain.Message
	err := s.messages.FindOne(ctx, bson.M{
		"conversationId": msg.ConversationID,
		"senderId":       msg.SenderID,
		"clientId":       msg.ClientID,
	}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "message")
	}
	return &m, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.listMessages(ctx, conversationID)
}

func (s *MongoStore) listMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	cur, err := s.messages.Find(ctx,
		bson.M{"conversationId": conversationID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, classify(err, "messages")
	}
	out := make([]domain.Message, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(err, "messages")
	}
	return out, nil
}

// Posts

func (s *MongoStore) CreatePost(ctx context.Context, p *domain.Post) error {
	doc := p.Clone()
	if doc.ID == "" {
		id, err := s.ids.Generate()
		if err != nil {
			return err
		}
		doc.ID = id
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	doc.Version = 1
	if _, err := s.posts.InsertOne(ctx, doc); err != nil {
		return classify(err, "post "+doc.ID)
	}
	*p = doc
	return nil
}

func (s *MongoStore) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	var p domain.Post
	if err := s.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, classify(err, "post "+id)
	}
	p.Normalize()
	return &p, nil
}

func (s *MongoStore) SetToggleMembership(ctx context.Context, postID string, field domain.ToggleField, actor string, present bool) (MembershipResult, error) {
	if _, err := domain.ParseToggleField(string(field)); err != nil {
		return MembershipResult{}, err
	}
	if actor == "" {
		return MembershipResult{}, domain.ErrInvalidParticipants
	}

	var p domain.Post
	changed, err := s.setMembership(ctx, s.posts, postID, string(field), field.CountField(), actor, present, &p)
	if err != nil {
		return MembershipResult{}, classify(err, "post "+postID)
	}
	p.Normalize()
	return MembershipResult{Changed: changed, Version: p.Version, Count: p.Count(field)}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Msg("mongo disconnect failed")
		return err
	}
	return nil
}

var (
	_ Store      = (*MongoStore)(nil)
	_ Transactor = (*MongoStore)(nil)
)
