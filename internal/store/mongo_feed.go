package store

import (
	"context"
	"errors"

	"github.com/weiawesome/games-society/internal/domain"
	"github.com/weiawesome/games-society/internal/feed"
	pkglog "github.com/weiawesome/games-society/pkg/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Server codes for a resume token the oplog no longer covers.
const (
	codeChangeStreamHistoryLost    = 286
	codeChangeStreamFatalError     = 280
	codeChangeStreamStartAfterGone = 260
)

// SupportsResume is true: change stream resume tokens survive reconnects
// as long as the oplog still covers them.
func (s *MongoStore) SupportsResume() bool { return true }

// Watch opens a change stream filtered to shape. Every change event is
// turned into a full snapshot by re-reading the query, so callers never
// see partial state.
func (s *MongoStore) Watch(ctx context.Context, shape feed.Shape, resume feed.ResumeToken) (feed.Stream, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}

	coll, match := s.changeFilter(shape)
	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}

	open := func(token feed.ResumeToken) (*mongo.ChangeStream, error) {
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if token != nil {
			opts.SetResumeAfter(bson.Raw(token))
		}
		return coll.Watch(ctx, pipeline, opts)
	}

	cs, err := open(resume)
	primed := resume != nil
	if err != nil && resume != nil && historyLost(err) {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldShape, shape.String()).Msg("resume token expired, starting fresh")
		cs, err = open(nil)
		primed = false
	}
	if err != nil {
		return nil, feed.Transient(err)
	}

	return &mongoStream{store: s, shape: shape, cs: cs, primed: primed}, nil
}

func (s *MongoStore) changeFilter(shape feed.Shape) (*mongo.Collection, bson.M) {
	switch shape.Kind {
	case feed.KindConversationList:
		return s.conversations, bson.M{"fullDocument.participants": shape.Key}
	case feed.KindMessageLog:
		return s.messages, bson.M{
			"operationType":               "insert",
			"fullDocument.conversationId": shape.Key,
		}
	case feed.KindUser:
		return s.users, bson.M{"documentKey._id": shape.Key}
	default:
		return s.posts, bson.M{"documentKey._id": shape.Key}
	}
}

func historyLost(err error) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorCode(codeChangeStreamHistoryLost) ||
		se.HasErrorCode(codeChangeStreamFatalError) ||
		se.HasErrorCode(codeChangeStreamStartAfterGone)
}

func (s *MongoStore) snapshot(ctx context.Context, shape feed.Shape) (feed.Snapshot, error) {
	snap := feed.Snapshot{Shape: shape, At: s.now().UTC()}
	var err error
	switch shape.Kind {
	case feed.KindConversationList:
		snap.Conversations, err = s.ListConversations(ctx, shape.Key)
	case feed.KindMessageLog:
		snap.Messages, err = s.listMessages(ctx, shape.Key)
	case feed.KindUser:
		snap.User, err = s.GetUser(ctx, shape.Key)
	case feed.KindPost:
		snap.Post, err = s.GetPost(ctx, shape.Key)
	}
	if errors.Is(err, domain.ErrNotFound) {
		err = nil
	}
	if err != nil {
		return feed.Snapshot{}, feed.Transient(err)
	}
	return snap, nil
}

type mongoStream struct {
	store  *MongoStore
	shape  feed.Shape
	cs     *mongo.ChangeStream
	primed bool
}

func (m *mongoStream) Next(ctx context.Context) (feed.Snapshot, error) {
	if m.primed {
		if !m.cs.Next(ctx) {
			if err := ctx.Err(); err != nil {
				return feed.Snapshot{}, err
			}
			if err := m.cs.Err(); err != nil {
				return feed.Snapshot{}, feed.Transient(err)
			}
			return feed.Snapshot{}, feed.Transient(feed.ErrStreamClosed)
		}
	}
	m.primed = true

	snap, err := m.store.snapshot(ctx, m.shape)
	if err != nil {
		return feed.Snapshot{}, err
	}
	if tok := m.cs.ResumeToken(); tok != nil {
		snap.Resume = feed.ResumeToken(append([]byte(nil), tok...))
	}
	return snap, nil
}

func (m *mongoStream) Close() error {
	return m.cs.Close(context.Background())
}
