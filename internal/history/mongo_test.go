package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/liao/culture-bot/internal/chat"
)

func TestMongoEnsureIndexes(t *testing.T) {
	fc := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), fc))
	require.True(t, fc.indexCreated)
}

func TestNewMongoStoreRequiresClient(t *testing.T) {
	_, err := NewMongoStore(MongoOptions{})
	require.EqualError(t, err, "mongo client is required")
}

func TestMongoLoadMissingSession(t *testing.T) {
	s := mustNewTestMongoStore(t)
	msgs, err := s.Load(context.Background(), "none")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMongoAppendAndLoad(t *testing.T) {
	s := mustNewTestMongoStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, "qq:1",
		chat.Message{Role: chat.RoleHuman, Content: "Giờ làm việc?", Timestamp: ts},
		chat.Assistant("8h đến 17h"),
	))
	require.NoError(t, s.Append(ctx, "qq:1", chat.Human("Cảm ơn"), chat.Assistant("Không có gì")))

	msgs, err := s.Load(ctx, "qq:1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, ts, msgs[0].Timestamp)
	require.Equal(t, "8h đến 17h", msgs[1].Content)
	require.NotZero(t, msgs[1].Timestamp)
	require.Equal(t, 3, msgs[3].Seq)
	require.Equal(t, "Không có gì", msgs[3].Content)
}

func TestMongoAppendRequiresSessionID(t *testing.T) {
	s := mustNewTestMongoStore(t)
	require.ErrorIs(t, s.Append(context.Background(), "", chat.Human("x")), ErrSessionIDRequired)
	_, err := s.Load(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionIDRequired)
}

func TestMongoAppendPropagatesWriteError(t *testing.T) {
	fc := newFakeCollection()
	fc.updateErr = errors.New("connection reset")
	s, err := newMongoStoreWithCollection(nil, fc, time.Second)
	require.NoError(t, err)

	err = s.Append(context.Background(), "qq:1", chat.Human("q"), chat.Assistant("a"))
	require.EqualError(t, err, "connection reset")
	msgs, err := s.Load(context.Background(), "qq:1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func mustNewTestMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	s, err := newMongoStoreWithCollection(nil, newFakeCollection(), time.Second)
	require.NoError(t, err)
	return s
}

// fakeCollection 在内存中模拟客户端用到的 MongoDB 行为
type fakeCollection struct {
	mu           sync.Mutex
	indexCreated bool
	updateErr    error
	docs         map[string]*sessionDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]*sessionDocument)}
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[sessionKey(filter)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	clone := *doc
	clone.Messages = append([]chat.Message(nil), doc.Messages...)
	return fakeSingleResult{doc: &clone}
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any,
	_ ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return nil, c.updateErr
	}
	key := sessionKey(filter)
	doc, ok := c.docs[key]
	if !ok {
		doc = &sessionDocument{}
		c.docs[key] = doc
	}
	up, _ := update.(bson.M)
	if soi, ok := up["$setOnInsert"].(bson.M); ok && doc.SessionID == "" {
		doc.SessionID, _ = soi["session_id"].(string)
		doc.CreatedAt, _ = soi["created_at"].(time.Time)
	}
	if set, ok := up["$set"].(bson.M); ok {
		doc.UpdatedAt, _ = set["updated_at"].(time.Time)
	}
	if push, ok := up["$push"].(bson.M); ok {
		if msgs, ok := push["messages"].(bson.M); ok {
			if each, ok := msgs["$each"].([]chat.Message); ok {
				doc.Messages = append(doc.Messages, each...)
			}
		}
	}
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{parent: c}
}

type fakeIndexView struct {
	parent *fakeCollection
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...*options.CreateIndexesOptions) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	v.parent.mu.Lock()
	v.parent.indexCreated = true
	v.parent.mu.Unlock()
	return "idx_session_id", nil
}

type fakeSingleResult struct {
	doc *sessionDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	dest, ok := val.(*sessionDocument)
	if !ok {
		return errors.New("unsupported decode target")
	}
	*dest = *r.doc
	return nil
}

func sessionKey(filter any) string {
	m, _ := filter.(bson.M)
	id, _ := m["session_id"].(string)
	return id
}
