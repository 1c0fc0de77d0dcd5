package history

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/liao/culture-bot/internal/chat"
)

const (
	defaultCollection = "messages"
	defaultTimeout    = 5 * time.Second
)

// MongoOptions 配置 MongoStore
type MongoOptions struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoStore 每个会话一个文档，消息存放在 messages 数组里
type MongoStore struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

type sessionDocument struct {
	SessionID string         `bson:"session_id"`
	Messages  []chat.Message `bson:"messages"`
	CreatedAt time.Time      `bson:"created_at,omitempty"`
	UpdatedAt time.Time      `bson:"updated_at,omitempty"`
}

func NewMongoStore(opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newMongoStoreWithCollection(opts.Client, wrapper, timeout)
}

func newMongoStoreWithCollection(client *mongodriver.Client, coll collection, timeout time.Duration) (*MongoStore, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &MongoStore{mongo: client, coll: coll, timeout: timeout}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if s.mongo == nil {
		return errors.New("mongo client is not configured")
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Load(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc sessionDocument
	if err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return sequence(doc.Messages), nil
}

// Append 用一次 upsert + $push $each 写入，单文档更新在 MongoDB 中是原子的
func (s *MongoStore) Append(ctx context.Context, sessionID string, msgs ...chat.Message) error {
	if err := validate(sessionID, msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"created_at": now,
		},
		"$set": bson.M{
			"updated_at": now,
		},
		"$push": bson.M{
			"messages": bson.M{
				"$each": stamp(msgs, now),
			},
		},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
