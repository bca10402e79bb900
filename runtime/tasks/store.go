package tasks

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrNotFound is returned when a task lookup finds no matching row.
var ErrNotFound = errors.New("tasks: not found")

// Store persists Task rows and their lifecycle transitions.
type Store interface {
	Insert(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	Update(ctx context.Context, t Task) error
}

// MongoStore is the Mongo-backed Store, following the same collection
// idiom as the event log (bson documents, unique index on the primary key,
// options.Find/SetSort for ordered reads where needed).
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wraps coll as a Store.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// EnsureIndexes creates supporting indexes: a unique index on _id is
// implicit, plus a secondary index on (user_id, created_at) for listing a
// user's tasks.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return err
}

// Insert stores a newly submitted task.
func (m *MongoStore) Insert(ctx context.Context, t Task) error {
	if _, err := m.coll.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("tasks: mongo insert id=%s: %w", t.ID, err)
	}
	return nil
}

// Get loads a task by ID.
func (m *MongoStore) Get(ctx context.Context, id string) (Task, error) {
	res := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}})
	var t Task
	if err := res.Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("tasks: mongo get id=%s: %w", id, err)
	}
	return t, nil
}

// Update replaces the stored document for t.ID.
func (m *MongoStore) Update(ctx context.Context, t Task) error {
	res, err := m.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: t.ID}}, t, options.Replace())
	if err != nil {
		return fmt.Errorf("tasks: mongo update id=%s: %w", t.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryStore is an in-memory Store used in tests.
type MemoryStore struct {
	byID map[string]Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]Task{}}
}

func (m *MemoryStore) Insert(_ context.Context, t Task) error {
	if _, ok := m.byID[t.ID]; ok {
		return fmt.Errorf("tasks: duplicate id %s", t.ID)
	}
	m.byID[t.ID] = t
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Task, error) {
	t, ok := m.byID[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) Update(_ context.Context, t Task) error {
	if _, ok := m.byID[t.ID]; !ok {
		return ErrNotFound
	}
	m.byID[t.ID] = t
	return nil
}
