package events

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoLog is the durable, append-only event log, indexed on (task_id,
// sequence) for fast ordered reads. It is the persistent-store collaborator
// §6 names ("per-task ordered read of events").
type MongoLog struct {
	coll *mongo.Collection
}

// NewMongoLog wraps the given collection as a Log. Callers are responsible
// for ensuring the (task_id, sequence) unique index exists (EnsureIndexes
// does this at startup).
func NewMongoLog(coll *mongo.Collection) *MongoLog {
	return &MongoLog{coll: coll}
}

// EnsureIndexes creates the unique (task_id, sequence) index this store
// relies on to reject duplicate appends at the database layer.
func (m *MongoLog) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Append inserts the event, rejecting a sequence that is not greater than
// the task's latest stored sequence. A duplicate-key error (same
// task_id+sequence) surfaces as a wrapped error so callers can distinguish
// it from other persistence failures.
func (m *MongoLog) Append(ctx context.Context, e Event) error {
	var last Event
	err := m.coll.FindOne(ctx,
		bson.D{{Key: "task_id", Value: e.TaskID}},
		options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}}),
	).Decode(&last)
	switch {
	case err == nil && e.Sequence <= last.Sequence:
		return fmt.Errorf("events: out-of-order sequence %d for task %s", e.Sequence, e.TaskID)
	case err != nil && !errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("events: mongo append task=%s seq=%d: %w", e.TaskID, e.Sequence, err)
	}
	if _, err := m.coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("events: mongo append task=%s seq=%d: %w", e.TaskID, e.Sequence, err)
	}
	return nil
}

// List returns all events for taskID ordered by sequence ascending.
func (m *MongoLog) List(ctx context.Context, taskID string) ([]Event, error) {
	cur, err := m.coll.Find(ctx,
		bson.D{{Key: "task_id", Value: taskID}},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: mongo list task=%s: %w", taskID, err)
	}
	defer cur.Close(ctx)

	var out []Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("events: mongo decode task=%s: %w", taskID, err)
	}
	return out, nil
}
