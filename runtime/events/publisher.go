package events

import (
	"context"
	"fmt"
	"sync"
)

// Log is the durable, append-only, per-task ordered event store. A Mongo
// implementation lives in mongostore.go; tests use an in-memory Log.
type Log interface {
	// Append persists an event. Implementations must reject out-of-order or
	// duplicate sequences for the same task_id.
	Append(ctx context.Context, e Event) error
	// List returns all events for a task in ascending sequence order.
	List(ctx context.Context, taskID string) ([]Event, error)
}

// Broker fans out events to live subscribers on a per-task topic. A
// Pulse-backed implementation lives in broker_pulse.go.
type Broker interface {
	// Publish sends e to the topic for e.TaskID.
	Publish(ctx context.Context, e Event) error
}

// SequenceAllocator issues the monotonically increasing per-task sequence
// number required by §3's Event invariant. The default implementation is an
// in-memory, lock-guarded counter keyed by task_id, one of the two
// acceptable strategies §5 names ("a centralized per-task in-memory counter
// guarded by a lock").
type SequenceAllocator struct {
	mu   sync.Mutex
	next map[string]int64
}

// NewSequenceAllocator creates an empty allocator.
func NewSequenceAllocator() *SequenceAllocator {
	return &SequenceAllocator{next: map[string]int64{}}
}

// Next returns the next sequence number for taskID, starting at 1.
func (s *SequenceAllocator) Next(taskID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[taskID]++
	return s.next[taskID]
}

// Publisher implements C7: every event is first appended to the durable log
// (when Type.Durable()), then fanned out via the broker, preserving the
// ordering contract that a consumer reading log-then-subscribing never
// observes a sequence gap.
type Publisher struct {
	log    Log
	broker Broker
	seq    *SequenceAllocator
}

// NewPublisher builds a Publisher over the given log, broker, and sequence
// allocator.
func NewPublisher(log Log, broker Broker, seq *SequenceAllocator) *Publisher {
	return &Publisher{log: log, broker: broker, seq: seq}
}

// Publish assigns the event's sequence, writes it to the durable log first
// (unless the type is broker-only), then publishes it to the broker.
func (p *Publisher) Publish(ctx context.Context, taskID string, typ Type, payload any) (Event, error) {
	seq := p.seq.Next(taskID)
	e, err := New(taskID, typ, seq, payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: build %s: %w", typ, err)
	}
	if typ.Durable() {
		if err := p.log.Append(ctx, e); err != nil {
			return Event{}, fmt.Errorf("events: append %s: %w", typ, err)
		}
	}
	if err := p.broker.Publish(ctx, e); err != nil {
		return e, fmt.Errorf("events: broker publish %s: %w", typ, err)
	}
	return e, nil
}

// MemoryLog is an in-memory Log, used in tests and for the in-memory engine
// backend.
type MemoryLog struct {
	mu     sync.Mutex
	byTask map[string][]Event
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byTask: map[string][]Event{}}
}

// Append stores e, rejecting sequences that are not strictly greater than
// the last appended sequence for the task.
func (m *MemoryLog) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.byTask[e.TaskID]
	if len(events) > 0 && e.Sequence <= events[len(events)-1].Sequence {
		return fmt.Errorf("events: out-of-order sequence %d for task %s", e.Sequence, e.TaskID)
	}
	m.byTask[e.TaskID] = append(events, e)
	return nil
}

// List returns a copy of the stored events for taskID.
func (m *MemoryLog) List(_ context.Context, taskID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.byTask[taskID]))
	copy(out, m.byTask[taskID])
	return out, nil
}
