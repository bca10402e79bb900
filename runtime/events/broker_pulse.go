package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	pulsec "github.com/agentexec/core/features/stream/pulse/clients/pulse"
)

// topicFor returns the Pulse stream name for a task's event topic, per §4.7:
// "task.<task_id>.events".
func topicFor(taskID string) string {
	return "task." + taskID + ".events"
}

// PulseBroker publishes events onto a per-task Pulse stream, backed by
// Redis streams, giving at-least-once delivery per §6's broker contract
// (duplicates are handled by event_id dedup on the subscriber side, see
// runtime/eventstream).
type PulseBroker struct {
	client pulsec.Client
}

// NewPulseBroker wraps an already-constructed Pulse client.
func NewPulseBroker(client pulsec.Client) *PulseBroker {
	return &PulseBroker{client: client}
}

// Publish appends the event onto its task's Pulse stream.
func (b *PulseBroker) Publish(ctx context.Context, e Event) error {
	stream, err := b.client.Stream(topicFor(e.TaskID))
	if err != nil {
		return fmt.Errorf("events: open stream: %w", err)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	if _, err := stream.Add(ctx, string(e.EventType), payload); err != nil {
		return fmt.Errorf("events: publish to %s: %w", topicFor(e.TaskID), err)
	}
	return nil
}

// Subscription delivers live events for a single task until Close is
// called or the subscriber's context is cancelled.
type Subscription interface {
	// Events returns the channel live events arrive on. The channel is
	// closed once the subscription ends (Close called, or the underlying
	// transport is torn down).
	Events() <-chan Event
	// Close releases the subscription's resources (the Pulse consumer
	// group). Idempotent.
	Close(ctx context.Context) error
}

// Subscriber opens a live subscription to a task's event topic, the
// counterpart to Broker.Publish that the Event Stream Gateway tails after
// its durable-log backfill (§4.7).
type Subscriber interface {
	Subscribe(ctx context.Context, taskID string) (Subscription, error)
}

// PulseSubscriber tails a task's Pulse stream via a dedicated, per-call
// consumer group (a fresh group per subscription means every SSE connection
// sees the stream from the point it attaches, with no cross-connection
// cursor sharing).
type PulseSubscriber struct {
	client pulsec.Client
}

// NewPulseSubscriber wraps an already-constructed Pulse client.
func NewPulseSubscriber(client pulsec.Client) *PulseSubscriber {
	return &PulseSubscriber{client: client}
}

// Subscribe opens a new consumer group on taskID's stream and starts
// translating Pulse events into decoded Event values on the returned
// subscription's channel.
func (s *PulseSubscriber) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	stream, err := s.client.Stream(topicFor(taskID))
	if err != nil {
		return nil, fmt.Errorf("events: open stream: %w", err)
	}
	sink, err := stream.NewSink(ctx, "eventstream-"+taskID+"-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("events: open sink: %w", err)
	}

	sub := &pulseSubscription{sink: sink, out: make(chan Event, 16)}
	go sub.pump(ctx)
	return sub, nil
}

type pulseSubscription struct {
	sink pulsec.Sink
	out  chan Event
}

func (s *pulseSubscription) Events() <-chan Event { return s.out }

func (s *pulseSubscription) Close(ctx context.Context) error {
	s.sink.Close(ctx)
	return nil
}

func (s *pulseSubscription) pump(ctx context.Context) {
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-s.sink.Subscribe():
			if !ok {
				return
			}
			var e Event
			if err := json.Unmarshal(raw.Payload, &e); err != nil {
				continue
			}
			select {
			case s.out <- e:
			case <-ctx.Done():
				return
			}
			_ = s.sink.Ack(ctx, raw)
		}
	}
}
