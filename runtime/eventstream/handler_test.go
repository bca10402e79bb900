package eventstream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/events"
)

// fakeSubscription delivers a fixed set of events then closes its channel.
type fakeSubscription struct {
	ch chan events.Event
}

func (s *fakeSubscription) Events() <-chan events.Event { return s.ch }
func (s *fakeSubscription) Close(context.Context) error { close(s.ch); return nil }

type fakeSubscriber struct {
	live []events.Event
}

func (f *fakeSubscriber) Subscribe(context.Context, string) (events.Subscription, error) {
	ch := make(chan events.Event, len(f.live))
	for _, e := range f.live {
		ch <- e
	}
	return &fakeSubscription{ch: ch}, nil
}

func mustEvent(t *testing.T, taskID string, typ events.Type, seq int64, payload any) events.Event {
	e, err := events.New(taskID, typ, seq, payload)
	require.NoError(t, err)
	return e
}

func TestServeTaskBackfillsThenStreamsLiveUntilTerminal(t *testing.T) {
	log := events.NewMemoryLog()
	ctx := context.Background()

	e1 := mustEvent(t, "t1", events.TaskCreated, 1, events.TaskCreatedData{AgentID: "a1"})
	require.NoError(t, log.Append(ctx, e1))

	live := mustEvent(t, "t1", events.WorkflowCompleted, 2, events.WorkflowCompletedData{Success: true})
	handler := NewHandler(log, &fakeSubscriber{live: []events.Event{live}}, telemetry.NewNoopLogger())

	req := httptest.NewRequest("GET", "/v1/tasks/t1/events", nil)
	rec := httptest.NewRecorder()

	handler.ServeTask(rec, req, "t1")

	body := rec.Body.String()
	assert.Contains(t, body, "event: TaskCreated")
	assert.Contains(t, body, "event: WorkflowCompleted")
	assert.Equal(t, 2, strings.Count(body, "\n\n"))
}

func TestServeTaskStopsAtBackfilledTerminalEventWithoutDrainingLive(t *testing.T) {
	log := events.NewMemoryLog()
	ctx := context.Background()
	require.NoError(t, log.Append(ctx, mustEvent(t, "t2", events.WorkflowFailed, 1, events.WorkflowFailedData{Error: "boom"})))

	handler := NewHandler(log, &fakeSubscriber{live: []events.Event{
		mustEvent(t, "t2", events.Heartbeat, 0, events.HeartbeatData{}),
	}}, telemetry.NewNoopLogger())

	req := httptest.NewRequest("GET", "/v1/tasks/t2/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeTask(rec, req, "t2")

	body := rec.Body.String()
	assert.Contains(t, body, "WorkflowFailed")
	assert.NotContains(t, body, "heartbeat")
}
