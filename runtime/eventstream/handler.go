// Package eventstream implements the Event Stream Gateway (C9): an SSE
// endpoint that backfills a task's durable event log, then tails the live
// broker topic until a terminal event is delivered.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/events"
)

// HeartbeatInterval is how long the gateway waits without a live event
// before writing a heartbeat frame to keep the connection alive (§4.7).
const HeartbeatInterval = 15 * time.Second

// Handler serves GET /v1/tasks/{task_id}/events.
type Handler struct {
	log        events.Log
	subscriber events.Subscriber
	logger     telemetry.Logger
}

// NewHandler builds a Handler over the durable log and live broker
// subscriber.
func NewHandler(log events.Log, subscriber events.Subscriber, logger telemetry.Logger) *Handler {
	return &Handler{log: log, subscriber: subscriber, logger: logger}
}

// ServeTask streams taskID's event history and then its live tail onto w.
// It returns once the connection closes, either because a terminal event
// was flushed or because the client disconnected (r.Context() is done);
// client disconnection has no effect on the task itself (§4.7).
func (h *Handler) ServeTask(w http.ResponseWriter, r *http.Request, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()

	// Subscribe before reading the log: anything published between the two
	// calls still lands in the subscription's channel and is deduplicated
	// against the backfill below by event_id/sequence, so no event is lost
	// to the gap between "read history" and "start tailing live" (§4.7).
	sub, err := h.subscriber.Subscribe(ctx, taskID)
	if err != nil {
		h.logger.Error(ctx, "eventstream: subscribe failed", "task_id", taskID, "error", err)
		writeFrame(w, "error", map[string]string{"error": "subscribe failed"})
		flusher.Flush()
		return
	}
	defer func() { _ = sub.Close(context.Background()) }()

	backfill, err := h.log.List(ctx, taskID)
	if err != nil {
		h.logger.Error(ctx, "eventstream: backfill failed", "task_id", taskID, "error", err)
		writeFrame(w, "error", map[string]string{"error": "backfill failed"})
		flusher.Flush()
		return
	}

	seen := make(map[string]bool, len(backfill))
	var lastSeq int64
	for _, e := range backfill {
		seen[e.EventID] = true
		if e.Sequence > lastSeq {
			lastSeq = e.Sequence
		}
		if writeEvent(w, e) {
			flusher.Flush()
		}
		if e.EventType.Terminal() {
			flusher.Flush()
			return
		}
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if seen[e.EventID] || e.Sequence != 0 && e.Sequence <= lastSeq {
				continue
			}
			seen[e.EventID] = true
			if e.Sequence > lastSeq {
				lastSeq = e.Sequence
			}
			if writeEvent(w, e) {
				flusher.Flush()
			}
			if e.EventType.Terminal() {
				flusher.Flush()
				return
			}
			heartbeat.Reset(HeartbeatInterval)
		case <-heartbeat.C:
			writeFrame(w, string(events.Heartbeat), events.HeartbeatData{TS: time.Now().Unix()})
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e events.Event) bool {
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.EventID, e.EventType, e.Data)
	return err == nil
}

func writeFrame(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
