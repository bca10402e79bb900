package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentexec/core/runtime/agent/engine"
	"github.com/agentexec/core/runtime/agent/interrupt"
	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/reasoning"
)

// DefaultTaskQueue is the task queue the reasoning workflow is registered
// on when a caller does not need per-agent queue isolation.
const DefaultTaskQueue = "agentexec.reasoning"

// SubmitRequest is what a caller provides to create a task (§4.1 "task
// submission").
type SubmitRequest struct {
	AgentID         string
	UserID          string
	WorkspaceID     string
	Query           string
	SuccessCriteria []string
	MaxIterations   int
	BudgetUSD       float64
}

// Service implements C8: task CRUD, the lifecycle FSM, and submission of
// the reasoning workflow against the durable engine.
type Service struct {
	store  Store
	engine engine.Engine
	queue  string
	log    telemetry.Logger

	handles *handleRegistry
}

// NewService builds a Service. eng must already have reasoning.Workflow and
// its Activities registered (see reasoning.Activities.Register).
func NewService(store Store, eng engine.Engine, log telemetry.Logger) *Service {
	return &Service{store: store, engine: eng, queue: DefaultTaskQueue, log: log, handles: newHandleRegistry()}
}

// Submit creates a task row in "submitted" state and starts the reasoning
// workflow, transitioning the task to "running" once the engine accepts it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Task, error) {
	now := time.Now()
	params, err := json.Marshal(reasoning.Parameters{SuccessCriteria: req.SuccessCriteria, MaxIterations: req.MaxIterations})
	if err != nil {
		return Task{}, fmt.Errorf("tasks: marshal parameters: %w", err)
	}

	t := Task{
		ID:          generateTaskID(req.AgentID),
		AgentID:     req.AgentID,
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		Query:       req.Query,
		Parameters:  params,
		Status:      StatusSubmitted,
		BudgetUSD:   req.BudgetUSD,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return Task{}, fmt.Errorf("tasks: insert: %w", err)
	}

	executionID := uuid.NewString()
	handle, err := s.engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        t.ID,
		Workflow:  reasoning.WorkflowName,
		TaskQueue: s.queue,
		Input: reasoning.ExecutionRequest{
			TaskID:      t.ID,
			AgentID:     req.AgentID,
			UserID:      req.UserID,
			TaskQuery:   req.Query,
			BudgetUSD:   req.BudgetUSD,
			ExecutionID: executionID,
			Parameters:  reasoning.Parameters{SuccessCriteria: req.SuccessCriteria, MaxIterations: req.MaxIterations},
		},
	})
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		t.UpdatedAt = time.Now()
		_ = s.store.Update(ctx, t)
		return Task{}, fmt.Errorf("tasks: start workflow: %w", err)
	}
	s.handles.put(t.ID, handle)

	t.ExecutionID = executionID
	if err := t.transitionTo(StatusRunning, time.Now()); err != nil {
		return Task{}, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return Task{}, fmt.Errorf("tasks: update after start: %w", err)
	}
	return t, nil
}

// Get returns the current snapshot of a task.
func (s *Service) Get(ctx context.Context, id string) (Task, error) {
	return s.store.Get(ctx, id)
}

// Await blocks until the task's workflow reaches a terminal outcome (or ctx
// is cancelled) and returns the final task snapshot. It is the synchronous
// collaborator message/send needs: write_task_terminal runs as the last
// activity inside the workflow body, so by the time the engine's Wait call
// returns the stored Task already reflects the terminal state.
func (s *Service) Await(ctx context.Context, id string) (Task, error) {
	handle, ok := s.handles.get(id)
	if !ok {
		// No live handle in this process (e.g. after a restart): fall back to
		// polling the store, which write_task_terminal updates regardless of
		// which process is driving the workflow.
		return s.pollUntilTerminal(ctx, id)
	}
	if err := handle.Wait(ctx, new(struct{})); err != nil {
		// The workflow may still have reached a recorded terminal state
		// (e.g. a failure) even though Wait surfaced an error; prefer the
		// persisted snapshot when one exists.
		if t, getErr := s.store.Get(ctx, id); getErr == nil && t.Status.Terminal() {
			return t, nil
		}
		return Task{}, fmt.Errorf("tasks: await workflow: %w", err)
	}
	return s.store.Get(ctx, id)
}

func (s *Service) pollUntilTerminal(ctx context.Context, id string) (Task, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			return Task{}, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pause signals the running workflow to suspend at its next iteration
// boundary and marks the task "paused".
func (s *Service) Pause(ctx context.Context, id, reason, requestedBy string) (Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	handle, ok := s.handles.get(id)
	if !ok {
		return Task{}, fmt.Errorf("tasks: no live workflow handle for %s", id)
	}
	if err := handle.Signal(ctx, interrupt.SignalPause, interrupt.PauseRequest{
		RunID: t.ExecutionID, Reason: reason, RequestedBy: requestedBy,
	}); err != nil {
		return Task{}, fmt.Errorf("tasks: signal pause: %w", err)
	}
	if err := t.transitionTo(StatusPaused, time.Now()); err != nil {
		return Task{}, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Resume signals a paused workflow to continue, optionally injecting
// clarification messages supplied by the requester.
func (s *Service) Resume(ctx context.Context, id, requestedBy string, notes []*model.Message) (Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	handle, ok := s.handles.get(id)
	if !ok {
		return Task{}, fmt.Errorf("tasks: no live workflow handle for %s", id)
	}
	if err := handle.Signal(ctx, interrupt.SignalResume, interrupt.ResumeRequest{
		RunID: t.ExecutionID, RequestedBy: requestedBy, Messages: notes,
	}); err != nil {
		return Task{}, fmt.Errorf("tasks: signal resume: %w", err)
	}
	if err := t.transitionTo(StatusRunning, time.Now()); err != nil {
		return Task{}, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Cancel requests cancellation of the workflow from either "running" or
// "paused" and marks the task "cancelled". The underlying engine propagates
// cancellation to the workflow's context, which the reasoning loop observes
// at its next termination check.
func (s *Service) Cancel(ctx context.Context, id string) (Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if handle, ok := s.handles.get(id); ok {
		if err := handle.Cancel(ctx); err != nil {
			return Task{}, fmt.Errorf("tasks: cancel workflow: %w", err)
		}
	}
	if err := t.transitionTo(StatusCancelled, time.Now()); err != nil {
		return Task{}, err
	}
	if err := s.store.Update(ctx, t); err != nil {
		return Task{}, err
	}
	s.handles.delete(id)
	return t, nil
}

// WriteTaskTerminal implements reasoning.TaskWriter: the reasoning loop
// calls this via its write_task_terminal activity once the workflow reaches
// a terminal outcome, transitioning the task to "completed", "failed" or
// "cancelled" and recording the final result, cost, and error.
func (s *Service) WriteTaskTerminal(ctx context.Context, taskID string, outcome reasoning.Outcome) error {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	// Mirrors the workflow's own event split (runtime/reasoning/loop.go
	// finalize): only a permanent activity failure marks the task "failed".
	// Budget exhaustion and the iteration cap are expected, handled
	// terminations and still land on "completed" with Result/Error
	// reflecting the unsuccessful outcome.
	to := StatusCompleted
	switch outcome.TerminationReason {
	case reasoning.TerminationActivityFailure:
		to = StatusFailed
	case reasoning.TerminationCancelled:
		to = StatusCancelled
	}
	if err := t.transitionTo(to, time.Now()); err != nil {
		return err
	}
	t.Result = outcome.FinalResponse
	t.Error = outcome.Error
	t.CostAccrued = outcome.TotalCostUSD

	s.handles.delete(taskID)
	return s.store.Update(ctx, t)
}

func generateTaskID(agentID string) string {
	prefix := strings.ReplaceAll(agentID, ".", "-")
	return fmt.Sprintf("task-%s-%s", prefix, uuid.NewString())
}
