package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/agent/engine"
	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/reasoning"
)

// fakeHandle is a controllable engine.WorkflowHandle for service tests.
type fakeHandle struct {
	signals   []string
	cancelled bool
}

func (h *fakeHandle) Wait(context.Context, any) error { return nil }
func (h *fakeHandle) Signal(_ context.Context, name string, _ any) error {
	h.signals = append(h.signals, name)
	return nil
}
func (h *fakeHandle) Cancel(context.Context) error {
	h.cancelled = true
	return nil
}

// fakeEngine records the last StartWorkflow request and hands back a
// fakeHandle the test can inspect.
type fakeEngine struct {
	started engine.WorkflowStartRequest
	handle  *fakeHandle
}

func (e *fakeEngine) RegisterWorkflow(context.Context, engine.WorkflowDefinition) error { return nil }
func (e *fakeEngine) RegisterActivity(context.Context, engine.ActivityDefinition) error { return nil }
func (e *fakeEngine) StartWorkflow(_ context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.started = req
	e.handle = &fakeHandle{}
	return e.handle, nil
}

func newTestService() (*Service, *fakeEngine) {
	eng := &fakeEngine{}
	svc := NewService(NewMemoryStore(), eng, telemetry.NewNoopLogger())
	return svc, eng
}

func TestSubmitTransitionsToRunning(t *testing.T) {
	svc, eng := newTestService()
	task, err := svc.Submit(context.Background(), SubmitRequest{
		AgentID: "agent.demo", UserID: "u1", Query: "hello", BudgetUSD: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)
	assert.NotEmpty(t, task.ExecutionID)
	assert.Equal(t, reasoning.WorkflowName, eng.started.Workflow)
}

func TestPauseThenResumeRoundtrip(t *testing.T) {
	svc, eng := newTestService()
	task, err := svc.Submit(context.Background(), SubmitRequest{AgentID: "a", UserID: "u", Query: "q", BudgetUSD: 5})
	require.NoError(t, err)

	paused, err := svc.Pause(context.Background(), task.ID, "user requested", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Contains(t, eng.handle.signals, "goaai.runtime.pause")

	resumed, err := svc.Resume(context.Background(), task.ID, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)
	assert.Contains(t, eng.handle.signals, "goaai.runtime.resume")
}

func TestCancelFromRunningTerminatesTask(t *testing.T) {
	svc, eng := newTestService()
	task, err := svc.Submit(context.Background(), SubmitRequest{AgentID: "a", UserID: "u", Query: "q", BudgetUSD: 5})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.True(t, eng.handle.cancelled)

	_, err = svc.Cancel(context.Background(), task.ID)
	assert.Error(t, err)
}

func TestWriteTaskTerminalMarksCompleted(t *testing.T) {
	svc, _ := newTestService()
	task, err := svc.Submit(context.Background(), SubmitRequest{AgentID: "a", UserID: "u", Query: "q", BudgetUSD: 5})
	require.NoError(t, err)

	err = svc.WriteTaskTerminal(context.Background(), task.ID, reasoning.Outcome{
		Success: true, FinalResponse: "done", TotalCostUSD: 0.42, IterationsUsed: 2,
		TerminationReason: reasoning.TerminationGoalAchieved,
	})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.Equal(t, 0.42, got.CostAccrued)
	assert.NotNil(t, got.CompletedAt)
}

func TestWriteTaskTerminalIsIdempotentOnceTerminal(t *testing.T) {
	svc, _ := newTestService()
	task, err := svc.Submit(context.Background(), SubmitRequest{AgentID: "a", UserID: "u", Query: "q", BudgetUSD: 5})
	require.NoError(t, err)

	require.NoError(t, svc.WriteTaskTerminal(context.Background(), task.ID, reasoning.Outcome{Success: true}))
	require.NoError(t, svc.WriteTaskTerminal(context.Background(), task.ID, reasoning.Outcome{Success: false, Error: "should not apply"}))

	got, err := svc.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}
