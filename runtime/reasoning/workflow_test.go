package reasoning

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/agent/engine"
	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/agent/telemetry"
	"github.com/agentexec/core/runtime/goalcheck"
	"github.com/agentexec/core/runtime/llmcall"
)

// fakeSignalChannel never delivers anything; tests that never pause don't
// need a real implementation.
type fakeSignalChannel struct{}

func (fakeSignalChannel) Receive(context.Context, any) error { return context.Canceled }
func (fakeSignalChannel) ReceiveAsync(any) bool               { return false }

// fakeWorkflowContext drives the reasoning loop against a scripted sequence
// of activity responses, keyed by activity name.
type fakeWorkflowContext struct {
	ctx  context.Context
	resp map[string][]any
	call map[string]int
}

func newFakeWorkflowContext(ctx context.Context) *fakeWorkflowContext {
	return &fakeWorkflowContext{ctx: ctx, resp: map[string][]any{}, call: map[string]int{}}
}

func (f *fakeWorkflowContext) script(name string, values ...any) {
	f.resp[name] = append(f.resp[name], values...)
}

func (f *fakeWorkflowContext) Context() context.Context { return f.ctx }
func (f *fakeWorkflowContext) WorkflowID() string       { return "wf-1" }
func (f *fakeWorkflowContext) RunID() string            { return "run-1" }

func (f *fakeWorkflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	queue := f.resp[req.Name]
	idx := f.call[req.Name]
	f.call[req.Name] = idx + 1
	if idx >= len(queue) {
		return nil
	}
	val := queue[idx]
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (f *fakeWorkflowContext) ExecuteActivityAsync(context.Context, engine.ActivityRequest) (engine.Future, error) {
	return nil, nil
}
func (f *fakeWorkflowContext) SignalChannel(string) engine.SignalChannel { return fakeSignalChannel{} }
func (f *fakeWorkflowContext) Logger() telemetry.Logger                  { return telemetry.NewNoopLogger() }
func (f *fakeWorkflowContext) Metrics() telemetry.Metrics                { return telemetry.NewNoopMetrics() }
func (f *fakeWorkflowContext) Tracer() telemetry.Tracer                  { return telemetry.NewNoopTracer() }
func (f *fakeWorkflowContext) Now() time.Time                           { return time.Unix(0, 0) }

func TestLoopTerminatesOnTaskComplete(t *testing.T) {
	wfCtx := newFakeWorkflowContext(context.Background())
	wfCtx.script(ActivityBuildAgentConfig, AgentConfig{AgentID: "a1", Model: "claude-sonnet-4"})
	wfCtx.script(ActivityDiscoverTools, discoverToolsOutput{})
	wfCtx.script(ActivityCallLLM, llmcall.Result{
		ToolCalls: []llmcall.ToolCall{{ID: "tc1", Name: "task_complete", Arguments: `{"success":true,"result":"done"}`}},
	})

	out, err := Workflow(wfCtx, ExecutionRequest{
		TaskID: "t1", AgentID: "a1", UserID: "u1", TaskQuery: "do the thing", BudgetUSD: 10,
	})
	require.NoError(t, err)
	outcome := out.(Outcome)
	assert.True(t, outcome.Success)
	assert.Equal(t, "done", outcome.FinalResponse)
	assert.Equal(t, TerminationGoalAchieved, outcome.TerminationReason)
}

func TestLoopTerminatesOnMaxIterations(t *testing.T) {
	wfCtx := newFakeWorkflowContext(context.Background())
	wfCtx.script(ActivityBuildAgentConfig, AgentConfig{AgentID: "a1", Model: "claude-sonnet-4"})
	wfCtx.script(ActivityDiscoverTools, discoverToolsOutput{})
	for i := 0; i < 3; i++ {
		wfCtx.script(ActivityCallLLM, llmcall.Result{Content: "still working"})
		wfCtx.script(ActivityEvaluateGoal, evaluateGoalOutput{Verdict: goalcheck.Verdict{}})
	}

	out, err := Workflow(wfCtx, ExecutionRequest{
		TaskID: "t2", AgentID: "a1", UserID: "u1", TaskQuery: "loop", BudgetUSD: 10,
		Parameters: Parameters{MaxIterations: 3},
	})
	require.NoError(t, err)
	outcome := out.(Outcome)
	assert.False(t, outcome.Success)
	assert.Equal(t, TerminationMaxIterations, outcome.TerminationReason)
	assert.Equal(t, 3, outcome.IterationsUsed)
}

func TestLoopBudgetExceededTerminatesWorkflow(t *testing.T) {
	wfCtx := newFakeWorkflowContext(context.Background())
	wfCtx.script(ActivityBuildAgentConfig, AgentConfig{AgentID: "a1", Model: "claude-sonnet-4"})
	wfCtx.script(ActivityDiscoverTools, discoverToolsOutput{})
	wfCtx.script(ActivityCallLLM, llmcall.Result{Content: "partial", Cost: 100})

	out, err := Workflow(wfCtx, ExecutionRequest{
		TaskID: "t3", AgentID: "a1", UserID: "u1", TaskQuery: "expensive", BudgetUSD: 1,
	})
	require.NoError(t, err)
	outcome := out.(Outcome)
	assert.False(t, outcome.Success)
	assert.Equal(t, TerminationBudgetExceeded, outcome.TerminationReason)
}

func TestResolveMaxIterationsAppliesDefaultsAndHardCap(t *testing.T) {
	assert.Equal(t, DefaultMaxIterations, resolveMaxIterations(0))
	assert.Equal(t, 10, resolveMaxIterations(10))
	assert.Equal(t, HardCapMaxIterations, resolveMaxIterations(1000))
}

func TestSystemMessageIncludesSuccessCriteriaAndCompletionInstruction(t *testing.T) {
	msg := systemMessage("Be helpful.", []string{"answer correctly"})
	text := msg.Parts[0].(model.TextPart).Text
	assert.Contains(t, text, "Be helpful.")
	assert.Contains(t, text, "answer correctly")
	assert.Contains(t, text, "task_complete")
}
