package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentexec/core/runtime/agent/engine"
	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/agent/tools"
	"github.com/agentexec/core/runtime/events"
	"github.com/agentexec/core/runtime/goalcheck"
	"github.com/agentexec/core/runtime/llmcall"
	"github.com/agentexec/core/runtime/toolcatalog"
)

// Activity names registered with the engine; the workflow dispatches to
// these by name so any engine backend (Temporal, in-memory, custom) can
// schedule them on its worker pool.
const (
	ActivityBuildAgentConfig  = "reasoning.BuildAgentConfig"
	ActivityDiscoverTools     = "reasoning.DiscoverTools"
	ActivityCallLLM           = "reasoning.CallLLM"
	ActivityExecuteTool       = "reasoning.ExecuteTool"
	ActivityEvaluateGoal      = "reasoning.EvaluateGoalProgress"
	ActivityPublishEvent      = "reasoning.PublishEvent"
	ActivityWriteTaskTerminal = "reasoning.WriteTaskTerminal"
)

// TaskWriter persists the task's terminal row. Per §5's shared resource
// policy the workflow never writes the task row directly; it only invokes
// this activity, which the Task Service (C8) implements.
type TaskWriter interface {
	WriteTaskTerminal(ctx context.Context, taskID string, outcome Outcome) error
}

// Activities bundles the side-effecting dependencies the workflow dispatches
// to as engine activities. One Activities value is registered per worker;
// the tool Executor it carries must already be wired with the registry that
// matches whatever DiscoverTools returns for the agents this worker serves.
type Activities struct {
	Config    ConfigBuilder
	Tools     ToolDiscoverer
	LLM       *llmcall.Activity
	Executor  *toolcatalog.Executor
	Evaluator *goalcheck.Evaluator
	Publisher *events.Publisher
	Tasks     TaskWriter
	Costs     llmcall.CostTable
}

// Register installs every activity this workflow depends on with eng. Call
// once during service initialization, before starting workers.
func (a *Activities) Register(ctx context.Context, eng engine.Engine) error {
	defs := []engine.ActivityDefinition{
		{Name: ActivityBuildAgentConfig, Handler: a.buildAgentConfig},
		{Name: ActivityDiscoverTools, Handler: a.discoverTools},
		{Name: ActivityCallLLM, Handler: a.callLLM},
		{Name: ActivityExecuteTool, Handler: a.executeTool},
		{Name: ActivityEvaluateGoal, Handler: a.evaluateGoal},
		{Name: ActivityPublishEvent, Handler: a.publishEvent},
		{Name: ActivityWriteTaskTerminal, Handler: a.writeTaskTerminal},
	}
	for _, d := range defs {
		if err := eng.RegisterActivity(ctx, d); err != nil {
			return fmt.Errorf("reasoning: register activity %s: %w", d.Name, err)
		}
	}
	return nil
}

// coerce adapts an activity input that may arrive either as the exact Go
// value (in-memory/direct-dispatch engines) or as a re-marshaled JSON
// payload (engines that round-trip activity inputs through a data
// converter), so handlers work against either transport.
func coerce[T any](input any) (T, error) {
	var zero T
	if v, ok := input.(T); ok {
		return v, nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("reasoning: coerce input: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("reasoning: coerce input: %w", err)
	}
	return out, nil
}

type buildAgentConfigInput struct {
	AgentID     string
	UserContext string
}

func (a *Activities) buildAgentConfig(ctx context.Context, input any) (any, error) {
	in, err := coerce[buildAgentConfigInput](input)
	if err != nil {
		return nil, err
	}
	return a.Config.BuildAgentConfig(ctx, in.AgentID, in.UserContext)
}

type discoverToolsInput struct {
	AgentID     string
	UserContext string
}

type discoverToolsOutput struct {
	Tools []toolcatalog.ToolDefinition
}

func (a *Activities) discoverTools(ctx context.Context, input any) (any, error) {
	in, err := coerce[discoverToolsInput](input)
	if err != nil {
		return nil, err
	}
	descriptors, err := a.Tools.DiscoverTools(ctx, in.AgentID, in.UserContext)
	if err != nil {
		return nil, err
	}
	reg, err := toolcatalog.NewRegistry(descriptors)
	if err != nil {
		return nil, err
	}
	return discoverToolsOutput{Tools: reg.Definitions()}, nil
}

func (a *Activities) callLLM(ctx context.Context, input any) (any, error) {
	in, err := coerce[llmcall.Request](input)
	if err != nil {
		return nil, err
	}
	return a.LLM.Call(ctx, in)
}

type executeToolInput struct {
	Name tools.Ident
	Args json.RawMessage
}

func (a *Activities) executeTool(ctx context.Context, input any) (any, error) {
	in, err := coerce[executeToolInput](input)
	if err != nil {
		return nil, err
	}
	return a.Executor.Execute(ctx, in.Name, in.Args), nil
}

type evaluateGoalInput struct {
	Messages        []*model.Message
	SuccessCriteria []string
}

type evaluateGoalOutput struct {
	Verdict goalcheck.Verdict
	Usage   model.TokenUsage
	Cost    float64
}

func (a *Activities) evaluateGoal(ctx context.Context, input any) (any, error) {
	in, err := coerce[evaluateGoalInput](input)
	if err != nil {
		return nil, err
	}
	verdict, usage, err := a.Evaluator.Evaluate(ctx, in.Messages, in.SuccessCriteria)
	if err != nil {
		return nil, err
	}
	costs := a.Costs
	if costs == nil {
		costs = llmcall.DefaultCostTable()
	}
	return evaluateGoalOutput{Verdict: verdict, Usage: usage, Cost: costs.Cost(a.Evaluator.Model(), usage)}, nil
}

type publishEventInput struct {
	TaskID  string
	Type    events.Type
	Payload any
}

func (a *Activities) publishEvent(ctx context.Context, input any) (any, error) {
	in, err := coerce[publishEventInput](input)
	if err != nil {
		return nil, err
	}
	return a.Publisher.Publish(ctx, in.TaskID, in.Type, in.Payload)
}

type writeTaskTerminalInput struct {
	TaskID  string
	Outcome Outcome
}

func (a *Activities) writeTaskTerminal(ctx context.Context, input any) (any, error) {
	in, err := coerce[writeTaskTerminalInput](input)
	if err != nil {
		return nil, err
	}
	return nil, a.Tasks.WriteTaskTerminal(ctx, in.TaskID, in.Outcome)
}
