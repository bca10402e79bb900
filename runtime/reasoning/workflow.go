package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentexec/core/runtime/agent/engine"
	"github.com/agentexec/core/runtime/agent/interrupt"
	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/budget"
	"github.com/agentexec/core/runtime/events"
	"github.com/agentexec/core/runtime/toolcatalog"
)

// WorkflowName is the logical name registered with the engine for the
// Reasoning Loop (§4.1).
const WorkflowName = "ReasoningLoop"

// Workflow is the engine.WorkflowFunc implementing C6. It is deterministic:
// every side effect (LLM calls, tool execution, event publication, goal
// evaluation, task persistence) is delegated to an activity; the loop itself
// only manipulates in-memory state and engine primitives.
func Workflow(wfCtx engine.WorkflowContext, input any) (any, error) {
	req, err := coerce[ExecutionRequest](input)
	if err != nil {
		return nil, fmt.Errorf("reasoning: decode execution request: %w", err)
	}
	ctx := wfCtx.Context()
	log := wfCtx.Logger()

	maxIterations := resolveMaxIterations(req.Parameters.MaxIterations)
	trk := budget.New(req.BudgetUSD)
	ctrl := interrupt.NewController(wfCtx)

	// --- startup sequence (§4.1) ---

	var cfg AgentConfig
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivityBuildAgentConfig,
		Input: buildAgentConfigInput{AgentID: req.AgentID, UserContext: req.UserID},
	}, &cfg); err != nil {
		return nil, fmt.Errorf("reasoning: build_agent_config: %w", err)
	}

	var toolsOut discoverToolsOutput
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivityDiscoverTools,
		Input: discoverToolsInput{AgentID: req.AgentID, UserContext: req.UserID},
	}, &toolsOut); err != nil {
		return nil, fmt.Errorf("reasoning: discover_tools: %w", err)
	}
	catalog := toolOut(toolsOut.Tools)

	messages := []*model.Message{
		systemMessage(cfg.Instruction, req.Parameters.SuccessCriteria),
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: req.TaskQuery}}},
	}

	if err := publish(ctx, wfCtx, req.TaskID, events.WorkflowStarted, events.WorkflowStartedData{
		ExecutionID:     req.ExecutionID,
		SuccessCriteria: req.Parameters.SuccessCriteria,
		MaxIterations:   maxIterations,
	}); err != nil {
		log.Warn(ctx, "reasoning: publish WorkflowStarted failed", "error", err)
	}

	loop := &loopState{
		wfCtx:    wfCtx,
		ctx:      ctx,
		req:      req,
		cfg:      cfg,
		catalog:  catalog,
		budget:   trk,
		ctrl:     ctrl,
		messages: messages,
		maxIters: maxIterations,
	}
	return loop.run()
}

// toolOut wraps toolcatalog's definitions as model.ToolDefinition pointers
// for the LLM request's tool catalog.
func toolOut(defs []toolcatalog.ToolDefinition) []*model.ToolDefinition {
	out := make([]*model.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, &model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

func systemMessage(instruction string, successCriteria []string) *model.Message {
	var b strings.Builder
	b.WriteString(instruction)
	if len(successCriteria) > 0 {
		b.WriteString("\n\nSuccess criteria:\n")
		for _, c := range successCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nWhen the task is complete, you must call the ")
	b.WriteString(string(toolcatalog.TaskCompleteName))
	b.WriteString(" tool with success=true and the final result; this is the required completion signal.")
	return &model.Message{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: b.String()}}}
}

func publish(ctx context.Context, wfCtx engine.WorkflowContext, taskID string, typ events.Type, payload any) error {
	return wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:  ActivityPublishEvent,
		Input: publishEventInput{TaskID: taskID, Type: typ, Payload: payload},
	}, &events.Event{})
}

// syntheticToolMessage builds a tool-result message. Per the provider model
// the teacher's Message type attaches tool results to a user-role message
// (ToolResultPart), rather than a distinct "tool" role.
func syntheticToolMessage(toolUseID string, content any, isError bool) *model.Message {
	return &model.Message{
		Role: model.ConversationRoleUser,
		Parts: []model.Part{
			model.ToolResultPart{ToolUseID: toolUseID, Content: content, IsError: isError},
		},
	}
}

func marshalResultContent(r toolcatalog.Result) any {
	out := map[string]any{"success": r.Success}
	if len(r.Result) > 0 {
		var v any
		if err := json.Unmarshal(r.Result, &v); err == nil {
			out["result"] = v
		} else {
			out["result"] = string(r.Result)
		}
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if len(r.Details) > 0 {
		var v any
		if err := json.Unmarshal(r.Details, &v); err == nil {
			out["details"] = v
		}
	}
	return out
}
