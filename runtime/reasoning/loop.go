package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentexec/core/runtime/agent/engine"
	"github.com/agentexec/core/runtime/agent/interrupt"
	"github.com/agentexec/core/runtime/agent/model"
	"github.com/agentexec/core/runtime/agent/tools"
	"github.com/agentexec/core/runtime/budget"
	"github.com/agentexec/core/runtime/events"
	"github.com/agentexec/core/runtime/goalcheck"
	"github.com/agentexec/core/runtime/llmcall"
	"github.com/agentexec/core/runtime/toolcatalog"
)

// loopState carries the per-execution mutable state of the reasoning loop
// across iterations. It is never shared across workflow executions.
type loopState struct {
	wfCtx engine.WorkflowContext
	ctx   context.Context

	req     ExecutionRequest
	cfg     AgentConfig
	catalog []*model.ToolDefinition

	budget *budget.Tracker
	ctrl   *interrupt.Controller

	messages []*model.Message
	maxIters int
	iter     int

	goalAchieved  bool
	finalResponse string
	reason        TerminationReason
	totalCost     float64
}

// run executes the per-iteration sequence (§4.1) until a termination
// predicate fires, then finalizes and returns the Outcome.
func (l *loopState) run() (Outcome, error) {
	for {
		if done, reason := l.checkTermination(); done {
			l.reason = reason
			break
		}

		if paused, err := l.checkPause(); err != nil {
			l.reason = TerminationCancelled
			return l.finalize(false, err)
		} else if paused {
			continue
		}

		if err := publish(l.ctx, l.wfCtx, l.req.TaskID, events.LLMCallStarted, events.LLMCallStartedData{Iteration: l.iter}); err != nil {
			l.wfCtx.Logger().Warn(l.ctx, "reasoning: publish LLMCallStarted failed", "error", err)
		}

		result, err := l.callLLM()
		if err != nil {
			l.reason = TerminationActivityFailure
			return l.finalize(false, err)
		}

		l.budget.Accrue(result.Cost)
		l.totalCost += result.Cost
		if l.budget.ShouldWarn() {
			l.budget.MarkWarningSent()
			state := l.budget.State()
			_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.BudgetWarning, events.BudgetWarningData{
				AccruedUSD: state.AccruedUSD, LimitUSD: state.LimitUSD,
			})
		}

		l.messages = append(l.messages, assistantMessage(result))

		if err := publish(l.ctx, l.wfCtx, l.req.TaskID, events.LLMCallCompleted, events.LLMCallCompletedData{
			Iteration:        l.iter,
			Content:          result.Content,
			ToolCallCount:    len(result.ToolCalls),
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.TotalTokens,
			Cost:             result.Cost,
		}); err != nil {
			l.wfCtx.Logger().Warn(l.ctx, "reasoning: publish LLMCallCompleted failed", "error", err)
		}

		if l.budget.IsExceeded() {
			state := l.budget.State()
			_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.BudgetExceeded, events.BudgetExceededData{
				AccruedUSD: state.AccruedUSD, LimitUSD: state.LimitUSD,
			})
			l.reason = TerminationBudgetExceeded
			break
		}

		if result.Content == "" && len(result.ToolCalls) == 0 {
			l.messages = append(l.messages, nudgeMessage())
			l.iter++
			continue
		}

		l.executeToolCalls(result.ToolCalls)
		if l.goalAchieved {
			l.reason = TerminationGoalAchieved
			break
		}

		achieved, err := l.evaluateGoalProgress()
		if err != nil {
			l.wfCtx.Logger().Warn(l.ctx, "reasoning: evaluate_goal_progress failed", "error", err)
		} else if achieved {
			l.reason = TerminationGoalAchieved
			break
		}

		l.iter++
	}

	return l.finalize(l.reason == TerminationGoalAchieved, nil)
}

// checkTermination evaluates the termination predicates of §4.1 other than
// pause (handled separately) and goal-achieved (set by executeToolCalls /
// evaluateGoalProgress inline).
func (l *loopState) checkTermination() (bool, TerminationReason) {
	if l.goalAchieved {
		return true, TerminationGoalAchieved
	}
	if l.iter >= l.maxIters {
		return true, TerminationMaxIterations
	}
	if l.budget.IsExceeded() {
		return true, TerminationBudgetExceeded
	}
	select {
	case <-l.ctx.Done():
		return true, TerminationCancelled
	default:
	}
	return false, ""
}

// checkPause honors a pending pause request by suspending until resume is
// signaled. Cancellation is still honored while paused since WaitResume
// observes l.ctx via the engine's signal channel.
func (l *loopState) checkPause() (bool, error) {
	if _, ok := l.ctrl.PollPause(); !ok {
		return false, nil
	}
	_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.WorkflowPaused, events.WorkflowPausedData{})
	resume, err := l.ctrl.WaitResume(l.ctx)
	if err != nil {
		return false, err
	}
	if len(resume.Messages) > 0 {
		l.messages = append(l.messages, resume.Messages...)
	}
	_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.WorkflowResumed, events.WorkflowResumedData{})
	return true, nil
}

func (l *loopState) callLLM() (llmcall.Result, error) {
	var result llmcall.Result
	err := l.wfCtx.ExecuteActivity(l.ctx, engine.ActivityRequest{
		Name: ActivityCallLLM,
		Input: llmcall.Request{
			Messages:    l.messages,
			Model:       l.cfg.Model,
			ModelClass:  l.cfg.ModelClass,
			Tools:       l.catalog,
			Streaming:   l.cfg.Streaming,
			TaskID:      l.req.TaskID,
			AgentID:     l.req.AgentID,
			ExecutionID: l.req.ExecutionID,
		},
	}, &result)
	return result, err
}

func assistantMessage(result llmcall.Result) *model.Message {
	parts := make([]model.Part, 0, 1+len(result.ToolCalls))
	if result.Content != "" {
		parts = append(parts, model.TextPart{Text: result.Content})
	}
	for _, tc := range result.ToolCalls {
		var args any
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		parts = append(parts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: args})
	}
	return &model.Message{Role: model.ConversationRoleAssistant, Parts: parts}
}

func nudgeMessage() *model.Message {
	return &model.Message{
		Role: model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{
			Text: fmt.Sprintf("Continue; call %s when done.", toolcatalog.TaskCompleteName),
		}},
	}
}

// executeToolCalls runs §4.1 step 8: de-duplicate by first occurrence,
// dispatch task_complete as a short-circuit, otherwise execute via the
// Tool Registry & Executor and append a synthetic tool-result message.
func (l *loopState) executeToolCalls(calls []llmcall.ToolCall) {
	seen := make(map[string]bool, len(calls))
	for _, tc := range calls {
		if tc.ID != "" {
			if seen[tc.ID] {
				l.messages = append(l.messages, syntheticToolMessage(tc.ID, map[string]any{
					"success": false, "error": "duplicate_id",
				}, true))
				continue
			}
			seen[tc.ID] = true
		}

		if tc.Name == string(toolcatalog.TaskCompleteName) {
			l.handleTaskComplete(tc)
			return
		}

		args, ok := llmcall.RecoverArguments(tc.Arguments)
		if !ok {
			l.messages = append(l.messages, syntheticToolMessage(tc.ID, map[string]any{
				"success": false, "error": "invalid_arguments",
			}, true))
			continue
		}

		_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.ToolCallStarted, events.ToolCallStartedData{
			ToolName: tc.Name, ToolCallID: tc.ID, Args: args,
		})

		var result toolcatalog.Result
		err := l.wfCtx.ExecuteActivity(l.ctx, engine.ActivityRequest{
			Name:  ActivityExecuteTool,
			Input: executeToolInput{Name: tools.Ident(tc.Name), Args: args},
		}, &result)
		if err != nil {
			result = toolcatalog.Result{ToolName: tc.Name, Success: false, Error: "unknown_tool"}
		}

		_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.ToolCallCompleted, events.ToolCallCompletedData{
			ToolName: result.ToolName, ToolCallID: tc.ID, Success: result.Success, Result: result.Result, Error: result.Error,
		})
		l.messages = append(l.messages, syntheticToolMessage(tc.ID, marshalResultContent(result), !result.Success))
	}
}

func (l *loopState) handleTaskComplete(tc llmcall.ToolCall) {
	var args struct {
		Success bool   `json:"success"`
		Result  string `json:"result"`
	}
	_ = json.Unmarshal([]byte(tc.Arguments), &args)
	l.messages = append(l.messages, syntheticToolMessage(tc.ID, map[string]any{
		"success": args.Success, "result": args.Result,
	}, false))
	l.goalAchieved = true
	l.finalResponse = args.Result
}

func (l *loopState) evaluateGoalProgress() (bool, error) {
	var out evaluateGoalOutput
	err := l.wfCtx.ExecuteActivity(l.ctx, engine.ActivityRequest{
		Name: ActivityEvaluateGoal,
		Input: evaluateGoalInput{
			Messages:        l.messages,
			SuccessCriteria: l.req.Parameters.SuccessCriteria,
		},
	}, &out)
	if err != nil {
		return false, err
	}
	l.budget.Accrue(out.Cost)
	l.totalCost += out.Cost
	_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.GoalEvaluated, events.GoalEvaluatedData{
		Achieved: out.Verdict.Achieved, Confidence: out.Verdict.Confidence, FinalResponse: out.Verdict.FinalResponse,
	})
	if out.Verdict.Achieves(goalcheck.ConfidenceThreshold) {
		l.goalAchieved = true
		l.finalResponse = out.Verdict.FinalResponse
		return true, nil
	}
	return false, nil
}

func (l *loopState) finalize(success bool, runErr error) (Outcome, error) {
	out := Outcome{
		Success:           success,
		FinalResponse:     l.finalResponse,
		TotalCostUSD:      l.totalCost,
		IterationsUsed:    l.iter,
		TerminationReason: l.reason,
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	// Per the error-handling policy, only a permanent external failure (an
	// activity erroring out) produces WorkflowFailed. Budget exhaustion and
	// the iteration cap are expected, successfully-handled terminations of
	// the loop and still report through WorkflowCompleted with success:false;
	// cancellation gets its own terminal event.
	switch l.reason {
	case TerminationCancelled:
		_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.WorkflowCancelled, events.WorkflowCancelledData{Iteration: l.iter})
	case TerminationActivityFailure:
		_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.WorkflowFailed, events.WorkflowFailedData{Error: out.Error})
	default:
		_ = publish(l.ctx, l.wfCtx, l.req.TaskID, events.WorkflowCompleted, events.WorkflowCompletedData{
			Success:           success,
			FinalResponse:     out.FinalResponse,
			TotalCost:         out.TotalCostUSD,
			IterationsUsed:    out.IterationsUsed,
			TerminationReason: string(out.TerminationReason),
		})
	}

	if err := l.wfCtx.ExecuteActivity(l.ctx, engine.ActivityRequest{
		Name:  ActivityWriteTaskTerminal,
		Input: writeTaskTerminalInput{TaskID: l.req.TaskID, Outcome: out},
	}, new(struct{})); err != nil {
		l.wfCtx.Logger().Warn(l.ctx, "reasoning: write_task_terminal failed", "error", err)
	}

	return out, runErr
}
