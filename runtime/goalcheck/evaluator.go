// Package goalcheck implements the Goal Progress Evaluator (C4): deciding
// whether the accumulated conversation already satisfies a task's success
// criteria independent of an explicit task_complete call.
package goalcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentexec/core/runtime/agent/model"
)

// ConfidenceThreshold is the default minimum confidence at which the
// reasoning loop treats `achieved` as true, per §4.5/§9's open-question
// resolution (adopted as a testable default, open to revision).
const ConfidenceThreshold = 0.7

// Verdict is the evaluator's pure output: §4.5's
// `{achieved:bool, final_response?:string, confidence:float}`.
type Verdict struct {
	Achieved      bool
	FinalResponse string
	Confidence    float64
}

// Achieves reports whether v should be treated as goal-achieved under the
// given threshold.
func (v Verdict) Achieves(threshold float64) bool {
	return v.Achieved && v.Confidence >= threshold
}

// Evaluator wraps a cheap model.Client call to judge goal progress. It must
// not have side effects beyond the caller's own cost accrual of the
// underlying LLM call (§4.5: "must not have side effects beyond cost
// accrual").
type Evaluator struct {
	client model.Client
	model  string
}

// New builds an Evaluator backed by client, using modelID (typically a
// cheap/small model per §4.5) for the judging call.
func New(client model.Client, modelID string) *Evaluator {
	return &Evaluator{client: client, model: modelID}
}

// Model returns the model id used for judging calls, so callers can price
// the judging call's TokenUsage against the same cost table used for the
// main reasoning LLM calls.
func (e *Evaluator) Model() string { return e.model }

// evaluateToolName names the forced tool call through which the judge
// reports its verdict; judgeToolDefinition declares its three fields so the
// response is machine-parseable without free-text extraction.
const evaluateToolName = "report_goal_progress"

// Evaluate asks the model whether messages already satisfy successCriteria.
// It is a pure function of its inputs plus the (side-effect-free from the
// caller's perspective) model call; callers are responsible for accruing
// the call's cost into the task's BudgetState, exactly as any other LLM
// call.
func (e *Evaluator) Evaluate(ctx context.Context, messages []*model.Message, successCriteria []string) (Verdict, model.TokenUsage, error) {
	req := &model.Request{
		Model:       e.model,
		Messages:    append(messages, judgePrompt(successCriteria)),
		Temperature: 0,
		Tools:       []*model.ToolDefinition{judgeToolDefinition()},
		ToolChoice:  &model.ToolChoice{Mode: model.ToolChoiceModeTool, Name: evaluateToolName},
		MaxTokens:   256,
	}
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return Verdict{}, model.TokenUsage{}, fmt.Errorf("goalcheck: evaluate: %w", err)
	}
	for _, tc := range resp.ToolCalls {
		if string(tc.Name) != evaluateToolName {
			continue
		}
		var parsed struct {
			Achieved      bool    `json:"achieved"`
			FinalResponse string  `json:"final_response"`
			Confidence    float64 `json:"confidence"`
		}
		if err := json.Unmarshal(tc.Payload, &parsed); err != nil {
			return Verdict{}, resp.Usage, fmt.Errorf("goalcheck: decode verdict: %w", err)
		}
		return Verdict{Achieved: parsed.Achieved, FinalResponse: parsed.FinalResponse, Confidence: parsed.Confidence}, resp.Usage, nil
	}
	// No structured verdict returned; treat conservatively as not achieved
	// rather than guessing from free text.
	return Verdict{Achieved: false}, resp.Usage, nil
}

func judgePrompt(successCriteria []string) *model.Message {
	var b strings.Builder
	b.WriteString("Judge whether the conversation above has already satisfied the task's success criteria, independent of any explicit completion tool call. Report your verdict via the ")
	b.WriteString(evaluateToolName)
	b.WriteString(" tool.")
	if len(successCriteria) > 0 {
		b.WriteString(" Success criteria: ")
		b.WriteString(strings.Join(successCriteria, "; "))
	}
	return &model.Message{Role: "user", Parts: []model.Part{model.TextPart{Text: b.String()}}}
}

func judgeToolDefinition() *model.ToolDefinition {
	return &model.ToolDefinition{
		Name:        evaluateToolName,
		Description: "Report whether the task's success criteria are already satisfied.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"achieved":       map[string]any{"type": "boolean"},
				"final_response": map[string]any{"type": "string"},
				"confidence":     map[string]any{"type": "number"},
			},
			"required": []string{"achieved", "confidence"},
		},
	}
}
