// Package events defines the task-level domain event catalog (§6's required
// event-type list) and the Event Publisher (C7) that fans them out through a
// durable log and a live broker topic.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the event-type catalog required by §6.
type Type string

const (
	TaskCreated        Type = "TaskCreated"
	WorkflowStarted    Type = "WorkflowStarted"
	IterationStarted   Type = "IterationStarted"
	LLMCallStarted     Type = "LLMCallStarted"
	LLMCallChunk       Type = "LLMCallChunk"
	LLMCallCompleted   Type = "LLMCallCompleted"
	ToolCallStarted    Type = "ToolCallStarted"
	ToolCallCompleted  Type = "ToolCallCompleted"
	BudgetWarning      Type = "BudgetWarning"
	BudgetExceeded     Type = "BudgetExceeded"
	GoalEvaluated      Type = "GoalEvaluated"
	WorkflowPaused     Type = "WorkflowPaused"
	WorkflowResumed    Type = "WorkflowResumed"
	WorkflowCancelled  Type = "WorkflowCancelled"
	WorkflowCompleted  Type = "WorkflowCompleted"
	WorkflowFailed     Type = "WorkflowFailed"
	Heartbeat          Type = "heartbeat"
)

// Durable reports whether events of this type must be appended to the
// durable log (§4.7: chunk events are broker-only; everything else,
// including the final assembled LLMCallCompleted, is logged).
func (t Type) Durable() bool {
	switch t {
	case LLMCallChunk, Heartbeat:
		return false
	default:
		return true
	}
}

// Terminal reports whether an event of this type marks the end of a task's
// event stream: once one is delivered, the Event Stream Gateway flushes it
// and closes the connection (§4.7).
func (t Type) Terminal() bool {
	switch t {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// Event is one emitted, persisted-or-broker-only domain event. Fields match
// §3's Event data model exactly: event_id, task_id, event_type, timestamp,
// sequence, data, and an optional original_data preserving a source-format
// payload (e.g. the provider's raw chunk) for debugging.
type Event struct {
	EventID      string          `json:"event_id" bson:"event_id"`
	TaskID       string          `json:"task_id" bson:"task_id"`
	EventType    Type            `json:"event_type" bson:"event_type"`
	Timestamp    time.Time       `json:"timestamp" bson:"timestamp"`
	Sequence     int64           `json:"sequence" bson:"sequence"`
	Data         json.RawMessage `json:"data" bson:"data"`
	OriginalData json.RawMessage `json:"original_data,omitempty" bson:"original_data,omitempty"`
}

// New constructs an Event with a fresh event_id and the given sequence. data
// is marshaled from payload; callers pass typed payload structs (below).
func New(taskID string, typ Type, sequence int64, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:   uuid.NewString(),
		TaskID:    taskID,
		EventType: typ,
		Timestamp: time.Now().UTC(),
		Sequence:  sequence,
		Data:      data,
	}, nil
}

// Payload types for each catalog entry. These are the `data` field contents;
// Event itself carries the envelope (event_id, task_id, sequence, ...).
type (
	TaskCreatedData struct {
		AgentID   string `json:"agent_id"`
		UserID    string `json:"user_id"`
		Query     string `json:"query"`
		BudgetUSD float64 `json:"budget_usd"`
	}

	WorkflowStartedData struct {
		ExecutionID    string   `json:"execution_id"`
		SuccessCriteria []string `json:"success_criteria,omitempty"`
		MaxIterations  int      `json:"max_iterations"`
	}

	IterationStartedData struct {
		Iteration int `json:"iteration"`
	}

	LLMCallStartedData struct {
		Iteration int `json:"iteration"`
	}

	LLMCallChunkData struct {
		Chunk   string `json:"chunk"`
		Index   int    `json:"index"`
		IsFinal bool   `json:"is_final"`
	}

	LLMCallCompletedData struct {
		Iteration       int     `json:"iteration"`
		Content         string  `json:"content"`
		ToolCallCount   int     `json:"tool_call_count"`
		PromptTokens    int     `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
		TotalTokens     int     `json:"total_tokens"`
		Cost            float64 `json:"cost"`
	}

	ToolCallStartedData struct {
		ToolName string          `json:"tool_name"`
		ToolCallID string        `json:"tool_call_id"`
		Args     json.RawMessage `json:"args"`
	}

	ToolCallCompletedData struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Success    bool            `json:"success"`
		Result     json.RawMessage `json:"result,omitempty"`
		Error      string          `json:"error,omitempty"`
	}

	BudgetWarningData struct {
		AccruedUSD float64 `json:"accrued_usd"`
		LimitUSD   float64 `json:"limit_usd"`
	}

	BudgetExceededData struct {
		AccruedUSD float64 `json:"accrued_usd"`
		LimitUSD   float64 `json:"limit_usd"`
	}

	GoalEvaluatedData struct {
		Achieved      bool    `json:"achieved"`
		Confidence    float64 `json:"confidence"`
		FinalResponse string  `json:"final_response,omitempty"`
	}

	WorkflowPausedData struct {
		Reason      string `json:"reason,omitempty"`
		RequestedBy string `json:"requested_by,omitempty"`
	}

	WorkflowResumedData struct {
		RequestedBy string `json:"requested_by,omitempty"`
	}

	WorkflowCancelledData struct {
		Iteration int `json:"iteration"`
	}

	WorkflowCompletedData struct {
		Success          bool    `json:"success"`
		FinalResponse    string  `json:"final_response,omitempty"`
		TotalCost        float64 `json:"total_cost"`
		IterationsUsed   int     `json:"iterations_used"`
		TerminationReason string `json:"termination_reason"`
	}

	WorkflowFailedData struct {
		Error     string `json:"error"`
		ErrorKind string `json:"error_kind,omitempty"`
	}

	HeartbeatData struct {
		TS int64 `json:"ts"`
	}
)
