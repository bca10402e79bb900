// Package tasks implements the Task Service (C8): task CRUD, the task
// lifecycle FSM (§4.6), and workflow submission/signaling against the
// durable scheduler.
package tasks

import (
	"encoding/json"
	"time"
)

// Status is the task lifecycle FSM state (§4.6). Spellings match the spec
// exactly since they appear on the wire (tasks/get responses).
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is one of the FSM's terminal states, which
// accept no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the unit of work (§3). Mutated only by the Task Service on
// lifecycle transitions; the reasoning workflow never writes this row
// directly (§5).
type Task struct {
	ID          string          `json:"id" bson:"_id"`
	AgentID     string          `json:"agent_id" bson:"agent_id"`
	UserID      string          `json:"user_id" bson:"user_id"`
	WorkspaceID string          `json:"workspace_id" bson:"workspace_id"`
	Query       string          `json:"query" bson:"query"`
	Parameters  json.RawMessage `json:"parameters,omitempty" bson:"parameters,omitempty"`
	Status      Status          `json:"status" bson:"status"`
	ExecutionID string          `json:"execution_id,omitempty" bson:"execution_id,omitempty"`
	Result      string          `json:"result,omitempty" bson:"result,omitempty"`
	Error       string          `json:"error,omitempty" bson:"error,omitempty"`
	CostAccrued float64         `json:"cost_accrued" bson:"cost_accrued"`
	BudgetUSD   float64         `json:"budget_usd" bson:"budget_usd"`

	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// transitions enumerates the FSM's allowed edges (§4.6). A transition not
// listed here is rejected by Task.transitionTo.
var transitions = map[Status]map[Status]bool{
	StatusSubmitted: {StatusRunning: true, StatusCancelled: true},
	StatusRunning:   {StatusPaused: true, StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusPaused:    {StatusRunning: true, StatusCancelled: true},
}

// ErrTerminalTransition is returned when a caller attempts to leave a
// terminal task state.
type ErrTerminalTransition struct {
	From Status
	To   Status
}

func (e *ErrTerminalTransition) Error() string {
	return "tasks: cannot transition from terminal state " + string(e.From) + " to " + string(e.To)
}

// ErrInvalidTransition is returned for a transition not named in §4.6's FSM.
type ErrInvalidTransition struct {
	From Status
	To   Status
}

func (e *ErrInvalidTransition) Error() string {
	return "tasks: invalid transition " + string(e.From) + " -> " + string(e.To)
}

func (t *Task) transitionTo(to Status, now time.Time) error {
	if t.Status.Terminal() {
		return &ErrTerminalTransition{From: t.Status, To: to}
	}
	if !transitions[t.Status][to] {
		return &ErrInvalidTransition{From: t.Status, To: to}
	}
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case StatusRunning:
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		completed := now
		t.CompletedAt = &completed
	}
	return nil
}
