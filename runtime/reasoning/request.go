package reasoning

// ExecutionRequest is the Reasoning Loop's input contract (§4.1): what a
// task submission resolves into before the workflow starts.
type ExecutionRequest struct {
	TaskID     string
	AgentID    string
	UserID     string
	TaskQuery  string
	Parameters Parameters
	BudgetUSD  float64

	// ExecutionID correlates this particular workflow attempt; resumed
	// executions (after pause/resume across workflow restarts) get a new
	// ExecutionID sharing the same TaskID.
	ExecutionID string
}

// Parameters carries the optional per-task overrides named in §4.1.
type Parameters struct {
	SuccessCriteria []string
	MaxIterations   int
}

// DefaultMaxIterations and HardCapMaxIterations bound the iteration budget
// per §4.1: the workflow defaults to 25 and never honors a request above 50.
const (
	DefaultMaxIterations = 25
	HardCapMaxIterations = 50
)

// resolveMaxIterations applies the default/hard-cap policy to a requested value.
func resolveMaxIterations(requested int) int {
	if requested <= 0 {
		return DefaultMaxIterations
	}
	if requested > HardCapMaxIterations {
		return HardCapMaxIterations
	}
	return requested
}

// TerminationReason names why the loop exited, carried on WorkflowCompleted.
type TerminationReason string

const (
	TerminationGoalAchieved    TerminationReason = "goal_achieved"
	TerminationMaxIterations   TerminationReason = "max_iterations"
	TerminationBudgetExceeded  TerminationReason = "budget_exceeded"
	TerminationCancelled       TerminationReason = "cancelled"
	TerminationActivityFailure TerminationReason = "activity_failure"
)

// Outcome is the workflow's return value: the full terminal state the
// engine records and the Task Service persists.
type Outcome struct {
	Success         bool
	FinalResponse   string
	TotalCostUSD    float64
	IterationsUsed  int
	TerminationReason TerminationReason
	Error           string
}
