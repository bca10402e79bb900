// Package budget implements the per-task cost ledger used by the reasoning
// loop: it accumulates LLM call cost against a task's budget and signals
// the warning/exceeded thresholds the workflow must react to.
package budget

import "sync"

// warnThreshold is the fraction of limit_usd at which a one-time warning
// fires, per the task's budget state contract.
const warnThreshold = 0.8

// State is the durable, replay-safe snapshot of a Tracker. Workflows persist
// this directly as part of their own state (§9 "Budget accounting owned by
// workflow state") rather than delegating to an external service, so it
// must marshal cleanly and contain no unexported fields.
type State struct {
	LimitUSD    float64 `json:"limit_usd"`
	AccruedUSD  float64 `json:"accrued_usd"`
	WarningSent bool    `json:"warning_sent"`
}

// Tracker accrues cost for a single task execution and reports threshold
// crossings. It is not safe for concurrent use across goroutines by design:
// a reasoning loop workflow is single-threaded, so Tracker carries no
// internal locking. Use NewConcurrent for call sites (e.g. a dashboard
// reading live state from another goroutine) that need synchronization.
type Tracker struct {
	state State
}

// New creates a Tracker with the given budget limit in USD.
func New(limitUSD float64) *Tracker {
	return &Tracker{state: State{LimitUSD: limitUSD}}
}

// FromState restores a Tracker from a previously persisted State, e.g. after
// a workflow replay.
func FromState(s State) *Tracker {
	return &Tracker{state: s}
}

// State returns a snapshot of the current budget state for persistence.
func (t *Tracker) State() State {
	return t.state
}

// Accrue adds cost (USD) to the running total. cost_accrued is monotonic:
// negative costs are clamped to zero and never decrease the total.
func (t *Tracker) Accrue(cost float64) {
	if cost <= 0 {
		return
	}
	t.state.AccruedUSD += cost
}

// ShouldWarn reports whether accrued cost has crossed the warning threshold
// (80% of the limit) and a warning has not yet been sent. Callers that act
// on a true result must call MarkWarningSent so the warning fires exactly
// once, per the spec's "fires once" invariant.
func (t *Tracker) ShouldWarn() bool {
	if t.state.WarningSent {
		return false
	}
	if t.state.LimitUSD <= 0 {
		return t.state.AccruedUSD > 0
	}
	return t.state.AccruedUSD >= warnThreshold*t.state.LimitUSD
}

// MarkWarningSent records that the warning event has been published, so
// ShouldWarn never returns true again for this tracker.
func (t *Tracker) MarkWarningSent() {
	t.state.WarningSent = true
}

// IsExceeded reports whether accrued cost has reached or passed the limit.
// A limit of 0.0 is exceeded by any positive accrual, matching the
// "budget set to 0.0" boundary scenario.
func (t *Tracker) IsExceeded() bool {
	if t.state.LimitUSD <= 0 {
		return t.state.AccruedUSD > 0
	}
	return t.state.AccruedUSD >= t.state.LimitUSD
}

// Remaining returns the budget still available; it is never negative.
func (t *Tracker) Remaining() float64 {
	r := t.state.LimitUSD - t.state.AccruedUSD
	if r < 0 {
		return 0
	}
	return r
}

// Concurrent wraps a Tracker with a mutex for call sites outside the
// single-threaded workflow body (e.g. a Task Service snapshot read).
type Concurrent struct {
	mu sync.RWMutex
	t  *Tracker
}

// NewConcurrent wraps an existing Tracker for concurrent read access.
func NewConcurrent(t *Tracker) *Concurrent {
	return &Concurrent{t: t}
}

// Snapshot returns the current budget state under a read lock.
func (c *Concurrent) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t.State()
}

// Accrue adds cost under a write lock.
func (c *Concurrent) Accrue(cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t.Accrue(cost)
}
