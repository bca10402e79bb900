package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentexec/core/runtime/budget"
)

func TestAccrueIsMonotonic(t *testing.T) {
	b := budget.New(10)
	b.Accrue(1.5)
	b.Accrue(2.5)
	b.Accrue(-100) // negative cost never decreases the total
	require.Equal(t, 4.0, b.State().AccruedUSD)
}

func TestWarningFiresOnceAtEightyPercent(t *testing.T) {
	b := budget.New(10)
	assert.False(t, b.ShouldWarn())

	b.Accrue(8)
	assert.True(t, b.ShouldWarn())
	b.MarkWarningSent()
	assert.False(t, b.ShouldWarn(), "warning must fire exactly once")

	b.Accrue(0.5)
	assert.False(t, b.ShouldWarn())
}

func TestZeroBudgetExceededImmediately(t *testing.T) {
	b := budget.New(0)
	assert.False(t, b.IsExceeded())
	b.Accrue(0.01)
	assert.True(t, b.IsExceeded())
}

func TestRemainingNeverNegative(t *testing.T) {
	b := budget.New(1)
	b.Accrue(5)
	assert.Equal(t, 0.0, b.Remaining())
}
