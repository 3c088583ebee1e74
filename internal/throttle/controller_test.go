package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	budgetLo = 2 * time.Millisecond
	budgetHi = 20 * time.Millisecond
)

func TestBudget_EmptyQueueGetsMinimum(t *testing.T) {
	assert.Equal(t, budgetLo, Budget(0, 10, budgetLo, budgetHi, DefaultHorizon))
	assert.Equal(t, budgetLo, Budget(-3, 10, budgetLo, budgetHi, DefaultHorizon))
}

func TestBudget_Bounds(t *testing.T) {
	for _, pending := range []int{0, 1, 10, 1000, 1 << 20} {
		for _, tp := range []float64{0, 0.5, 5, 500} {
			got := Budget(pending, tp, budgetLo, budgetHi, DefaultHorizon)
			assert.GreaterOrEqual(t, got, budgetLo)
			assert.LessOrEqual(t, got, budgetHi)
		}
	}
}

func TestBudget_MaxBelowMin(t *testing.T) {
	assert.Equal(t, budgetLo, Budget(100, 1, budgetLo, time.Millisecond, DefaultHorizon))
}

func TestBudget_MonotonicInPending(t *testing.T) {
	for _, tp := range []float64{0, 1, 12.5, 300} {
		prev := time.Duration(0)
		for pending := 0; pending <= 5000; pending += 7 {
			got := Budget(pending, tp, budgetLo, budgetHi, DefaultHorizon)
			assert.GreaterOrEqual(t, got, prev, "pending=%d throughput=%v", pending, tp)
			prev = got
		}
	}
}

func TestBudget_HigherThroughputShrinksBudget(t *testing.T) {
	slow := Budget(50, 1, budgetLo, budgetHi, DefaultHorizon)
	fast := Budget(50, 100, budgetLo, budgetHi, DefaultHorizon)
	assert.Greater(t, slow, fast)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{BudgetMin: budgetLo})
	assert.Equal(t, DefaultAlpha, c.alpha)
	assert.Equal(t, DefaultHorizon, c.horizon)
	assert.Equal(t, budgetLo, c.BudgetMin())
}

func TestComputeBudget_TracksThroughput(t *testing.T) {
	c := New(Config{BudgetMin: budgetLo, Alpha: 0.5})

	c.ComputeBudget(10, 0, budgetHi)
	assert.Equal(t, 0.0, c.Throughput())

	c.ComputeBudget(10, 10, budgetHi)
	assert.InDelta(t, 5.0, c.Throughput(), 1e-9)

	c.ComputeBudget(10, 20, budgetHi)
	assert.InDelta(t, 7.5, c.Throughput(), 1e-9)
}

func TestComputeBudget_MonotonicForSameHistory(t *testing.T) {
	history := []int64{0, 4, 9, 15}

	prev := time.Duration(0)
	for pending := 0; pending < 400; pending += 13 {
		c := New(Config{BudgetMin: budgetLo})
		for _, processed := range history[:len(history)-1] {
			c.ComputeBudget(pending, processed, budgetHi)
		}
		got := c.ComputeBudget(pending, history[len(history)-1], budgetHi)

		assert.GreaterOrEqual(t, got, budgetLo)
		assert.LessOrEqual(t, got, budgetHi)
		assert.GreaterOrEqual(t, got, prev, "pending=%d", pending)
		prev = got
	}
}

func TestComputeBudget_CounterReset(t *testing.T) {
	c := New(Config{BudgetMin: budgetLo, Alpha: 1})
	c.ComputeBudget(0, 0, budgetHi)
	c.ComputeBudget(0, 100, budgetHi)
	assert.Equal(t, 100.0, c.Throughput())

	c.ComputeBudget(0, 5, budgetHi)
	assert.Equal(t, 0.0, c.Throughput())
}
