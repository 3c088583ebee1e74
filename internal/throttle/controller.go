// Package throttle adapts a bus's per-tick time budget to its backlog.
//
// Throughput is tracked as an exponential moving average of messages
// processed per tick. The budget grows with backlog pressure, the ratio of
// pending messages to what the bus recently managed to drain:
//
//	pressure = pending / (pending + horizon*throughput + 1)
//	budget   = min + (max-min)*pressure
//
// An empty queue gets the minimum budget, leaving the frame to rendering.
package throttle

import "time"

const (
	DefaultAlpha   = 0.2
	DefaultHorizon = 4.0
)

// Config tunes a Controller. Zero values select the defaults.
type Config struct {
	BudgetMin time.Duration
	Alpha     float64 // EMA weight of the newest throughput sample, (0,1]
	Horizon   float64 // ticks of throughput considered a comfortable backlog
}

// Controller computes the next tick budget. Not safe for concurrent use.
type Controller struct {
	budgetMin time.Duration
	alpha     float64
	horizon   float64

	throughput    float64
	lastProcessed int64
	primed        bool
}

// New creates a controller.
func New(cfg Config) *Controller {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.BudgetMin < 0 {
		cfg.BudgetMin = 0
	}
	return &Controller{
		budgetMin: cfg.BudgetMin,
		alpha:     cfg.Alpha,
		horizon:   cfg.Horizon,
	}
}

// ComputeBudget folds the processed counter into the throughput estimate and
// returns the budget for the next tick, within [BudgetMin, maxBudget].
// processed is the bus's lifetime counter; the controller diffs it.
func (c *Controller) ComputeBudget(pending int, processed int64, maxBudget time.Duration) time.Duration {
	delta := processed - c.lastProcessed
	if delta < 0 || !c.primed {
		// First sample, or the counter was reset under us.
		delta = 0
	}
	c.lastProcessed = processed

	if !c.primed {
		c.primed = true
	} else {
		c.throughput = c.alpha*float64(delta) + (1-c.alpha)*c.throughput
	}

	return Budget(pending, c.throughput, c.budgetMin, maxBudget, c.horizon)
}

// Throughput returns the smoothed messages-per-tick estimate.
func (c *Controller) Throughput() float64 { return c.throughput }

// BudgetMin returns the lower budget bound.
func (c *Controller) BudgetMin() time.Duration { return c.budgetMin }

// Budget is the stateless budget curve. It is non-decreasing in pending and
// returns a value in [lo, hi]; hi below lo is raised to lo.
func Budget(pending int, throughput float64, lo, hi time.Duration, horizon float64) time.Duration {
	if hi < lo {
		hi = lo
	}
	if pending <= 0 {
		return lo
	}
	if throughput < 0 {
		throughput = 0
	}

	p := float64(pending)
	pressure := p / (p + horizon*throughput + 1)
	return lo + time.Duration(float64(hi-lo)*pressure)
}
