// Package messaging wires buses and throttlers into per-scene messaging
// systems and schedules them against a shared per-frame time budget.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dayuer/scenebus/internal/bus"
	"github.com/dayuer/scenebus/internal/throttle"
)

// Bus ids. Every scene gets one messaging system per bus id.
const (
	BusInit   = "INIT"
	BusSystem = "SYSTEM"
	BusUI     = "UI"
)

const (
	DefaultBudgetMin = 10 * time.Millisecond
	DefaultBudgetMax = 100 * time.Millisecond
)

var ErrInvalidBudget = errors.New("invalid budget bounds")

// SystemConfig configures a System.
type SystemConfig struct {
	ID        string
	Handler   bus.Handler
	BudgetMin time.Duration // defaults to DefaultBudgetMin
	BudgetMax time.Duration // defaults to DefaultBudgetMax
	Throttle  bool

	ThrottleAlpha   float64
	ThrottleHorizon float64

	Clock    bus.Clock
	Observer bus.Observer
}

// System is the messaging facade for one scene session: one bus, and a
// throttler when throttling is enabled.
type System struct {
	id        string
	bus       *bus.MessageBus
	throttler *throttle.Controller
	observer  bus.Observer
	budgetMin time.Duration
	budgetMax time.Duration
}

// NewSystem creates a System. A nil handler fails with bus.ErrNilHandler.
func NewSystem(cfg SystemConfig) (*System, error) {
	if cfg.BudgetMin == 0 {
		cfg.BudgetMin = DefaultBudgetMin
	}
	if cfg.BudgetMax == 0 {
		cfg.BudgetMax = DefaultBudgetMax
	}
	if cfg.BudgetMin < 0 || cfg.BudgetMax < cfg.BudgetMin {
		return nil, fmt.Errorf("%w: min=%s max=%s", ErrInvalidBudget, cfg.BudgetMin, cfg.BudgetMax)
	}
	if cfg.Observer == nil {
		cfg.Observer = bus.NopObserver{}
	}

	b, err := bus.New(bus.Options{
		ID:        cfg.ID,
		Handler:   cfg.Handler,
		BudgetMax: cfg.BudgetMax,
		Clock:     cfg.Clock,
		Observer:  cfg.Observer,
	})
	if err != nil {
		return nil, err
	}

	s := &System{
		id:        cfg.ID,
		bus:       b,
		observer:  cfg.Observer,
		budgetMin: cfg.BudgetMin,
		budgetMax: cfg.BudgetMax,
	}
	if cfg.Throttle {
		s.throttler = throttle.New(throttle.Config{
			BudgetMin: cfg.BudgetMin,
			Alpha:     cfg.ThrottleAlpha,
			Horizon:   cfg.ThrottleHorizon,
		})
	}
	return s, nil
}

// Tick sets this tick's budget, drains the bus once and returns the time it
// consumed. prior is what earlier sessions already spent this frame.
func (s *System) Tick(ctx context.Context, prior time.Duration) (time.Duration, error) {
	maxBudget := s.budgetMax - prior
	if maxBudget < s.budgetMin {
		maxBudget = s.budgetMin
	}

	budget := maxBudget
	if s.throttler != nil {
		budget = s.throttler.ComputeBudget(s.bus.PendingCount(), s.bus.ProcessedMessagesCount(), maxBudget)
	}
	s.bus.SetTimeBudget(budget)

	if err := s.bus.Tick(ctx); err != nil {
		if errors.Is(err, bus.ErrStopped) {
			return 0, err
		}
		return s.bus.LastTimeConsumed(), err
	}
	return s.bus.LastTimeConsumed(), nil
}

// Enqueue queues msg. Lossy messages coalesce on (tag, scene id). Reports
// whether a new queue slot was taken; only then is the observer told.
func (s *System) Enqueue(msg bus.QueuedMessage, mode bus.QueueMode) bool {
	appended := true
	if mode == bus.Lossy {
		appended = s.bus.Pending().EnqueueLossy(msg, msg.Key())
	} else {
		s.bus.Pending().EnqueueReliable(msg)
	}

	if appended && msg.Kind == bus.KindSceneMessage {
		s.observer.MessageWillBeQueued(msg.Method)
	}
	return appended
}

// Dispose stops the bus permanently.
func (s *System) Dispose() {
	s.bus.Dispose()
}

// ID returns the session id.
func (s *System) ID() string { return s.id }

// IsThrottled reports whether budgets come from a throttler.
func (s *System) IsThrottled() bool { return s.throttler != nil }

// Bus exposes the underlying bus.
func (s *System) Bus() *bus.MessageBus { return s.bus }

// Stats is a point-in-time view of a session.
type Stats struct {
	ID                 string    `json:"id"`
	SceneID            string    `json:"sceneId"`
	BusID              string    `json:"busId"`
	Pending            int       `json:"pending"`
	Processed          int64     `json:"processed"`
	Rejected           int64     `json:"rejected"`
	Replaced           int       `json:"replaced"`
	TimeBudgetMs       float64   `json:"timeBudgetMs"`
	LastTimeConsumedMs float64   `json:"lastTimeConsumedMs"`
	Throttled          bool      `json:"throttled"`
	State              string    `json:"state"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Stats snapshots the session counters.
func (s *System) Stats() Stats {
	return Stats{
		ID:                 s.id,
		Pending:            s.bus.PendingCount(),
		Processed:          s.bus.ProcessedMessagesCount(),
		Rejected:           s.bus.RejectedMessagesCount(),
		Replaced:           s.bus.Pending().Replaced(),
		TimeBudgetMs:       ms(s.bus.TimeBudget()),
		LastTimeConsumedMs: ms(s.bus.LastTimeConsumed()),
		Throttled:          s.IsThrottled(),
		State:              s.bus.State().String(),
		UpdatedAt:          time.Now(),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
