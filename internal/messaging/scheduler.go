package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dayuer/scenebus/internal/bus"
)

var ErrUnknownBus = errors.New("unknown bus id")

// SessionKey names one messaging system: a scene and one of its buses.
// Global messages (parcel loads, unload-all) use an empty SceneID.
type SessionKey struct {
	SceneID string
	BusID   string
}

func (k SessionKey) String() string {
	if k.SceneID == "" {
		return "global/" + k.BusID
	}
	return k.SceneID + "/" + k.BusID
}

// BusConfig holds the budget bounds for systems created on one bus id.
type BusConfig struct {
	BudgetMin time.Duration
	BudgetMax time.Duration
	Throttle  bool
}

// DefaultBuses returns the budget layout for the three bus ids.
func DefaultBuses() map[string]BusConfig {
	return map[string]BusConfig{
		BusInit:   {BudgetMin: 1 * time.Millisecond, BudgetMax: 8 * time.Millisecond},
		BusSystem: {BudgetMin: 1 * time.Millisecond, BudgetMax: 4 * time.Millisecond, Throttle: true},
		BusUI:     {BudgetMin: 500 * time.Microsecond, BudgetMax: 2 * time.Millisecond, Throttle: true},
	}
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Handler bus.Handler
	Buses   map[string]BusConfig // defaults to DefaultBuses()

	ThrottleAlpha   float64
	ThrottleHorizon float64

	Clock    bus.Clock
	Observer bus.Observer
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdUnloadScene
	cmdUnloadAll
)

type command struct {
	kind    commandKind
	key     SessionKey
	msg     bus.QueuedMessage
	mode    bus.QueueMode
	sceneID string
}

// Scheduler is the per-frame driver for every active messaging system.
//
// Systems are ticked in activation order and share the frame: each one is
// told how much the earlier ones consumed. Submit and UnloadScene may be
// called from any goroutine; they are buffered and applied at the start of
// the next frame, so queues and buses are only touched by the goroutine
// running Frame.
type Scheduler struct {
	handler  bus.Handler
	clock    bus.Clock
	observer bus.Observer
	alpha    float64
	horizon  float64

	mu    sync.Mutex
	buses map[string]BusConfig
	inbox []command

	frameMu sync.Mutex
	systems map[SessionKey]*System
	order   []SessionKey
	frames  int64

	statsMu  sync.RWMutex
	snapshot []Stats
	lastCost time.Duration
	costs    *costWindow
}

// FrameCostWindow is the span FrameCostSummary averages over.
const FrameCostWindow = time.Minute

// NewScheduler creates a scheduler with no active sessions.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Handler == nil {
		return nil, bus.ErrNilHandler
	}
	if len(cfg.Buses) == 0 {
		cfg.Buses = DefaultBuses()
	}
	if cfg.Observer == nil {
		cfg.Observer = bus.NopObserver{}
	}

	buses := make(map[string]BusConfig, len(cfg.Buses))
	for id, bc := range cfg.Buses {
		buses[id] = bc
	}
	windowClock := cfg.Clock
	if windowClock == nil {
		windowClock = bus.SystemClock{}
	}

	return &Scheduler{
		handler:  cfg.Handler,
		clock:    cfg.Clock,
		observer: cfg.Observer,
		alpha:    cfg.ThrottleAlpha,
		horizon:  cfg.ThrottleHorizon,
		buses:    buses,
		systems:  make(map[SessionKey]*System),
		costs:    newCostWindow(FrameCostWindow, windowClock),
	}, nil
}

// Submit queues msg for the session named by key. The session is created on
// first use.
func (s *Scheduler) Submit(key SessionKey, msg bus.QueuedMessage, mode bus.QueueMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buses[key.BusID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBus, key.BusID)
	}
	s.inbox = append(s.inbox, command{kind: cmdSubmit, key: key, msg: msg, mode: mode})
	return nil
}

// UnloadScene disposes every session of sceneID at the start of the next frame.
func (s *Scheduler) UnloadScene(sceneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, command{kind: cmdUnloadScene, sceneID: sceneID})
}

// UnloadAll disposes every scene session, keeping the global ones.
func (s *Scheduler) UnloadAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, command{kind: cmdUnloadAll})
}

// SetBuses replaces the bus layout. Budgets are fixed per system at
// construction, so only sessions created afterwards see the change.
func (s *Scheduler) SetBuses(buses map[string]BusConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buses = make(map[string]BusConfig, len(buses))
	for id, bc := range buses {
		s.buses[id] = bc
	}
}

// Frame applies buffered commands and ticks every system once, in activation
// order. It returns the total time consumed. Faults in one session are
// logged and joined into the returned error; the other sessions still tick.
func (s *Scheduler) Frame(ctx context.Context) (time.Duration, error) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	s.mu.Lock()
	cmds := s.inbox
	s.inbox = nil
	buses := s.buses
	s.mu.Unlock()

	var errs []error
	for _, cmd := range cmds {
		if err := s.apply(cmd, buses); err != nil {
			errs = append(errs, err)
		}
	}

	var consumed time.Duration
	for _, key := range s.order {
		spent, err := s.systems[key].Tick(ctx, consumed)
		consumed += spent
		if err != nil {
			log.Printf("[Scheduler] ⚠️ %s tick failed: %v", key, err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	s.frames++

	s.publish(consumed)
	s.costs.Record(consumed)
	return consumed, errors.Join(errs...)
}

func (s *Scheduler) apply(cmd command, buses map[string]BusConfig) error {
	switch cmd.kind {
	case cmdSubmit:
		sys, err := s.getOrCreate(cmd.key, buses)
		if err != nil {
			return err
		}
		sys.Enqueue(cmd.msg, cmd.mode)
	case cmdUnloadScene:
		s.remove(func(k SessionKey) bool { return k.SceneID == cmd.sceneID })
	case cmdUnloadAll:
		s.remove(func(k SessionKey) bool { return k.SceneID != "" })
	}
	return nil
}

// getOrCreate returns the system for key, creating it on first use.
func (s *Scheduler) getOrCreate(key SessionKey, buses map[string]BusConfig) (*System, error) {
	if sys, ok := s.systems[key]; ok {
		return sys, nil
	}

	bc, ok := buses[key.BusID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBus, key.BusID)
	}

	sys, err := NewSystem(SystemConfig{
		ID:              key.String(),
		Handler:         s.handler,
		BudgetMin:       bc.BudgetMin,
		BudgetMax:       bc.BudgetMax,
		Throttle:        bc.Throttle,
		ThrottleAlpha:   s.alpha,
		ThrottleHorizon: s.horizon,
		Clock:           s.clock,
		Observer:        s.observer,
	})
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", key, err)
	}

	s.systems[key] = sys
	s.order = append(s.order, key)
	log.Printf("[Scheduler] Session %s created (throttled=%v)", key, sys.IsThrottled())
	return sys, nil
}

func (s *Scheduler) remove(match func(SessionKey) bool) {
	kept := s.order[:0]
	for _, key := range s.order {
		if !match(key) {
			kept = append(kept, key)
			continue
		}
		s.systems[key].Dispose()
		delete(s.systems, key)
		log.Printf("[Scheduler] Session %s disposed", key)
	}
	s.order = kept
}

func (s *Scheduler) publish(consumed time.Duration) {
	stats := make([]Stats, 0, len(s.order))
	for _, key := range s.order {
		st := s.systems[key].Stats()
		st.SceneID = key.SceneID
		st.BusID = key.BusID
		stats = append(stats, st)
	}

	s.statsMu.Lock()
	s.snapshot = stats
	s.lastCost = consumed
	s.statsMu.Unlock()
}

// Run calls Frame every interval until ctx is done, then disposes every
// session.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.Close()

	log.Printf("[Scheduler] ✅ Running, frame interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Faults are logged per session inside Frame.
			s.Frame(ctx)
		}
	}
}

// Close disposes every session.
func (s *Scheduler) Close() {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	s.remove(func(SessionKey) bool { return true })
	s.publish(0)
}

// Sessions returns the active session keys in tick order.
func (s *Scheduler) Sessions() []SessionKey {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	out := make([]SessionKey, len(s.order))
	copy(out, s.order)
	return out
}

// Snapshot returns the stats published after the last frame.
func (s *Scheduler) Snapshot() []Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	out := make([]Stats, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// LastFrameCost returns the time the last frame consumed.
func (s *Scheduler) LastFrameCost() time.Duration {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.lastCost
}

// FrameCostSummary returns the mean and peak frame cost over the last
// FrameCostWindow, with the number of frames it covers.
func (s *Scheduler) FrameCostSummary() (avg, peak time.Duration, frames int) {
	return s.costs.Summary()
}
