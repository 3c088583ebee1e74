package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNilHandler = errors.New("message handler can't be nil")
	ErrDispatch   = errors.New("dispatch failed")
	ErrStopped    = errors.New("message bus stopped")
)

// State is the drain loop state.
type State int32

const (
	StateIdle State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a MessageBus.
type Options struct {
	ID        string // used in logs only
	Handler   Handler
	BudgetMax time.Duration
	Clock     Clock    // defaults to SystemClock
	Observer  Observer // defaults to NopObserver
}

// MessageBus drains its pending queue once per Tick, dispatching messages to
// the handler until the tick's time budget is spent.
type MessageBus struct {
	id        string
	handler   Handler
	clock     Clock
	observer  Observer
	budgetMax time.Duration
	pending   *Queue

	timeBudget       time.Duration
	processed        int64
	rejected         int64
	lastTimeConsumed time.Duration

	state    atomic.Int32
	drainMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an idle bus. A nil handler is a configuration error.
func New(opts Options) (*MessageBus, error) {
	if opts.Handler == nil {
		return nil, ErrNilHandler
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	return &MessageBus{
		id:        opts.ID,
		handler:   opts.Handler,
		clock:     opts.Clock,
		observer:  opts.Observer,
		budgetMax: opts.BudgetMax,
		pending:   NewQueue(),
		stopCh:    make(chan struct{}),
	}, nil
}

// Tick runs one drain pass: pop and dispatch until the elapsed time reaches
// TimeBudget or the queue is empty. A scene message that returns a
// continuation holds the loop until the continuation is done, so that one
// message may overrun the budget.
//
// Handler faults end the pass immediately and are returned wrapped in
// ErrDispatch. The faulted message still counts as processed.
func (b *MessageBus) Tick(ctx context.Context) error {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	if !b.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		return ErrStopped
	}

	start := b.clock.Now()
	budget := b.timeBudget
	defer func() {
		b.lastTimeConsumed = b.clock.Now().Sub(start)
		b.state.CompareAndSwap(int32(StateDraining), int32(StateIdle))
	}()

	for b.clock.Now().Sub(start) < budget && b.pending.Len() > 0 {
		if b.stopping() {
			return nil
		}

		msg, _ := b.pending.PopFront()
		b.processed++

		if err := b.dispatch(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *MessageBus) dispatch(ctx context.Context, msg QueuedMessage) error {
	var err error

	switch msg.Kind {
	case KindSceneMessage:
		var (
			accepted bool
			cont     Continuation
		)
		accepted, cont, err = b.handler.ProcessSceneMessage(ctx, SceneMessage{
			SceneID: msg.SceneID,
			Tag:     msg.Tag,
			Method:  msg.Method,
			Payload: msg.Payload,
		})
		if err == nil && !accepted {
			b.rejected++
		}
		if err == nil && cont != nil {
			if err = b.await(ctx, cont); errors.Is(err, ErrStopped) {
				// Abandoned by Dispose: never reported as dequeued.
				return nil
			}
		}
	case KindLoadParcel:
		err = b.handler.LoadParcel(msg.Payload)
	case KindUpdateParcel:
		err = b.handler.UpdateParcel(msg.Payload)
	case KindUnloadParcel:
		err = b.handler.UnloadParcel(msg.Payload)
	case KindUnloadScenes:
		err = b.handler.UnloadAllScenes()
	default:
		// None and SceneStarted carry no work.
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrDispatch, msg.Kind, msg.DequeueName(), err)
	}

	b.observer.MessageWillBeDequeued(msg.DequeueName())
	return nil
}

// await blocks until cont finishes. Disposal releases the wait with
// ErrStopped; cancelling the continuation itself is the handler's business.
func (b *MessageBus) await(ctx context.Context, cont Continuation) error {
	select {
	case <-cont.Done():
		return cont.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopCh:
		return ErrStopped
	}
}

func (b *MessageBus) stopping() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// Dispose stops the bus permanently. The in-flight dispatch, if any, finishes
// its synchronous part first; Dispose returns once the drain pass has exited.
// Safe to call more than once and from any goroutine, but not from inside a
// Handler call on this bus.
func (b *MessageBus) Dispose() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.drainMu.Lock()
		b.state.Store(int32(StateStopped))
		b.drainMu.Unlock()

		if b.pending.Len() > 0 {
			log.Printf("[Bus] %s stopped with %d pending messages", b.id, b.pending.Len())
		}
	})
}

// Pending returns the queue the bus drains.
func (b *MessageBus) Pending() *Queue { return b.pending }

// PendingCount returns the queue length.
func (b *MessageBus) PendingCount() int { return b.pending.Len() }

// TimeBudget returns the allowance for the next tick.
func (b *MessageBus) TimeBudget() time.Duration { return b.timeBudget }

// SetTimeBudget sets the allowance for the next tick.
func (b *MessageBus) SetTimeBudget(d time.Duration) { b.timeBudget = d }

// BudgetMax returns the upper budget bound fixed at construction.
func (b *MessageBus) BudgetMax() time.Duration { return b.budgetMax }

// ProcessedMessagesCount returns the lifetime number of popped messages.
func (b *MessageBus) ProcessedMessagesCount() int64 { return b.processed }

// RejectedMessagesCount returns how many scene messages the handler declined.
func (b *MessageBus) RejectedMessagesCount() int64 { return b.rejected }

// LastTimeConsumed returns the wall-clock time the last tick spent draining.
func (b *MessageBus) LastTimeConsumed() time.Duration { return b.lastTimeConsumed }

// State returns the current drain state.
func (b *MessageBus) State() State { return State(b.state.Load()) }
