package bus

import (
	"context"
	"sync"
)

// Handler executes dispatched messages. It is the scene runtime the bus feeds.
type Handler interface {
	// ProcessSceneMessage runs a scene script message. A non-nil Continuation
	// holds the drain loop until it completes.
	ProcessSceneMessage(ctx context.Context, msg SceneMessage) (accepted bool, cont Continuation, err error)
	LoadParcel(payload string) error
	UpdateParcel(payload string) error
	UnloadParcel(payload string) error
	UnloadAllScenes() error
}

// Continuation is handler work that outlives the synchronous dispatch call.
type Continuation interface {
	// Done is closed when the work has finished.
	Done() <-chan struct{}
	// Err reports the outcome once Done is closed.
	Err() error
}

// Observer is notified around queue transitions. Calls are fire-and-forget.
type Observer interface {
	MessageWillBeQueued(method string)
	MessageWillBeDequeued(method string)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) MessageWillBeQueued(string)   {}
func (NopObserver) MessageWillBeDequeued(string) {}

// Task is a Continuation completed by Complete or by the function passed to Go.
type Task struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewTask creates an incomplete task.
func NewTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Go runs fn on its own goroutine and returns a task completed with its result.
func Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := NewTask()
	go func() {
		t.Complete(fn(ctx))
	}()
	return t
}

// Complete finishes the task. Later calls are ignored.
func (t *Task) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the completion error. Only meaningful once Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
