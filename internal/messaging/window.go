package messaging

import (
	"sync"
	"time"

	"github.com/dayuer/scenebus/internal/bus"
)

// costWindow tracks frame costs over a sliding time window.
type costWindow struct {
	mu      sync.Mutex
	clock   bus.Clock
	window  time.Duration
	entries []costEntry
}

type costEntry struct {
	ts   time.Time
	cost time.Duration
}

func newCostWindow(window time.Duration, clock bus.Clock) *costWindow {
	return &costWindow{
		clock:   clock,
		window:  window,
		entries: make([]costEntry, 0, 128),
	}
}

// Record adds a frame cost sample.
func (w *costWindow) Record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim()
	w.entries = append(w.entries, costEntry{ts: w.clock.Now(), cost: d})
}

// Summary returns the mean and peak cost and the number of frames inside
// the window.
func (w *costWindow) Summary() (avg, peak time.Duration, count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim()

	if len(w.entries) == 0 {
		return 0, 0, 0
	}
	var total time.Duration
	for _, e := range w.entries {
		total += e.cost
		if e.cost > peak {
			peak = e.cost
		}
	}
	return total / time.Duration(len(w.entries)), peak, len(w.entries)
}

// trim drops expired entries from the front.
func (w *costWindow) trim() {
	cutoff := w.clock.Now().Add(-w.window)
	start := 0
	for start < len(w.entries) && w.entries[start].ts.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.entries = append(w.entries[:0], w.entries[start:]...)
	}
}
