package redis

import (
	"context"
	"log"
	"time"

	"github.com/dayuer/scenebus/internal/messaging"
)

// Snapshotter provides the stats to publish.
type Snapshotter interface {
	Snapshot() []messaging.Stats
}

// Reporter periodically publishes scheduler snapshots.
type Reporter struct {
	store    *Store
	source   Snapshotter
	interval time.Duration
	ttl      time.Duration
}

// NewReporter creates a reporter. Non-positive durations use defaults.
func NewReporter(store *Store, source Snapshotter, interval, ttl time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reporter{store: store, source: source, interval: interval, ttl: ttl}
}

// Run publishes every interval until ctx is done. Returns immediately when
// the store is not connected.
func (r *Reporter) Run(ctx context.Context) {
	if !r.store.Available() {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("[Redis] Reporting stats every %s", r.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReportOnce(ctx)
		}
	}
}

// ReportOnce publishes the current snapshot.
func (r *Reporter) ReportOnce(ctx context.Context) int {
	n, err := r.store.PublishStats(ctx, r.source.Snapshot(), r.ttl)
	if err != nil {
		return 0
	}
	return n
}
