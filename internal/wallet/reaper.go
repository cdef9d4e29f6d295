package wallet

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically removes expired idempotency records. The sweep is
// best-effort housekeeping; correctness of the mutation path never depends
// on it, since expired records are already treated as unseen.
type Reaper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
	stopped  chan struct{}
}

// NewReaper builds a reaper sweeping at the given interval.
func NewReaper(store Store, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	close(r.done)
	<-r.stopped
}

func (r *Reaper) run() {
	defer close(r.stopped)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	purged, err := r.store.PurgeExpiredIdempotency(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Warn("idempotency sweep failed", "error", err)
		return
	}
	if purged > 0 {
		r.logger.Info("purged expired idempotency records", "count", purged)
	}
}
