package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultReapInterval is how often SQL-backed stores delete expired rows.
const DefaultReapInterval = time.Hour

// reapTimeout bounds a single delete pass.
const reapTimeout = 5 * time.Minute

// ReapFunc deletes expired rows and reports how many were removed.
type ReapFunc func(ctx context.Context) (int64, error)

// Reaper runs a ReapFunc once on start and then on every interval tick until
// stopped. Stores that keep expiry in a column (SQLite, PostgreSQL) use it
// as their reclamation loop; MongoDB relies on TTL indexes instead.
type Reaper struct {
	name     string
	interval time.Duration
	fn       ReapFunc

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartReaper launches the loop. name labels log lines, e.g. "response_cache".
func StartReaper(name string, interval time.Duration, fn ReapFunc) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	r := &Reaper{
		name:     name,
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Reaper) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runOnce()
	for {
		select {
		case <-ticker.C:
			r.runOnce()
		case <-r.stop:
			return
		}
	}
}

func (r *Reaper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()

	n, err := r.fn(ctx)
	if err != nil {
		slog.Error("failed to reap expired rows", "table", r.name, "error", err)
		return
	}
	if n > 0 {
		slog.Info("reaped expired rows", "table", r.name, "deleted", n)
	}
}

// Stop ends the loop and waits for an in-flight pass to finish.
// Safe to call multiple times and on a nil Reaper.
func (r *Reaper) Stop() {
	if r == nil {
		return
	}
	r.once.Do(func() { close(r.stop) })
	<-r.done
}
