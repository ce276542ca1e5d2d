package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"infergate/internal/observability"
)

// Recorder accepts usage entries. Record must never block request handling.
type Recorder interface {
	Record(entry *UsageEntry)
	Enabled() bool
	Close() error
}

// Logger buffers entries in a channel and writes them to the store in
// batches, when the batch is full or on every flush interval.
type Logger struct {
	store         UsageStore
	config        Config
	buffer        chan *UsageEntry
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // in-flight Record calls
	flushInterval time.Duration
	closed        atomic.Bool
	dropped       atomic.Int64
}

// NewLogger creates a Logger and starts its flush goroutine.
func NewLogger(store UsageStore, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		config:        cfg,
		buffer:        make(chan *UsageEntry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Record queues entry without blocking. Entries are dropped with a warning
// when the buffer is full or the logger is closed.
func (l *Logger) Record(entry *UsageEntry) {
	if entry == nil || l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have run between the first check and Add.
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		l.dropped.Add(1)
		observability.UsageRecords.WithLabelValues("dropped").Inc()
		slog.Warn("usage buffer full, dropping entry",
			"request_id", entry.RequestID,
			"model", entry.Model,
		)
	}
}

// Enabled reports true; disabled tracking uses NoopRecorder.
func (l *Logger) Enabled() bool { return true }

// Dropped returns how many entries were discarded because the buffer was full.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Close stops the logger, flushes remaining entries and closes the store.
// It is idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writes.Wait()
	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*UsageEntry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*UsageEntry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*UsageEntry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			// closed is already set, so nothing sends on buffer any more
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*UsageEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := l.store.WriteBatch(ctx, batch)
	failed := 0
	var partial *PartialWriteError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		failed = partial.Failed
	default:
		failed = len(batch)
	}

	observability.UsageRecords.WithLabelValues("written").Add(float64(len(batch) - failed))
	if failed > 0 {
		observability.UsageRecords.WithLabelValues("failed").Add(float64(failed))
		slog.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
			"failed", failed,
		)
	}
}

// NoopRecorder discards entries (used when usage tracking is disabled)
type NoopRecorder struct{}

// Record does nothing
func (NoopRecorder) Record(*UsageEntry) {}

// Enabled reports false
func (NoopRecorder) Enabled() bool { return false }

// Close does nothing
func (NoopRecorder) Close() error { return nil }
