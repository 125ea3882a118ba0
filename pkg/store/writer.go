package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SnapshotFunc produces the current state to persist. Called on the writer
// goroutine; implementations must take their own locks.
type SnapshotFunc func() *Snapshot

// Writer serialises snapshot writes and coalesces bursts: while a write is
// in flight, further Enqueue calls only mark the state dirty, and one more
// write runs when the in-flight one finishes. Write failures are retried
// with exponential backoff; in-memory state remains authoritative throughout.
type Writer struct {
	store    *Store
	snapshot SnapshotFunc

	mu      sync.Mutex
	dirty   bool
	writing bool
	closed  bool

	kick chan struct{}
	done chan struct{}
}

// NewWriter creates a writer that persists via store, pulling fresh state
// from snapshot on each write.
func NewWriter(store *Store, snapshot SnapshotFunc) *Writer {
	w := &Writer{
		store:    store,
		snapshot: snapshot,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue requests a snapshot write. Cheap and non-blocking; called after
// every observable state change. The send happens inside the critical
// section so it cannot race a concurrent Close of the kick channel.
func (w *Writer) Enqueue() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.dirty = true

	select {
	case w.kick <- struct{}{}:
	default: // a wakeup is already pending
	}
}

// Close flushes any pending write and stops the writer. The flush is capped
// by the context deadline; an unfinished write is abandoned.
func (w *Writer) Close(ctx context.Context) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.kick)
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-ctx.Done():
		slog.Warn("Snapshot writer close timed out, abandoning in-flight write")
	}
}

func (w *Writer) run() {
	defer close(w.done)

	for range w.kick {
		w.drain()
	}
	// Final flush on close.
	w.drain()
}

// drain writes until the dirty flag stays clear.
func (w *Writer) drain() {
	for {
		w.mu.Lock()
		if !w.dirty {
			w.mu.Unlock()
			return
		}
		w.dirty = false
		w.writing = true
		w.mu.Unlock()

		snap := w.snapshot()
		err := w.writeWithRetry(snap)

		w.mu.Lock()
		w.writing = false
		w.mu.Unlock()

		if err != nil {
			slog.Error("Snapshot write failed after retries", "error", err)
		}
	}
}

func (w *Writer) writeWithRetry(snap *Snapshot) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		if err := w.store.Write(snap); err != nil {
			slog.Warn("Snapshot write failed, retrying", "error", err)
			return err
		}
		return nil
	}, policy)
}
