package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// storeWriter runs database writes in submission order on its own
// goroutine, so controller callbacks never wait on sqlite.
type storeWriter struct {
	mu     sync.Mutex
	jobs   chan func(context.Context)
	closed bool
	done   chan struct{}

	timeout time.Duration
	logger  *slog.Logger
}

func newStoreWriter(buffer int, timeout time.Duration, logger *slog.Logger) *storeWriter {
	w := &storeWriter{
		jobs:    make(chan func(context.Context), buffer),
		done:    make(chan struct{}),
		timeout: timeout,
		logger:  logger,
	}
	go w.run()
	return w
}

func (w *storeWriter) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		job(ctx)
		cancel()
	}
}

// Submit queues job without blocking. It reports false when the queue is
// full or the writer has been closed.
func (w *storeWriter) Submit(job func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		w.logger.Warn("store queue full, dropping write")
		return false
	}
}

// Close stops accepting jobs and waits up to wait for queued ones to finish.
func (w *storeWriter) Close(wait time.Duration) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(wait):
		w.logger.Warn("store writes still pending at exit")
	}
}
