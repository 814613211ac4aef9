// Package readiness polls a probe until the terminal host reports that it
// is ready, giving up after a fixed wall-clock bound.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultTimeout  = 120 * time.Second
)

var ErrTimeout = errors.New("readiness: timed out")

// Probe reports whether the target is ready. An error counts as not ready.
type Probe func(ctx context.Context) (bool, error)

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timer interface {
	C() <-chan time.Time
	Stop() bool
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

type stdTimer struct{ t *time.Timer }

func (s stdTimer) C() <-chan time.Time { return s.t.C }
func (s stdTimer) Stop() bool          { return s.t.Stop() }

// Overridden in tests to observe that both are released.
var (
	newTicker = func(d time.Duration) ticker { return stdTicker{time.NewTicker(d)} }
	newTimer  = func(d time.Duration) timer { return stdTimer{time.NewTimer(d)} }
)

// Wait calls probe immediately and then every interval until it reports
// ready. It returns ErrTimeout once opts.Timeout has elapsed, or the
// context error if ctx ends first. The context passed to probe expires at
// the same deadline, so a hung probe cannot extend the wait.
func Wait(ctx context.Context, probe Probe, opts Options) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	deadline := newTimer(opts.Timeout)
	defer deadline.Stop()
	tick := newTicker(opts.Interval)
	defer tick.Stop()

	attempt := 0
	expired := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Warn("gave up waiting for readiness", "timeout", opts.Timeout, "attempts", attempt)
		return fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)
	}

	for {
		attempt++
		ready, err := probe(pctx)
		if err != nil {
			logger.Debug("readiness probe failed", "attempt", attempt, "error", err)
		} else if ready {
			logger.Debug("target ready", "attempts", attempt)
			return nil
		}

		// the deadline wins over a tick that is also ready
		if pctx.Err() != nil {
			return expired()
		}
		select {
		case <-deadline.C():
			return expired()
		default:
		}

		select {
		case <-pctx.Done():
			return expired()
		case <-deadline.C():
			return expired()
		case <-tick.C():
		}
	}
}

// HTTPProbe reports ready when a GET on url answers with a 2xx status.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Errorf("build health request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return false, fmt.Errorf("health check returned %s", resp.Status)
		}
		return true, nil
	}
}
