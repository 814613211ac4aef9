package terminal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/user/termctl/internal/wsconn"
)

// outbox serializes writes to a channel on its own goroutine so the
// controller loop never waits on the network. Messages are sent in push
// order; the channel is closed once the queue drains after close.
type outbox struct {
	ch     wsconn.Channel
	name   string
	queue  chan any
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newOutbox(ch wsconn.Channel, name string, logger *slog.Logger) *outbox {
	o := &outbox{
		ch:     ch,
		name:   name,
		queue:  make(chan any, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go o.pump()
	return o
}

func (o *outbox) push(msg any) bool {
	select {
	case o.queue <- msg:
		return true
	default:
		o.logger.Warn("send queue full, dropping message", "channel", o.name)
		return false
	}
}

func (o *outbox) close() {
	o.once.Do(func() { close(o.queue) })
}

func (o *outbox) pump() {
	defer close(o.done)
	defer func() { _ = o.ch.Close() }()
	for msg := range o.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := o.ch.Send(ctx, msg)
		cancel()
		if err != nil {
			o.logger.Warn("send failed", "channel", o.name, "error", err)
		}
	}
}
