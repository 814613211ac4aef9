// Package wsconn provides JSON-framed message channels over websockets.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	readLimit           = 1 << 20
)

var ErrClosed = errors.New("wsconn: channel closed")

// Channel is an ordered, bidirectional stream of JSON messages.
type Channel interface {
	// Send encodes v as one JSON text frame.
	Send(ctx context.Context, v any) error
	// Receive blocks until the next frame arrives.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the channel. It is safe to call more than once.
	Close() error
}

type Options struct {
	Token        string
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Conn is a Channel backed by a websocket connection.
type Conn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a websocket to rawURL. A non-empty token is passed as the
// "token" query parameter.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	target, err := withToken(rawURL, opts.Token)
	if err != nil {
		return nil, err
	}

	ws, resp, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", rawURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	ws.SetReadLimit(readLimit)

	c := newConn(ws, opts)
	interval := opts.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	go c.keepalive(interval)
	return c, nil
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		conn:         ws,
		writeTimeout: writeTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Conn) Send(ctx context.Context, v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("receive: %w", err)
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary frame", "bytes", len(data))
			continue
		}
		return data, nil
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

func (c *Conn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// Dialer opens the PTY control channel and the exec fallback channel.
type Dialer struct {
	PTYURL  string
	ExecURL string
	Options Options
}

func (d *Dialer) DialPTY(ctx context.Context) (Channel, error) {
	if d.PTYURL == "" {
		return nil, errors.New("wsconn: pty url not configured")
	}
	return d.dial(ctx, d.PTYURL)
}

func (d *Dialer) DialExec(ctx context.Context) (Channel, error) {
	if d.ExecURL == "" {
		return nil, errors.New("wsconn: exec url not configured")
	}
	return d.dial(ctx, d.ExecURL)
}

func (d *Dialer) dial(ctx context.Context, rawURL string) (Channel, error) {
	conn, err := Dial(ctx, rawURL, d.Options)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
