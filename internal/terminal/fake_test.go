package terminal

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/termctl/internal/wsconn"
)

const waitTimeout = 2 * time.Second

// wireMsg is a flattened view of any client → host message.
type wireMsg struct {
	Channel    string `json:"-"`
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
	Cwd        string `json:"cwd"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
	ProjectID  string `json:"projectId"`
	Name       string `json:"name"`
	Command    string `json:"command"`
	ExecID     string `json:"execId"`
}

type fakeChannel struct {
	kind     string
	host     *fakeHost
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func (f *fakeChannel) Send(_ context.Context, v any) error {
	select {
	case <-f.closed:
		return wsconn.ErrClosed
	default:
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg wireMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	msg.Channel = f.kind
	f.host.sent <- msg
	return nil
}

func (f *fakeChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.incoming:
		return data, nil
	case <-f.closed:
		return nil, wsconn.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// reply delivers a host message as JSON.
func (f *fakeChannel) reply(t *testing.T, raw string) {
	t.Helper()
	select {
	case f.incoming <- []byte(raw):
	case <-time.After(waitTimeout):
		t.Fatalf("timed out delivering %s", raw)
	}
}

// drop simulates the host side closing the connection.
func (f *fakeChannel) drop() { _ = f.Close() }

type fakeHost struct {
	mu      sync.Mutex
	ptyErr  error
	execErr error

	ptyConns  chan *fakeChannel
	execConns chan *fakeChannel
	sent      chan wireMsg
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		ptyConns:  make(chan *fakeChannel, 16),
		execConns: make(chan *fakeChannel, 16),
		sent:      make(chan wireMsg, 1024),
	}
}

func (h *fakeHost) setPTYErr(err error) {
	h.mu.Lock()
	h.ptyErr = err
	h.mu.Unlock()
}

func (h *fakeHost) setExecErr(err error) {
	h.mu.Lock()
	h.execErr = err
	h.mu.Unlock()
}

func (h *fakeHost) newChannel(kind string) *fakeChannel {
	return &fakeChannel{
		kind:     kind,
		host:     h,
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (h *fakeHost) DialPTY(context.Context) (wsconn.Channel, error) {
	h.mu.Lock()
	err := h.ptyErr
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch := h.newChannel("pty")
	h.ptyConns <- ch
	return ch, nil
}

func (h *fakeHost) DialExec(context.Context) (wsconn.Channel, error) {
	h.mu.Lock()
	err := h.execErr
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch := h.newChannel("exec")
	h.execConns <- ch
	return ch, nil
}

func (h *fakeHost) nextPTY(t *testing.T) *fakeChannel {
	t.Helper()
	select {
	case ch := <-h.ptyConns:
		return ch
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for pty dial")
		return nil
	}
}

func (h *fakeHost) nextExec(t *testing.T) *fakeChannel {
	t.Helper()
	select {
	case ch := <-h.execConns:
		return ch
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for exec dial")
		return nil
	}
}

func (h *fakeHost) expect(t *testing.T) wireMsg {
	t.Helper()
	select {
	case msg := <-h.sent:
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a sent message")
		return wireMsg{}
	}
}

// drain returns everything sent so far without waiting.
func (h *fakeHost) drain() []wireMsg {
	var out []wireMsg
	for {
		select {
		case msg := <-h.sent:
			out = append(out, msg)
		default:
			return out
		}
	}
}

type recordingSurface struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *recordingSurface) Write(data string) {
	s.mu.Lock()
	s.buf.WriteString(data)
	s.mu.Unlock()
}

func (s *recordingSurface) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *recordingSurface) waitFor(t *testing.T, substr string) {
	t.Helper()
	eventually(t, func() bool { return strings.Contains(s.String(), substr) }, "surface never showed %q; got %q", substr, s)
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

type memoryHistory struct {
	mu      sync.Mutex
	entries []string
}

func (m *memoryHistory) Load(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.entries...), nil
}

func (m *memoryHistory) Append(_ context.Context, line string) error {
	m.mu.Lock()
	m.entries = append(m.entries, line)
	m.mu.Unlock()
	return nil
}

func (m *memoryHistory) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.entries...)
}
