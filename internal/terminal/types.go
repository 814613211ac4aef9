package terminal

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/termctl/internal/wsconn"
)

// Mode is the operating mode of a session. Uninitialized moves to Pty on
// activation; Exec is absorbing.
type Mode int

const (
	ModeUninitialized Mode = iota
	ModePty
	ModeExec
)

func (m Mode) String() string {
	switch m {
	case ModePty:
		return "pty"
	case ModeExec:
		return "exec"
	default:
		return "uninitialized"
	}
}

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseConnected
	phaseRecovering
	phaseExited
	phaseExec
	phaseDisposed
)

const (
	DefaultMaxRecover     = 3
	DefaultConnectTimeout = 10 * time.Second
	DefaultPrompt         = "$ "
	DefaultCols           = 80
	DefaultRows           = 24
	DefaultActivityLines  = 50

	sendTimeout  = 5 * time.Second
	flushTimeout = 2 * time.Second
	queueSize    = 256
)

// Surface is where terminal output is rendered. Write receives raw
// terminal data, escape sequences included.
type Surface interface {
	Write(data string)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(data string)

func (f SurfaceFunc) Write(data string) { f(data) }

// Dialer opens the two host channels.
type Dialer interface {
	DialPTY(ctx context.Context) (wsconn.Channel, error)
	DialExec(ctx context.Context) (wsconn.Channel, error)
}

// HistoryStore persists exec-mode command history.
type HistoryStore interface {
	Load(ctx context.Context) ([]string, error)
	Append(ctx context.Context, line string) error
}

// Activity is the recent-output excerpt handed to a consumer.
type Activity struct {
	SessionID string
	Lines     []string
	HadError  bool
	At        time.Time
}

type Options struct {
	Cwd       string
	Name      string
	ProjectID string
	// ReconnectTarget attaches to an existing terminal instead of
	// creating one.
	ReconnectTarget string

	// Initial size as reported by the rendering surface. Invalid values
	// fall back to 80x24 per dimension.
	Cols float64
	Rows float64

	MaxRecover     int
	ConnectTimeout time.Duration
	Prompt         string
	HistorySize    int
	OutputLines    int

	History HistoryStore
	// OnSessionID is called from the controller goroutine whenever the
	// session id changes, with "" when it is lost.
	OnSessionID func(id string)
	Consumer    func(Activity)
	Logger      *slog.Logger
}

// Status is a snapshot of the controller state.
type Status struct {
	Mode            Mode
	Conn            ConnState
	SessionID       string
	RecoverAttempts int
	// Running is set while an exec-mode command is outstanding.
	Running bool
}
