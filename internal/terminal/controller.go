// Package terminal implements the terminal session controller: one logical
// terminal backed by a PTY on the host when possible, and by a line-based
// exec channel when not.
//
// All session state is owned by a single goroutine started with Start.
// Channel reads, dial results and timers post closures into that goroutine,
// so every handler runs to completion before the next one starts.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/termctl/internal/outbuf"
	"github.com/user/termctl/internal/parser"
	"github.com/user/termctl/internal/protocol"
	"github.com/user/termctl/internal/wsconn"
)

type Controller struct {
	opts    Options
	dialer  Dialer
	surface Surface
	logger  *slog.Logger
	output  *outbuf.Buffer

	events      chan func()
	quit        chan struct{}
	done        chan struct{}
	startOnce   sync.Once
	disposeOnce sync.Once
	startMu     sync.Mutex
	started     bool

	statusMu sync.RWMutex
	status   Status

	// Fields below are owned by the loop goroutine.
	readCtx    context.Context
	cancelRead context.CancelFunc
	phase      phase
	mode       Mode
	id         string
	attempts   int
	cols, rows int
	sentCols   int
	sentRows   int

	pty      *outbox
	ptyGen   int
	// closing holds outboxes still flushing after their channel was given
	// up, so shutdown can wait for a final kill to reach the host.
	closing  []*outbox
	attachTo string
	ackTimer *time.Timer

	exec execState
}

// New builds a controller. Start must be called to activate it.
func New(opts Options, dialer Dialer, surface Surface) *Controller {
	if opts.MaxRecover <= 0 {
		opts.MaxRecover = DefaultMaxRecover
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cols, rows := initialDims(opts.Cols, opts.Rows)
	return &Controller{
		opts:    opts,
		dialer:  dialer,
		surface: surface,
		logger:  logger.With("component", "terminal", "name", opts.Name),
		output:  outbuf.New(opts.OutputLines),
		events:  make(chan func(), queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		cols:    cols,
		rows:    rows,
	}
}

// Start activates the controller. The controller stops when ctx is done or
// Dispose is called.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.startMu.Lock()
		defer c.startMu.Unlock()
		select {
		case <-c.quit:
			return
		default:
		}
		c.started = true
		c.readCtx, c.cancelRead = context.WithCancel(context.Background())
		go c.run(ctx)
	})
}

// Dispose detaches from the backing PTY and releases both channels. The PTY
// itself is left running so it can be re-attached later. Dispose is
// idempotent and never fails.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		c.startMu.Lock()
		close(c.quit)
		started := c.started
		c.startMu.Unlock()
		if !started {
			close(c.done)
		}
	})
	<-c.done
}

// Done is closed once the controller has shut down.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	c.activate()
	c.publish()
	for {
		select {
		case <-ctx.Done():
			c.drainEvents()
			c.teardown()
			return
		case <-c.quit:
			c.drainEvents()
			c.teardown()
			return
		case fn := <-c.events:
			fn()
			c.publish()
		}
	}
}

// drainEvents applies operations queued before shutdown was requested.
func (c *Controller) drainEvents() {
	for {
		select {
		case fn := <-c.events:
			fn()
		default:
			return
		}
	}
}

// post queues fn for the loop goroutine. It reports false once the loop
// has exited.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) publish() {
	c.statusMu.Lock()
	c.status = Status{
		Mode:            c.mode,
		Conn:            c.connState(),
		SessionID:       c.id,
		RecoverAttempts: c.attempts,
		Running:         c.exec.running,
	}
	c.statusMu.Unlock()
}

func (c *Controller) connState() ConnState {
	switch c.phase {
	case phaseConnecting, phaseRecovering:
		return Connecting
	case phaseConnected:
		return Connected
	case phaseExec:
		if c.exec.out != nil {
			return Connected
		}
		if c.exec.dialing {
			return Connecting
		}
	}
	return Disconnected
}

func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Controller) SessionID() string { return c.Status().SessionID }

func (c *Controller) Mode() Mode { return c.Status().Mode }

func (c *Controller) ConnState() ConnState { return c.Status().Conn }

func (c *Controller) RecoverAttempts() int { return c.Status().RecoverAttempts }

func (c *Controller) HasRecentError() bool { return c.output.HasRecentError() }

// ---------------------------------------------------------------------------
// Host panel operations
// ---------------------------------------------------------------------------

// Input routes raw keystroke data from the rendering surface.
func (c *Controller) Input(data string) {
	if data == "" {
		return
	}
	c.post(func() {
		switch c.phase {
		case phaseConnected:
			c.sendPTY(protocol.Input(c.id, data))
		case phaseExec:
			c.execInput(data)
		}
	})
}

// Resize forwards new surface dimensions. Invalid sizes are dropped.
func (c *Controller) Resize(cols, rows float64) {
	w, h, ok := SanitizeDims(cols, rows)
	if !ok {
		c.logger.Debug("dropping invalid resize", "cols", cols, "rows", rows)
		return
	}
	c.post(func() {
		c.cols, c.rows = w, h
		if c.phase == phaseConnected {
			c.sendResize()
		}
	})
}

// PasteText inserts s without submitting it.
func (c *Controller) PasteText(s string) {
	if s == "" {
		return
	}
	c.post(func() {
		switch c.phase {
		case phaseConnected:
			c.sendPTY(protocol.Input(c.id, s))
		case phaseExec:
			c.execPaste(s)
		}
	})
}

// RunCommand submits s for execution immediately.
func (c *Controller) RunCommand(s string) {
	if s == "" {
		return
	}
	c.post(func() {
		switch c.phase {
		case phaseConnected:
			c.sendPTY(protocol.Input(c.id, s+"\r"))
		case phaseExec:
			c.execRun(s)
		}
	})
}

// KillSession asks the host to terminate the backing PTY permanently.
func (c *Controller) KillSession() {
	c.post(func() {
		if c.id == "" || c.pty == nil {
			return
		}
		c.logger.Info("killing terminal", "terminal_id", c.id)
		c.sendPTY(protocol.Kill(c.id))
		c.closePTY()
		c.setID("")
		if c.phase == phaseConnected || c.phase == phaseConnecting {
			c.phase = phaseExited
		}
	})
}

// SendActivityToConsumer hands the last n output lines to the consumer and
// clears the recent-error flag.
func (c *Controller) SendActivityToConsumer(n int) {
	if n <= 0 {
		n = DefaultActivityLines
	}
	activity := Activity{
		SessionID: c.SessionID(),
		Lines:     c.output.Last(n),
		HadError:  c.output.HasRecentError(),
		At:        time.Now().UTC(),
	}
	c.output.ClearError()
	if c.opts.Consumer != nil {
		c.opts.Consumer(activity)
	}
}

// ---------------------------------------------------------------------------
// PTY channel lifecycle
// ---------------------------------------------------------------------------

func (c *Controller) activate() {
	c.mode = ModePty
	c.phase = phaseConnecting
	c.attachTo = c.opts.ReconnectTarget
	c.dialPTY()
}

func (c *Controller) dialPTY() {
	c.ptyGen++
	gen := c.ptyGen
	timeout := c.opts.ConnectTimeout
	go func() {
		ctx, cancel := context.WithTimeout(c.readCtx, timeout)
		ch, err := c.dialer.DialPTY(ctx)
		cancel()
		if !c.post(func() { c.onPTYDialed(gen, ch, err) }) && ch != nil {
			_ = ch.Close()
		}
	}()
}

func (c *Controller) onPTYDialed(gen int, ch wsconn.Channel, err error) {
	if gen != c.ptyGen || (c.phase != phaseConnecting && c.phase != phaseRecovering) {
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("pty channel unavailable", "error", err)
		c.enterExec(fmt.Sprintf("terminal host unreachable: %v", err))
		return
	}

	c.phase = phaseConnecting
	c.pty = newOutbox(ch, "pty", c.logger)
	go c.readPTY(gen, ch)

	if c.attachTo != "" {
		c.sendPTY(protocol.Attach(c.attachTo))
	} else {
		c.sendPTY(protocol.Create(c.opts.Cwd, c.cols, c.rows, c.opts.ProjectID, c.opts.Name))
		c.sentCols, c.sentRows = c.cols, c.rows
	}
	c.ackTimer = time.AfterFunc(c.opts.ConnectTimeout, func() {
		c.post(func() { c.onAckTimeout(gen) })
	})
}

func (c *Controller) readPTY(gen int, ch wsconn.Channel) {
	for {
		data, err := ch.Receive(c.readCtx)
		if err != nil {
			c.post(func() { c.onPTYClosed(gen, err) })
			return
		}
		if !c.post(func() { c.onPTYMessage(gen, data) }) {
			return
		}
	}
}

func (c *Controller) onAckTimeout(gen int) {
	if gen != c.ptyGen || c.phase != phaseConnecting {
		return
	}
	c.logger.Warn("terminal host did not acknowledge", "timeout", c.opts.ConnectTimeout)
	c.enterExec("terminal host did not respond")
}

func (c *Controller) onPTYClosed(gen int, err error) {
	if gen != c.ptyGen {
		return
	}
	switch c.phase {
	case phaseConnecting:
		c.logger.Warn("pty channel closed during setup", "error", err)
		c.enterExec("terminal host closed the connection")
	case phaseConnected:
		c.logger.Warn("pty channel lost", "terminal_id", c.id, "error", err)
		c.recoverLostChannel()
	}
}

func (c *Controller) onPTYMessage(gen int, raw []byte) {
	if gen != c.ptyGen {
		return
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn("ignoring host message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeCreated, protocol.TypeAttached:
		if c.phase != phaseConnecting {
			return
		}
		c.stopAckTimer()
		id := msg.TerminalID
		if id == "" {
			id = c.attachTo
		}
		if id == "" {
			c.logger.Warn("acknowledgement without terminal id", "type", msg.Type)
			c.enterExec("terminal host sent an invalid acknowledgement")
			return
		}
		c.phase = phaseConnected
		c.attachTo = ""
		c.setID(id)
		c.logger.Info("terminal connected", "terminal_id", id, "via", msg.Type)
		if c.cols != c.sentCols || c.rows != c.sentRows {
			c.sendResize()
		}

	case protocol.TypeOutput:
		c.surface.Write(msg.Data)
		c.output.Write(msg.Data)

	case protocol.TypeExit:
		code := 0
		if msg.ExitCode != nil {
			code = *msg.ExitCode
		}
		c.logger.Info("terminal process exited", "terminal_id", c.id, "exit_code", code)
		c.advise(warnTone(fmt.Sprintf("[Process exited with code %d]", code)))
		c.closePTY()
		c.setID("")
		c.phase = phaseExited

	case protocol.TypeError:
		c.onHostError(msg.Message)

	case protocol.TypeErrorDetected:
		c.output.MarkError()

	case protocol.TypeResizeError:
		c.logger.Warn("resize rejected by host", "terminal_id", c.id, "message", msg.Message)

	default:
		c.logger.Debug("unhandled host message", "type", msg.Type)
	}
}

func (c *Controller) onHostError(message string) {
	if parser.IsTerminalNotFound(message) {
		c.logger.Warn("backing terminal missing", "terminal_id", c.id, "message", message)
		c.recoverMissingTerminal()
		return
	}
	if c.phase == phaseConnecting {
		c.logger.Warn("terminal setup failed", "message", message)
		c.enterExec(message)
		return
	}
	c.logger.Warn("terminal host error", "terminal_id", c.id, "message", message)
	c.advise(warnTone("[" + message + "]"))
}

// recoverMissingTerminal handles a host report that the backing PTY is
// gone: the stale process is killed, and a fresh terminal is created while
// attempts remain.
func (c *Controller) recoverMissingTerminal() {
	if c.id != "" {
		c.sendPTY(protocol.Kill(c.id))
	}
	c.closePTY()
	c.setID("")
	c.attachTo = ""
	c.attempts++
	if c.attempts >= c.opts.MaxRecover {
		c.enterExec("terminal session could not be recovered")
		return
	}
	c.advise(warnTone(fmt.Sprintf("[Terminal session lost, reconnecting (%d/%d)...]", c.attempts, c.opts.MaxRecover-1)))
	c.phase = phaseRecovering
	c.dialPTY()
}

// recoverLostChannel handles a dropped connection while the backing PTY is
// presumed alive: it re-attaches to the same terminal.
func (c *Controller) recoverLostChannel() {
	c.closePTY()
	c.attempts++
	if c.attempts >= c.opts.MaxRecover {
		c.setID("")
		c.enterExec("connection to terminal host lost")
		return
	}
	c.advise(warnTone("[Connection lost, reattaching...]"))
	c.attachTo = c.id
	c.phase = phaseRecovering
	c.dialPTY()
}

func (c *Controller) sendPTY(msg any) {
	if c.pty == nil {
		return
	}
	c.pty.push(msg)
}

func (c *Controller) sendResize() {
	if c.id == "" {
		return
	}
	c.sendPTY(protocol.Resize(c.id, c.cols, c.rows))
	c.sentCols, c.sentRows = c.cols, c.rows
}

// closePTY flushes queued messages and closes the channel. Anything still
// arriving from it is ignored.
func (c *Controller) closePTY() {
	c.stopAckTimer()
	c.ptyGen++
	if c.pty != nil {
		c.pty.close()
		c.retire(c.pty)
		c.pty = nil
	}
}

func (c *Controller) retire(o *outbox) {
	live := c.closing[:0]
	for _, prev := range c.closing {
		select {
		case <-prev.done:
		default:
			live = append(live, prev)
		}
	}
	c.closing = append(live, o)
}

func (c *Controller) stopAckTimer() {
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

func (c *Controller) setID(id string) {
	if c.id == id {
		return
	}
	c.id = id
	if c.opts.OnSessionID != nil {
		c.opts.OnSessionID(id)
	}
}

// advise writes an inline notice on its own line.
func (c *Controller) advise(text string) {
	c.surface.Write("\r\n" + text + "\r\n")
}

func (c *Controller) teardown() {
	if c.phase == phaseDisposed {
		return
	}
	c.stopAckTimer()

	var pending []<-chan struct{}
	for _, o := range c.closing {
		pending = append(pending, o.done)
	}
	c.closing = nil
	if c.pty != nil {
		if c.id != "" {
			c.sendPTY(protocol.Detach(c.id))
		}
		pending = append(pending, c.pty.done)
		c.pty.close()
		c.pty = nil
	}
	c.ptyGen++
	if out := c.exec.out; out != nil {
		if c.exec.running && c.exec.id != "" {
			out.push(protocol.ExecKill(c.exec.id))
		}
		pending = append(pending, out.done)
		out.close()
		c.exec.out = nil
	}
	c.exec.gen++

	deadline := time.NewTimer(flushTimeout)
	defer deadline.Stop()
flush:
	for _, done := range pending {
		select {
		case <-done:
		case <-deadline.C:
			c.logger.Debug("gave up flushing channels on dispose")
			break flush
		}
	}
	c.cancelRead()
	c.phase = phaseDisposed
	c.exec.running = false
	c.publish()
}
