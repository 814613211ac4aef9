package terminal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/termctl/internal/lineedit"
	"github.com/user/termctl/internal/protocol"
	"github.com/user/termctl/internal/wsconn"
)

const historyTimeout = 2 * time.Second

// execState is the fallback-mode state. At most one command runs at a time.
type execState struct {
	editor  *lineedit.Editor
	out     *outbox
	gen     int
	dialing bool

	// pending holds a command submitted before the channel was ready.
	pending string
	running bool
	id      string
	// draining is set after an interrupt until the cancelled command
	// reports its end; its output is discarded meanwhile.
	draining bool

	atLineStart bool

	// loading is set until stored history has been read. Lines submitted
	// meanwhile wait in unsaved so the load does not return them too.
	loading bool
	unsaved []string
}

// enterExec permanently switches the session to the exec fallback.
func (c *Controller) enterExec(reason string) {
	if c.phase == phaseExec || c.phase == phaseDisposed {
		return
	}
	c.closePTY()
	c.setID("")
	c.attachTo = ""
	c.phase = phaseExec
	c.mode = ModeExec
	c.logger.Warn("falling back to exec mode", "reason", reason, "recover_attempts", c.attempts)
	c.advise(warnTone("[" + reason + "; falling back to command mode]"))

	c.exec.editor = lineedit.New(c.opts.HistorySize)
	c.exec.atLineStart = true
	c.dialExec()
	c.printPrompt()
	c.loadHistory()
}

// loadHistory reads stored history off the loop. Lines submitted before it
// arrives stay the newest entries.
func (c *Controller) loadHistory() {
	if c.opts.History == nil {
		return
	}
	store, editor := c.opts.History, c.exec.editor
	c.exec.loading = true
	go func() {
		ctx, cancel := context.WithTimeout(c.readCtx, historyTimeout)
		entries, err := store.Load(ctx)
		cancel()
		c.post(func() {
			if c.phase != phaseExec || c.exec.editor != editor {
				return
			}
			c.exec.loading = false
			if err != nil {
				c.logger.Warn("failed to load command history", "error", err)
			} else {
				editor.Load(entries)
			}
			if len(c.exec.unsaved) > 0 {
				c.saveHistory(c.exec.unsaved...)
				c.exec.unsaved = nil
			}
		})
	}()
}

func (c *Controller) recordHistory(line string) {
	if c.exec.loading {
		c.exec.unsaved = append(c.exec.unsaved, line)
		return
	}
	c.saveHistory(line)
}

func (c *Controller) saveHistory(lines ...string) {
	store := c.opts.History
	go func() {
		for _, line := range lines {
			ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
			err := store.Append(ctx, line)
			cancel()
			if err != nil {
				c.logger.Warn("failed to record command history", "error", err)
			}
		}
	}()
}

func (c *Controller) dialExec() {
	c.exec.gen++
	c.exec.dialing = true
	gen := c.exec.gen
	timeout := c.opts.ConnectTimeout
	go func() {
		ctx, cancel := context.WithTimeout(c.readCtx, timeout)
		ch, err := c.dialer.DialExec(ctx)
		cancel()
		if !c.post(func() { c.onExecDialed(gen, ch, err) }) && ch != nil {
			_ = ch.Close()
		}
	}()
}

func (c *Controller) onExecDialed(gen int, ch wsconn.Channel, err error) {
	if gen != c.exec.gen || c.phase != phaseExec {
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	c.exec.dialing = false
	if err != nil {
		c.logger.Warn("exec channel unavailable", "error", err)
		if c.exec.pending != "" {
			c.exec.pending = ""
			c.finishExec(errorTone(fmt.Sprintf("[exec channel unavailable: %v]", err)), true)
		}
		return
	}
	c.exec.out = newOutbox(ch, "exec", c.logger)
	go c.readExec(gen, ch)
	if cmd := c.exec.pending; cmd != "" {
		c.exec.pending = ""
		c.exec.out.push(protocol.ExecStart(cmd, c.opts.Cwd))
	}
}

func (c *Controller) readExec(gen int, ch wsconn.Channel) {
	for {
		data, err := ch.Receive(c.readCtx)
		if err != nil {
			c.post(func() { c.onExecClosed(gen, err) })
			return
		}
		if !c.post(func() { c.onExecMessage(gen, data) }) {
			return
		}
	}
}

func (c *Controller) onExecClosed(gen int, err error) {
	if gen != c.exec.gen || c.phase != phaseExec {
		return
	}
	c.logger.Warn("exec channel closed", "error", err)
	if c.exec.out != nil {
		c.exec.out.close()
		c.exec.out = nil
	}
	c.exec.gen++
	c.exec.draining = false
	if c.exec.running {
		c.finishExec(errorTone("[exec channel closed]"), true)
	}
}

func (c *Controller) onExecMessage(gen int, raw []byte) {
	if gen != c.exec.gen {
		return
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn("ignoring exec message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeExecStarted:
		if c.exec.draining && c.exec.id == "" {
			// interrupted before the host assigned an id
			c.exec.id = msg.ExecID
			c.sendExec(protocol.ExecKill(msg.ExecID))
			return
		}
		c.exec.id = msg.ExecID

	case protocol.TypeExecStdout, protocol.TypeExecStderr:
		if c.exec.draining || !c.exec.running {
			return
		}
		c.output.Write(msg.Data)
		text := crlf(msg.Data)
		if msg.Type == protocol.TypeExecStderr {
			text = errorTone(text)
		}
		c.writeExec(text, msg.Data)

	case protocol.TypeExecExit:
		code := 0
		if msg.Code != nil {
			code = *msg.Code
		}
		if c.exec.draining {
			c.exec.draining = false
			c.exec.id = ""
			return
		}
		if !c.exec.running {
			return
		}
		if code != 0 {
			c.finishExec(errorTone(fmt.Sprintf("[exit %d]", code)), true)
			return
		}
		c.finishExec("", false)

	case protocol.TypeExecError:
		if c.exec.draining {
			c.exec.draining = false
			c.exec.id = ""
			return
		}
		if !c.exec.running {
			return
		}
		c.finishExec(errorTone("[error: "+msg.Message+"]"), true)

	default:
		c.logger.Debug("unhandled exec message", "type", msg.Type)
	}
}

// finishExec ends the outstanding command, printing notice if given, and
// shows a fresh prompt.
func (c *Controller) finishExec(notice string, failed bool) {
	c.exec.running = false
	c.exec.id = ""
	if failed {
		c.output.MarkError()
	}
	if notice != "" {
		c.ensureLineStart()
		c.surface.Write(notice + "\r\n")
		c.exec.atLineStart = true
	}
	c.printPrompt()
}

func (c *Controller) writeExec(rendered, raw string) {
	if rendered == "" {
		return
	}
	c.surface.Write(rendered)
	c.exec.atLineStart = strings.HasSuffix(raw, "\n")
}

func (c *Controller) ensureLineStart() {
	if !c.exec.atLineStart {
		c.surface.Write("\r\n")
		c.exec.atLineStart = true
	}
}

func (c *Controller) printPrompt() {
	c.ensureLineStart()
	c.surface.Write(c.exec.editor.Render(c.opts.Prompt))
	c.exec.atLineStart = false
}

func (c *Controller) sendExec(msg any) {
	if c.exec.out != nil {
		c.exec.out.push(msg)
	}
}

func (c *Controller) execInput(data string) {
	for _, k := range lineedit.Decode(data) {
		switch k.Kind {
		case lineedit.KeyInterrupt:
			c.exec.editor.Apply(k)
			c.interrupt()
			continue
		case lineedit.KeyEnter:
			if c.exec.running || c.exec.draining {
				c.rejectBusy()
				continue
			}
		}
		if c.exec.running {
			// no type-ahead while a command owns the screen
			continue
		}

		res := c.exec.editor.Apply(k)
		switch {
		case res.Submitted:
			c.surface.Write("\r\n")
			c.exec.atLineStart = true
			if res.Line == "" {
				c.printPrompt()
				continue
			}
			c.startExec(res.Line, true)
		case res.Clear:
			c.surface.Write("\x1b[2J\x1b[H")
			c.exec.atLineStart = true
			c.printPrompt()
		case res.Redraw:
			c.surface.Write(c.exec.editor.Render(c.opts.Prompt))
		}
	}
}

func (c *Controller) execPaste(s string) {
	if c.exec.running {
		return
	}
	if res := c.exec.editor.Insert(s); res.Redraw {
		c.surface.Write(c.exec.editor.Render(c.opts.Prompt))
	}
}

// execRun bypasses the line editor and starts s directly.
func (c *Controller) execRun(s string) {
	line := strings.TrimSpace(s)
	if line == "" {
		return
	}
	if c.exec.running || c.exec.draining {
		c.rejectBusy()
		return
	}
	c.exec.editor.Reset()
	c.surface.Write("\r" + c.opts.Prompt + line + "\x1b[K\r\n")
	c.exec.atLineStart = true
	c.startExec(line, false)
}

func (c *Controller) startExec(line string, record bool) {
	c.exec.running = true
	c.exec.id = ""
	if record && c.opts.History != nil {
		c.recordHistory(line)
	}

	if c.exec.out == nil {
		c.exec.pending = line
		if !c.exec.dialing {
			c.dialExec()
		}
		return
	}
	c.exec.out.push(protocol.ExecStart(line, c.opts.Cwd))
}

func (c *Controller) interrupt() {
	switch {
	case c.exec.pending != "":
		c.exec.pending = ""
		c.exec.running = false
	case c.exec.running:
		if c.exec.id != "" {
			c.sendExec(protocol.ExecKill(c.exec.id))
		}
		c.exec.running = false
		c.exec.draining = true
	case c.exec.draining:
		// second interrupt: stop waiting for the cancelled command
		if c.exec.id != "" {
			c.sendExec(protocol.ExecKill(c.exec.id))
		}
		c.exec.draining = false
		c.exec.id = ""
	}
	c.surface.Write("^C\r\n")
	c.exec.atLineStart = true
	c.printPrompt()
}

func (c *Controller) rejectBusy() {
	c.ensureLineStart()
	c.surface.Write(warnTone("[a command is already running; press Ctrl-C to cancel it]") + "\r\n")
	c.exec.atLineStart = true
	if !c.exec.running {
		c.printPrompt()
	}
}
