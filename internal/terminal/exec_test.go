package terminal

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// newExecHarness starts a controller whose PTY channel is unavailable so it
// settles in exec mode, and returns the exec channel.
func newExecHarness(t *testing.T, opts Options) (*harness, *fakeChannel) {
	t.Helper()
	h := newHarness(t, opts, func(host *fakeHost) {
		host.setPTYErr(errors.New("dial tcp: connection refused"))
	})
	ch := h.host.nextExec(t)
	eventually(t, func() bool { return h.ctrl.ConnState() == Connected }, "exec channel never connected")
	h.surface.waitFor(t, DefaultPrompt)
	return h, ch
}

// onLoop runs fn on the controller goroutine and waits for it.
func (h *harness) onLoop(fn func(c *Controller)) {
	h.t.Helper()
	done := make(chan struct{})
	if !h.ctrl.post(func() { fn(h.ctrl); close(done) }) {
		h.t.Fatal("controller loop has exited")
	}
	select {
	case <-done:
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for the controller loop")
	}
}

func (h *harness) waitHistory(n int) {
	h.t.Helper()
	eventually(h.t, func() bool {
		var got int
		h.onLoop(func(c *Controller) { got = c.exec.editor.History().Len() })
		return got == n
	}, "history never reached %d entries", n)
}

func (h *harness) draining() bool {
	var d bool
	h.onLoop(func(c *Controller) { d = c.exec.draining })
	return d
}

func TestExecRunsTypedCommand(t *testing.T) {
	h, ch := newExecHarness(t, Options{Cwd: "/srv/app"})

	h.ctrl.Input("go test ./...\r")
	msg := h.host.expect(t)
	want := wireMsg{Channel: "exec", Type: "exec_start", Command: "go test ./...", Cwd: "/srv/app"}
	if msg != want {
		t.Fatalf("exec_start = %+v, want %+v", msg, want)
	}
	eventually(t, func() bool { return h.ctrl.Status().Running }, "command not marked running")

	ch.reply(t, `{"type":"exec_started","execId":"e1"}`)
	ch.reply(t, `{"type":"exec_stdout","data":"ok  \tpkg\t0.01s\n"}`)
	ch.reply(t, `{"type":"exec_exit","code":0}`)

	h.surface.waitFor(t, "ok  \tpkg\t0.01s\r\n")
	eventually(t, func() bool { return !h.ctrl.Status().Running }, "command never finished")
	if h.ctrl.HasRecentError() {
		t.Fatal("clean exit must not set the error flag")
	}
	if got := strings.Count(h.surface.String(), DefaultPrompt); got < 2 {
		t.Fatalf("prompt shown %d times, want a fresh prompt after exit", got)
	}
}

func TestExecNonZeroExit(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.Input("false\r")
	h.host.expect(t)
	ch.reply(t, `{"type":"exec_started","execId":"e1"}`)
	ch.reply(t, `{"type":"exec_stderr","data":"boom"}`)
	ch.reply(t, `{"type":"exec_exit","code":2}`)

	h.surface.waitFor(t, "[exit 2]")
	if !h.ctrl.HasRecentError() {
		t.Fatal("non-zero exit must set the error flag")
	}
	out := h.surface.String()
	if !strings.Contains(out, "boom") {
		t.Fatalf("stderr not rendered: %q", out)
	}
	// the notice starts on its own line after unterminated output
	if !strings.Contains(out, "\r\n") || strings.Index(out, "boom") > strings.Index(out, "[exit 2]") {
		t.Fatalf("unexpected layout: %q", out)
	}
}

func TestExecErrorMessage(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.Input("nope\r")
	h.host.expect(t)
	ch.reply(t, `{"type":"exec_error","message":"boom"}`)
	h.surface.waitFor(t, "[error: boom]")
	eventually(t, func() bool { return !h.ctrl.Status().Running }, "command still running after exec_error")
	if !h.ctrl.HasRecentError() {
		t.Fatal("exec_error must set the error flag")
	}
}

func TestExecInterruptKillsAndDiscards(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.Input("sleep 10\r")
	h.host.expect(t)
	ch.reply(t, `{"type":"exec_started","execId":"e1"}`)
	eventually(t, func() bool {
		var id string
		h.onLoop(func(c *Controller) { id = c.exec.id })
		return id == "e1"
	}, "exec id never recorded")

	h.ctrl.Input("\x03")
	msg := h.host.expect(t)
	want := wireMsg{Channel: "exec", Type: "exec_kill", ExecID: "e1"}
	if msg != want {
		t.Fatalf("kill = %+v, want %+v", msg, want)
	}
	h.surface.waitFor(t, "^C\r\n")

	ch.reply(t, `{"type":"exec_stdout","data":"late output\n"}`)
	ch.reply(t, `{"type":"exec_exit","code":130}`)
	eventually(t, func() bool { return !h.draining() }, "still draining after exit")

	if out := h.surface.String(); strings.Contains(out, "late output") {
		t.Fatalf("output of a cancelled command was rendered: %q", out)
	}
	if strings.Contains(h.surface.String(), "[exit 130]") {
		t.Fatal("cancelled command must not report its exit code")
	}

	h.ctrl.Input("ls\r")
	if msg := h.host.expect(t); msg.Type != "exec_start" || msg.Command != "ls" {
		t.Fatalf("next command = %+v", msg)
	}
}

func TestExecInterruptBeforeStarted(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.Input("make\r")
	h.host.expect(t)
	h.ctrl.Input("\x03")
	h.surface.waitFor(t, "^C")

	ch.reply(t, `{"type":"exec_started","execId":"e7"}`)
	msg := h.host.expect(t)
	if msg.Type != "exec_kill" || msg.ExecID != "e7" {
		t.Fatalf("deferred kill = %+v", msg)
	}
}

func TestExecSecondInterruptStopsDraining(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.Input("sleep 10\r")
	h.host.expect(t)
	ch.reply(t, `{"type":"exec_started","execId":"e1"}`)
	eventually(t, func() bool {
		var id string
		h.onLoop(func(c *Controller) { id = c.exec.id })
		return id == "e1"
	}, "exec id never recorded")

	h.ctrl.Input("\x03")
	h.host.expect(t)
	if !h.draining() {
		t.Fatal("first interrupt should start draining")
	}
	h.ctrl.Input("\x03")
	h.host.expect(t)
	if h.draining() {
		t.Fatal("second interrupt should stop draining")
	}

	h.ctrl.Input("pwd\r")
	if msg := h.host.expect(t); msg.Type != "exec_start" || msg.Command != "pwd" {
		t.Fatalf("next command = %+v", msg)
	}
}

func TestExecInterruptIdle(t *testing.T) {
	h, _ := newExecHarness(t, Options{})

	h.ctrl.Input("abc")
	h.surface.waitFor(t, "abc")
	h.ctrl.Input("\x03")
	h.surface.waitFor(t, "^C\r\n")

	var buf string
	h.onLoop(func(c *Controller) { buf = c.exec.editor.Buffer() })
	if buf != "" {
		t.Fatalf("buffer after interrupt = %q, want empty", buf)
	}
	if extra := h.host.drain(); len(extra) != 0 {
		t.Fatalf("interrupt with nothing running sent %+v", extra)
	}
}

func TestExecRejectsConcurrentCommand(t *testing.T) {
	h, _ := newExecHarness(t, Options{})

	h.ctrl.Input("sleep 10\r")
	h.host.expect(t)
	h.ctrl.Input("ls\r")
	h.ctrl.RunCommand("pwd")
	h.surface.waitFor(t, "already running")

	time.Sleep(20 * time.Millisecond)
	if extra := h.host.drain(); len(extra) != 0 {
		t.Fatalf("second command was sent: %+v", extra)
	}
}

func TestExecEmptyLine(t *testing.T) {
	h, _ := newExecHarness(t, Options{})

	h.ctrl.Input("   \r")
	h.onLoop(func(*Controller) {})
	if h.ctrl.Status().Running {
		t.Fatal("blank line must not start a command")
	}
	if extra := h.host.drain(); len(extra) != 0 {
		t.Fatalf("blank line sent %+v", extra)
	}
}

func TestExecPasteAndRun(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.PasteText("git log\n--oneline")
	h.surface.waitFor(t, "git log --oneline")
	h.ctrl.Input("\r")
	if msg := h.host.expect(t); msg.Command != "git log --oneline" {
		t.Fatalf("pasted command = %+v", msg)
	}
	ch.reply(t, `{"type":"exec_exit","code":0}`)
	eventually(t, func() bool { return !h.ctrl.Status().Running }, "command never finished")

	h.ctrl.RunCommand("  make build  ")
	if msg := h.host.expect(t); msg.Type != "exec_start" || msg.Command != "make build" {
		t.Fatalf("run = %+v", msg)
	}
	h.surface.waitFor(t, DefaultPrompt+"make build")
}

func TestExecHistory(t *testing.T) {
	store := &memoryHistory{entries: []string{"first", "second"}}
	h, _ := newExecHarness(t, Options{History: store})
	h.waitHistory(2)

	h.ctrl.Input("\x1b[A")
	h.surface.waitFor(t, DefaultPrompt+"second")
	h.ctrl.Input("\r")
	if msg := h.host.expect(t); msg.Command != "second" {
		t.Fatalf("recalled command = %+v", msg)
	}
	eventually(t, func() bool {
		return reflect.DeepEqual(store.snapshot(), []string{"first", "second", "second"})
	}, "history not appended")
}

// slowHistory holds Load until release is closed.
type slowHistory struct {
	memoryHistory
	release chan struct{}
}

func (s *slowHistory) Load(ctx context.Context) ([]string, error) {
	select {
	case <-s.release:
		return s.memoryHistory.Load(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestExecHistoryLoadDoesNotBlockInput(t *testing.T) {
	store := &slowHistory{memoryHistory: memoryHistory{entries: []string{"old"}}, release: make(chan struct{})}
	h, ch := newExecHarness(t, Options{History: store})

	h.ctrl.Input("ls\r")
	if msg := h.host.expect(t); msg.Type != "exec_start" || msg.Command != "ls" {
		t.Fatalf("command while history loads = %+v", msg)
	}
	ch.reply(t, `{"type":"exec_started","execId":"e1"}`)
	ch.reply(t, `{"type":"exec_exit","code":0}`)
	eventually(t, func() bool { return !h.ctrl.Status().Running }, "command never finished")

	if got := store.snapshot(); !reflect.DeepEqual(got, []string{"old"}) {
		t.Fatalf("stored history before load = %q", got)
	}

	close(store.release)
	h.waitHistory(2)
	eventually(t, func() bool {
		return reflect.DeepEqual(store.snapshot(), []string{"old", "ls"})
	}, "command not recorded after history load")
	h.onLoop(func(c *Controller) {
		if got := c.exec.editor.History().Entries(); !reflect.DeepEqual(got, []string{"old", "ls"}) {
			t.Errorf("history = %q, want stored entries before this session's", got)
		}
	})

	h.ctrl.Input("\x1b[A\x1b[A")
	h.surface.waitFor(t, DefaultPrompt+"old")
}

func TestExecRunCommandSkipsHistory(t *testing.T) {
	store := &memoryHistory{}
	h, _ := newExecHarness(t, Options{History: store})

	h.ctrl.RunCommand("make")
	h.host.expect(t)
	h.onLoop(func(*Controller) {})
	time.Sleep(20 * time.Millisecond)
	if got := store.snapshot(); len(got) != 0 {
		t.Fatalf("RunCommand recorded history: %q", got)
	}
}

func TestExecChannelUnavailable(t *testing.T) {
	h := newHarness(t, Options{}, func(host *fakeHost) {
		host.setPTYErr(errors.New("refused"))
		host.setExecErr(errors.New("refused"))
	})
	eventually(t, func() bool { return h.ctrl.Mode() == ModeExec }, "never entered exec mode")
	h.surface.waitFor(t, DefaultPrompt)

	h.ctrl.Input("ls\r")
	h.surface.waitFor(t, "[exec channel unavailable: refused]")
	eventually(t, func() bool { return !h.ctrl.Status().Running }, "command stuck after dial failure")

	h.host.setExecErr(nil)
	h.ctrl.Input("ls\r")
	h.host.nextExec(t)
	if msg := h.host.expect(t); msg.Type != "exec_start" || msg.Command != "ls" {
		t.Fatalf("retried command = %+v", msg)
	}
}

func TestExecChannelClosedWhileRunning(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.Input("sleep 10\r")
	h.host.expect(t)
	ch.drop()
	h.surface.waitFor(t, "[exec channel closed]")
	eventually(t, func() bool { return !h.ctrl.Status().Running }, "command still running")
	if h.ctrl.ConnState() != Disconnected {
		t.Fatalf("ConnState() = %v, want disconnected", h.ctrl.ConnState())
	}

	h.ctrl.Input("ls\r")
	h.host.nextExec(t)
	if msg := h.host.expect(t); msg.Command != "ls" {
		t.Fatalf("command after reconnect = %+v", msg)
	}
}

func TestDisposeKillsRunningExec(t *testing.T) {
	h, ch := newExecHarness(t, Options{})

	h.ctrl.Input("sleep 10\r")
	h.host.expect(t)
	ch.reply(t, `{"type":"exec_started","execId":"e3"}`)
	eventually(t, func() bool {
		var id string
		h.onLoop(func(c *Controller) { id = c.exec.id })
		return id == "e3"
	}, "exec id never recorded")

	h.ctrl.Dispose()
	msgs := h.host.drain()
	if len(msgs) != 1 || msgs[0].Type != "exec_kill" || msgs[0].ExecID != "e3" {
		t.Fatalf("messages on dispose = %+v", msgs)
	}
}
