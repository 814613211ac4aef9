package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/user/termctl/internal/config"
	"github.com/user/termctl/internal/db"
	"github.com/user/termctl/internal/protocol"
	"github.com/user/termctl/internal/readiness"
	"github.com/user/termctl/internal/terminal"
	"github.com/user/termctl/internal/wsconn"
)

const (
	storeTimeout = 2 * time.Second
	storeQueue   = 64
)

func main() {
	level := slog.LevelWarn
	if os.Getenv("TERMCTL_DEBUG") != "" {
		level = slog.LevelDebug
	}
	// stdout belongs to the terminal surface
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("termctl failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dialer := &wsconn.Dialer{
		PTYURL:  cfg.URL,
		ExecURL: cfg.ExecURL,
		Options: wsconn.Options{Token: cfg.Token, Logger: slog.Default()},
	}

	if cfg.Wait {
		fmt.Fprintf(os.Stderr, "waiting for %s ...\n", cfg.HealthURL)
		err := readiness.Wait(ctx, readiness.HTTPProbe(nil, cfg.HealthURL), readiness.Options{Timeout: cfg.ReadyTimeout})
		if err != nil {
			return fmt.Errorf("terminal host not ready: %w", err)
		}
	}

	if cfg.Kill != "" {
		return killTerminal(ctx, dialer, cfg.Kill, cfg.ConnectTimeout)
	}

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	name := cfg.Name
	if name == "" {
		name = "term-" + uuid.NewString()[:8]
	}
	target := cfg.Attach
	if cfg.Resume {
		rec, err := store.Terminals().Get(ctx, cfg.ProjectID, name)
		if err != nil {
			return err
		}
		if rec == nil {
			slog.Warn("no terminal recorded for resume, creating one", "name", name)
		} else {
			target = rec.TerminalID
		}
	}

	inFd := int(os.Stdin.Fd())
	outFd := int(os.Stdout.Fd())
	cols, rows := 0, 0
	if w, h, err := term.GetSize(outFd); err == nil {
		cols, rows = w, h
	}
	if term.IsTerminal(inFd) {
		oldState, err := term.MakeRaw(inFd)
		if err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
		defer func() { _ = term.Restore(inFd, oldState) }()
	}

	terminals := store.Terminals()
	activity := store.Activity()
	writes := newStoreWriter(storeQueue, storeTimeout, slog.Default())
	// runs after Dispose so writes from teardown are kept
	defer writes.Close(storeTimeout)
	ctrl := terminal.New(terminal.Options{
		Cwd:             cfg.Cwd,
		Name:            name,
		ProjectID:       cfg.ProjectID,
		ReconnectTarget: target,
		Cols:            float64(cols),
		Rows:            float64(rows),
		MaxRecover:      cfg.MaxRecover,
		ConnectTimeout:  cfg.ConnectTimeout,
		HistorySize:     cfg.HistorySize,
		OutputLines:     cfg.OutputLines,
		History:         store.History().ForProject(cfg.ProjectID, cfg.HistorySize),
		OnSessionID: func(id string) {
			writes.Submit(func(sctx context.Context) {
				var err error
				if id == "" {
					err = terminals.Delete(sctx, cfg.ProjectID, name)
				} else {
					err = terminals.Upsert(sctx, &db.TerminalRecord{ProjectID: cfg.ProjectID, Name: name, TerminalID: id, Cwd: cfg.Cwd})
				}
				if err != nil {
					slog.Warn("failed to record terminal id", "name", name, "error", err)
				}
			})
		},
		Consumer: func(a terminal.Activity) {
			rec := &db.ActivityRecord{
				ProjectID:  cfg.ProjectID,
				TerminalID: a.SessionID,
				Lines:      a.Lines,
				HadError:   a.HadError,
				CreatedAt:  a.At,
			}
			writes.Submit(func(sctx context.Context) {
				if err := activity.Create(sctx, rec); err != nil {
					slog.Warn("failed to store activity", "error", err)
				}
			})
		},
		Logger: slog.Default(),
	}, dialer, terminal.SurfaceFunc(func(data string) {
		_, _ = os.Stdout.WriteString(data)
	}))

	ctrl.Start(ctx)
	defer ctrl.Dispose()

	go watchResize(ctx, outFd, ctrl)

	quit := make(chan struct{})
	go forwardInput(ctrl, cfg.ActivityLines, quit)

	select {
	case <-quit:
	case <-ctrl.Done():
	case <-ctx.Done():
	}
	return nil
}

// forwardInput copies stdin to the controller until EOF or a quit command.
func forwardInput(ctrl *terminal.Controller, activityLines int, quit chan<- struct{}) {
	defer close(quit)
	esc := &escapeFilter{}
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			stop := false
			esc.Feed(buf[:n], ctrl.Input, func(cmd byte) bool {
				switch cmd {
				case cmdDetach:
					stop = true
				case cmdKill:
					ctrl.KillSession()
					stop = true
				case cmdActivity:
					ctrl.SendActivityToConsumer(activityLines)
					_, _ = os.Stdout.WriteString("\r\n[activity saved]\r\n")
				case cmdHelp:
					_, _ = os.Stdout.WriteString("\r\n" + escapeHelp + "\r\n")
				}
				return stop
			})
			if stop {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func killTerminal(ctx context.Context, dialer *wsconn.Dialer, id string, timeout time.Duration) error {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ch, err := dialer.DialPTY(dctx)
	if err != nil {
		return fmt.Errorf("failed to connect to terminal host: %w", err)
	}
	defer ch.Close()
	if err := ch.Send(dctx, protocol.Kill(id)); err != nil && !errors.Is(err, wsconn.ErrClosed) {
		return fmt.Errorf("failed to send kill for %q: %w", id, err)
	}
	fmt.Fprintf(os.Stderr, "killed terminal %s\n", id)
	return nil
}
