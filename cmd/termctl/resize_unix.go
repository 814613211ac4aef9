//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/user/termctl/internal/terminal"
)

func watchResize(ctx context.Context, fd int, ctrl *terminal.Controller) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Done():
			return
		case <-sig:
			w, h, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			ctrl.Resize(float64(w), float64(h))
		}
	}
}
