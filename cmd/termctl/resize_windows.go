package main

import (
	"context"

	"github.com/user/termctl/internal/terminal"
)

// No SIGWINCH on Windows; the initial size is all the host gets.
func watchResize(context.Context, int, *terminal.Controller) {}
