// Package outbuf keeps a bounded excerpt of recent terminal output and
// tracks whether an error signature has been seen since the last handoff.
package outbuf

import (
	"strings"
	"sync"

	"github.com/user/termctl/internal/parser"
)

const DefaultLines = 500

// Buffer is a ring of the most recent output lines. The oldest lines are
// evicted first. It is not the terminal's scrollback.
type Buffer struct {
	mu       sync.RWMutex
	lines    []string
	size     int
	partial  string
	hasError bool
}

func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultLines
	}
	return &Buffer{size: size}
}

// Write appends an output chunk. Escape sequences are stripped and a
// trailing partial line is held until the next newline arrives.
func (b *Buffer) Write(chunk string) {
	text := parser.StripANSI(chunk)
	if text == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// the partial line is rescanned so a signature split across chunks
	// is still detected, but a match already counted is not
	if parser.HasNewErrorSignature(b.partial, text) {
		b.hasError = true
	}

	parts := strings.Split(b.partial+text, "\n")
	b.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		b.lines = append(b.lines, line)
	}
	if len(b.lines) > b.size {
		b.lines = append([]string(nil), b.lines[len(b.lines)-b.size:]...)
	}
}

// MarkError sets the error flag without any output, e.g. on a host hint.
func (b *Buffer) MarkError() {
	b.mu.Lock()
	b.hasError = true
	b.mu.Unlock()
}

// HasRecentError reports whether an error signature was seen since the
// last ClearError.
func (b *Buffer) HasRecentError() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasError
}

func (b *Buffer) ClearError() {
	b.mu.Lock()
	b.hasError = false
	b.mu.Unlock()
}

// Last returns up to n of the most recent lines, oldest first. A non-empty
// partial line counts as the newest line. n is capped at the capacity.
func (b *Buffer) Last(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	if n > b.size {
		n = b.size
	}
	all := b.lines
	if b.partial != "" {
		all = append(append(make([]string, 0, len(b.lines)+1), b.lines...), b.partial)
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	copy(out, all[len(all)-n:])
	return out
}

// Len returns the number of complete lines held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	b.lines = nil
	b.partial = ""
	b.hasError = false
	b.mu.Unlock()
}
