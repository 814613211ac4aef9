// Package lineedit implements the minimal readline-style editor used when
// no PTY is available: cursor movement, kill/yank, and history recall over
// raw keystroke input.
package lineedit

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
)

// Result describes what a single keystroke did to the editor.
type Result struct {
	// Line is the trimmed submitted line when Submitted is set.
	Line      string
	Submitted bool
	// Redraw is set when the visible line changed and must be repainted.
	Redraw      bool
	Interrupted bool
	Clear       bool
}

// Editor holds the line buffer and history navigation state. It is not
// safe for concurrent use.
type Editor struct {
	buf     []rune
	cursor  int
	history *History

	// histIdx is -1 when not browsing history.
	histIdx int
	draft   string
	killed  []rune
}

func New(historySize int) *Editor {
	return &Editor{
		history: NewHistory(historySize),
		histIdx: -1,
	}
}

// Load seeds history with previously recorded lines, oldest first. Lines
// already submitted to this editor stay the newest entries, and a history
// entry being browsed remains selected.
func (e *Editor) Load(entries []string) {
	current := e.history.Entries()
	h := NewHistory(e.history.Cap())
	for _, line := range entries {
		line = strings.TrimSpace(line)
		if line == "" || line == h.Last() {
			continue
		}
		h.Add(line)
	}
	for _, line := range current {
		h.Add(line)
	}
	if e.histIdx >= 0 {
		e.histIdx += h.Len() - len(current)
	}
	e.history = h
}

func (e *Editor) Buffer() string { return string(e.buf) }

func (e *Editor) Cursor() int { return e.cursor }

func (e *Editor) History() *History { return e.history }

// HistoryCursor returns the index of the history entry being shown, and
// false when history is not being browsed.
func (e *Editor) HistoryCursor() (int, bool) {
	if e.histIdx < 0 {
		return 0, false
	}
	return e.histIdx, true
}

func (e *Editor) SavedDraft() string { return e.draft }

// Reset discards the buffer and leaves history navigation.
func (e *Editor) Reset() {
	e.buf = e.buf[:0]
	e.cursor = 0
	e.histIdx = -1
	e.draft = ""
}

// Insert places s at the cursor without submitting it. Control characters
// other than tabs are dropped; tabs become spaces.
func (e *Editor) Insert(s string) Result {
	var rs []rune
	for _, r := range s {
		switch {
		case r == '\t':
			rs = append(rs, ' ')
		case r == '\r' || r == '\n':
			rs = append(rs, ' ')
		case unicode.IsPrint(r) || r == ' ':
			rs = append(rs, r)
		}
	}
	if len(rs) == 0 {
		return Result{}
	}
	e.insertRunes(rs)
	return Result{Redraw: true}
}

// Apply feeds one keystroke to the editor.
func (e *Editor) Apply(k Key) Result {
	switch k.Kind {
	case KeyRune:
		e.insertRunes([]rune{k.Rune})
		return Result{Redraw: true}
	case KeyBackspace:
		if e.cursor == 0 {
			return Result{}
		}
		e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
		e.cursor--
		return Result{Redraw: true}
	case KeyDelete:
		if e.cursor >= len(e.buf) {
			return Result{}
		}
		e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
		return Result{Redraw: true}
	case KeyLeft:
		if e.cursor == 0 {
			return Result{}
		}
		e.cursor--
		return Result{Redraw: true}
	case KeyRight:
		if e.cursor >= len(e.buf) {
			return Result{}
		}
		e.cursor++
		return Result{Redraw: true}
	case KeyHome:
		e.cursor = 0
		return Result{Redraw: true}
	case KeyEnd:
		e.cursor = len(e.buf)
		return Result{Redraw: true}
	case KeyKillToEnd:
		if e.cursor >= len(e.buf) {
			return Result{}
		}
		e.killed = append([]rune(nil), e.buf[e.cursor:]...)
		e.buf = e.buf[:e.cursor]
		return Result{Redraw: true}
	case KeyKillToStart:
		if e.cursor == 0 {
			return Result{}
		}
		e.killed = append([]rune(nil), e.buf[:e.cursor]...)
		e.buf = append([]rune(nil), e.buf[e.cursor:]...)
		e.cursor = 0
		return Result{Redraw: true}
	case KeyKillWord:
		return e.killWord()
	case KeyYank:
		if len(e.killed) == 0 {
			return Result{}
		}
		e.insertRunes(e.killed)
		return Result{Redraw: true}
	case KeyUp:
		return e.historyPrev()
	case KeyDown:
		return e.historyNext()
	case KeyEnter:
		return e.submit()
	case KeyInterrupt:
		e.Reset()
		return Result{Interrupted: true}
	case KeyClearScreen:
		return Result{Clear: true, Redraw: true}
	default:
		return Result{}
	}
}

func (e *Editor) insertRunes(rs []rune) {
	tail := append([]rune(nil), e.buf[e.cursor:]...)
	e.buf = append(append(e.buf[:e.cursor], rs...), tail...)
	e.cursor += len(rs)
}

func (e *Editor) killWord() Result {
	start := e.cursor
	for start > 0 && unicode.IsSpace(e.buf[start-1]) {
		start--
	}
	for start > 0 && !unicode.IsSpace(e.buf[start-1]) {
		start--
	}
	if start == e.cursor {
		return Result{}
	}
	e.killed = append([]rune(nil), e.buf[start:e.cursor]...)
	e.buf = append(e.buf[:start], e.buf[e.cursor:]...)
	e.cursor = start
	return Result{Redraw: true}
}

func (e *Editor) historyPrev() Result {
	n := e.history.Len()
	if n == 0 {
		return Result{}
	}
	switch {
	case e.histIdx < 0:
		e.draft = string(e.buf)
		e.histIdx = n - 1
	case e.histIdx > 0:
		e.histIdx--
	default:
		return Result{}
	}
	e.show(e.history.At(e.histIdx))
	return Result{Redraw: true}
}

func (e *Editor) historyNext() Result {
	if e.histIdx < 0 {
		return Result{}
	}
	if e.histIdx < e.history.Len()-1 {
		e.histIdx++
		e.show(e.history.At(e.histIdx))
		return Result{Redraw: true}
	}
	draft := e.draft
	e.histIdx = -1
	e.draft = ""
	e.show(draft)
	return Result{Redraw: true}
}

func (e *Editor) show(s string) {
	e.buf = []rune(s)
	e.cursor = len(e.buf)
}

func (e *Editor) submit() Result {
	line := strings.TrimSpace(string(e.buf))
	if line != "" && line != e.history.Last() {
		e.history.Add(line)
	}
	e.Reset()
	return Result{Line: line, Submitted: true}
}

// Render returns the terminal sequence that repaints the current line after
// prompt and leaves the terminal cursor at the editor cursor.
func (e *Editor) Render(prompt string) string {
	var b strings.Builder
	b.WriteString("\r")
	b.WriteString(prompt)
	b.WriteString(string(e.buf))
	b.WriteString("\x1b[K")
	if back := runewidth.StringWidth(string(e.buf[e.cursor:])); back > 0 {
		b.WriteString("\x1b[")
		b.WriteString(strconv.Itoa(back))
		b.WriteString("D")
	}
	return b.String()
}
