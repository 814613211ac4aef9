package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// escapePattern matches one escape sequence. Alternatives are tried in
// order at each ESC, so string-terminated sequences win over the two-byte
// catch-all.
var escapePattern = regexp.MustCompile(strings.Join([]string{
	`\x1b\[[0-?]*[ -/]*[@-~]`,  // CSI
	`\x1b\].*?(?:\x07|\x1b\\)`, // OSC, BEL or ST terminated
	`\x1b[P^_k].*?\x1b\\`,      // DCS, PM, APC, screen title
	`\x1b[()][0-9A-Za-z]`,      // charset designation
	`\x1b[=>]`,                 // keypad mode
	`\x1b.`,
}, "|"))

// StripANSI reduces terminal output to the plain text a reader would see:
// escape sequences and control bytes are dropped, newlines and tabs kept,
// and a backspace erases the rune before it.
func StripANSI(s string) string {
	if !hasControl(s) {
		return s
	}
	s = escapePattern.ReplaceAllLiteralString(s, "")

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\b':
			_, size := utf8.DecodeLastRune(out)
			out = out[:len(out)-size]
		case c == '\n' || c == '\t':
			out = append(out, c)
		case c < 0x20 || c == 0x7f:
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// hasControl reports whether s holds any byte StripANSI would act on.
func hasControl(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; (c < 0x20 && c != '\n' && c != '\t') || c == 0x7f {
			return true
		}
	}
	return false
}
