package terminal

import (
	"strings"

	"github.com/muesli/termenv"
)

func warnTone(s string) string {
	return termenv.String(s).Foreground(termenv.ANSIYellow).String()
}

func errorTone(s string) string {
	return termenv.String(s).Foreground(termenv.ANSIRed).String()
}

// crlf converts bare line feeds for a surface without a line discipline.
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
