package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrorSignatures are the output fragments that mark a chunk as carrying
// an error. Matching is case-insensitive.
var ErrorSignatures = []string{
	"error:",
	"ERR!",
	"failed",
	"exception",
	"ENOENT",
	"Cannot find module",
	"command not found",
	"permission denied",
}

var (
	ErrorSignaturePattern   *regexp.Regexp
	TerminalNotFoundPattern *regexp.Regexp

	// signatureSpan bounds the byte length of a signature match, allowing
	// for multi-byte case folds.
	signatureSpan int
)

func init() {
	quoted := make([]string, len(ErrorSignatures))
	for i, sig := range ErrorSignatures {
		quoted[i] = regexp.QuoteMeta(sig)
		signatureSpan = max(signatureSpan, len(sig)*utf8.UTFMax)
	}
	ErrorSignaturePattern = regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
	TerminalNotFoundPattern = regexp.MustCompile(`(?i)terminal not found`)
}

// HasErrorSignature reports whether text contains any error signature.
func HasErrorSignature(text string) bool {
	return ErrorSignaturePattern.MatchString(text)
}

// HasNewErrorSignature reports whether text, following already scanned
// output seen on the same line, completes an error signature. A match lying
// wholly inside seen is not reported again.
func HasNewErrorSignature(seen, text string) bool {
	if len(seen) > signatureSpan {
		seen = seen[len(seen)-signatureSpan:]
	}
	for _, loc := range ErrorSignaturePattern.FindAllStringIndex(seen+text, -1) {
		if loc[1] > len(seen) {
			return true
		}
	}
	return false
}

// IsTerminalNotFound reports whether a host error message says the backing
// terminal no longer exists.
func IsTerminalNotFound(message string) bool {
	return TerminalNotFoundPattern.MatchString(message)
}
