package lineedit

import (
	"unicode"
	"unicode/utf8"
)

// KeyKind identifies a decoded keystroke.
type KeyKind int

const (
	KeyUnknown KeyKind = iota
	KeyRune
	KeyEnter
	KeyBackspace
	KeyDelete
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyUp
	KeyDown
	KeyKillToEnd
	KeyKillToStart
	KeyKillWord
	KeyYank
	KeyInterrupt
	KeyClearScreen
)

// Key is a single decoded keystroke.
type Key struct {
	Kind KeyKind
	Rune rune
}

var controlKeys = map[byte]KeyKind{
	'\r': KeyEnter,
	'\n': KeyEnter,
	0x7f: KeyBackspace,
	'\b': KeyBackspace,
	0x01: KeyHome,
	0x05: KeyEnd,
	0x02: KeyLeft,
	0x06: KeyRight,
	0x0b: KeyKillToEnd,
	0x15: KeyKillToStart,
	0x17: KeyKillWord,
	0x19: KeyYank,
	0x03: KeyInterrupt,
	0x0c: KeyClearScreen,
	0x04: KeyDelete,
	0x10: KeyUp,
	0x0e: KeyDown,
}

// CSI final bytes without parameters.
var csiKeys = map[byte]KeyKind{
	'A': KeyUp,
	'B': KeyDown,
	'C': KeyRight,
	'D': KeyLeft,
	'H': KeyHome,
	'F': KeyEnd,
}

// CSI "n~" sequences.
var tildeKeys = map[string]KeyKind{
	"1": KeyHome,
	"7": KeyHome,
	"3": KeyDelete,
	"4": KeyEnd,
	"8": KeyEnd,
}

// Decode splits raw terminal input into keystrokes. Escape sequences that
// are not understood decode to KeyUnknown and consume the whole sequence.
func Decode(data string) []Key {
	keys := make([]Key, 0, len(data))
	for i := 0; i < len(data); {
		b := data[i]
		if b == 0x1b {
			k, n := decodeEscape(data[i:])
			keys = append(keys, k)
			i += n
			continue
		}
		if b < 0x20 || b == 0x7f {
			kind, ok := controlKeys[b]
			if !ok {
				kind = KeyUnknown
			}
			// treat CRLF as a single Enter
			if b == '\r' && i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			keys = append(keys, Key{Kind: kind})
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(data[i:])
		if r == utf8.RuneError && size <= 1 {
			keys = append(keys, Key{Kind: KeyUnknown})
			i++
			continue
		}
		if unicode.IsPrint(r) || r == ' ' {
			keys = append(keys, Key{Kind: KeyRune, Rune: r})
		} else {
			keys = append(keys, Key{Kind: KeyUnknown})
		}
		i += size
	}
	return keys
}

func decodeEscape(s string) (Key, int) {
	if len(s) < 2 {
		return Key{Kind: KeyUnknown}, len(s)
	}
	switch s[1] {
	case 'O':
		// SS3: application cursor mode
		if len(s) < 3 {
			return Key{Kind: KeyUnknown}, len(s)
		}
		if kind, ok := csiKeys[s[2]]; ok {
			return Key{Kind: kind}, 3
		}
		return Key{Kind: KeyUnknown}, 3
	case '[':
		j := 2
		for j < len(s) && s[j] >= 0x30 && s[j] <= 0x3f {
			j++
		}
		for j < len(s) && s[j] >= 0x20 && s[j] <= 0x2f {
			j++
		}
		if j >= len(s) {
			return Key{Kind: KeyUnknown}, len(s)
		}
		params, final := s[2:j], s[j]
		n := j + 1
		if final == '~' {
			if kind, ok := tildeKeys[params]; ok {
				return Key{Kind: kind}, n
			}
			return Key{Kind: KeyUnknown}, n
		}
		// modifiers like ESC[1;5C are treated as the plain key
		if params == "" || params == "1" || len(params) > 2 && params[:2] == "1;" {
			if kind, ok := csiKeys[final]; ok {
				return Key{Kind: kind}, n
			}
		}
		return Key{Kind: KeyUnknown}, n
	case 0x7f:
		// Alt-Backspace
		return Key{Kind: KeyKillWord}, 2
	default:
		return Key{Kind: KeyUnknown}, 2
	}
}
