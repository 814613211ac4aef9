package main

const (
	escapeByte = 0x1d // Ctrl-]

	cmdDetach   = 'q'
	cmdKill     = 'k'
	cmdActivity = 'a'
	cmdHelp     = '?'
)

const escapeHelp = "[Ctrl-] q: detach  k: kill terminal  a: save activity  Ctrl-]: send Ctrl-]]"

// escapeFilter splits stdin into terminal input and local commands. A
// command is the escape byte followed by one key; a doubled escape byte
// sends one through. The escape state survives across reads. Feed stops at
// the first command for which command returns true.
type escapeFilter struct {
	armed bool
}

func (f *escapeFilter) Feed(data []byte, input func(string), command func(byte) bool) {
	start := 0
	flush := func(end int) {
		if end > start {
			input(string(data[start:end]))
		}
	}
	for i, b := range data {
		if f.armed {
			f.armed = false
			start = i + 1
			if b == escapeByte {
				input(string([]byte{escapeByte}))
				continue
			}
			switch b {
			case cmdDetach, cmdKill, cmdActivity, cmdHelp:
				if command(b) {
					return
				}
			}
			continue
		}
		if b == escapeByte {
			flush(i)
			f.armed = true
			start = i + 1
		}
	}
	if !f.armed {
		flush(len(data))
	}
}
