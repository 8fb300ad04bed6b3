package terminal

// KeyKind is a decoded keypress.
type KeyKind int

const (
	KeyNone KeyKind = iota
	KeyUp
	KeyDown
	KeyEnter
	KeyDigit
	KeyQuit
)

// Key is one decoded keypress. Digit is set for KeyDigit.
type Key struct {
	Kind  KeyKind
	Digit int
}

const (
	ctrlC  = 0x03
	ctrlD  = 0x04
	escape = 0x1b
)

// ParseKeys decodes a chunk read from a raw-mode terminal. Unknown bytes
// and escape sequences are skipped.
func ParseKeys(buf []byte) []Key {
	var keys []Key
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		switch {
		case b == escape:
			// CSI or SS3 arrow: ESC [ A or ESC O A.
			if i+2 < len(buf) && (buf[i+1] == '[' || buf[i+1] == 'O') {
				switch buf[i+2] {
				case 'A':
					keys = append(keys, Key{Kind: KeyUp})
				case 'B':
					keys = append(keys, Key{Kind: KeyDown})
				}
				i += 2
				continue
			}
			keys = append(keys, Key{Kind: KeyQuit})
		case b == '\r' || b == '\n':
			keys = append(keys, Key{Kind: KeyEnter})
		case b == 'k':
			keys = append(keys, Key{Kind: KeyUp})
		case b == 'j':
			keys = append(keys, Key{Kind: KeyDown})
		case b == 'q' || b == ctrlC || b == ctrlD:
			keys = append(keys, Key{Kind: KeyQuit})
		case b >= '1' && b <= '9':
			keys = append(keys, Key{Kind: KeyDigit, Digit: int(b - '0')})
		}
	}
	return keys
}
