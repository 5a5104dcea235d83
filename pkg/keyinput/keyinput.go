// Package keyinput implements the boundary between a browser keyboard event
// and the byte sequence a remote terminal host expects (spec.md §6 "Boundary
// with input encoding"). It is an external collaborator at the core's edge:
// the grid cache and predictive controller consume the bytes this package
// produces, but never construct them directly.
package keyinput

import "strings"

// Event is a minimal, DOM-independent description of a keydown event: just
// enough to drive the encoding rules of spec.md §6. Host shells (browser,
// demo CLI) translate their native event type into this shape.
type Event struct {
	// Key is the DOM-style key name: a single printable rune ("a", "1",
	// " "), or a named key ("Enter", "Tab", "Backspace", "Escape",
	// "ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight", "Home", "End",
	// "PageUp", "PageDown", "Delete", "Insert").
	Key   string
	Ctrl  bool
	Alt   bool
	Shift bool
	Meta  bool
}

// namedSequences covers the non-printable specials of spec.md §6. Shift is
// consulted only for Enter (Shift+Enter differs from plain Enter); the rest
// are shift-invariant at the byte level.
var namedSequences = map[string][]byte{
	"Enter":     {0x0D},
	"Tab":       {0x09},
	"Backspace": {0x7F},
	"Escape":    {0x1B},
	"ArrowUp":    {0x1B, '[', 'A'},
	"ArrowDown":  {0x1B, '[', 'B'},
	"ArrowRight": {0x1B, '[', 'C'},
	"ArrowLeft":  {0x1B, '[', 'D'},
	"Home":      {0x1B, '[', 'H'},
	"End":       {0x1B, '[', 'F'},
	"PageUp":    {0x1B, '[', '5', '~'},
	"PageDown":  {0x1B, '[', '6', '~'},
	"Delete":    {0x1B, '[', '3', '~'},
	"Insert":    {0x1B, '[', '2', '~'},
}

// EncodeKeyEvent maps a keyboard event to the bytes a remote terminal
// expects, or (nil, false) if the event carries no terminal-visible effect
// (spec.md §6). Meta-key events are always ignored: on every platform this
// package targets, Meta is reserved for the browser/OS chrome, never passed
// through to the remote shell.
func EncodeKeyEvent(e Event) ([]byte, bool) {
	if e.Meta {
		return nil, false
	}

	if e.Key == "Enter" && e.Shift {
		return []byte{0x0A}, true
	}

	if e.Ctrl && !e.Alt {
		if seq, ok := encodeCtrl(e.Key); ok {
			return withAlt(seq, false), true
		}
	}

	if seq, ok := namedSequences[e.Key]; ok {
		return withAlt(append([]byte(nil), seq...), e.Alt), true
	}

	if isSinglePrintable(e.Key) {
		r := []rune(e.Key)[0]
		if e.Ctrl {
			if seq, ok := encodeCtrlRune(r); ok {
				return withAlt(seq, e.Alt), true
			}
			return nil, false
		}
		return withAlt([]byte(e.Key), e.Alt), true
	}

	return nil, false
}

// withAlt prepends ESC (0x1B) when Alt is held, per spec.md §6 "Alt prepends
// 0x1B".
func withAlt(seq []byte, alt bool) []byte {
	if !alt {
		return seq
	}
	out := make([]byte, 0, len(seq)+1)
	out = append(out, 0x1B)
	return append(out, seq...)
}

// encodeCtrl handles Ctrl combinations expressed as named keys (Ctrl+@,
// Ctrl+Space map to NUL per spec.md §6).
func encodeCtrl(key string) ([]byte, bool) {
	switch key {
	case "@", " ":
		return []byte{0x00}, true
	}
	if isSinglePrintable(key) {
		return encodeCtrlRune([]rune(key)[0])
	}
	return nil, false
}

// encodeCtrlRune maps Ctrl+letter to 0x01-0x1A (spec.md §6).
func encodeCtrlRune(r rune) ([]byte, bool) {
	upper := r
	if upper >= 'a' && upper <= 'z' {
		upper = upper - 'a' + 'A'
	}
	if upper >= 'A' && upper <= 'Z' {
		return []byte{byte(upper - 'A' + 1)}, true
	}
	if r == '@' || r == ' ' {
		return []byte{0x00}, true
	}
	return nil, false
}

func isSinglePrintable(key string) bool {
	r := []rune(key)
	return len(r) == 1 && r[0] >= 0x20 && r[0] != 0x7F
}

// DecodeAsTerminalInput renders the raw bytes a remote host would receive
// back into a human-readable description, used only by the round-trip law
// of spec.md §8 (`encodeKeyEvent; decodeAsTerminalInput` preserves ASCII
// identity for printable keys) and by test fixtures / demo-client echo
// debugging. It is intentionally lossy for control sequences: it exists to
// prove printable-key identity, not to be a full terminal-input parser
// (that parsing lives on the host side, outside the core's scope).
func DecodeAsTerminalInput(b []byte) string {
	if len(b) == 1 && b[0] >= 0x20 && b[0] != 0x7F {
		return string(rune(b[0]))
	}
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == 0x0D:
			sb.WriteString("<CR>")
		case c == 0x0A:
			sb.WriteString("<LF>")
		case c == 0x09:
			sb.WriteString("<TAB>")
		case c == 0x7F:
			sb.WriteString("<BS>")
		case c == 0x1B:
			sb.WriteString("<ESC>")
		case c < 0x20:
			sb.WriteString("<CTRL>")
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
