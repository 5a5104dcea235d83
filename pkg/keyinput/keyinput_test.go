package keyinput

import (
	"bytes"
	"testing"
)

func TestEncodeKeyEventPrintableRoundTrip(t *testing.T) {
	for _, key := range []string{"a", "Z", "5", " ", "!"} {
		b, ok := EncodeKeyEvent(Event{Key: key})
		if !ok {
			t.Fatalf("expected %q to encode", key)
		}
		if !bytes.Equal(b, []byte(key)) {
			t.Fatalf("expected ASCII identity for %q, got %q", key, b)
		}
		if got := DecodeAsTerminalInput(b); got != key {
			t.Fatalf("round trip mismatch for %q: got %q", key, got)
		}
	}
}

func TestEncodeKeyEventSpecials(t *testing.T) {
	cases := []struct {
		event Event
		want  []byte
	}{
		{Event{Key: "Enter"}, []byte{0x0D}},
		{Event{Key: "Enter", Shift: true}, []byte{0x0A}},
		{Event{Key: "Tab"}, []byte{0x09}},
		{Event{Key: "Backspace"}, []byte{0x7F}},
		{Event{Key: "Escape"}, []byte{0x1B}},
		{Event{Key: "ArrowUp"}, []byte{0x1B, '[', 'A'}},
		{Event{Key: "ArrowDown"}, []byte{0x1B, '[', 'B'}},
		{Event{Key: "Home"}, []byte{0x1B, '[', 'H'}},
		{Event{Key: "PageUp"}, []byte{0x1B, '[', '5', '~'}},
		{Event{Key: "Delete"}, []byte{0x1B, '[', '3', '~'}},
	}
	for _, c := range cases {
		got, ok := EncodeKeyEvent(c.event)
		if !ok {
			t.Fatalf("expected %+v to encode", c.event)
		}
		if !bytes.Equal(got, c.want) {
			t.Fatalf("%+v: got %v, want %v", c.event, got, c.want)
		}
	}
}

func TestEncodeKeyEventCtrlLetters(t *testing.T) {
	b, ok := EncodeKeyEvent(Event{Key: "a", Ctrl: true})
	if !ok || len(b) != 1 || b[0] != 0x01 {
		t.Fatalf("Ctrl+a expected 0x01, got %v ok=%v", b, ok)
	}
	b, ok = EncodeKeyEvent(Event{Key: "@", Ctrl: true})
	if !ok || len(b) != 1 || b[0] != 0x00 {
		t.Fatalf("Ctrl+@ expected 0x00, got %v ok=%v", b, ok)
	}
	b, ok = EncodeKeyEvent(Event{Key: " ", Ctrl: true})
	if !ok || len(b) != 1 || b[0] != 0x00 {
		t.Fatalf("Ctrl+Space expected 0x00, got %v ok=%v", b, ok)
	}
}

func TestEncodeKeyEventAltPrependsEscape(t *testing.T) {
	b, ok := EncodeKeyEvent(Event{Key: "a", Alt: true})
	if !ok || !bytes.Equal(b, []byte{0x1B, 'a'}) {
		t.Fatalf("Alt+a expected ESC a, got %v ok=%v", b, ok)
	}
}

func TestEncodeKeyEventMetaIsAlwaysIgnored(t *testing.T) {
	if _, ok := EncodeKeyEvent(Event{Key: "a", Meta: true}); ok {
		t.Fatalf("expected Meta-modified events to be ignored")
	}
	if _, ok := EncodeKeyEvent(Event{Key: "Enter", Meta: true}); ok {
		t.Fatalf("expected Meta-modified named keys to be ignored")
	}
}
