// Command democlient is a minimal terminal-based reference implementation of
// the viewer side of the wire protocol (spec.md §1): it dials a demohost-style
// WebSocket endpoint, puts the local terminal into raw mode, forwards
// keystrokes through pkg/viewerclient.Session.SendKey, and renders the grid
// cache back to the terminal as plain text. It stands in for the production
// browser viewer this core is designed against, the way cmd/demohost stands
// in for the production WebRTC-connected host. Styling, cursor rendering, and
// the pixel-to-row sizing strategy are out of scope for the core (spec.md
// Non-goals), so this renders the plainest possible text grid.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/beachterm/viewer/internal/config"
	"github.com/beachterm/viewer/internal/logx"
	"github.com/beachterm/viewer/pkg/grid"
	"github.com/beachterm/viewer/pkg/keyinput"
	"github.com/beachterm/viewer/pkg/transport"
	"github.com/beachterm/viewer/pkg/viewerclient"
)

var log = logx.New("democlient")

func main() {
	var (
		addr string
		rows int
		cols int
	)

	root := &cobra.Command{
		Use:   "democlient",
		Short: "Connect to a demohost endpoint and drive it from this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, rows, cols)
		},
	}
	root.Flags().StringVar(&addr, "addr", "ws://127.0.0.1:7790/ws", "demohost WebSocket endpoint")
	root.Flags().IntVar(&rows, "rows", 24, "visible rows to render")
	root.Flags().IntVar(&cols, "cols", 80, "visible columns to render")

	if err := root.Execute(); err != nil {
		log.Printf("exiting: %v", err)
		os.Exit(1)
	}
}

func run(addr string, rows, cols int) error {
	// A per-connection trace id distinguishes concurrent demo sessions in the
	// log, the way the production host tags each connection for its own
	// server-side logs.
	traceID := uuid.New().String()
	log.Printf("connecting to %s (trace=%s)", addr, traceID)

	tr, err := transport.DialWebSocket(addr, http.Header{"X-Trace-Id": []string{traceID}})
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	sess := viewerclient.New(config.Default(), tr)

	restore, isTTY := enterRawMode(int(os.Stdin.Fd()))
	if !isTTY {
		log.Warnf("stdin is not a terminal; connecting read-only")
	} else {
		defer restore()
	}
	defer fmt.Print("\x1b[?25h")

	redraw := make(chan struct{}, 1)
	queueRedraw := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}
	sess.OnChange = queueRedraw
	sess.Start()
	defer func() { _ = sess.Close() }()

	keys := make(chan keyinput.Event, 64)
	keyErrs := make(chan error, 1)
	if isTTY {
		go readKeyboard(os.Stdin, keys, keyErrs)
	}

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	fmt.Print("\x1b[2J\x1b[H")
	for {
		select {
		case <-ticker.C:
			sess.Tick(time.Now())
			queueRedraw()

		case ev := <-keys:
			if ev.Ctrl && ev.Key == "c" {
				return nil
			}
			sess.SendKey(ev)

		case err := <-keyErrs:
			if err != io.EOF {
				log.Warnf("keyboard read failed: %v", err)
			}
			return nil

		case <-redraw:
			render(sess, rows, cols)
		}
	}
}

func enterRawMode(fd int) (restore func(), isTTY bool) {
	if !term.IsTerminal(fd) {
		return func() {}, false
	}
	prev, err := term.MakeRaw(fd)
	if err != nil {
		log.Warnf("failed to enter raw mode: %v", err)
		return func() {}, false
	}
	return func() { _ = term.Restore(fd, prev) }, true
}

// render repaints the visible rows as plain text, homing the cursor first so
// each frame overwrites the last rather than scrolling the host terminal.
// It goes through Session.VisibleRows rather than indexing the snapshot
// directly so it picks up the same follow-tail/scrollback anchoring a real
// rendering surface would (spec.md §4.5).
func render(sess *viewerclient.Session, rows, cols int) {
	var out []byte
	out = append(out, "\x1b[H"...)
	for _, row := range sess.VisibleRows(rows) {
		line := rowText(row)
		if len(line) > cols {
			line = line[:cols]
		}
		out = append(out, line...)
		out = append(out, "\x1b[K\r\n"...)
	}
	os.Stdout.Write(out)
}

func rowText(row grid.RowSlot) string {
	if row.Kind != grid.RowLoaded {
		return ""
	}
	width := row.LogicalWidth
	if width > len(row.Cells) {
		width = len(row.Cells)
	}
	var sb []rune
	for i := 0; i < width; i++ {
		ch := row.Cells[i].Char
		if ch == 0 {
			ch = ' '
		}
		sb = append(sb, ch)
	}
	return string(sb)
}

// readKeyboard decodes raw terminal bytes into keyinput.Events, the inverse
// of the DOM-keydown encoding pkg/keyinput implements, and feeds them to out
// until r is closed or produces an error.
func readKeyboard(r io.Reader, out chan<- keyinput.Event, errs chan<- error) {
	br := bufio.NewReader(r)
	for {
		ev, err := decodeKeyEvent(br)
		if err != nil {
			errs <- err
			return
		}
		out <- ev
	}
}

func decodeKeyEvent(br *bufio.Reader) (keyinput.Event, error) {
	b, err := br.ReadByte()
	if err != nil {
		return keyinput.Event{}, err
	}

	switch {
	case b == 0x1B:
		return decodeEscapeSequence(br)
	case b == 0x0D:
		return keyinput.Event{Key: "Enter"}, nil
	case b == 0x09:
		return keyinput.Event{Key: "Tab"}, nil
	case b == 0x7F:
		return keyinput.Event{Key: "Backspace"}, nil
	case b == 0x00:
		return keyinput.Event{Key: "@", Ctrl: true}, nil
	case b < 0x20:
		return keyinput.Event{Key: string(rune('a' + b - 1)), Ctrl: true}, nil
	default:
		return decodeUTF8Rune(br, b)
	}
}

// decodeEscapeSequence distinguishes a bare Escape keypress from a CSI
// sequence (arrow/navigation keys) and from Alt+<key>, which the browser
// never produces as raw bytes but this terminal client's own Alt handling
// would if extended; CSI is the only multi-byte case a real terminal sends.
func decodeEscapeSequence(br *bufio.Reader) (keyinput.Event, error) {
	next, err := br.Peek(1)
	if err != nil || next[0] != '[' {
		return keyinput.Event{Key: "Escape"}, nil
	}
	_, _ = br.ReadByte()

	final, err := br.ReadByte()
	if err != nil {
		return keyinput.Event{}, err
	}

	switch final {
	case 'A':
		return keyinput.Event{Key: "ArrowUp"}, nil
	case 'B':
		return keyinput.Event{Key: "ArrowDown"}, nil
	case 'C':
		return keyinput.Event{Key: "ArrowRight"}, nil
	case 'D':
		return keyinput.Event{Key: "ArrowLeft"}, nil
	case 'H':
		return keyinput.Event{Key: "Home"}, nil
	case 'F':
		return keyinput.Event{Key: "End"}, nil
	}

	if final >= '0' && final <= '9' {
		digits := []byte{final}
		for {
			d, err := br.ReadByte()
			if err != nil {
				return keyinput.Event{}, err
			}
			if d == '~' {
				break
			}
			digits = append(digits, d)
		}
		switch string(digits) {
		case "2":
			return keyinput.Event{Key: "Insert"}, nil
		case "3":
			return keyinput.Event{Key: "Delete"}, nil
		case "5":
			return keyinput.Event{Key: "PageUp"}, nil
		case "6":
			return keyinput.Event{Key: "PageDown"}, nil
		}
	}

	return keyinput.Event{Key: "Escape"}, nil
}

func decodeUTF8Rune(br *bufio.Reader, first byte) (keyinput.Event, error) {
	n := utf8RuneLen(first)
	buf := make([]byte, n)
	buf[0] = first
	for i := 1; i < n; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return keyinput.Event{}, err
		}
		buf[i] = b
	}
	r, _ := utf8.DecodeRune(buf)
	return keyinput.Event{Key: string(r)}, nil
}

func utf8RuneLen(first byte) int {
	switch {
	case first&0x80 == 0x00:
		return 1
	case first&0xE0 == 0xC0:
		return 2
	case first&0xF0 == 0xE0:
		return 3
	case first&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
