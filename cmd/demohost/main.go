// Command demohost is a reference implementation of the remote host side
// of the wire protocol (spec.md §6): it spawns a real shell in a PTY,
// feeds its output through a tiny ANSI-to-cell mapper (pkg/terminal), and
// serves the resulting grid over a WebSocket using pkg/wire's framing —
// standing in for the production WebRTC-connected host this viewer core
// is designed against (spec.md §1).
package main

import (
	"net/http"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/beachterm/viewer/internal/logx"
	"github.com/beachterm/viewer/pkg/terminal"
	"github.com/beachterm/viewer/pkg/transport"
	"github.com/beachterm/viewer/pkg/wire"
)

var log = logx.New("demohost")

func main() {
	var (
		addr  string
		shell string
		cols  int
		rows  int
	)

	root := &cobra.Command{
		Use:   "demohost",
		Short: "Serve a shell PTY over the viewer wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr, shell, cols, rows)
		},
	}
	root.Flags().StringVar(&addr, "addr", ":7790", "listen address for the WebSocket endpoint")
	root.Flags().StringVar(&shell, "shell", defaultShell(), "shell command to spawn per connection")
	root.Flags().IntVar(&cols, "cols", 80, "initial grid columns")
	root.Flags().IntVar(&rows, "rows", 24, "initial grid rows")

	if err := root.Execute(); err != nil {
		log.Printf("exiting: %v", err)
		os.Exit(1)
	}
}

func defaultShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/bash"
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func serve(addr, shell string, cols, rows int) error {
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("upgrade failed: %v", err)
			return
		}
		tr := transport.NewWebSocketTransport(conn)
		session := newHostSession(tr, shell, cols, rows)
		go session.run()
	})

	log.Printf("serving ws://%s/ws (shell=%s %dx%d)", addr, shell, cols, rows)
	return http.ListenAndServe(addr, nil)
}

// hostSession owns one PTY-backed connection, mirroring the
// one-connection-one-goroutine-pair shape the teacher's websocket handler
// used for its raw PTY subscription.
type hostSession struct {
	tr    transport.Transport
	ptmx  *os.File
	cmd   *exec.Cmd
	vt    *terminal.VT
	shell string

	subscription uint32
	seq          uint64
}

func newHostSession(tr transport.Transport, shell string, cols, rows int) *hostSession {
	return &hostSession{
		tr:           tr,
		vt:           terminal.New(cols, rows),
		shell:        shell,
		subscription: 1,
	}
}

func (s *hostSession) run() {
	cmd := exec.Command(s.shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	cols, rows := s.vt.Size()
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		log.Warnf("pty start failed: %v", err)
		_ = s.tr.Close()
		return
	}
	s.ptmx = ptmx
	s.cmd = cmd

	removeFrame := s.tr.AddEventListener(transport.EventFrame, s.onViewerFrame)
	removeClose := s.tr.AddEventListener(transport.EventClose, func(transport.Event) {
		_ = s.ptmx.Close()
		_ = s.cmd.Process.Kill()
	})
	defer removeFrame()
	defer removeClose()

	s.sendFrame(wire.EncodeHello(s.subscription, wire.FeatureCursorSync))
	s.sendFrame(wire.EncodeGrid(0, uint32(rows), uint32(cols), nil))
	s.sendSnapshot()

	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.seq++
			updates := s.vt.Feed(buf[:n], s.seq)
			if len(updates) > 0 {
				cursorRow, cursorCol := s.vt.Cursor()
				s.sendFrame(wire.EncodeDelta(updates, &wire.CursorFrame{Row: cursorRow, Col: cursorCol, Seq: s.seq, Visible: true}))
			}
		}
		if err != nil {
			break
		}
	}

	s.sendFrame(wire.EncodeShutdown())
	_ = s.tr.Close()
}

func (s *hostSession) sendSnapshot() {
	s.seq++
	cols, rows := s.vt.Size()
	// A fresh VT has nothing dirty yet, so force one full-grid update batch
	// by resizing to the same size: Resize marks every line dirty.
	s.vt.Resize(cols, rows)
	updates := s.vt.Feed(nil, s.seq)
	cursorRow, cursorCol := s.vt.Cursor()
	s.sendFrame(wire.EncodeSnapshot(updates, &wire.CursorFrame{Row: cursorRow, Col: cursorCol, Seq: s.seq, Visible: true}))
	s.sendFrame(wire.EncodeSnapshotComplete())
}

func (s *hostSession) sendFrame(frame []byte) {
	if err := s.tr.Send(frame); err != nil {
		log.Warnf("send failed: %v", err)
	}
}

func (s *hostSession) onViewerFrame(ev transport.Event) {
	f, err := wire.DecodeViewerFrame(ev.Frame)
	if err != nil {
		log.Warnf("dropping malformed viewer frame: %v", err)
		return
	}

	switch f.Kind {
	case wire.ViewerInput:
		if _, err := s.ptmx.Write(f.InputData); err != nil {
			log.Warnf("pty write failed: %v", err)
			return
		}
		s.sendFrame(wire.EncodeInputAck(f.InputSeq))

	case wire.ViewerResize:
		_ = pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(f.ResizeRows), Cols: uint16(f.ResizeCols)})
		s.vt.Resize(int(f.ResizeCols), int(f.ResizeRows))
		s.sendFrame(wire.EncodeGrid(0, f.ResizeRows, f.ResizeCols, nil))
		s.sendSnapshot()

	case wire.ViewerRequest:
		if f.RequestKind == wire.RequestHistoryBackfill {
			// This demo host keeps no scrollback beyond the live grid (its
			// VT scrolls in place rather than retaining history), so every
			// backfill reply is empty but still closes out the requested
			// range so the viewer's backfill controller stops re-asking.
			s.sendFrame(wire.EncodeHistoryBackfill(f.RequestRange.Start, f.RequestRange.End, nil, nil))
		}

	default:
		log.Warnf("unhandled viewer frame kind %v", f.Kind)
	}
}
