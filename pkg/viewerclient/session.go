// Package viewerclient wires the grid cache, predictive echo controller,
// backfill controller, frame dispatcher, and viewport controller behind a
// single facade a rendering surface observes (spec.md §4 design note
// "cyclic ownership between viewport and cache" — this is the "thin policy
// layer" the note recommends). It also owns the status/error surfacing
// rules of spec.md §7.
package viewerclient

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/beachterm/viewer/internal/config"
	"github.com/beachterm/viewer/internal/logx"
	"github.com/beachterm/viewer/pkg/backfill"
	"github.com/beachterm/viewer/pkg/dispatch"
	"github.com/beachterm/viewer/pkg/grid"
	"github.com/beachterm/viewer/pkg/keyinput"
	"github.com/beachterm/viewer/pkg/predict"
	"github.com/beachterm/viewer/pkg/transport"
	"github.com/beachterm/viewer/pkg/viewport"
	"github.com/beachterm/viewer/pkg/wire"
)

var log = logx.New("viewerclient")

// Status is the connection lifecycle status surfaced to a rendering surface
// (spec.md §7 "User-visible behavior").
type Status string

const (
	StatusConnecting      Status = "connecting"
	StatusApprovalPending Status = "approval_pending"
	StatusGranted         Status = "granted"
	StatusDenied          Status = "denied"
	StatusOpen            Status = "open"
	StatusClosed          Status = "closed"
	StatusError           Status = "error"
)

const (
	statusPrefix                 = "beach:status:"
	fallbackEntitlementSubstring = "fallback entitlement"
	fallbackSignupHint           = "Sign up for a Beach plan to continue."
)

// Session is the single facade a rendering surface drives and observes.
type Session struct {
	mu  sync.Mutex
	cfg config.ViewerConfig

	Grid     *grid.Cache
	Predict  *predict.Controller
	Backfill *backfill.Controller
	Dispatch *dispatch.Dispatcher
	Viewport *viewport.Controller

	tr       transport.Transport
	removers []func()

	status        Status
	statusMessage string
	secure        transport.SecureTransportSummary
	everGranted   bool

	// OnChange fires after any state mutation a rendering surface should
	// react to. Coalescing/throttling is the rendering surface's concern;
	// the session fires it unconditionally on every contributing event.
	OnChange func()
}

// New constructs a Session wired to the given transport. Call Start to begin
// observing it.
func New(cfg config.ViewerConfig, t transport.Transport) *Session {
	s := &Session{cfg: cfg, tr: t, status: StatusConnecting}

	s.Grid = grid.New(cfg.MaxHistory)

	s.Predict = predict.New(func(predict.Overlay) { s.notify() })
	s.Predict.SRTTAlpha = cfg.SRTTAlpha

	s.Backfill = backfill.New(nil)
	s.Backfill.LookaheadRows = cfg.BackfillLookaheadRows

	s.Viewport = viewport.New()
	s.Viewport.AutoResizeHostOnViewportChange = cfg.AutoResizeHostOnViewportChange
	s.Viewport.CommitDebounce = cfg.ViewportCommitDebounce()
	s.Viewport.RowTolerance = cfg.ViewportRowTolerance

	s.Dispatch = dispatch.New(s.Grid, s.Predict, s.Backfill, s.sendFrame, s.backfillParams)
	s.Dispatch.Trace = logx.NewFrameTracer("trace")
	s.Dispatch.InputFlushDelay = cfg.InputFlushInterval()
	s.Dispatch.InputFrameCap = cfg.InputFrameCapBytes
	s.Backfill.RequestBackfill = s.Dispatch.SendBackfillRequest

	s.Viewport.OnCommit = func(rows int, sendResize bool) {
		if sendResize {
			s.Dispatch.SendResize(uint32(rows), s.Grid.Cols())
		}
	}

	return s
}

// Start subscribes to the transport's events. Call once.
func (s *Session) Start() {
	s.removers = []func(){
		s.tr.AddEventListener(transport.EventOpen, s.onOpen),
		s.tr.AddEventListener(transport.EventClose, s.onClose),
		s.tr.AddEventListener(transport.EventError, s.onError),
		s.tr.AddEventListener(transport.EventStatus, s.onStatus),
		s.tr.AddEventListener(transport.EventSecure, s.onSecure),
		s.tr.AddEventListener(transport.EventFrame, s.onFrame),
	}
}

// Close tears down the transport and stops observing it.
func (s *Session) Close() error {
	for _, remove := range s.removers {
		remove()
	}
	s.removers = nil
	return s.tr.Close()
}

func (s *Session) sendFrame(frame []byte) {
	if err := s.tr.Send(frame); err != nil {
		log.Warnf("send failed: %v", err)
	}
}

func (s *Session) backfillParams() backfill.RequestParams {
	follow := s.Viewport.EffectiveFollowTail()
	return backfill.RequestParams{
		NearBottom:        follow,
		FollowTailDesired: follow,
		Phase:             backfill.Phase(s.Viewport.Phase()),
		TailPaddingRows:   s.Grid.TailPadRows(),
	}
}

func (s *Session) onOpen(transport.Event) {
	_ = s.tr.SendText(wire.ReadySentinel)
}

func (s *Session) onClose(transport.Event) {
	s.mu.Lock()
	s.status = StatusClosed
	if !s.everGranted {
		s.statusMessage = "Disconnected before approval."
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onError(ev transport.Event) {
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	if strings.Contains(msg, fallbackEntitlementSubstring) {
		msg = fallbackSignupHint
	}
	s.mu.Lock()
	s.status = StatusError
	s.statusMessage = msg
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onSecure(ev transport.Event) {
	s.mu.Lock()
	s.secure = ev.Secure
	s.mu.Unlock()
	s.notify()
}

// onStatus parses the "beach:status:approval_pending|granted|denied" text
// sentinel (spec.md §6) into the surfaced Status values of spec.md §7.
func (s *Session) onStatus(ev transport.Event) {
	if !strings.HasPrefix(ev.Status, statusPrefix) {
		return
	}
	sub := strings.TrimPrefix(ev.Status, statusPrefix)

	s.mu.Lock()
	switch sub {
	case "approval_pending":
		s.status = StatusApprovalPending
		s.statusMessage = ""
	case "granted":
		s.status = StatusGranted
		s.everGranted = true
		s.statusMessage = ""
	case "denied":
		s.status = StatusDenied
		s.statusMessage = "Join request was declined."
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onFrame(ev transport.Event) {
	f, err := wire.Decode(ev.Frame)
	if err != nil {
		log.Warnf("dropping malformed frame: %v", err)
		return
	}
	s.Dispatch.HandleFrame(f)

	switch f.Kind {
	case wire.KindSnapshot, wire.KindDelta, wire.KindHistoryBackfill, wire.KindSnapshotComplete:
		if !s.Dispatch.Hydrating() {
			s.Viewport.ExitHydration(true)
		}
	}
	s.Viewport.SetPadRows(s.Grid.TailPadRows())
	s.Grid.SetFollowTail(s.Viewport.EffectiveFollowTail())

	if s.status == StatusConnecting {
		s.mu.Lock()
		s.status = StatusOpen
		s.mu.Unlock()
	}
	s.notify()
}

// Status returns the current connection status and any user-visible detail
// message (spec.md §7).
func (s *Session) Status() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.statusMessage
}

// Snapshot returns the current grid snapshot.
func (s *Session) Snapshot() *grid.Snapshot { return s.Grid.Snapshot() }

// VisibleRows returns the h rows the rendering surface should draw (spec.md §4.5).
func (s *Session) VisibleRows(h int) []grid.RowSlot { return s.Grid.VisibleRows(h) }

// Tick drives the per-animation-frame housekeeping: predictive-overlay aging
// and ack-grace pruning (spec.md §5 "Suspension points").
func (s *Session) Tick(now time.Time) {
	s.Predict.Tick(predict.NowMs(now))
	s.Grid.PruneAckedPredictions(now, s.cfg.AckGrace())
	s.notify()
}

// JumpToTail re-enters follow-tail intent (spec.md §4.5).
func (s *Session) JumpToTail() {
	s.Viewport.JumpToTail()
	s.Grid.SetFollowTail(s.Viewport.EffectiveFollowTail())
	s.notify()
}

// ClassifyScroll feeds a scroll observation through the viewport controller
// and resyncs the grid cache's effective follow-tail flag.
func (s *Session) ClassifyScroll(next viewport.ScrollSnapshot, rowHeight, epsilon float64) viewport.ScrollClass {
	class := s.Viewport.ClassifyScroll(next, rowHeight, epsilon)
	s.Grid.SetFollowTail(s.Viewport.EffectiveFollowTail())
	s.notify()
	return class
}

// SetManualScrollTop updates the grid cache's scrollback window to the
// viewport's last committed row count.
func (s *Session) SetManualScrollTop(top uint64) {
	rows, ok := s.Viewport.CommittedRows()
	if !ok {
		rows = 24
	}
	s.Grid.SetViewport(top, rows)
	s.notify()
}

// ProposeViewport feeds a sizing-strategy proposal through the viewport
// controller's debounce (spec.md §4.5).
func (s *Session) ProposeViewport(p viewport.Proposal) {
	s.Viewport.ProposeViewport(p)
}

// SendKey encodes e into terminal bytes, registers a local prediction for
// small chunks holding at least one printable, CR or LF byte
// (dispatch.IsPredictiveChunk; a lone backspace is not one), and enqueues the bytes for
// outbound send (spec.md §6 keyboard boundary, §4.2 predictive echo). It
// returns false if e carries no terminal-visible effect.
func (s *Session) SendKey(e keyinput.Event) bool {
	data, ok := keyinput.EncodeKeyEvent(e)
	if !ok {
		return false
	}

	predictive := dispatch.IsPredictiveChunk(data)
	seq := s.Dispatch.NextInputSeq()
	if predictive {
		cells, endRow, endCol := s.predictBytes(data)
		s.Grid.RegisterPrediction(seq, cells, endRow, endCol)
	}
	s.Predict.RecordSend(seq, predict.NowMs(time.Now()), predictive)
	s.Dispatch.EnqueueInput(data)
	s.notify()
	return true
}

// predictBytes replays data from the current predicted (or authoritative)
// cursor position, producing the cell writes and end cursor a matching
// authoritative echo is expected to reproduce (spec.md §4.1 "Cursor logic").
// Escape sequences (arrow keys, navigation) have host-defined effects this
// boundary can't guess, so they register a zero-cell, cursor-unchanged
// prediction rather than render garbage.
func (s *Session) predictBytes(data []byte) (map[grid.CellPos]rune, uint64, uint32) {
	row, col := s.startPredictionPos()
	cells := map[grid.CellPos]rune{}

	if len(data) > 0 && data[0] == 0x1B {
		return cells, row, col
	}

	cols := s.Grid.Cols()
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		i += size

		switch r {
		case '\r', '\n':
			row++
			col = 0
		case 0x7F, 0x08:
			floor := s.Grid.MinimumServerColumn(row)
			if col > floor {
				col--
			}
		default:
			if r < 0x20 {
				continue
			}
			cells[grid.CellPos{Row: row, Col: col}] = r
			if cols == 0 || col < cols {
				col++
			}
		}
		if cols > 0 && col > cols {
			col = cols
		}
	}
	return cells, row, col
}

func (s *Session) startPredictionPos() (uint64, uint32) {
	if pc, ok := s.Grid.PredictedCursor(); ok {
		return pc.Row, pc.Col
	}
	if cur, ok := s.Grid.Cursor(); ok {
		return cur.Row, cur.Col
	}
	return 0, 0
}

func (s *Session) notify() {
	if s.OnChange != nil {
		s.OnChange()
	}
}
