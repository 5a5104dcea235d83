package viewerclient

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beachterm/viewer/internal/config"
	"github.com/beachterm/viewer/pkg/keyinput"
	"github.com/beachterm/viewer/pkg/transport"
	"github.com/beachterm/viewer/pkg/wire"
)

// fakeTransport is an in-memory transport.Transport a test can drive
// directly, standing in for the real WebSocket/WebRTC boundary.
type fakeTransport struct {
	*transport.Emitter

	mu     sync.Mutex
	open   bool
	sent   [][]byte
	texts  []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{Emitter: transport.NewEmitter(), open: true}
}

func (f *fakeTransport) Send(frame []byte) error {
	if !f.IsOpen() {
		return transport.ErrClosed
	}
	f.mu.Lock()
	f.sent = append(f.sent, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendText(s string) error {
	if !f.IsOpen() {
		return transport.ErrClosed
	}
	f.mu.Lock()
	f.texts = append(f.texts, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.Emit(transport.Event{Kind: transport.EventClose})
	return nil
}

func newTestSession() (*Session, *fakeTransport) {
	tr := newFakeTransport()
	s := New(config.Default(), tr)
	s.Start()
	return s, tr
}

func TestStartSendsReadySentinelOnOpen(t *testing.T) {
	s, tr := newTestSession()
	tr.Emit(transport.Event{Kind: transport.EventOpen})

	if len(tr.texts) != 1 || tr.texts[0] != wire.ReadySentinel {
		t.Fatalf("expected the ready sentinel to be sent, got %+v", tr.texts)
	}
	status, _ := s.Status()
	if status != StatusConnecting {
		t.Fatalf("expected status still connecting, got %v", status)
	}
}

func TestOnStatusTransitionsApprovalStates(t *testing.T) {
	s, tr := newTestSession()

	tr.Emit(transport.Event{Kind: transport.EventStatus, Status: "beach:status:approval_pending"})
	if status, _ := s.Status(); status != StatusApprovalPending {
		t.Fatalf("expected approval_pending, got %v", status)
	}

	tr.Emit(transport.Event{Kind: transport.EventStatus, Status: "beach:status:denied"})
	status, msg := s.Status()
	if status != StatusDenied || msg == "" {
		t.Fatalf("expected denied with a message, got %v %q", status, msg)
	}
}

func TestOnCloseBeforeApprovalSurfacesMessage(t *testing.T) {
	s, tr := newTestSession()
	tr.Emit(transport.Event{Kind: transport.EventClose})

	status, msg := s.Status()
	if status != StatusClosed || msg != "Disconnected before approval." {
		t.Fatalf("expected closed-before-approval message, got %v %q", status, msg)
	}
}

func TestOnCloseAfterGrantDoesNotOverwriteMessage(t *testing.T) {
	s, tr := newTestSession()
	tr.Emit(transport.Event{Kind: transport.EventStatus, Status: "beach:status:granted"})
	tr.Emit(transport.Event{Kind: transport.EventClose})

	status, msg := s.Status()
	if status != StatusClosed || msg != "" {
		t.Fatalf("expected closed with no leftover message after a grant, got %v %q", status, msg)
	}
}

func TestOnErrorRewritesFallbackEntitlementMessage(t *testing.T) {
	s, tr := newTestSession()
	tr.Emit(transport.Event{Kind: transport.EventError, Err: errors.New("fallback entitlement exhausted")})

	status, msg := s.Status()
	if status != StatusError || msg != fallbackSignupHint {
		t.Fatalf("expected rewritten signup hint, got %v %q", status, msg)
	}
}

func TestOnFrameRoutesIntoDispatcherAndGrid(t *testing.T) {
	s, tr := newTestSession()

	hello := wire.EncodeHello(1, wire.FeatureCursorSync)
	tr.Emit(transport.Event{Kind: transport.EventFrame, Frame: hello})

	gridFrame := wire.EncodeGrid(0, 3, 10, nil)
	tr.Emit(transport.Event{Kind: transport.EventFrame, Frame: gridFrame})

	if s.Grid.TotalRows() != 3 || s.Grid.Cols() != 10 {
		t.Fatalf("expected grid sized to 3x10, got rows=%d cols=%d", s.Grid.TotalRows(), s.Grid.Cols())
	}
	if status, _ := s.Status(); status != StatusOpen {
		t.Fatalf("expected status open after first frame, got %v", status)
	}
}

func TestSendKeyEnqueuesPredictiveInputAndRegistersPrediction(t *testing.T) {
	s, _ := newTestSession()
	s.Grid.SetGridSize(5, 10)

	ok := s.SendKey(keyinput.Event{Key: "a"})
	if !ok {
		t.Fatalf("expected SendKey to report a terminal-visible effect")
	}

	pc, have := s.Grid.PredictedCursor()
	if !have {
		t.Fatalf("expected a predicted cursor after a printable key")
	}
	if pc.Col != 1 {
		t.Fatalf("expected predicted column to advance to 1, got %d", pc.Col)
	}
}

func TestSendKeyArrowProducesNoVisiblePredictionButStillTracksSeq(t *testing.T) {
	s, _ := newTestSession()
	s.Grid.SetGridSize(5, 10)

	before := s.Dispatch.NextInputSeq()
	ok := s.SendKey(keyinput.Event{Key: "ArrowUp"})
	if !ok {
		t.Fatalf("expected ArrowUp to encode to a byte sequence")
	}

	// The flush that actually allocates the next seq fires off a real 2ms
	// timer (spec.md §4.4 micro-batching), not synchronously with SendKey.
	time.Sleep(10 * time.Millisecond)

	after := s.Dispatch.NextInputSeq()
	if after == before {
		t.Fatalf("expected the input sequence counter to still be consulted for arrow keys")
	}

	// The escape sequence registers a zero-cell prediction whose cursor stays
	// where it started (0,0 on a fresh grid), so nothing new becomes visible.
	if pc, have := s.Grid.PredictedCursor(); !have || pc.Row != 0 || pc.Col != 0 {
		t.Fatalf("expected a cursor-unchanged prediction at (0,0) for an arrow-key escape sequence, got %+v have=%v", pc, have)
	}
}

func TestSendKeyMetaOnlyReturnsFalse(t *testing.T) {
	s, _ := newTestSession()
	if s.SendKey(keyinput.Event{Key: "a", Meta: true}) {
		t.Fatalf("expected Meta-held key events to carry no terminal effect")
	}
}

func TestJumpToTailSyncsGridFollowTail(t *testing.T) {
	s, _ := newTestSession()
	s.Grid.SetGridSize(5, 10)
	s.Viewport.ExitHydration(false)

	s.JumpToTail()
	rows := s.Grid.VisibleRows(5)
	if len(rows) != 5 {
		t.Fatalf("expected follow-tail anchoring to still return 5 rows, got %d", len(rows))
	}
}

func TestTickPrunesAckedPredictionsAfterGrace(t *testing.T) {
	s, _ := newTestSession()
	s.Grid.SetGridSize(5, 10)
	s.SendKey(keyinput.Event{Key: "x"})

	if !s.Grid.HasPredictions() {
		t.Fatalf("expected a pending prediction immediately after SendKey")
	}

	// The first SendKey on a fresh dispatcher registers under seq 1.
	t0 := time.Now()
	s.Grid.AckPrediction(1, t0)
	s.Tick(t0.Add(s.cfg.AckGrace()))
	if !s.Grid.HasPredictions() {
		t.Fatalf("expected the acked prediction to survive a Tick at exactly the grace window")
	}
	s.Tick(t0.Add(s.cfg.AckGrace() + time.Millisecond))
	if s.Grid.HasPredictions() {
		t.Fatalf("expected Tick to prune the acked prediction once the grace window elapsed")
	}
}

func TestOnChangeFiresOnStatusTransition(t *testing.T) {
	s, tr := newTestSession()
	calls := 0
	s.OnChange = func() { calls++ }

	tr.Emit(transport.Event{Kind: transport.EventStatus, Status: "beach:status:granted"})
	if calls == 0 {
		t.Fatalf("expected OnChange to fire on a status transition")
	}
}

func TestCloseRemovesListenersAndClosesTransport(t *testing.T) {
	s, tr := newTestSession()
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error closing session: %v", err)
	}
	if tr.IsOpen() {
		t.Fatalf("expected transport to be closed")
	}
}
