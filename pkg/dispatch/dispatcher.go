// Package dispatch implements the frame dispatcher (spec.md §4.4, component
// C4): the single entry point for inbound host frames, and the outbound
// input micro-batcher that turns enqueued keystrokes into size-capped wire
// frames.
package dispatch

import (
	"sync"
	"time"

	"github.com/beachterm/viewer/internal/logx"
	"github.com/beachterm/viewer/pkg/backfill"
	"github.com/beachterm/viewer/pkg/grid"
	"github.com/beachterm/viewer/pkg/predict"
	"github.com/beachterm/viewer/pkg/wire"
)

var log = logx.New("dispatch")

const (
	defaultInputFlushDelay = 2 * time.Millisecond
	defaultInputFrameCap   = 32 * 1024
	predictiveMaxLen       = 32
)

// Dispatcher wires inbound frames into the grid cache, predictive echo
// controller, and backfill controller, and owns outbound input batching.
type Dispatcher struct {
	mu sync.Mutex

	grid     *grid.Cache
	predict  *predict.Controller
	backfill *backfill.Controller

	// Send transmits one already-encoded outbound frame over the
	// transport. Injected so the dispatcher stays transport-agnostic.
	Send func(frame []byte)

	// BackfillParams supplies the viewport-derived context the backfill
	// controller needs on every grid mutation.
	BackfillParams func() backfill.RequestParams

	// Now is the dispatcher's clock, overridable in tests.
	Now func() time.Time

	// Trace receives a notification for every frame handled, isolating
	// telemetry behind an injected collaborator instead of a package-global
	// mutable flag (spec.md §9 "Global trace hooks"). Nil disables tracing.
	Trace wire.TraceSink

	// InputFlushDelay is the outbound input micro-batching debounce (spec.md
	// §4.4, default 2ms). Exported so a caller can wire it from
	// config.ViewerConfig.InputFlushInterval().
	InputFlushDelay time.Duration

	// InputFrameCap bounds a single outbound input frame in bytes (spec.md
	// §4.4, default 32 KiB). Exported so a caller can wire it from
	// config.ViewerConfig.InputFrameCapBytes.
	InputFrameCap int

	inputSeq   uint64
	pending    []byte
	flushTimer *time.Timer

	hydrating            bool
	cursorFeatureEnabled bool
	subscriptionID       uint32
}

// New creates a dispatcher wired to the given collaborators.
func New(g *grid.Cache, pc *predict.Controller, bc *backfill.Controller, send func([]byte), params func() backfill.RequestParams) *Dispatcher {
	return &Dispatcher{
		grid:            g,
		predict:         pc,
		backfill:        bc,
		Send:            send,
		BackfillParams:  params,
		Now:             time.Now,
		InputFlushDelay: defaultInputFlushDelay,
		InputFrameCap:   defaultInputFrameCap,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// HandleFrame routes one decoded inbound frame (spec.md §4.4).
func (d *Dispatcher) HandleFrame(f *wire.HostFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Trace != nil {
		d.Trace.OnFrame(f.Kind.String(), f.ByteSize)
	}

	mutatesGrid := false

	switch f.Kind {
	case wire.KindHello:
		d.grid.Reset()
		d.predict.Reset(predict.NowMs(d.now()))
		d.backfill.HandleFrame(f)
		d.subscriptionID = f.Hello.Subscription
		d.cursorFeatureEnabled = f.Hello.CursorSyncEnabled()
		d.grid.EnableCursorSupport(d.cursorFeatureEnabled)
		d.hydrating = true

	case wire.KindGrid:
		d.reconcileGridLocked(f.Grid)
		d.hydrating = true

	case wire.KindSnapshot:
		d.grid.ApplyUpdates(f.Snapshot.Updates, grid.ApplyOptions{
			Authoritative: true, Origin: grid.OriginSnapshot, Cursor: f.Snapshot.Cursor,
		})
		mutatesGrid = true
		if len(f.Snapshot.Updates) > 0 {
			d.hydrating = false
		}

	case wire.KindDelta:
		d.grid.ApplyUpdates(f.Delta.Updates, grid.ApplyOptions{
			Authoritative: false, Origin: grid.OriginDelta, Cursor: f.Delta.Cursor,
		})
		mutatesGrid = true
		d.hydrating = false

	case wire.KindHistoryBackfill:
		d.grid.ApplyUpdates(f.HistoryBackfill.Updates, grid.ApplyOptions{
			Authoritative: true, Origin: grid.OriginHistoryBackfill, Cursor: f.HistoryBackfill.Cursor,
		})
		d.backfill.FinalizeHistoryBackfill(f.HistoryBackfill.RangeStart, f.HistoryBackfill.RangeEnd)
		mutatesGrid = true

	case wire.KindSnapshotComplete:
		d.hydrating = false

	case wire.KindCursor:
		d.grid.ApplyCursorFrame(f.Cursor)

	case wire.KindInputAck:
		nowMs := predict.NowMs(d.now())
		d.grid.AckPrediction(f.InputAckSeq, d.now())
		d.predict.RecordAck(f.InputAckSeq, nowMs)

	case wire.KindHeartbeat:
		// connection liveness only

	case wire.KindShutdown:
		d.backfill.HandleFrame(f)
		d.stopFlushLocked()

	default:
		log.Warnf("dropping frame with unknown kind %v", f.Kind)
	}

	if mutatesGrid && d.BackfillParams != nil {
		phase := backfill.PhaseHydrating
		params := d.BackfillParams()
		if d.hydrating {
			params.Phase = phase
		}
		d.backfill.MaybeRequest(d.grid.Snapshot(), params)
	}
}

// reconcileGridLocked implements the grid-frame reconciliation rule of
// spec.md §4.4: keep the client's baseRow if the host reports no history;
// otherwise take the smaller of the two, then extend to the union range. An
// empty client already has baseRow 0 by construction (grid.Cache.Reset), so
// this rule applies uniformly whether or not the client has hydrated rows
// yet (spec.md §8 Scenario B: an empty cache receiving a no-history grid
// frame must stay at baseRow 0, not jump to the host's reported baseRow).
func (d *Dispatcher) reconcileGridLocked(g wire.GridFrame) {
	clientBase := d.grid.BaseRow()
	clientRows := uint64(d.grid.TotalRows())
	hasClientRows := clientRows > 0

	var newBase uint64
	if g.HistoryRows == 0 {
		newBase = clientBase
	} else if clientBase < g.BaseRow {
		newBase = clientBase
	} else {
		newBase = g.BaseRow
	}
	d.grid.SetBaseRow(newBase)

	unionRows := g.HistoryRows
	if hasClientRows {
		clientEnd := clientBase + clientRows
		hostEnd := g.BaseRow + uint64(g.HistoryRows)
		end := hostEnd
		if clientEnd > end {
			end = clientEnd
		}
		if end > newBase {
			unionRows = uint32(end - newBase)
		}
	}
	d.grid.SetGridSize(unionRows, g.Cols)
}

// --- outbound input batching (spec.md §4.4) ---

// EnqueueInput appends raw input bytes to the pending outbound buffer and
// schedules (or reuses) a 2ms flush timer. It returns whether this specific
// chunk qualifies for predictive local echo: small (<=32 bytes) and
// containing at least one predictive byte (printable, CR, or LF).
func (d *Dispatcher) EnqueueInput(data []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, data...)
	if d.flushTimer == nil {
		d.flushTimer = time.AfterFunc(d.InputFlushDelay, d.flush)
	}
	return IsPredictiveChunk(data)
}

// IsPredictiveChunk reports whether a chunk is small enough and carries at
// least one predictive byte to warrant local echo (spec.md §4.4).
func IsPredictiveChunk(data []byte) bool {
	if len(data) == 0 || len(data) > predictiveMaxLen {
		return false
	}
	for _, b := range data {
		if isPredictiveByte(b) {
			return true
		}
	}
	return false
}

func isPredictiveByte(b byte) bool {
	if b == '\r' || b == '\n' {
		return true
	}
	if b == 0x7F {
		return false
	}
	return b >= 0x20 && b < 0x7F
}

func (d *Dispatcher) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Dispatcher) flushLocked() {
	d.flushTimer = nil
	if len(d.pending) == 0 {
		return
	}

	buf := d.pending
	d.pending = nil

	for len(buf) > 0 {
		chunk := buf
		if len(chunk) > d.InputFrameCap {
			chunk = buf[:d.InputFrameCap]
		}
		buf = buf[len(chunk):]

		d.inputSeq++
		frame := wire.EncodeInput(d.inputSeq, chunk)
		if d.Send != nil {
			d.Send(frame)
		}
	}
}

func (d *Dispatcher) stopFlushLocked() {
	if d.flushTimer != nil {
		d.flushTimer.Stop()
		d.flushTimer = nil
	}
	d.pending = nil
}

// SendResize encodes and sends a resize frame immediately (not batched).
func (d *Dispatcher) SendResize(rows, cols uint32) {
	if d.Send != nil {
		d.Send(wire.EncodeResize(rows, cols))
	}
}

// SendBackfillRequest encodes and sends a history backfill request
// immediately. Used as the RequestBackfill collaborator for pkg/backfill.
func (d *Dispatcher) SendBackfillRequest(r wire.RowRange) {
	if d.Send != nil {
		d.Send(wire.EncodeBackfillRequest(r))
	}
}

// NextInputSeq returns the sequence number that will be assigned to the
// next flushed frame, for callers that need to correlate a predicted local
// echo with the seq its bytes will eventually carry. It does not allocate.
func (d *Dispatcher) NextInputSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputSeq + 1
}

// Hydrating reports whether the dispatcher is still in the hydration phase.
func (d *Dispatcher) Hydrating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hydrating
}
