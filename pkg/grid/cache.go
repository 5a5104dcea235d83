package grid

import (
	"sync"

	"github.com/beachterm/viewer/internal/logx"
	"github.com/beachterm/viewer/pkg/wire"
)

var log = logx.New("grid")

// Origin identifies where an update batch came from, for the authority
// rules of spec.md §3 invariant 3 and §7 "Sequence violation".
type Origin string

const (
	OriginSnapshot         Origin = "snapshot"
	OriginDelta            Origin = "delta"
	OriginHistoryBackfill  Origin = "history_backfill"
)

// ApplyOptions configures one call to ApplyUpdates.
type ApplyOptions struct {
	Authoritative bool
	Origin        Origin
	Cursor        *wire.CursorFrame
}

// Cache is the grid cache (C1). All operations are safe to call from a
// single cooperative event loop; the mutex exists so a rendering surface on
// another goroutine can safely call Snapshot concurrently with mutation,
// matching the teacher's own RWMutex-guarded buffer pattern.
type Cache struct {
	mu sync.Mutex

	baseRow uint64
	cols    uint32
	rows    []RowSlot

	maxHistory     int
	historyTrimmed bool
	maxSeenSeq     uint64

	styles map[uint32]wire.Style

	cursor               CursorState
	cursorAuthoritative  bool
	cursorFeatureEnabled bool
	pendingZeroCursor    bool

	rowCursorFloor map[uint64]uint32
	serverCursorAt map[uint64]uint32

	predictions     map[uint64]*PendingPrediction
	predictionOrder []uint64
	predictedCells  map[CellPos]PredictedCell

	tailPadRanges       []wire.RowRange
	tailPadSeqThreshold uint64
	hasTailPadThreshold bool

	viewportTop       uint64
	viewportHeight    int
	followTailDesired bool

	dirty        bool
	cached       *Snapshot
	lastTailRows []RowSlot
}

// New creates a grid cache with the given soft history cap (spec.md §3,
// default 5000 per the data model).
func New(maxHistory int) *Cache {
	c := &Cache{maxHistory: maxHistory}
	c.Reset()
	return c
}

// Reset clears all state, reinstalls the default style, and marks the cached
// snapshot dirty once (spec.md §4.1). The cache has no change callback of its
// own, so Reset emits no event. The last rendered tail kept for VisibleRows'
// transient-empty fallback survives a Reset. Called on the initial `hello`
// and on every subsequent `hello` (reconnect).
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Cache) resetLocked() {
	c.baseRow = 0
	c.cols = 0
	c.rows = nil
	c.historyTrimmed = false
	c.maxSeenSeq = 0

	c.styles = map[uint32]wire.Style{0: wire.DefaultStyle()}

	c.cursor = CursorState{}
	c.cursorAuthoritative = false
	c.cursorFeatureEnabled = false
	c.pendingZeroCursor = false

	c.rowCursorFloor = map[uint64]uint32{}
	c.serverCursorAt = map[uint64]uint32{}

	c.predictions = map[uint64]*PendingPrediction{}
	c.predictionOrder = nil
	c.predictedCells = map[CellPos]PredictedCell{}

	c.tailPadRanges = nil
	c.tailPadSeqThreshold = 0
	c.hasTailPadThreshold = false

	c.viewportTop = 0
	c.viewportHeight = 0
	c.followTailDesired = false

	c.markDirtyLocked()
}

func (c *Cache) markDirtyLocked() {
	c.dirty = true
	c.cached = nil
}

// EnableCursorSupport latches whether the protocol feature was negotiated
// (spec.md §4.1 / §6 feature negotiation).
func (c *Cache) EnableCursorSupport(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursorFeatureEnabled = enabled
}

// SetBaseRow moves the history origin to r (spec.md §4.1). Rows below the
// new base are dropped (or, if r < baseRow, pending rows are prepended);
// cursor and predictions below the new base are dropped.
func (c *Cache) SetBaseRow(r uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setBaseRowLocked(r)
}

func (c *Cache) setBaseRowLocked(r uint64) {
	switch {
	case r > c.baseRow:
		shift := r - c.baseRow
		if shift >= uint64(len(c.rows)) {
			c.rows = nil
		} else {
			c.rows = append([]RowSlot(nil), c.rows[shift:]...)
		}
		c.baseRow = r
		c.historyTrimmed = true
		c.dropBelowLocked(r)
	case r < c.baseRow:
		prepend := c.baseRow - r
		newRows := make([]RowSlot, 0, int(prepend)+len(c.rows))
		for i := uint64(0); i < prepend; i++ {
			newRows = append(newRows, pendingRow(r+i))
		}
		newRows = append(newRows, c.rows...)
		c.rows = newRows
		c.baseRow = r
	default:
		return
	}
	c.markDirtyLocked()
}

// dropBelowLocked clears cursor/prediction/floor state anchored at rows
// that no longer exist after the base row advances.
func (c *Cache) dropBelowLocked(newBase uint64) {
	if c.cursor.Row < newBase {
		c.cursor = CursorState{}
		c.cursorAuthoritative = false
	}
	for row := range c.rowCursorFloor {
		if row < newBase {
			delete(c.rowCursorFloor, row)
		}
	}
	for row := range c.serverCursorAt {
		if row < newBase {
			delete(c.serverCursorAt, row)
		}
	}
	for seq, p := range c.predictions {
		if p.CursorRow < newBase {
			c.removePredictionLocked(seq)
		}
	}
}

// SetHistoryOrigin behaves like SetBaseRow but additionally forces
// historyTrimmed when r > 0 (spec.md §4.1).
func (c *Cache) SetHistoryOrigin(r uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setBaseRowLocked(r)
	if r > 0 {
		c.historyTrimmed = true
	}
}

// SetGridSize ensures the grid contains [baseRow, baseRow+totalRows). Newly
// exposed tail rows are materialized as loaded blank rows (kind RowLoaded,
// not RowPending) carrying the max seq seen so far, rather than pending
// rows, so a mid-session PTY resize is never mistaken for a history gap
// (spec.md §4.1, testable property 5). On the very first call for a fresh
// connection maxSeenSeq is still 0, so these rows keep latestSeq==0 and
// firstUnresolvedGap (spec.md §4.3) correctly still treats them as
// unresolved until the host backfills or writes real content into them.
func (c *Cache) SetGridSize(totalRows uint32, cols uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cols > c.cols {
		c.cols = cols
	}

	want := uint64(totalRows)
	if want <= uint64(len(c.rows)) {
		c.enforceMaxHistoryLocked()
		return
	}

	seed := c.maxSeenSeq

	for uint64(len(c.rows)) < want {
		abs := c.baseRow + uint64(len(c.rows))
		c.rows = append(c.rows, blankLoadedRow(abs, c.cols, seed))
	}

	c.enforceMaxHistoryLocked()
	c.markDirtyLocked()
}

// enforceMaxHistoryLocked trims the front of the grid down to maxHistory
// rows, advancing baseRow monotonically (spec.md §3 invariant 1).
func (c *Cache) enforceMaxHistoryLocked() {
	if c.maxHistory <= 0 || len(c.rows) <= c.maxHistory {
		return
	}
	overflow := len(c.rows) - c.maxHistory
	c.rows = append([]RowSlot(nil), c.rows[overflow:]...)
	newBase := c.baseRow + uint64(overflow)
	c.baseRow = newBase
	c.historyTrimmed = true
	c.dropBelowLocked(newBase)
	c.markDirtyLocked()
}

// ensureRowLoadedLocked returns the row index for abs, extending the grid
// with pending rows as needed (spec.md §3 "RowSlot created on demand").
// Returns ok=false if abs is below baseRow (trimmed history, inaccessible).
func (c *Cache) ensureRowLoadedLocked(abs uint64) (int, bool) {
	if abs < c.baseRow {
		return 0, false
	}
	idx := int(abs - c.baseRow)
	for idx >= len(c.rows) {
		nextAbs := c.baseRow + uint64(len(c.rows))
		c.rows = append(c.rows, pendingRow(nextAbs))
	}
	if c.rows[idx].Kind != RowLoaded {
		c.rows[idx] = RowSlot{
			AbsRow: abs,
			Kind:   RowLoaded,
			Cells:  make([]wire.Cell, c.cols),
		}
	}
	return idx, true
}

func (c *Cache) growCols(need uint32) {
	if need > c.cols {
		c.cols = need
		for i := range c.rows {
			if c.rows[i].Kind == RowLoaded && uint32(len(c.rows[i].Cells)) < need {
				grown := make([]wire.Cell, need)
				copy(grown, c.rows[i].Cells)
				c.rows[i].Cells = grown
			}
		}
	}
}

func (c *Cache) ensureRowWidthLocked(idx int, width uint32) {
	row := &c.rows[idx]
	if uint32(len(row.Cells)) < width {
		grown := make([]wire.Cell, width)
		copy(grown, row.Cells)
		row.Cells = grown
	}
}

func (c *Cache) bumpMaxSeenSeq(seq uint64) {
	if seq > c.maxSeenSeq {
		c.maxSeenSeq = seq
	}
}

// InstallStyle adds or replaces a style definition (spec.md §4.1 `style`).
func (c *Cache) InstallStyle(s wire.Style) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.styles[s.ID] = s
	c.markDirtyLocked()
}

// Cols returns the current column width.
func (c *Cache) Cols() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cols
}

// BaseRow returns the current history origin.
func (c *Cache) BaseRow() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseRow
}

// TotalRows returns the number of row slots currently tracked.
func (c *Cache) TotalRows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}
