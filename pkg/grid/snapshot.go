package grid

import (
	"strings"

	"github.com/beachterm/viewer/pkg/wire"
)

// Snapshot is a read-only, point-in-time view of the grid cache, combining
// loaded cells with any live predicted overlay (spec.md §4.1 "render view").
// It is safe to read from any goroutine; its rows and cell slices are copies
// and share no mutable state with the Cache that produced it.
type Snapshot struct {
	BaseRow uint64
	Cols    uint32
	Rows    []RowSlot
	Cursor  CursorState
	HasCursor bool
	Predicted PredictedCursor
	HasPredicted bool
}

// Snapshot materializes the current state of the cache, applying the
// predicted-cell overlay on top of loaded rows without mutating the
// underlying cells (spec.md §3 "overlays, does not mutate").
func (c *Cache) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return c.cached
	}

	rows := make([]RowSlot, len(c.rows))
	copy(rows, c.rows)
	for i := range rows {
		if rows[i].Cells != nil {
			rows[i].Cells = append([]wire.Cell(nil), rows[i].Cells...)
		}
	}

	for pos, pc := range c.predictedCells {
		idx := int(pos.Row) - int(c.baseRow)
		if idx < 0 || idx >= len(rows) || rows[idx].Kind != RowLoaded {
			continue
		}
		if rows[idx].Cells == nil {
			continue
		}
		overlaid := make([]wire.Cell, len(rows[idx].Cells))
		copy(overlaid, rows[idx].Cells)
		if int(pos.Col) < len(overlaid) {
			overlaid[pos.Col].Char = pc.Char
		}
		rows[idx].Cells = overlaid
	}

	snap := &Snapshot{
		BaseRow: c.baseRow,
		Cols:    c.cols,
		Rows:    rows,
	}

	// c.mu is already held, so read the cursor state directly rather than
	// through the locking Cursor/PredictedCursor accessors.
	if c.cursorAuthoritative || c.cursor != (CursorState{}) {
		snap.Cursor = c.cursor
		snap.HasCursor = true
	}
	if n := len(c.predictionOrder); n > 0 {
		if p, ok := c.predictions[c.predictionOrder[n-1]]; ok {
			snap.Predicted = PredictedCursor{Row: p.CursorRow, Col: p.CursorCol, Seq: p.Seq}
			snap.HasPredicted = true
		}
	}

	c.cached = snap
	c.dirty = false
	return snap
}

// GetRow returns the row at absolute index abs, if currently tracked.
func (s *Snapshot) GetRow(abs uint64) (RowSlot, bool) {
	if abs < s.BaseRow {
		return RowSlot{}, false
	}
	idx := int(abs - s.BaseRow)
	if idx < 0 || idx >= len(s.Rows) {
		return RowSlot{}, false
	}
	return s.Rows[idx], true
}

// GetRowText renders a loaded row's visible characters as a string, trimmed
// to its logical width; pending/missing rows render as an empty string.
func (s *Snapshot) GetRowText(abs uint64) string {
	row, ok := s.GetRow(abs)
	if !ok || row.Kind != RowLoaded {
		return ""
	}
	width := row.LogicalWidth
	if width > len(row.Cells) {
		width = len(row.Cells)
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		ch := row.Cells[i].Char
		if ch == 0 {
			ch = ' '
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// VisibleRows returns the rows in [top, top+height), for a viewport display.
func (s *Snapshot) VisibleRows(top uint64, height int) []RowSlot {
	out := make([]RowSlot, 0, height)
	for i := 0; i < height; i++ {
		row, ok := s.GetRow(top + uint64(i))
		if !ok {
			row = missingRow(top + uint64(i))
		}
		out = append(out, row)
	}
	return out
}

// FirstGapBetween scans [start, end) for the first contiguous run of
// non-loaded rows, returning it as a RowRange. Used by the backfill
// controller to discover what to request (spec.md §4.3).
func (s *Snapshot) FirstGapBetween(start, end uint64) (wire.RowRange, bool) {
	var gapStart uint64
	inGap := false
	for abs := start; abs < end; abs++ {
		row, ok := s.GetRow(abs)
		loaded := ok && row.Kind == RowLoaded
		switch {
		case !loaded && !inGap:
			gapStart = abs
			inGap = true
		case loaded && inGap:
			return wire.RowRange{Start: gapStart, End: abs}, true
		}
	}
	if inGap {
		return wire.RowRange{Start: gapStart, End: end}, true
	}
	return wire.RowRange{}, false
}
