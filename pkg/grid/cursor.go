package grid

import "github.com/beachterm/viewer/pkg/wire"

// applyCursorFrameLocked installs an authoritative cursor report (spec.md
// §4.1). A (0,0) report arriving before any other cursor frame is suppressed
// — hosts emit it as an uninitialized default rather than a real position —
// so the viewer keeps deriving the cursor from update-kind hints until a
// genuine report arrives.
func (c *Cache) applyCursorFrameLocked(cf wire.CursorFrame) {
	if !c.cursorAuthoritative && cf.Row == 0 && cf.Col == 0 {
		c.pendingZeroCursor = true
		return
	}
	c.pendingZeroCursor = false
	c.cursor = CursorState{Row: cf.Row, Col: cf.Col, Seq: cf.Seq, Visible: cf.Visible, Blink: cf.Blink}
	c.cursorAuthoritative = true
	c.serverCursorAt[cf.Row] = cf.Col
	c.markDirtyLocked()
}

// ApplyCursorFrame is the exported, locking form of applyCursorFrameLocked
// for callers applying a standalone `cursor` frame outside a bulk update.
func (c *Cache) ApplyCursorFrame(cf wire.CursorFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyCursorFrameLocked(cf)
}

// HintCursorFromUpdate derives a cursor position from a non-cursor update,
// used only while no authoritative cursor frame has ever been received
// (spec.md §4.1): many hosts omit cursor frames entirely for the cheap case
// of simple cursor-follows-last-write terminals.
func (c *Cache) HintCursorFromUpdate(row uint64, col uint32, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hintCursorFromUpdateLocked(row, col, seq)
}

// hintCursorFromUpdateLocked is the lock-held form ApplyUpdates' per-kind
// handlers call directly after a successful write (spec.md §4.1 "Cursor
// hints"). Hints never raise cursorAuthoritative, so a real cursor frame
// always wins once one arrives.
func (c *Cache) hintCursorFromUpdateLocked(row uint64, col uint32, seq uint64) {
	if c.cursorAuthoritative {
		return
	}
	if col > c.cols {
		col = c.cols
	}
	c.cursor = CursorState{Row: row, Col: col, Seq: seq, Visible: true}
}

// Cursor returns the authoritative cursor state and whether one has ever
// been established (directly or via hint).
func (c *Cache) Cursor() (CursorState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cursorAuthoritative && c.cursor == (CursorState{}) {
		return CursorState{}, false
	}
	return c.cursor, true
}

// SetRowCursorFloor records the highest column at or before which
// authoritative non-blank content has been observed on a given row (spec.md
// §3/§4.2 predictive backspace floor): local echo never predicts a
// backspace past where the host has actually printed something on that
// row, even if that content is later blanked out again.
func (c *Cache) SetRowCursorFloor(row uint64, col uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setRowCursorFloorLocked(row, col)
}

// setRowCursorFloorLocked is the lock-held form the authoritative-write
// path in update.go calls directly after landing non-blank content, so the
// floor tracks real host output instead of only whatever a caller sets
// through the exported setter.
func (c *Cache) setRowCursorFloorLocked(row uint64, col uint32) {
	if existing, ok := c.rowCursorFloor[row]; !ok || col > existing {
		c.rowCursorFloor[row] = col
	}
}

// MinimumServerColumn returns the lowest column a predictive backspace may
// erase down to on row: the greater of the recorded cursor floor, the row's
// logical width, and the last authoritative server cursor column observed
// on that row (spec.md §4.2).
func (c *Cache) MinimumServerColumn(row uint64) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	min := c.rowCursorFloor[row]

	if idx := int(row) - int(c.baseRow); idx >= 0 && idx < len(c.rows) && c.rows[idx].Kind == RowLoaded {
		if w := uint32(c.rows[idx].LogicalWidth); w > min {
			min = w
		}
	}
	if col, ok := c.serverCursorAt[row]; ok && col > min {
		min = col
	}
	return min
}
