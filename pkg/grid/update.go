package grid

import "github.com/beachterm/viewer/pkg/wire"

// ApplyUpdates applies a batch of updates under a single lock hold, then
// applies the trailing cursor report if present (spec.md §4.1). origin and
// authoritative select the acceptance rule for each write: snapshot and
// history_backfill updates are always authoritative; delta updates carry
// their own per-cell seq and win ties (spec.md §3 invariant 3, §4.1 table).
func (c *Cache) ApplyUpdates(updates []wire.Update, opts ApplyOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range updates {
		c.bumpMaxSeenSeq(u.Seq)
		switch u.Kind {
		case wire.UpdateCell:
			c.applyCellLocked(u, opts.Authoritative)
		case wire.UpdateRow:
			c.applyRowLocked(u, opts.Authoritative)
		case wire.UpdateRowSegment:
			c.applyRowSegmentLocked(u, opts.Authoritative)
		case wire.UpdateRect:
			c.applyRectLocked(u, opts.Authoritative)
		case wire.UpdateTrim:
			c.applyTrimLocked(u)
		case wire.UpdateStyle:
			c.styles[u.Style.ID] = u.Style
			c.markDirtyLocked()
		default:
			log.Warnf("dropping update with unknown kind %d", u.Kind)
		}
	}

	if opts.Cursor != nil {
		c.applyCursorFrameLocked(*opts.Cursor)
	}
}

// writeCellAtLocked is the central per-cell convergence gate (spec.md §3
// invariant 3 / §4.1): authoritative writes always apply; non-authoritative
// writes apply only when their seq is >= the cell's current seq. Returns
// whether the write took effect, so callers can decide whether to clear an
// owning prediction and recompute logical width.
func (c *Cache) writeCellAtLocked(absRow uint64, col uint32, cell wire.Cell, authoritative bool) bool {
	if absRow < c.baseRow {
		return false
	}

	idx, ok := c.ensureRowLoadedLocked(absRow)
	if !ok {
		return false
	}
	c.growCols(col + 1)
	c.ensureRowWidthLocked(idx, col+1)

	row := &c.rows[idx]
	existing := row.Cells[col]

	if rangeIdx, active := c.tailPadActiveLocked(absRow, cell.Seq, authoritative); active {
		if existing.Char == cell.Char && existing.StyleID == cell.StyleID {
			return false // redundant replay: already matches, row stays masked
		}
		c.pruneTailPadRangeLocked(rangeIdx)
	}

	if !authoritative && cell.Seq < existing.Seq {
		return false
	}

	row.Cells[col] = cell
	if cell.Seq > row.LatestSeq {
		row.LatestSeq = cell.Seq
	}

	if authoritative {
		c.clearPredictionAtLocked(CellPos{Row: absRow, Col: col})
		if !cell.Blank() {
			c.setRowCursorFloorLocked(absRow, col+1)
		}
	}

	return true
}

func (c *Cache) applyCellLocked(u wire.Update, authoritative bool) {
	cell := u.Packed.ToCell(u.Seq)
	if !c.writeCellAtLocked(u.Row, u.Col, cell, authoritative) {
		return
	}
	idx := int(u.Row - c.baseRow)
	if !cell.Blank() && int(u.Col)+1 > c.rows[idx].LogicalWidth {
		c.rows[idx].LogicalWidth = int(u.Col) + 1
	}
	// cell implies (row, col+1) (spec.md §4.1 cursor hints).
	c.hintCursorFromUpdateLocked(u.Row, u.Col+1, u.Seq)
	c.markDirtyLocked()
}

func (c *Cache) applyRowLocked(u wire.Update, authoritative bool) {
	idx, ok := c.ensureRowLoadedLocked(u.Row)
	if !ok {
		return
	}
	width := uint32(len(u.Cells))
	c.growCols(width)
	c.ensureRowWidthLocked(idx, width)

	row := &c.rows[idx]

	if rangeIdx, active := c.tailPadActiveLocked(u.Row, u.Seq, authoritative); active {
		if rowMatchesCellRunLocked(row.Cells, 0, u.Cells, u.Seq) {
			return // redundant replay
		}
		c.pruneTailPadRangeLocked(rangeIdx)
	}

	if !authoritative && u.Seq < row.LatestSeq {
		return
	}
	for col, packed := range u.Cells {
		cell := packed.ToCell(u.Seq)
		row.Cells[col] = cell
		if authoritative {
			c.clearPredictionAtLocked(CellPos{Row: u.Row, Col: uint32(col)})
		}
	}
	if u.Seq > row.LatestSeq {
		row.LatestSeq = u.Seq
	}
	row.LogicalWidth = rightmostNonBlank(row.Cells)
	if authoritative {
		c.setRowCursorFloorLocked(u.Row, uint32(row.LogicalWidth))
	}
	// row implies (row, col-of-last-defined-cell+1) (spec.md §4.1 cursor hints).
	c.hintCursorFromUpdateLocked(u.Row, uint32(row.LogicalWidth), u.Seq)
	c.markDirtyLocked()
}

func (c *Cache) applyRowSegmentLocked(u wire.Update, authoritative bool) {
	idx, ok := c.ensureRowLoadedLocked(u.Row)
	if !ok {
		return
	}
	endCol := u.Col + uint32(len(u.Cells))
	c.growCols(endCol)
	c.ensureRowWidthLocked(idx, endCol)

	row := &c.rows[idx]

	if rangeIdx, active := c.tailPadActiveLocked(u.Row, u.Seq, authoritative); active {
		if rowMatchesCellRunLocked(row.Cells, u.Col, u.Cells, u.Seq) {
			return // redundant replay
		}
		c.pruneTailPadRangeLocked(rangeIdx)
	}

	if !authoritative && u.Seq < row.LatestSeq {
		return
	}
	for i, packed := range u.Cells {
		col := u.Col + uint32(i)
		cell := packed.ToCell(u.Seq)
		row.Cells[col] = cell
		if authoritative {
			c.clearPredictionAtLocked(CellPos{Row: u.Row, Col: col})
		}
	}
	if u.Seq > row.LatestSeq {
		row.LatestSeq = u.Seq
	}
	if u.Col == 0 {
		row.LogicalWidth = rightmostNonBlank(row.Cells)
	} else if int(endCol) > row.LogicalWidth {
		row.LogicalWidth = int(endCol)
	}
	if authoritative {
		c.setRowCursorFloorLocked(u.Row, uint32(row.LogicalWidth))
	}
	// row_segment with non-empty content implies (row, startCol+len(cells)).
	if len(u.Cells) > 0 {
		c.hintCursorFromUpdateLocked(u.Row, endCol, u.Seq)
	}
	c.markDirtyLocked()
}

func (c *Cache) applyRectLocked(u wire.Update, authoritative bool) {
	cell := u.Packed.ToCell(u.Seq)
	blankFill := cell.Blank()

	for r := u.Row; r < u.RowEnd; r++ {
		idx, ok := c.ensureRowLoadedLocked(r)
		if !ok {
			continue
		}
		c.growCols(u.ColEnd)
		c.ensureRowWidthLocked(idx, u.ColEnd)

		row := &c.rows[idx]

		if rangeIdx, active := c.tailPadActiveLocked(r, u.Seq, authoritative); active {
			if rectMatchesFillLocked(row.Cells, u.Col, u.ColEnd, cell) {
				continue // redundant replay
			}
			c.pruneTailPadRangeLocked(rangeIdx)
		}

		if !authoritative && u.Seq < row.LatestSeq {
			continue
		}
		for col := u.Col; col < u.ColEnd; col++ {
			row.Cells[col] = cell
			if authoritative {
				c.clearPredictionAtLocked(CellPos{Row: r, Col: col})
			}
		}
		if u.Seq > row.LatestSeq {
			row.LatestSeq = u.Seq
		}

		switch {
		case blankFill && u.Col == 0 && int(u.ColEnd) >= row.LogicalWidth:
			row.LogicalWidth = rightmostNonBlank(row.Cells)
		case !blankFill && int(u.ColEnd) > row.LogicalWidth:
			row.LogicalWidth = int(u.ColEnd)
		}
		if authoritative && !blankFill {
			c.setRowCursorFloorLocked(r, uint32(row.LogicalWidth))
		}
	}
	// rect implies (rowEnd-1, effective row width) (spec.md §4.1 cursor hints).
	if u.RowEnd > u.Row {
		c.hintCursorFromUpdateLocked(u.RowEnd-1, u.ColEnd, u.Seq)
	}
	c.markDirtyLocked()
}

// applyTrimLocked drops Count rows starting at Row from history. This is
// advisory bookkeeping from the host's own retention policy, distinct from
// the cache's local maxHistory cap; it only ever advances the base forward.
func (c *Cache) applyTrimLocked(u wire.Update) {
	if u.Row != c.baseRow || u.Count == 0 {
		return
	}
	c.setBaseRowLocked(c.baseRow + u.Count)
}

func rightmostNonBlank(cells []wire.Cell) int {
	for i := len(cells) - 1; i >= 0; i-- {
		if !cells[i].Blank() {
			return i + 1
		}
	}
	return 0
}

// --- tail-pad masking (spec.md §4.1 "tail padding") ---

// MarkTailPad records that rows in r were synthesized as blank padding (for
// example by a viewport/grid resize) up to seqThreshold: writes to those
// rows at or below that sequence are suppressed as redundant, since they
// describe content the pad already represents as blank. No other package
// calls it; only the pkg/grid tests raise tail-pad ranges.
func (c *Cache) MarkTailPad(r wire.RowRange, seqThreshold uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tailPadRanges = append(c.tailPadRanges, r)
	if !c.hasTailPadThreshold || seqThreshold > c.tailPadSeqThreshold {
		c.tailPadSeqThreshold = seqThreshold
		c.hasTailPadThreshold = true
	}
}

// tailPadActiveLocked reports whether absRow currently falls inside a
// tail-pad range at a sequence eligible for suppression. Callers must still
// compare the proposed content against what's loaded: only a byte-for-byte
// match is a "redundant replay" to skip outright (spec.md §4.1); any other
// write is let through and prunes the range via pruneTailPadRangeLocked.
func (c *Cache) tailPadActiveLocked(absRow uint64, seq uint64, authoritative bool) (rangeIdx int, active bool) {
	if !c.hasTailPadThreshold || authoritative || seq > c.tailPadSeqThreshold {
		return -1, false
	}
	for i, r := range c.tailPadRanges {
		if absRow >= r.Start && absRow < r.End {
			return i, true
		}
	}
	return -1, false
}

// pruneTailPadRangeLocked drops a tail-pad range that a non-redundant write
// just landed in. When no ranges remain, the threshold clears too (spec.md
// §4.1 "when the ranges become empty, the threshold clears").
func (c *Cache) pruneTailPadRangeLocked(rangeIdx int) {
	c.tailPadRanges = append(c.tailPadRanges[:rangeIdx:rangeIdx], c.tailPadRanges[rangeIdx+1:]...)
	if len(c.tailPadRanges) == 0 {
		c.hasTailPadThreshold = false
		c.tailPadSeqThreshold = 0
	}
}

// rowMatchesCellRunLocked reports whether cells (decoded at seq) already
// equal the loaded row's content at [startCol, startCol+len(cells)),
// ignoring per-cell seq (only char/style identity counts as "redundant").
func rowMatchesCellRunLocked(existing []wire.Cell, startCol uint32, cells []wire.PackedCell, seq uint64) bool {
	for i, packed := range cells {
		col := int(startCol) + i
		if col >= len(existing) {
			return false
		}
		proposed := packed.ToCell(seq)
		if existing[col].Char != proposed.Char || existing[col].StyleID != proposed.StyleID {
			return false
		}
	}
	return true
}

// rectMatchesFillLocked reports whether every cell in [colStart, colEnd)
// already equals the proposed fill cell's char/style.
func rectMatchesFillLocked(existing []wire.Cell, colStart, colEnd uint32, fill wire.Cell) bool {
	for col := colStart; col < colEnd && int(col) < len(existing); col++ {
		if existing[col].Char != fill.Char || existing[col].StyleID != fill.StyleID {
			return false
		}
	}
	return true
}
