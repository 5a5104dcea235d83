package grid

// SetViewport sets the manual-scrollback window the cache renders when it
// is not following the tail (spec.md §4.1 viewport API). top is clamped
// lazily at read time in VisibleRows against the row count passed there, not
// here, so a caller can set top before height is known. The stored height is
// not read by VisibleRows.
func (c *Cache) SetViewport(top uint64, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewportTop = top
	c.viewportHeight = height
	c.markDirtyLocked()
}

// SetFollowTail sets the effective follow-tail flag VisibleRows uses to pick
// its anchoring strategy (spec.md §4.1 viewport API). The viewport
// controller is the only expected caller; it has already applied the
// hydrating/manual_scrollback rules of spec.md §3 invariant 7 before calling.
func (c *Cache) SetFollowTail(follow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followTailDesired = follow
	c.markDirtyLocked()
}

// ViewportTop returns the last value set by SetViewport.
func (c *Cache) ViewportTop() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewportTop
}

// TailPadRows returns the total row count currently masked by outstanding
// tail-pad ranges, for the viewport controller's catching_up/follow_tail
// phase transition (spec.md §4.5 "pad rows reach 0").
func (c *Cache) TailPadRows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.tailPadRanges {
		n += int(r.Len())
	}
	return n
}

// VisibleRows returns the h rows the UI should render, applying the
// anchoring policy of spec.md §4.5: when following the tail, anchor to the
// newest tracked row and pad with `missing` placeholders above if fewer than
// h rows are tracked yet; when not following, start at the clamped
// viewportTop. Either way, tail-pad ranges are downgraded to `missing` until
// refreshed (spec.md §4.1 "tail-pad ranges"). A transient moment with zero
// loaded rows (e.g. mid-reset) falls back to the last good tail rather than
// rendering an empty grid.
func (c *Cache) VisibleRows(h int) []RowSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleRowsLocked(h)
}

func (c *Cache) visibleRowsLocked(h int) []RowSlot {
	if h <= 0 {
		return nil
	}

	var rows []RowSlot
	if c.followTailDesired {
		rows = c.tailRowsLocked(h)
	} else {
		rows = c.scrollbackRowsLocked(h)
	}

	if !anyLoaded(rows) && len(c.lastTailRows) > 0 {
		return append([]RowSlot(nil), c.lastTailRows...)
	}
	if anyLoaded(rows) {
		c.lastTailRows = append([]RowSlot(nil), rows...)
	}
	return rows
}

func anyLoaded(rows []RowSlot) bool {
	for _, r := range rows {
		if r.Kind == RowLoaded {
			return true
		}
	}
	return false
}

// tailRowsLocked anchors to the highest tracked row and prepends `missing`
// placeholders above it if fewer than h rows exist yet.
func (c *Cache) tailRowsLocked(h int) []RowSlot {
	total := len(c.rows)
	out := make([]RowSlot, 0, h)

	if total < h {
		pad := h - total
		for i := 0; i < pad; i++ {
			out = append(out, missingRow(0))
		}
		for abs := c.baseRow; abs < c.baseRow+uint64(total); abs++ {
			out = append(out, c.materializeForDisplayLocked(abs))
		}
		return out
	}

	startAbs := c.baseRow + uint64(total-h)
	for i := 0; i < h; i++ {
		out = append(out, c.materializeForDisplayLocked(startAbs+uint64(i)))
	}
	return out
}

// scrollbackRowsLocked starts at viewportTop clamped into
// [baseRow, baseRow+totalRows-h] and yields h rows.
func (c *Cache) scrollbackRowsLocked(h int) []RowSlot {
	total := uint64(len(c.rows))

	top := c.viewportTop
	if top < c.baseRow {
		top = c.baseRow
	}
	if total > uint64(h) {
		maxTop := c.baseRow + total - uint64(h)
		if top > maxTop {
			top = maxTop
		}
	} else {
		top = c.baseRow
	}

	out := make([]RowSlot, 0, h)
	for i := 0; i < h; i++ {
		out = append(out, c.materializeForDisplayLocked(top+uint64(i)))
	}
	return out
}

// materializeForDisplayLocked returns the row at abs, downgraded to
// `missing` if it falls inside an outstanding tail-pad range or is not
// currently tracked at all.
func (c *Cache) materializeForDisplayLocked(abs uint64) RowSlot {
	for _, r := range c.tailPadRanges {
		if abs >= r.Start && abs < r.End {
			return missingRow(abs)
		}
	}
	if abs < c.baseRow {
		return missingRow(abs)
	}
	idx := int(abs - c.baseRow)
	if idx >= len(c.rows) {
		return missingRow(abs)
	}
	return c.rows[idx]
}
