package grid

import "time"

// RegisterPrediction records a locally-predicted echo for inputSeq: cells is
// the set of (row,col) positions the prediction writes (possibly empty, if
// the input was fully absorbed with no visible effect, e.g. a backspace at
// the floor), and endCursor is where the predicted cursor lands after typing
// it (spec.md §4.2). A bookkeeping record is always created, even with zero
// cells, so ack/RTT tracking still functions for every sequence sent.
//
// Two keystrokes that land in the same outbound micro-batch (spec.md §4.4)
// are assigned the same inputSeq before the batch flushes, since they'll
// ride the same wire frame and be acked together. A second call for an
// already-pending, not-yet-acked seq therefore merges into the existing
// record instead of replacing it, so the first keystroke's predicted cells
// aren't silently dropped.
func (c *Cache) RegisterPrediction(inputSeq uint64, cells map[CellPos]rune, endCursorRow uint64, endCursorCol uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make([]CellPos, 0, len(cells))
	for pos, ch := range cells {
		positions = append(positions, pos)
		c.predictedCells[pos] = PredictedCell{Char: ch, Seq: inputSeq}
	}

	if existing, ok := c.predictions[inputSeq]; ok && !existing.acked() {
		existing.Positions = append(existing.Positions, positions...)
		existing.CursorRow = endCursorRow
		existing.CursorCol = endCursorCol
		c.markDirtyLocked()
		return
	}

	c.predictions[inputSeq] = &PendingPrediction{
		Seq:       inputSeq,
		Positions: positions,
		CursorRow: endCursorRow,
		CursorCol: endCursorCol,
	}
	c.predictionOrder = append(c.predictionOrder, inputSeq)
	c.markDirtyLocked()
}

// AckPrediction marks inputSeq as acknowledged at t; it is not removed until
// the ack-grace window elapses (spec.md §4.2), giving the authoritative echo
// a chance to arrive and supersede the overlay without a visible flicker.
func (c *Cache) AckPrediction(inputSeq uint64, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.predictions[inputSeq]
	if !ok || p.acked() {
		return
	}
	p.AckedAt = t
}

// PruneAckedPredictions removes every acknowledged prediction whose grace
// window has strictly elapsed as of now (spec.md §4.2 Scenario C: exactly
// grace-duration elapsed does not yet prune).
func (c *Cache) PruneAckedPredictions(now time.Time, grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var kept []uint64
	for _, seq := range c.predictionOrder {
		p, ok := c.predictions[seq]
		if !ok {
			continue
		}
		if p.acked() && now.Sub(p.AckedAt) > grace {
			c.removePredictionLocked(seq)
			continue
		}
		kept = append(kept, seq)
	}
	c.predictionOrder = kept
}

// ClearPredictionSeq discards a single prediction immediately.
func (c *Cache) ClearPredictionSeq(inputSeq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removePredictionLocked(inputSeq)
	c.dropFromOrderLocked(inputSeq)
}

// ClearAllPredictions discards every in-flight prediction (spec.md §4.2).
// On hello the dispatcher calls Reset, which clears predictions as well.
func (c *Cache) ClearAllPredictions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.predictions = map[uint64]*PendingPrediction{}
	c.predictionOrder = nil
	c.predictedCells = map[CellPos]PredictedCell{}
	c.markDirtyLocked()
}

// clearPredictionAtLocked removes the whole PendingPrediction record that
// owns pos, if any, when an authoritative write lands on a predicted cell
// (spec.md §4.2 lifecycle: "removed on ... authoritative conflict" — the
// entire in-flight prediction is invalidated, not just the one cell, since a
// partial overlay would show a prediction for input the host has already
// contradicted).
func (c *Cache) clearPredictionAtLocked(pos CellPos) {
	pc, ok := c.predictedCells[pos]
	if !ok {
		return
	}
	c.removePredictionLocked(pc.Seq)
	c.dropFromOrderLocked(pc.Seq)
}

func (c *Cache) removePredictionLocked(seq uint64) {
	p, ok := c.predictions[seq]
	if !ok {
		return
	}
	for _, pos := range p.Positions {
		if cur, ok := c.predictedCells[pos]; ok && cur.Seq == seq {
			delete(c.predictedCells, pos)
		}
	}
	delete(c.predictions, seq)
	c.markDirtyLocked()
}

func (c *Cache) dropFromOrderLocked(seq uint64) {
	for i, s := range c.predictionOrder {
		if s == seq {
			c.predictionOrder = append(c.predictionOrder[:i], c.predictionOrder[i+1:]...)
			return
		}
	}
}

// HasPredictions reports whether any prediction is currently in flight.
func (c *Cache) HasPredictions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.predictions) > 0
}

// PredictedCursor returns the speculative cursor position: the end position
// recorded with the most recently registered in-flight prediction (spec.md
// §4.2). When nothing is in flight it returns ok=false; it does not fall back
// to the authoritative cursor, which Cursor reports.
func (c *Cache) PredictedCursor() (PredictedCursor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.predictionOrder) == 0 {
		return PredictedCursor{}, false
	}
	last := c.predictionOrder[len(c.predictionOrder)-1]
	p, ok := c.predictions[last]
	if !ok {
		return PredictedCursor{}, false
	}
	return PredictedCursor{Row: p.CursorRow, Col: p.CursorCol, Seq: p.Seq}, true
}
