package grid

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/beachterm/viewer/pkg/wire"
)

func cellUpdate(row uint64, col uint32, ch rune, seq uint64) wire.Update {
	return wire.Update{
		Kind:   wire.UpdateCell,
		Row:    row,
		Col:    col,
		Seq:    seq,
		Packed: wire.EncodeCell(ch, 0),
	}
}

func TestApplyUpdatesConvergesRegardlessOfArrivalOrder(t *testing.T) {
	// Two independently-ordered batches describing the same
	// final state must converge to identical rendered text (spec.md §8
	// testable property 1, "order-independent convergence").
	forward := New(100)
	forward.SetGridSize(4, 10)
	forward.ApplyUpdates([]wire.Update{
		cellUpdate(0, 0, 'h', 1),
		cellUpdate(0, 1, 'i', 2),
	}, ApplyOptions{Authoritative: true})

	backward := New(100)
	backward.SetGridSize(4, 10)
	backward.ApplyUpdates([]wire.Update{
		cellUpdate(0, 1, 'i', 2),
		cellUpdate(0, 0, 'h', 1),
	}, ApplyOptions{Authoritative: true})

	wantText := forward.Snapshot().GetRowText(0)
	gotText := backward.Snapshot().GetRowText(0)
	if wantText != gotText {
		t.Fatalf("convergence mismatch: forward=%q backward=%q", wantText, gotText)
	}
}

func TestApplyUpdatesConvergesStructurallyRegardlessOfArrivalOrder(t *testing.T) {
	// Same property as above, but comparing the full RowSlot structs (not
	// just rendered text) so a divergence in LatestSeq or LogicalWidth alone
	// would also fail the test.
	forward := New(100)
	forward.SetGridSize(2, 10)
	forward.ApplyUpdates([]wire.Update{
		cellUpdate(0, 0, 'h', 1),
		cellUpdate(0, 1, 'i', 2),
		cellUpdate(1, 0, 'x', 3),
	}, ApplyOptions{Authoritative: true})

	backward := New(100)
	backward.SetGridSize(2, 10)
	backward.ApplyUpdates([]wire.Update{
		cellUpdate(1, 0, 'x', 3),
		cellUpdate(0, 1, 'i', 2),
		cellUpdate(0, 0, 'h', 1),
	}, ApplyOptions{Authoritative: true})

	if diff := cmp.Diff(forward.Snapshot().Rows, backward.Snapshot().Rows); diff != "" {
		t.Fatalf("rows diverged by arrival order (-forward +backward):\n%s", diff)
	}
}

func TestNonAuthoritativeWriteLosesToHigherSeq(t *testing.T) {
	c := New(100)
	c.SetGridSize(4, 10)

	c.ApplyUpdates([]wire.Update{cellUpdate(0, 0, 'z', 5)}, ApplyOptions{Authoritative: true})
	// A stale, non-authoritative rewrite at a lower seq must not regress the cell.
	c.ApplyUpdates([]wire.Update{cellUpdate(0, 0, 'a', 3)}, ApplyOptions{})

	if got := c.Snapshot().GetRowText(0); got != "z" {
		t.Fatalf("expected stale write to be rejected, row = %q", got)
	}
}

func TestBaseRowNeverRegresses(t *testing.T) {
	c := New(5)
	c.SetGridSize(10, 10)
	for row := uint64(0); row < 10; row++ {
		c.ApplyUpdates([]wire.Update{cellUpdate(row, 0, 'x', row+1)}, ApplyOptions{Authoritative: true})
	}
	if got := c.BaseRow(); got == 0 {
		t.Fatalf("expected history trim to advance baseRow past 0, got %d", got)
	}
	before := c.BaseRow()
	c.SetBaseRow(before) // no-op, same value
	if c.BaseRow() < before {
		t.Fatalf("baseRow regressed: %d -> %d", before, c.BaseRow())
	}
}

func TestPTYResizeMaterializesLoadedRowsNotPending(t *testing.T) {
	// Testable property 5: growing the grid on a PTY resize must not be
	// mistaken for a history gap — new rows are loaded blanks, not pending.
	c := New(1000)
	c.SetGridSize(5, 10)
	c.ApplyUpdates([]wire.Update{cellUpdate(0, 0, 'a', 7)}, ApplyOptions{Authoritative: true})

	c.SetGridSize(20, 10)

	snap := c.Snapshot()
	for row := uint64(5); row < 20; row++ {
		r, ok := snap.GetRow(row)
		if !ok || r.Kind != RowLoaded {
			t.Fatalf("row %d: expected loaded after resize, got ok=%v kind=%v", row, ok, r.Kind)
		}
	}
}

func TestAckGracePruneIsStrictlyGreaterThan(t *testing.T) {
	// Scenario C: ack at t=100ms, checked again at +90ms exactly must NOT
	// yet be pruned; a hair past the grace window must be pruned.
	c := New(100)
	c.SetGridSize(4, 10)

	ackTime := time.Unix(0, 100*int64(time.Millisecond))
	c.RegisterPrediction(1, map[CellPos]rune{{Row: 0, Col: 0}: 'x'}, 0, 1)
	c.AckPrediction(1, ackTime)

	exactlyGrace := ackTime.Add(90 * time.Millisecond)
	c.PruneAckedPredictions(exactlyGrace, 90*time.Millisecond)
	if !c.HasPredictions() {
		t.Fatalf("prediction pruned at exactly the grace boundary, expected it to survive")
	}

	pastGrace := ackTime.Add(91 * time.Millisecond)
	c.PruneAckedPredictions(pastGrace, 90*time.Millisecond)
	if c.HasPredictions() {
		t.Fatalf("prediction survived past the grace window")
	}
}

func TestAuthoritativeWriteClearsWholePredictionRecord(t *testing.T) {
	c := New(100)
	c.SetGridSize(4, 10)

	c.RegisterPrediction(1, map[CellPos]rune{
		{Row: 0, Col: 0}: 'a',
		{Row: 0, Col: 1}: 'b',
	}, 0, 2)
	if !c.HasPredictions() {
		t.Fatalf("expected prediction to be registered")
	}

	// Authoritative write lands on only one of the two predicted cells.
	c.ApplyUpdates([]wire.Update{cellUpdate(0, 0, 'A', 9)}, ApplyOptions{Authoritative: true})

	if c.HasPredictions() {
		t.Fatalf("expected the whole prediction record to be cleared on authoritative conflict")
	}
}

func TestPredictiveBackspaceFloorDropsSilentlyWithoutMutation(t *testing.T) {
	// Scenario E: a predicted backspace below the server-confirmed floor
	// must not mutate the grid, but must still register bookkeeping so the
	// ack can be correlated.
	c := New(100)
	c.SetGridSize(4, 10)
	c.ApplyUpdates([]wire.Update{cellUpdate(0, 0, 'x', 1)}, ApplyOptions{Authoritative: true})
	c.SetRowCursorFloor(0, 1)

	floor := c.MinimumServerColumn(0)
	if floor != 1 {
		t.Fatalf("expected minimum server column 1, got %d", floor)
	}

	before := c.Snapshot().GetRowText(0)
	c.RegisterPrediction(2, map[CellPos]rune{}, 0, 0)
	after := c.Snapshot().GetRowText(0)

	if before != after {
		t.Fatalf("grid mutated by a no-op prediction: before=%q after=%q", before, after)
	}
	if !c.HasPredictions() {
		t.Fatalf("expected bookkeeping record for seq 2 even with zero predicted cells")
	}
}

func TestZeroCursorSuppressedBeforeFirstAuthoritativeReport(t *testing.T) {
	c := New(100)
	c.SetGridSize(4, 10)

	c.ApplyCursorFrame(wire.CursorFrame{Row: 0, Col: 0, Visible: true})
	if _, ok := c.Cursor(); ok {
		t.Fatalf("expected initial (0,0) cursor report to be suppressed")
	}

	c.ApplyCursorFrame(wire.CursorFrame{Row: 2, Col: 3, Visible: true})
	cur, ok := c.Cursor()
	if !ok || cur.Row != 2 || cur.Col != 3 {
		t.Fatalf("expected cursor (2,3), got %+v ok=%v", cur, ok)
	}
}

func TestRowUpdateRecomputesLogicalWidth(t *testing.T) {
	c := New(100)
	c.SetGridSize(4, 10)
	c.ApplyUpdates([]wire.Update{
		{Kind: wire.UpdateRow, Row: 0, Seq: 1, Cells: []wire.PackedCell{
			wire.EncodeCell('h', 0), wire.EncodeCell('i', 0), wire.EncodeCell(0, 0), wire.EncodeCell(0, 0),
		}},
	}, ApplyOptions{Authoritative: true})

	snap := c.Snapshot()
	row, _ := snap.GetRow(0)
	if row.LogicalWidth != 2 {
		t.Fatalf("expected logical width 2, got %d", row.LogicalWidth)
	}
}

func TestFirstGapBetweenFindsContiguousMissingRun(t *testing.T) {
	c := New(1000)
	c.SetGridSize(1, 10)
	c.SetBaseRow(0)
	c.ApplyUpdates([]wire.Update{cellUpdate(0, 0, 'a', 1)}, ApplyOptions{Authoritative: true})
	c.ApplyUpdates([]wire.Update{cellUpdate(10, 0, 'b', 1)}, ApplyOptions{Authoritative: true})

	snap := c.Snapshot()
	gap, ok := snap.FirstGapBetween(0, 11)
	if !ok {
		t.Fatalf("expected a gap between loaded row 0 and loaded row 10")
	}
	if gap.Start != 1 || gap.End != 10 {
		t.Fatalf("expected gap [1,10), got [%d,%d)", gap.Start, gap.End)
	}
}
