package grid

import (
	"testing"

	"github.com/beachterm/viewer/pkg/wire"
)

func TestVisibleRowsFollowTailPadsAboveShortGrid(t *testing.T) {
	c := New(100)
	c.SetGridSize(2, 10)
	c.ApplyUpdates([]wire.Update{cellUpdate(0, 0, 'a', 1)}, ApplyOptions{Authoritative: true})
	c.SetFollowTail(true)

	rows := c.VisibleRows(5)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	for i := 0; i < 3; i++ {
		if rows[i].Kind != RowMissing {
			t.Fatalf("expected padding row %d to be missing, got %v", i, rows[i].Kind)
		}
	}
	if rows[3].Kind != RowLoaded || rows[4].Kind != RowLoaded {
		t.Fatalf("expected trailing rows to be loaded: %+v", rows[3:])
	}
}

func TestVisibleRowsFollowTailIdempotentWithNoPadRows(t *testing.T) {
	// Testable property 6: in follow_tail with tailPaddingRows=0, calling
	// VisibleRows(h) twice with no intervening mutation returns identical
	// slot identities.
	c := New(100)
	c.SetGridSize(10, 10)
	c.ApplyUpdates([]wire.Update{cellUpdate(9, 0, 'z', 1)}, ApplyOptions{Authoritative: true})
	c.SetFollowTail(true)

	first := c.VisibleRows(5)
	second := c.VisibleRows(5)
	if len(first) != len(second) {
		t.Fatalf("row count changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].AbsRow != second[i].AbsRow || first[i].Kind != second[i].Kind {
			t.Fatalf("row %d identity changed: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestVisibleRowsManualScrollbackClampsViewportTop(t *testing.T) {
	c := New(100)
	c.SetGridSize(10, 10)
	c.SetFollowTail(false)

	c.SetViewport(1000, 4) // far past the end; must clamp
	rows := c.VisibleRows(4)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[len(rows)-1].AbsRow != 9 {
		t.Fatalf("expected clamp to end at row 9, got %d", rows[len(rows)-1].AbsRow)
	}
}

func TestVisibleRowsTailPadDowngradesToMissing(t *testing.T) {
	c := New(100)
	c.SetGridSize(5, 10)
	c.MarkTailPad(wire.RowRange{Start: 3, End: 5}, 10)
	c.SetFollowTail(true)

	rows := c.VisibleRows(5)
	if rows[3].Kind != RowMissing || rows[4].Kind != RowMissing {
		t.Fatalf("expected tail-pad rows to render missing: %+v", rows[3:])
	}
}

func TestVisibleRowsFallsBackToLastTailOnTransientEmpty(t *testing.T) {
	c := New(100)
	c.SetGridSize(3, 10)
	c.ApplyUpdates([]wire.Update{cellUpdate(2, 0, 'x', 1)}, ApplyOptions{Authoritative: true})
	c.SetFollowTail(true)
	good := c.VisibleRows(3)
	if !anyLoaded(good) {
		t.Fatalf("expected a loaded tail before reset")
	}

	c.Reset()
	c.SetFollowTail(true)
	fallback := c.VisibleRows(3)
	if len(fallback) != len(good) {
		t.Fatalf("expected fallback to mirror the last good tail length")
	}
}
