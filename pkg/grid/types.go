// Package grid implements the terminal grid cache (spec.md §4.1, component
// C1): the cell matrix, sequence-ordered convergence, the predicted overlay,
// cursor tracking, style table, and tail-pad masking. It is the core data
// layer the rest of the viewer (predictive echo, backfill, viewport, frame
// dispatch) reads and mutates.
package grid

import (
	"time"

	"github.com/beachterm/viewer/pkg/wire"
)

// RowSlotKind tags the shape of a RowSlot (spec.md §3).
type RowSlotKind uint8

const (
	RowLoaded RowSlotKind = iota
	RowPending
	RowMissing
)

func (k RowSlotKind) String() string {
	switch k {
	case RowLoaded:
		return "loaded"
	case RowPending:
		return "pending"
	case RowMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// RowSlot is one row of the grid, tagged by shape (spec.md §3). AbsRow is
// its absolute row index regardless of shape.
type RowSlot struct {
	AbsRow       uint64
	Kind         RowSlotKind
	LatestSeq    uint64
	Cells        []wire.Cell
	LogicalWidth int
}

func pendingRow(abs uint64) RowSlot {
	return RowSlot{AbsRow: abs, Kind: RowPending}
}

func missingRow(abs uint64) RowSlot {
	return RowSlot{AbsRow: abs, Kind: RowMissing}
}

func blankLoadedRow(abs uint64, cols uint32, seq uint64) RowSlot {
	cells := make([]wire.Cell, cols)
	return RowSlot{AbsRow: abs, Kind: RowLoaded, Cells: cells, LatestSeq: seq, LogicalWidth: 0}
}

// CellPos addresses a single cell by absolute row and column.
type CellPos struct {
	Row uint64
	Col uint32
}

// PredictedCell overlays a loaded cell without mutating it (spec.md §3).
type PredictedCell struct {
	Char rune
	Seq  uint64 // the input sequence that produced this prediction
}

// PendingPrediction tracks one in-flight local input sequence (spec.md §3).
type PendingPrediction struct {
	Seq        uint64
	Positions  []CellPos
	AckedAt    time.Time
	CursorRow  uint64
	CursorCol  uint32
}

func (p *PendingPrediction) acked() bool {
	return !p.AckedAt.IsZero()
}

// CursorState is an authoritative or predicted cursor position (spec.md §3).
type CursorState struct {
	Row     uint64
	Col     uint32
	Seq     uint64
	Visible bool
	Blink   bool
}

// PredictedCursor is the speculative cursor position (spec.md §3): the end
// cursor recorded by RegisterPrediction for the most recently registered
// in-flight input sequence. Buffered input bytes are not stored or replayed.
type PredictedCursor struct {
	Row uint64
	Col uint32
	Seq uint64
}
