package backfill

import (
	"testing"

	"github.com/beachterm/viewer/pkg/grid"
	"github.com/beachterm/viewer/pkg/wire"
)

func TestMaybeRequestSuppressedDuringHydration(t *testing.T) {
	g := grid.New(1000)
	g.SetGridSize(10, 10)

	var requested []wire.RowRange
	c := New(func(r wire.RowRange) { requested = append(requested, r) })

	c.MaybeRequest(g.Snapshot(), RequestParams{Phase: PhaseHydrating})
	if len(requested) != 0 {
		t.Fatalf("expected no requests during hydration, got %v", requested)
	}
}

func TestMaybeRequestFindsGapAndThrottlesDuplicates(t *testing.T) {
	g := grid.New(1000)
	g.SetGridSize(1, 10) // row 0 only, loaded-blank with latestSeq 0 on a fresh grid

	var requested []wire.RowRange
	c := New(func(r wire.RowRange) { requested = append(requested, r) })

	c.MaybeRequest(g.Snapshot(), RequestParams{})
	if len(requested) != 1 {
		t.Fatalf("expected exactly one request, got %d: %v", len(requested), requested)
	}

	// Same gap still outstanding: a second call must not issue a duplicate.
	c.MaybeRequest(g.Snapshot(), RequestParams{})
	if len(requested) != 1 {
		t.Fatalf("expected duplicate request to be throttled, got %d: %v", len(requested), requested)
	}
}

func TestFinalizeHistoryBackfillClearsFullyCoveredRange(t *testing.T) {
	c := New(nil)
	c.outstanding = []wire.RowRange{{Start: 0, End: 10}}

	c.FinalizeHistoryBackfill(0, 10)
	if len(c.Outstanding()) != 0 {
		t.Fatalf("expected outstanding range cleared, got %v", c.Outstanding())
	}
}

func TestFinalizeHistoryBackfillKeepsUncoveredRemainder(t *testing.T) {
	c := New(nil)
	c.outstanding = []wire.RowRange{{Start: 0, End: 20}}

	c.FinalizeHistoryBackfill(5, 15) // partial reply in the middle
	out := c.Outstanding()
	if len(out) != 2 {
		t.Fatalf("expected two remainder ranges, got %v", out)
	}
	if out[0] != (wire.RowRange{Start: 0, End: 5}) || out[1] != (wire.RowRange{Start: 15, End: 20}) {
		t.Fatalf("unexpected remainder ranges: %v", out)
	}
}

func TestHandleFrameResetsOnHelloAndShutdown(t *testing.T) {
	c := New(nil)
	c.outstanding = []wire.RowRange{{Start: 0, End: 5}}

	c.HandleFrame(&wire.HostFrame{Kind: wire.KindHello, Hello: wire.HelloFrame{Subscription: 7}})
	if len(c.Outstanding()) != 0 {
		t.Fatalf("expected hello to clear outstanding requests")
	}
	if c.subscriptionID != 7 {
		t.Fatalf("expected subscription id 7, got %d", c.subscriptionID)
	}

	c.outstanding = []wire.RowRange{{Start: 0, End: 5}}
	c.HandleFrame(&wire.HostFrame{Kind: wire.KindShutdown})
	if len(c.Outstanding()) != 0 {
		t.Fatalf("expected shutdown to clear outstanding requests")
	}
}
