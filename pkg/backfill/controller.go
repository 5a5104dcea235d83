// Package backfill implements the history backfill controller (spec.md
// §4.3, component C3): it watches for row ranges the grid cache hasn't
// loaded yet and requests the host resend them, bounded to a small
// lookahead window and throttled to one outstanding request per gap.
package backfill

import (
	"github.com/beachterm/viewer/internal/logx"
	"github.com/beachterm/viewer/pkg/grid"
	"github.com/beachterm/viewer/pkg/wire"
)

var log = logx.New("backfill")

const defaultLookaheadRows = 64

// Phase mirrors the viewport controller's phase enum (spec.md §4.5); the
// backfill controller only cares whether it is "hydrating".
type Phase string

const (
	PhaseHydrating Phase = "hydrating"
)

// RequestParams is the viewport-derived context maybeRequest decides on.
type RequestParams struct {
	NearBottom        bool
	FollowTailDesired bool
	Phase             Phase
	TailPaddingRows    int
}

// Controller tracks outstanding history_backfill requests and decides when
// a new one is warranted. It is not safe for concurrent use.
type Controller struct {
	subscriptionID uint32
	haveSub        bool

	outstanding []wire.RowRange

	// RequestBackfill is the collaborator that actually sends an outbound
	// request frame; injected so the controller stays transport-agnostic.
	RequestBackfill func(r wire.RowRange)

	// LookaheadRows bounds a single backfill request (spec.md §4.3, default
	// 64). Exported so a caller can wire it from
	// config.ViewerConfig.BackfillLookaheadRows.
	LookaheadRows int
}

// New creates an empty backfill controller.
func New(request func(r wire.RowRange)) *Controller {
	return &Controller{RequestBackfill: request, LookaheadRows: defaultLookaheadRows}
}

// HandleFrame observes connection-lifecycle frames to track the active
// subscription and drop stale outstanding requests (spec.md §4.3).
func (c *Controller) HandleFrame(f *wire.HostFrame) {
	switch f.Kind {
	case wire.KindHello:
		c.subscriptionID = f.Hello.Subscription
		c.haveSub = true
		c.outstanding = nil
	case wire.KindShutdown:
		c.outstanding = nil
		c.haveSub = false
	}
}

// MaybeRequest decides whether to issue a new backfill request given the
// current grid snapshot and viewport context (spec.md §4.3). It suppresses
// requests during hydration, when the same gap is already outstanding, and
// limits lookahead to 64 rows near the tail. At most one new request is
// issued per call.
func (c *Controller) MaybeRequest(snap *grid.Snapshot, params RequestParams) {
	if params.Phase == PhaseHydrating {
		return
	}

	lookahead := uint64(c.LookaheadRows)

	end := snap.BaseRow + uint64(len(snap.Rows))
	start := snap.BaseRow
	if end > lookahead && params.NearBottom {
		if end-start > lookahead {
			start = end - lookahead
		}
	}

	gap, ok := c.firstUnresolvedGap(snap, start, end)
	if !ok {
		return
	}

	for _, o := range c.outstanding {
		if o.Overlaps(gap) {
			return
		}
	}

	c.outstanding = append(c.outstanding, gap)
	log.Debugf("requesting backfill [%d,%d)", gap.Start, gap.End)
	if c.RequestBackfill != nil {
		c.RequestBackfill(gap)
	}
}

// firstUnresolvedGap extends grid.Snapshot.FirstGapBetween's notion of
// "not loaded" to also treat a loaded row with latestSeq==0 as a gap
// (spec.md §4.3: "loaded rows with latestSeq==0" still need backfilling —
// they are the blank rows SetGridSize seeds ahead of real content).
func (c *Controller) firstUnresolvedGap(snap *grid.Snapshot, start, end uint64) (wire.RowRange, bool) {
	var gapStart uint64
	inGap := false
	for abs := start; abs < end; abs++ {
		row, ok := snap.GetRow(abs)
		resolved := ok && row.Kind == grid.RowLoaded && row.LatestSeq != 0
		switch {
		case !resolved && !inGap:
			gapStart = abs
			inGap = true
		case resolved && inGap:
			return wire.RowRange{Start: gapStart, End: abs}, true
		}
	}
	if inGap {
		return wire.RowRange{Start: gapStart, End: end}, true
	}
	return wire.RowRange{}, false
}

// FinalizeHistoryBackfill marks the request matching frame's range
// complete. If the reply doesn't fully cover an in-flight range, the
// uncovered remainder stays outstanding so a subsequent MaybeRequest call
// can re-request it.
func (c *Controller) FinalizeHistoryBackfill(rangeStart, rangeEnd uint64) {
	reply := wire.RowRange{Start: rangeStart, End: rangeEnd}

	kept := c.outstanding[:0:0]
	for _, o := range c.outstanding {
		switch {
		case reply.Start <= o.Start && reply.End >= o.End:
			// fully covered, drop it
		case reply.Overlaps(o):
			remainder := remainderOf(o, reply)
			kept = append(kept, remainder...)
		default:
			kept = append(kept, o)
		}
	}
	c.outstanding = kept
}

func remainderOf(full, covered wire.RowRange) []wire.RowRange {
	var out []wire.RowRange
	if covered.Start > full.Start {
		out = append(out, wire.RowRange{Start: full.Start, End: covered.Start})
	}
	if covered.End < full.End {
		out = append(out, wire.RowRange{Start: covered.End, End: full.End})
	}
	return out
}

// Outstanding returns a copy of the currently in-flight request ranges, for
// tests and diagnostics.
func (c *Controller) Outstanding() []wire.RowRange {
	out := make([]wire.RowRange, len(c.outstanding))
	copy(out, c.outstanding)
	return out
}
