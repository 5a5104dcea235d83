// Package viewport implements the viewport / follow-tail controller
// (spec.md §4.5, component C5): the phase state machine that decides
// whether the renderer stays glued to the newest row, honors a manual
// scroll position, or animates a catch-up while history fills in.
package viewport

import (
	"math"
	"sync"
	"time"

	"github.com/beachterm/viewer/internal/logx"
)

var log = logx.New("viewport")

const (
	defaultCommitDebounce = 120 * time.Millisecond
	defaultRowTolerance   = 1
)

// Phase is the controller's state machine position (spec.md §4.5).
type Phase string

const (
	PhaseHydrating        Phase = "hydrating"
	PhaseFollowTail       Phase = "follow_tail"
	PhaseManualScrollback Phase = "manual_scrollback"
	PhaseCatchingUp       Phase = "catching_up"
)

// ScrollClass tags how a scroll event was classified (spec.md §4.5).
type ScrollClass string

const (
	ScrollProgrammatic ScrollClass = "programmatic"
	ScrollUserAway     ScrollClass = "user-away"
	ScrollAtTail       ScrollClass = "at-tail"
	ScrollNeutral      ScrollClass = "neutral"
)

// ScrollSnapshot is one observation of the scroll container's geometry.
type ScrollSnapshot struct {
	ScrollTop   float64
	ClientHeight float64
}

// Proposal is a host-provided viewport sizing candidate (spec.md §4.5).
type Proposal struct {
	ViewportRows int
	MeasuredRows int
	FallbackRows int
}

// Controller is the viewport/follow-tail state machine. A mutex guards it
// because its commit debounce timer fires on its own goroutine while the
// rest of the calls arrive from the event loop (spec.md §5 "suspension
// points"); this mirrors the same goroutine-vs-timer guard pkg/grid and
// pkg/dispatch already use.
type Controller struct {
	mu sync.Mutex

	phase             Phase
	followTailDesired bool
	padRows           int

	viewportTop uint64

	AutoResizeHostOnViewportChange bool
	OnCommit                       func(rows int, sendResize bool)
	OnSetViewport                  func(rows int)

	// CommitDebounce debounces viewport-size proposals (spec.md §4.5,
	// default 120ms). Exported so a caller can wire it from
	// config.ViewerConfig.ViewportCommitDebounce().
	CommitDebounce time.Duration

	// RowTolerance is the row-count noise tolerance a proposal must exceed
	// to replace the committed value (spec.md §4.5, default 1). Exported so
	// a caller can wire it from config.ViewerConfig.ViewportRowTolerance.
	RowTolerance int

	lastScroll      ScrollSnapshot
	haveLastScroll  bool
	programmaticSet bool

	committedRows int
	haveCommitted bool
	pendingRows   int
	commitTimer   *time.Timer

	now func() time.Time
}

// New creates a viewport controller starting in the hydrating phase.
func New() *Controller {
	return &Controller{
		phase:          PhaseHydrating,
		now:            time.Now,
		CommitDebounce: defaultCommitDebounce,
		RowTolerance:   defaultRowTolerance,
	}
}

// Phase returns the controller's current state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ExitHydration transitions out of hydrating once the dispatcher applies
// the first non-empty authoritative frame (spec.md §4.5). With
// followTailDesired false the phase stays hydrating; a later JumpToTail
// moves it on.
func (c *Controller) ExitHydration(followTailDesired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseHydrating {
		return
	}
	c.followTailDesired = followTailDesired
	c.recomputePhase()
}

// SetPadRows updates the count of tail-pad rows currently outstanding; 0
// means the tail is fully hydrated (spec.md §4.5 catching_up exit).
func (c *Controller) SetPadRows(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.padRows = n
	c.recomputePhase()
}

func (c *Controller) recomputePhase() {
	switch c.phase {
	case PhaseHydrating:
		if c.followTailDesired && c.padRows > 0 {
			c.phase = PhaseCatchingUp
		} else if c.followTailDesired {
			c.phase = PhaseFollowTail
		}
	case PhaseCatchingUp:
		if c.padRows == 0 {
			c.phase = PhaseFollowTail
		}
	case PhaseFollowTail:
		if c.padRows > 0 {
			c.phase = PhaseCatchingUp
		}
	}
}

// EffectiveFollowTail is the value fed into the grid cache's visible-rows
// derivation: false during hydration, else followTailDesired && phase !=
// manual_scrollback (spec.md §4.5).
func (c *Controller) EffectiveFollowTail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseHydrating {
		return false
	}
	return c.followTailDesired && c.phase != PhaseManualScrollback
}

// MarkProgrammaticScroll flags the next scroll observation as
// programmatic, regardless of its geometry (spec.md §4.5).
func (c *Controller) MarkProgrammaticScroll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programmaticSet = true
}

// ClassifyScroll compares the new scroll snapshot to the last observed one
// and classifies the movement (spec.md §4.5). rowHeight must be > 0.
func (c *Controller) ClassifyScroll(next ScrollSnapshot, rowHeight float64, epsilon float64) ScrollClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.lastScroll
	hadPrev := c.haveLastScroll
	c.lastScroll = next
	c.haveLastScroll = true

	if c.programmaticSet {
		c.programmaticSet = false
		c.maybeTransitionOnClass(ScrollProgrammatic)
		return ScrollProgrammatic
	}

	if hadPrev && math.Abs(next.ClientHeight-prev.ClientHeight) > 0.25*rowHeight {
		c.maybeTransitionOnClass(ScrollProgrammatic)
		return ScrollProgrammatic
	}

	deltaTop := next.ScrollTop - prev.ScrollTop
	if hadPrev && deltaTop < -epsilon {
		c.maybeTransitionOnClass(ScrollUserAway)
		return ScrollUserAway
	}

	class := ScrollNeutral
	if c.padRows > 0 && c.followTailDesired {
		class = ScrollAtTail
	}
	c.maybeTransitionOnClass(class)
	return class
}

func (c *Controller) maybeTransitionOnClass(class ScrollClass) {
	if class == ScrollUserAway && c.phase == PhaseFollowTail {
		c.phase = PhaseManualScrollback
	}
}

// JumpToTail re-enters follow-tail intent: it sets followTailDesired,
// clears manual_scrollback, and marks the ensuing scroll programmatic so
// the classification above doesn't misread it as a fresh user gesture
// (spec.md §4.5 "clears the flag on the next microtask").
func (c *Controller) JumpToTail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followTailDesired = true
	if c.phase == PhaseManualScrollback {
		c.phase = PhaseFollowTail
	}
	c.recomputePhase()
	c.programmaticSet = true
}

// ShouldReenableFollowTail implements the two-argument contract named in
// spec.md's design notes as the intended one: tail is considered reached
// once remainingPixels is within max(1, ceil(2*lineHeightPx)).
func ShouldReenableFollowTail(remainingPixels, lineHeightPx float64) bool {
	tolerance := math.Ceil(2 * lineHeightPx)
	if tolerance < 1 {
		tolerance = 1
	}
	return remainingPixels <= tolerance
}

// ProposeViewport feeds a new sizing proposal through the 120ms debounce
// and 1-row tolerance rule (spec.md §4.5).
func (c *Controller) ProposeViewport(p Proposal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := p.ViewportRows
	if rows == 0 {
		rows = p.MeasuredRows
	}
	if rows == 0 {
		rows = p.FallbackRows
	}

	if c.haveCommitted && absInt(rows-c.committedRows) <= c.RowTolerance {
		return
	}

	c.pendingRows = rows
	if c.commitTimer != nil {
		c.commitTimer.Stop()
	}
	c.commitTimer = time.AfterFunc(c.CommitDebounce, c.commit)
}

func (c *Controller) commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := c.pendingRows
	c.committedRows = rows
	c.haveCommitted = true
	c.commitTimer = nil

	if c.OnSetViewport != nil {
		c.OnSetViewport(rows)
	}
	if c.OnCommit != nil {
		c.OnCommit(rows, c.AutoResizeHostOnViewportChange)
	}
	log.Debugf("committed viewport rows=%d autoResize=%v", rows, c.AutoResizeHostOnViewportChange)
}

// CommittedRows returns the last committed viewport row count.
func (c *Controller) CommittedRows() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committedRows, c.haveCommitted
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
