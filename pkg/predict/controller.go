// Package predict implements the predictive echo controller (spec.md §4.2,
// component C2): it tracks in-flight input sequences, smooths round-trip
// time, and decides whether the predicted-cell overlay should be visible
// and underlined. It never touches grid cells directly — that is the grid
// cache's job; this controller only ever talks timing.
package predict

import (
	"time"

	"github.com/beachterm/viewer/internal/logx"
)

var log = logx.New("predict")

const (
	defaultSRTTAlpha = 0.125

	quickConfirmationMs = 250
	quickConfirmationGapMs = 150

	agedThresholdMs   = 250
	agedPressure      = 10
	staleThresholdMs  = 5000
	stalePressure     = 20

	flaggingOnSRTTMs  = 80
	flaggingOffSRTTMs = 50
	flaggingOffPressure = 10

	srttTriggerOnMs  = 30
	srttTriggerOffMs = 20
)

// Overlay is the visibility/underline decision the predictive echo
// controller emits whenever it changes (spec.md §4.2).
type Overlay struct {
	Visible   bool
	Underline bool
}

// Controller is the predictive echo timing state machine. It is not safe
// for concurrent use; callers serialize through a single event loop, the
// same way the dispatcher serializes grid mutation.
type Controller struct {
	srttMs    float64
	haveSRTT  bool
	pending   map[uint64]int64 // seq -> sentAtMs

	flagging      bool
	srttTrigger   bool
	glitchTrigger int

	haveLastQuick    bool
	lastQuickMs      int64

	current  Overlay
	onChange func(Overlay)

	// SRTTAlpha is the EWMA smoothing factor for round-trip time (spec.md
	// §4.2, default 0.125). Exported so a caller can wire it from
	// config.ViewerConfig.SRTTAlpha.
	SRTTAlpha float64
}

// New creates a controller. onChange, if non-nil, is invoked every time the
// overlay state actually changes (spec.md §4.2 "Emits a new state object
// only on change").
func New(onChange func(Overlay)) *Controller {
	return &Controller{
		pending:   make(map[uint64]int64),
		onChange:  onChange,
		SRTTAlpha: defaultSRTTAlpha,
	}
}

// RecordSend registers that input sequence seq was sent at nowMs. Only
// predicted sends are tracked for timing purposes (spec.md §4.2).
func (c *Controller) RecordSend(seq uint64, nowMs int64, predicted bool) {
	if predicted {
		c.pending[seq] = nowMs
	}
	c.recompute()
}

// RecordAck processes a server acknowledgement of seq at nowMs, updating
// the smoothed round-trip time and decaying glitch pressure on quick
// confirmations (spec.md §4.2).
func (c *Controller) RecordAck(seq uint64, nowMs int64) {
	sentAt, ok := c.pending[seq]
	if !ok {
		c.recompute()
		return
	}
	delete(c.pending, seq)

	sample := nowMs - sentAt
	if sample < 0 {
		sample = 0
	}

	if !c.haveSRTT {
		c.srttMs = float64(sample)
		c.haveSRTT = true
	} else {
		c.srttMs += c.SRTTAlpha * (float64(sample) - c.srttMs)
	}

	if c.glitchTrigger > 0 && sample < quickConfirmationMs {
		gapOK := !c.haveLastQuick || nowMs-c.lastQuickMs >= quickConfirmationGapMs
		if gapOK {
			c.glitchTrigger--
			c.lastQuickMs = nowMs
			c.haveLastQuick = true
		}
	}

	c.recompute()
}

// Tick escalates glitch pressure for sends that have aged without an ack
// (spec.md §4.2); it should be called on a steady cadence (e.g. once per
// animation frame, optionally throttled).
func (c *Controller) Tick(nowMs int64) {
	for _, sentAt := range c.pending {
		age := nowMs - sentAt
		switch {
		case age > staleThresholdMs:
			if c.glitchTrigger < stalePressure {
				c.glitchTrigger = stalePressure
			}
		case age > agedThresholdMs:
			if c.glitchTrigger < agedPressure {
				c.glitchTrigger = agedPressure
			}
		}
	}
	c.recompute()
}

// Reset clears all internal state and emits a hidden overlay (spec.md §4.2,
// called on reconnect).
func (c *Controller) Reset(nowMs int64) {
	c.srttMs = 0
	c.haveSRTT = false
	c.pending = make(map[uint64]int64)
	c.flagging = false
	c.srttTrigger = false
	c.glitchTrigger = 0
	c.haveLastQuick = false
	c.lastQuickMs = 0
	c.emit(Overlay{})
}

func (c *Controller) recompute() {
	srtt := c.srttMs
	haveSRTT := c.haveSRTT

	switch {
	case (haveSRTT && srtt > flaggingOnSRTTMs) || c.glitchTrigger > flaggingOffPressure:
		c.flagging = true
	case c.flagging && (!haveSRTT || srtt <= flaggingOffSRTTMs) && c.glitchTrigger <= flaggingOffPressure:
		c.flagging = false
	}

	switch {
	case (haveSRTT && srtt > srttTriggerOnMs) || c.glitchTrigger > 0:
		c.srttTrigger = true
	case c.srttTrigger && (!haveSRTT || srtt <= srttTriggerOffMs) && len(c.pending) == 0:
		c.srttTrigger = false
	}

	visible := len(c.pending) > 0 || c.srttTrigger || c.glitchTrigger > 0
	underline := visible && (c.flagging || c.glitchTrigger > flaggingOffPressure)

	c.emit(Overlay{Visible: visible, Underline: underline})
}

func (c *Controller) emit(next Overlay) {
	if next == c.current {
		return
	}
	c.current = next
	log.Debugf("overlay state -> visible=%v underline=%v", next.Visible, next.Underline)
	if c.onChange != nil {
		c.onChange(next)
	}
}

// Current returns the most recently emitted overlay state.
func (c *Controller) Current() Overlay {
	return c.current
}

// NowMs is a convenience for callers that want a monotonic millisecond
// clock matching spec.md's nowMs parameters without each caller repeating
// the conversion.
func NowMs(t time.Time) int64 {
	return t.UnixMilli()
}
