package predict

import "testing"

func TestRecordSendAndAckComputesSRTT(t *testing.T) {
	var last Overlay
	c := New(func(o Overlay) { last = o })

	c.RecordSend(1, 1000, true)
	if !last.Visible {
		t.Fatalf("expected overlay visible once a predicted send is pending")
	}

	c.RecordAck(1, 1020)
	if last.Visible {
		t.Fatalf("expected overlay hidden once the only pending send is acked with low srtt")
	}
	if c.srttMs != 20 {
		t.Fatalf("expected seeded srtt of 20ms, got %v", c.srttMs)
	}
}

func TestTickEscalatesGlitchPressureForAgedSends(t *testing.T) {
	c := New(nil)
	c.RecordSend(1, 0, true)

	c.Tick(260)
	if c.glitchTrigger < agedPressure {
		t.Fatalf("expected glitch pressure >= %d after 260ms, got %d", agedPressure, c.glitchTrigger)
	}

	c.Tick(5010)
	if c.glitchTrigger < stalePressure {
		t.Fatalf("expected glitch pressure >= %d after 5010ms, got %d", stalePressure, c.glitchTrigger)
	}
}

func TestQuickAckDecaysGlitchPressure(t *testing.T) {
	c := New(nil)
	c.RecordSend(1, 0, true)
	c.Tick(300) // ages into glitch pressure
	if c.glitchTrigger == 0 {
		t.Fatalf("expected glitch pressure to be raised before the decay check")
	}

	c.RecordSend(2, 1000, true)
	c.RecordAck(2, 1010) // 10ms sample, well under the 250ms quick-confirmation bound

	if c.glitchTrigger != agedPressure-1 {
		t.Fatalf("expected glitch pressure decremented by one quick ack, got %d", c.glitchTrigger)
	}
}

func TestResetClearsStateAndEmitsHiddenOverlay(t *testing.T) {
	var last Overlay
	c := New(func(o Overlay) { last = o })
	c.RecordSend(1, 0, true)
	c.Tick(6000)

	c.Reset(7000)
	if last.Visible || last.Underline {
		t.Fatalf("expected hidden overlay after reset, got %+v", last)
	}
	if len(c.pending) != 0 || c.glitchTrigger != 0 {
		t.Fatalf("expected all internal state cleared after reset")
	}
}

func TestOverlayOnlyEmitsOnChange(t *testing.T) {
	calls := 0
	c := New(func(Overlay) { calls++ })

	c.RecordSend(1, 0, true) // visible: true -> 1 emit
	c.RecordSend(2, 1, true) // still visible, no state change -> no emit

	if calls != 1 {
		t.Fatalf("expected exactly 1 emit for two sends with no visibility change, got %d", calls)
	}
}
