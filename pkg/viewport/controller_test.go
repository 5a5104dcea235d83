package viewport

import "testing"

func TestExitHydrationEntersFollowTailWithNoPadRows(t *testing.T) {
	c := New()
	c.ExitHydration(true)
	if c.Phase() != PhaseFollowTail {
		t.Fatalf("expected follow_tail, got %v", c.Phase())
	}
}

func TestExitHydrationEntersCatchingUpWithPadRows(t *testing.T) {
	c := New()
	c.SetPadRows(5)
	c.ExitHydration(true)
	if c.Phase() != PhaseCatchingUp {
		t.Fatalf("expected catching_up, got %v", c.Phase())
	}

	c.SetPadRows(0)
	if c.Phase() != PhaseFollowTail {
		t.Fatalf("expected catching_up to resolve to follow_tail once pad rows reach 0, got %v", c.Phase())
	}
}

func TestUserAwayScrollTransitionsToManualScrollback(t *testing.T) {
	c := New()
	c.ExitHydration(true)

	c.ClassifyScroll(ScrollSnapshot{ScrollTop: 1000, ClientHeight: 400}, 16, 0.5)
	class := c.ClassifyScroll(ScrollSnapshot{ScrollTop: 900, ClientHeight: 400}, 16, 0.5)

	if class != ScrollUserAway {
		t.Fatalf("expected user-away classification, got %v", class)
	}
	if c.Phase() != PhaseManualScrollback {
		t.Fatalf("expected manual_scrollback, got %v", c.Phase())
	}
}

func TestJumpToTailReturnsToFollowTailAndMarksProgrammatic(t *testing.T) {
	c := New()
	c.ExitHydration(true)
	c.ClassifyScroll(ScrollSnapshot{ScrollTop: 1000, ClientHeight: 400}, 16, 0.5)
	c.ClassifyScroll(ScrollSnapshot{ScrollTop: 900, ClientHeight: 400}, 16, 0.5)
	if c.Phase() != PhaseManualScrollback {
		t.Fatalf("precondition failed: expected manual_scrollback")
	}

	c.JumpToTail()
	if c.Phase() != PhaseFollowTail {
		t.Fatalf("expected jump-to-tail to restore follow_tail, got %v", c.Phase())
	}

	class := c.ClassifyScroll(ScrollSnapshot{ScrollTop: 1200, ClientHeight: 400}, 16, 0.5)
	if class != ScrollProgrammatic {
		t.Fatalf("expected the scroll immediately after jump-to-tail to classify as programmatic, got %v", class)
	}
}

func TestLargeClientHeightChangeClassifiesAsProgrammatic(t *testing.T) {
	c := New()
	c.ClassifyScroll(ScrollSnapshot{ScrollTop: 0, ClientHeight: 400}, 16, 0.5)
	class := c.ClassifyScroll(ScrollSnapshot{ScrollTop: 0, ClientHeight: 405}, 16, 0.5)
	if class != ScrollProgrammatic {
		t.Fatalf("expected a >0.25 row client height change to classify as programmatic, got %v", class)
	}
}

func TestShouldReenableFollowTailUsesTwoArgTolerance(t *testing.T) {
	if !ShouldReenableFollowTail(32, 16) {
		t.Fatalf("expected remaining pixels exactly at the 2x line height tolerance to reenable")
	}
	if ShouldReenableFollowTail(33, 16) {
		t.Fatalf("expected remaining pixels just past tolerance to not reenable")
	}
}

func TestProposeViewportDropsWithinOneRowTolerance(t *testing.T) {
	c := New()
	commits := 0
	c.OnCommit = func(rows int, sendResize bool) { commits++ }

	c.ProposeViewport(Proposal{ViewportRows: 24})
	c.commit() // simulate debounce firing

	c.ProposeViewport(Proposal{ViewportRows: 25}) // within 1-row tolerance, dropped
	if c.commitTimer != nil {
		t.Fatalf("expected a within-tolerance proposal to not schedule a new commit")
	}

	c.ProposeViewport(Proposal{ViewportRows: 30}) // outside tolerance
	if c.commitTimer == nil {
		t.Fatalf("expected an outside-tolerance proposal to schedule a commit")
	}
	c.commit()

	if commits != 2 {
		t.Fatalf("expected exactly 2 commits, got %d", commits)
	}
	if rows, _ := c.CommittedRows(); rows != 30 {
		t.Fatalf("expected committed rows 30, got %d", rows)
	}
}
