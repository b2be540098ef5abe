package domain

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	path := []DocumentStatus{
		StatusDiscovered,
		StatusImporting,
		StatusParsed,
		StatusProofreading,
		StatusReview,
		StatusReadyToPublish,
		StatusPublishing,
		StatusPublished,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	cases := []struct{ from, to DocumentStatus }{
		{StatusDiscovered, StatusParsed},
		{StatusParsed, StatusReadyToPublish},
		{StatusReview, StatusPublishing},
		{StatusReadyToPublish, StatusPublished},
		{StatusFailed, StatusPublishing},
		{StatusFailed, StatusPublished},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Fatalf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, terminal := range []DocumentStatus{StatusPublished, StatusRetired} {
		if !IsTerminal(terminal) {
			t.Fatalf("expected %s terminal", terminal)
		}
		for to := range allowedTransitions {
			if CanTransition(terminal, to) {
				t.Fatalf("terminal %s must not transition to %s", terminal, to)
			}
		}
	}
}

func TestFailedReachableFromEveryNonTerminalExceptItself(t *testing.T) {
	for _, from := range NonTerminalStatuses() {
		if from == StatusFailed {
			continue
		}
		if !CanTransition(from, StatusFailed) {
			t.Fatalf("expected %s -> failed to be allowed", from)
		}
	}
}

func TestFailedReturnsToAnyNonTerminal(t *testing.T) {
	for _, to := range NonTerminalStatuses() {
		if to == StatusFailed || to == StatusPublishing {
			continue
		}
		if !CanTransition(StatusFailed, to) {
			t.Fatalf("expected failed -> %s to be allowed", to)
		}
	}
	// publishing is only entered through the dispatch CAS, never by retry.
	if CanTransition(StatusFailed, StatusPublishing) {
		t.Fatalf("failed -> publishing must be rejected")
	}
}

func TestIsValidStatus(t *testing.T) {
	if !IsValidStatus(StatusReview) {
		t.Fatalf("review should be valid")
	}
	if IsValidStatus("bogus") {
		t.Fatalf("bogus should be invalid")
	}
}
