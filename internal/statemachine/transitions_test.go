package statemachine

import (
	"testing"

	"boss-office/internal/models"
)

func TestTransitionTableCoversEveryStatus(t *testing.T) {
	for _, s := range append([]models.Status{models.StatusNone}, models.AllStatuses...) {
		if _, ok := validTransitions[s]; !ok {
			t.Fatalf("status %s missing from transition table", s)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	cases := []struct {
		from, to models.Status
		want     bool
	}{
		{models.StatusNone, models.StatusDraft, true},
		{models.StatusNone, models.StatusSent, false},
		{models.StatusDraft, models.StatusSent, true},
		{models.StatusDraft, models.StatusFailedSend, true},
		{models.StatusDraft, models.StatusReadyForReview, false},
		{models.StatusSent, models.StatusReadyForReview, true},
		{models.StatusSent, models.StatusFactoryFailed, true},
		{models.StatusReadyForReview, models.StatusDeployRequested, true},
		{models.StatusReadyForReview, models.StatusRevisionRequested, true},
		{models.StatusReadyForReview, models.StatusRejected, true},
		{models.StatusReadyForReview, models.StatusDeployed, false},
		{models.StatusDeployRequested, models.StatusDeployed, true},
		{models.StatusRevisionRequested, models.StatusSent, true},
		{models.StatusRevisionRequested, models.StatusDraft, false},
		{models.StatusDraft, models.StatusDraft, false},
		{models.Status("BOGUS"), models.StatusDraft, false},
	}
	for _, tc := range cases {
		if got := IsAllowed(tc.from, tc.to); got != tc.want {
			t.Errorf("IsAllowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatusesAreClosed(t *testing.T) {
	terminal := map[models.Status]bool{
		models.StatusFailedSend:    true,
		models.StatusFactoryFailed: true,
		models.StatusDeployed:      true,
		models.StatusRejected:      true,
	}
	for _, from := range models.AllStatuses {
		if IsTerminal(from) != terminal[from] {
			t.Fatalf("IsTerminal(%s) = %v", from, IsTerminal(from))
		}
		if !terminal[from] {
			continue
		}
		for _, to := range models.AllStatuses {
			if IsAllowed(from, to) {
				t.Fatalf("terminal %s allows %s", from, to)
			}
		}
	}
	if IsTerminal(models.StatusNone) {
		t.Fatalf("null pseudo-state must not be terminal")
	}
}

func TestAllowedFromReturnsCopy(t *testing.T) {
	got := AllowedFrom(models.StatusReadyForReview)
	if len(got) != 3 {
		t.Fatalf("expected 3 targets got %v", got)
	}
	got[0] = models.StatusDraft
	if AllowedFrom(models.StatusReadyForReview)[0] == models.StatusDraft {
		t.Fatalf("AllowedFrom leaked the table slice")
	}
}
