package budget

import (
	"testing"
	"time"

	"github.com/nholik/node-warden/internal/registry"
)

func TestRemaining_CountsOnlyWindowedActions(t *testing.T) {
	tracker := NewTracker()
	b := registry.Budget{Max: 3, Window: time.Hour}
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	if got := tracker.Remaining("svc", b, base); got != 3 {
		t.Fatalf("expected full budget, got %d", got)
	}

	tracker.Record("svc", base)
	tracker.Record("svc", base.Add(10*time.Minute))

	if got := tracker.Remaining("svc", b, base.Add(20*time.Minute)); got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}

	// first action ages out of the window
	if got := tracker.Remaining("svc", b, base.Add(61*time.Minute)); got != 2 {
		t.Fatalf("expected 2 remaining after aging, got %d", got)
	}
}

func TestIsQuarantined_ExhaustedThenRecovers(t *testing.T) {
	tracker := NewTracker()
	b := registry.Budget{Max: 2, Window: 30 * time.Minute}
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tracker.Record("svc", base)
	tracker.Record("svc", base.Add(time.Minute))

	if !tracker.IsQuarantined("svc", b, base.Add(2*time.Minute)) {
		t.Fatalf("expected quarantined with budget spent")
	}
	if tracker.IsQuarantined("svc", b, base.Add(31*time.Minute)) {
		t.Fatalf("expected budget back after the oldest action aged out")
	}
}

func TestNextFree(t *testing.T) {
	tracker := NewTracker()
	b := registry.Budget{Max: 2, Window: 30 * time.Minute}
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	if !tracker.NextFree("svc", b, base).IsZero() {
		t.Fatalf("expected zero time while budget is free")
	}

	tracker.Record("svc", base)
	tracker.Record("svc", base.Add(5*time.Minute))

	got := tracker.NextFree("svc", b, base.Add(6*time.Minute))
	want := base.Add(30 * time.Minute)
	if !got.Equal(want) {
		t.Fatalf("expected next free at %s, got %s", want, got)
	}
}

func TestReset_ClearsHistory(t *testing.T) {
	tracker := NewTracker()
	b := registry.Budget{Max: 1, Window: time.Hour}
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tracker.Record("svc", base)
	if !tracker.IsQuarantined("svc", b, base) {
		t.Fatalf("expected quarantine before reset")
	}

	tracker.Reset("svc")
	if tracker.IsQuarantined("svc", b, base) {
		t.Fatalf("expected fresh budget after reset")
	}
}

func TestTrackersAreIndependentPerService(t *testing.T) {
	tracker := NewTracker()
	b := registry.Budget{Max: 1, Window: time.Hour}
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tracker.Record("a", base)
	if tracker.IsQuarantined("b", b, base) {
		t.Fatalf("service b must not share service a's budget")
	}
}
