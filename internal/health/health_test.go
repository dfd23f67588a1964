package health

import "testing"

func TestWorse(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		next    Status
		want    Status
	}{
		{"down beats degraded", StatusDegraded, StatusDown, StatusDown},
		{"degraded beats healthy", StatusHealthy, StatusDegraded, StatusDegraded},
		{"quarantined beats degraded", StatusDegraded, StatusQuarantined, StatusQuarantined},
		{"down beats quarantined", StatusQuarantined, StatusDown, StatusDown},
		{"healthy stands against unknown", StatusHealthy, StatusUnknown, StatusHealthy},
		{"equal keeps current", StatusDown, StatusDown, StatusDown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Worse(tc.current, tc.next); got != tc.want {
				t.Fatalf("Worse(%s, %s) = %s, want %s", tc.current, tc.next, got, tc.want)
			}
		})
	}
}

func TestUnhealthy(t *testing.T) {
	if !StatusDown.Unhealthy() || !StatusDegraded.Unhealthy() {
		t.Fatalf("down and degraded call for action")
	}
	if StatusHealthy.Unhealthy() || StatusQuarantined.Unhealthy() || StatusUnknown.Unhealthy() || StatusRecovering.Unhealthy() {
		t.Fatalf("only down and degraded call for action")
	}
}
