package netgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/node-warden/internal/health"
	"github.com/nholik/node-warden/internal/registry"
)

type fakeLinks struct {
	up  []bool
	idx int
}

func (f *fakeLinks) LinkUp(name string) (bool, error) {
	if f.idx >= len(f.up) {
		return f.up[len(f.up)-1], nil
	}
	up := f.up[f.idx]
	f.idx++
	return up, nil
}

type recordingRunner struct {
	commands []string
}

func (r *recordingRunner) Exists(ctx context.Context, pattern string) (bool, error) {
	return false, nil
}

func (r *recordingRunner) Run(ctx context.Context, command string) error {
	r.commands = append(r.commands, command)
	return nil
}

func instantSleep(ctx context.Context, d time.Duration) bool {
	return ctx.Err() == nil
}

func gateSpec(reachURL string) registry.Spec {
	return registry.Spec{
		ID:       "wifi",
		Kind:     registry.KindConnectivity,
		ReachURL: reachURL,
		Link: &registry.Link{
			Interface:  "wlan0",
			BounceDown: "ip link set wlan0 down",
			BounceUp:   "ip link set wlan0 up",
			MaxWait:    200 * time.Millisecond,
		},
	}
}

func TestCheck_LinkDownIsDown(t *testing.T) {
	gate := New(zerolog.Nop(), gateSpec("http://127.0.0.1:0"), &recordingRunner{},
		WithLinkChecker(&fakeLinks{up: []bool{false}}),
		WithSleep(instantSleep),
	)

	result, err := gate.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDown || result.FailedTier != health.TierLiveness {
		t.Fatalf("expected liveness Down, got %+v", result)
	}
}

func TestCheck_LinkUpButUnreachableIsDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	gate := New(zerolog.Nop(), gateSpec(server.URL), &recordingRunner{},
		WithLinkChecker(&fakeLinks{up: []bool{true}}),
		WithSleep(instantSleep),
	)

	result, err := gate.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDegraded || result.FailedTier != health.TierShallow {
		t.Fatalf("expected shallow Degraded, got %+v", result)
	}
}

func TestCheck_AnyHTTPExchangeCountsAsReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gate := New(zerolog.Nop(), gateSpec(server.URL), &recordingRunner{},
		WithLinkChecker(&fakeLinks{up: []bool{true}}),
		WithSleep(instantSleep),
	)

	result, err := gate.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusHealthy {
		t.Fatalf("a completed exchange proves connectivity, got %+v", result)
	}
}

func TestRepair_DownLinkGetsExactlyOneBounce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	runner := &recordingRunner{}
	gate := New(zerolog.Nop(), gateSpec(server.URL), runner,
		WithLinkChecker(&fakeLinks{up: []bool{false, true}}),
		WithSleep(instantSleep),
	)

	last := health.Result{Status: health.StatusDown, FailedTier: health.TierLiveness}
	repaired, err := gate.Repair(context.Background(), last)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repaired.Status != health.StatusHealthy {
		t.Fatalf("expected repaired gate, got %+v", repaired)
	}

	if len(runner.commands) != 2 {
		t.Fatalf("expected exactly one down+up bounce, got %v", runner.commands)
	}
	if runner.commands[0] != "ip link set wlan0 down" || runner.commands[1] != "ip link set wlan0 up" {
		t.Fatalf("unexpected bounce commands: %v", runner.commands)
	}
}

func TestRepair_ReachabilityFailureNeverBounces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	runner := &recordingRunner{}
	spec := gateSpec(server.URL)
	spec.Link.MaxWait = 50 * time.Millisecond
	gate := New(zerolog.Nop(), spec, runner,
		WithLinkChecker(&fakeLinks{up: []bool{true}}),
		WithSleep(sleepWithContext),
	)

	last := health.Result{Status: health.StatusDegraded, FailedTier: health.TierShallow}
	repaired, err := gate.Repair(context.Background(), last)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repaired.Status != health.StatusDegraded {
		t.Fatalf("expected still Degraded, got %+v", repaired)
	}
	if len(runner.commands) != 0 {
		t.Fatalf("a working link must not be bounced, got %v", runner.commands)
	}
}
