package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/node-warden/internal/docker"
	"github.com/nholik/node-warden/internal/health"
	"github.com/nholik/node-warden/internal/registry"
)

type fakeDocker struct {
	state docker.State
	err   error
}

func (f *fakeDocker) Ping(ctx context.Context) error { return nil }

func (f *fakeDocker) ContainerState(ctx context.Context, name string) (docker.State, error) {
	return f.state, f.err
}

func (f *fakeDocker) StartContainer(ctx context.Context, name string) error   { return nil }
func (f *fakeDocker) RestartContainer(ctx context.Context, name string) error { return nil }

type fakeProcs struct {
	exists bool
	err    error
}

func (f *fakeProcs) Exists(ctx context.Context, pattern string) (bool, error) {
	return f.exists, f.err
}

func (f *fakeProcs) Run(ctx context.Context, command string) error { return nil }

func newTestProber(d docker.Client, p *fakeProcs) *Prober {
	return New(zerolog.Nop(), d, p, 2*time.Second)
}

func TestProbe_ContainerNotRunningIsDown(t *testing.T) {
	prober := newTestProber(&fakeDocker{state: docker.State{Exists: true, Running: false, Status: "exited"}}, &fakeProcs{})
	result, err := prober.Probe(context.Background(), registry.Spec{ID: "c", Kind: registry.KindContainer, Container: "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDown || result.FailedTier != health.TierLiveness {
		t.Fatalf("expected liveness Down, got %+v", result)
	}
}

func TestProbe_MissingContainerIsDownNotError(t *testing.T) {
	prober := newTestProber(&fakeDocker{state: docker.State{}}, &fakeProcs{})
	result, err := prober.Probe(context.Background(), registry.Spec{ID: "c", Kind: registry.KindContainer, Container: "c"})
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if result.Status != health.StatusDown {
		t.Fatalf("expected Down, got %+v", result)
	}
}

func TestProbe_ProcessAliveWithoutChecksIsHealthy(t *testing.T) {
	prober := newTestProber(&fakeDocker{}, &fakeProcs{exists: true})
	result, err := prober.Probe(context.Background(), registry.Spec{ID: "p", Kind: registry.KindProcess, Match: "agent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusHealthy {
		t.Fatalf("expected Healthy, got %+v", result)
	}
}

func TestProbe_ShallowFailureIsDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	prober := newTestProber(&fakeDocker{}, &fakeProcs{exists: true})
	spec := registry.Spec{
		ID:      "p",
		Kind:    registry.KindProcess,
		Match:   "agent",
		Shallow: &registry.ShallowCheck{URL: server.URL},
	}

	result, err := prober.Probe(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDegraded || result.FailedTier != health.TierShallow {
		t.Fatalf("expected shallow Degraded, got %+v", result)
	}
}

func TestProbe_ShallowShortCircuitsDeep(t *testing.T) {
	deepCalled := false
	shallow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer shallow.Close()
	deep := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deepCalled = true
	}))
	defer deep.Close()

	prober := newTestProber(&fakeDocker{}, &fakeProcs{exists: true})
	spec := registry.Spec{
		ID:      "p",
		Kind:    registry.KindProcess,
		Match:   "agent",
		Shallow: &registry.ShallowCheck{URL: shallow.URL},
		Deep:    &registry.DeepCheck{URL: deep.URL, Flags: []string{"ready"}},
	}

	result, err := prober.Probe(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FailedTier != health.TierShallow {
		t.Fatalf("expected shallow failure, got %+v", result)
	}
	if deepCalled {
		t.Fatalf("deep check must not run after a shallow failure")
	}
}

func TestProbe_DeepFlagFalseNamesFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model_loaded": true, "queue_ok": false}`))
	}))
	defer server.Close()

	prober := newTestProber(&fakeDocker{}, &fakeProcs{exists: true})
	spec := registry.Spec{
		ID:    "p",
		Kind:  registry.KindProcess,
		Match: "agent",
		Deep:  &registry.DeepCheck{URL: server.URL, Flags: []string{"model_loaded", "queue_ok"}},
	}

	result, err := prober.Probe(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDegraded || result.FailedTier != health.TierDeep {
		t.Fatalf("expected deep Degraded, got %+v", result)
	}
	if !strings.Contains(result.Detail, "queue_ok") {
		t.Fatalf("detail must name the failing flag: %q", result.Detail)
	}
	if result.Flags["model_loaded"] != true || result.Flags["queue_ok"] != false {
		t.Fatalf("unexpected flags: %v", result.Flags)
	}
}

func TestProbe_DeepAllFlagsTrueIsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ready": true}`))
	}))
	defer server.Close()

	prober := newTestProber(&fakeDocker{}, &fakeProcs{exists: true})
	spec := registry.Spec{
		ID:    "p",
		Kind:  registry.KindProcess,
		Match: "agent",
		Deep:  &registry.DeepCheck{URL: server.URL, Flags: []string{"ready"}},
	}

	result, err := prober.Probe(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusHealthy {
		t.Fatalf("expected Healthy, got %+v", result)
	}
}

func TestProbe_DeepMalformedDocumentIsDegraded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	prober := newTestProber(&fakeDocker{}, &fakeProcs{exists: true})
	spec := registry.Spec{
		ID:    "p",
		Kind:  registry.KindProcess,
		Match: "agent",
		Deep:  &registry.DeepCheck{URL: server.URL, Flags: []string{"ready"}},
	}

	result, err := prober.Probe(context.Background(), spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != health.StatusDegraded || result.FailedTier != health.TierDeep {
		t.Fatalf("expected deep Degraded on malformed document, got %+v", result)
	}
}

func TestProbe_CheckTimeoutFailsTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	prober := newTestProber(&fakeDocker{}, &fakeProcs{exists: true})
	spec := registry.Spec{
		ID:      "p",
		Kind:    registry.KindProcess,
		Match:   "agent",
		Shallow: &registry.ShallowCheck{URL: server.URL, Timeout: 20 * time.Millisecond},
	}

	result, err := prober.Probe(context.Background(), spec)
	if err != nil {
		t.Fatalf("a timeout is a status, not an error: %v", err)
	}
	if result.Status != health.StatusDegraded || result.FailedTier != health.TierShallow {
		t.Fatalf("expected shallow Degraded on timeout, got %+v", result)
	}
}

func TestProbe_ConnectivityKindRejected(t *testing.T) {
	prober := newTestProber(&fakeDocker{}, &fakeProcs{})
	if _, err := prober.Probe(context.Background(), registry.Spec{ID: "wifi", Kind: registry.KindConnectivity}); err == nil {
		t.Fatalf("expected an error for connectivity specs")
	}
}
