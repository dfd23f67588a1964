package healthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReadyHandler_UnavailableBeforeFirstTick(t *testing.T) {
	tracker := NewTracker()
	recorder := httptest.NewRecorder()

	ReadyHandler(tracker)(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the boot tick, got %d", recorder.Code)
	}
}

func TestReadyHandler_OKAfterTick(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordTick(120*time.Millisecond, 5, 1)
	recorder := httptest.NewRecorder()

	ReadyHandler(tracker)(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 after a tick, got %d", recorder.Code)
	}

	var snapshot Snapshot
	if err := json.NewDecoder(recorder.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if snapshot.ServicesProbed != 5 || snapshot.ActionsDispatched != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.TickDurationMS != 120 {
		t.Fatalf("expected 120ms, got %d", snapshot.TickDurationMS)
	}
}

func TestHealthHandler_StaleTickIsUnhealthy(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordTick(time.Millisecond, 1, 0)

	// with a tiny interval, the recorded tick goes stale immediately
	time.Sleep(5 * time.Millisecond)
	recorder := httptest.NewRecorder()
	HealthHandler(tracker, time.Millisecond)(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a stale tick, got %d", recorder.Code)
	}
}

func TestHealthHandler_FreshTickIsHealthy(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordTick(time.Millisecond, 1, 0)
	recorder := httptest.NewRecorder()

	HealthHandler(tracker, time.Minute)(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for a fresh tick, got %d", recorder.Code)
	}
}

func TestTracker_NilReceiversAreSafe(t *testing.T) {
	var tracker *Tracker
	tracker.RecordTick(time.Second, 1, 1)
	if tracker.Ready() {
		t.Fatalf("nil tracker cannot be ready")
	}
	if tracker.Healthy(time.Now(), time.Minute) {
		t.Fatalf("nil tracker cannot be healthy")
	}
}
