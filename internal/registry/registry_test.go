package registry

import (
	"errors"
	"testing"
	"time"
)

const validYAML = `defaults:
  budget: {max: 3, window: 30m}
  escalate_after: 2
services:
  - id: wifi
    kind: connectivity
    link:
      interface: wlan0
      bounce_down: "ip link set wlan0 down"
      bounce_up: "ip link set wlan0 up"
    reach_url: https://example.com/generate_204
  - id: ollama
    kind: container
    shallow: {url: "http://127.0.0.1:11434/api/version", timeout: 5s}
  - id: agent
    kind: process
    depends_on: [ollama]
    match: "victoria-agent"
    start: "systemctl --user start victoria-agent"
  - id: kb-tunnel
    kind: tunnel
    depends_on: [wifi]
    match: "ssh -N -L 8701"
    start: "autossh -N -L 8701:127.0.0.1:8701 kb"
    shallow: {url: "http://127.0.0.1:8701/health"}
`

func TestParse_ValidRegistry(t *testing.T) {
	reg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reg.Gate == nil || reg.Gate.ID != "wifi" {
		t.Fatalf("expected wifi gate, got %+v", reg.Gate)
	}
	if reg.Gate.Link.MaxWait != defaultLinkMaxWait {
		t.Fatalf("expected default link max_wait, got %s", reg.Gate.Link.MaxWait)
	}

	if len(reg.Services()) != 3 {
		t.Fatalf("expected 3 non-gate services, got %d", len(reg.Services()))
	}

	agent, ok := reg.Lookup("agent")
	if !ok {
		t.Fatalf("agent not found")
	}
	if agent.Budget.Max != 3 || agent.Budget.Window != 30*time.Minute {
		t.Fatalf("defaults not applied: %+v", agent.Budget)
	}
	if agent.EscalateAfter != 2 {
		t.Fatalf("unexpected escalate_after: %d", agent.EscalateAfter)
	}

	ollama, _ := reg.Lookup("ollama")
	if ollama.Shallow == nil || ollama.Shallow.Timeout != 5*time.Second {
		t.Fatalf("shallow timeout not parsed: %+v", ollama.Shallow)
	}

	if reg.DocFingerprint() == "" {
		t.Fatalf("expected a fingerprint")
	}
}

func TestParse_TopologicalOrder(t *testing.T) {
	reg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	position := map[string]int{}
	for i, spec := range reg.Services() {
		position[spec.ID] = i
	}
	if position["ollama"] > position["agent"] {
		t.Fatalf("ollama must precede agent: %v", position)
	}
}

func TestParse_GateEdgeBecomesNetworkRequirement(t *testing.T) {
	reg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tunnel, _ := reg.Lookup("kb-tunnel")
	if len(tunnel.DependsOn) != 0 {
		t.Fatalf("gate edge should be dropped from the graph, got %v", tunnel.DependsOn)
	}
	if !tunnel.RequiresNetwork() {
		t.Fatalf("tunnel must require network")
	}

	agent, _ := reg.Lookup("agent")
	if agent.RequiresNetwork() {
		t.Fatalf("process without gate edge must not require network")
	}
}

func TestParse_CycleIsConfigError(t *testing.T) {
	yaml := `services:
  - id: a
    kind: process
    match: a
    start: run-a
    depends_on: [b]
  - id: b
    kind: process
    match: b
    start: run-b
    depends_on: [a]
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
}

func TestParse_UnknownDependency(t *testing.T) {
	yaml := `services:
  - id: a
    kind: process
    match: a
    start: run-a
    depends_on: [ghost]
`
	_, err := Parse([]byte(yaml))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for unknown dependency, got %v", err)
	}
}

func TestParse_DuplicateID(t *testing.T) {
	yaml := `services:
  - id: a
    kind: process
    match: a
    start: run-a
  - id: a
    kind: process
    match: a
    start: run-a
`
	_, err := Parse([]byte(yaml))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for duplicate id, got %v", err)
	}
}

func TestParse_TunnelRequiresShallow(t *testing.T) {
	yaml := `services:
  - id: t
    kind: tunnel
    match: ssh
    start: autossh
`
	_, err := Parse([]byte(yaml))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for tunnel without shallow check, got %v", err)
	}
}

func TestParse_SecondGateRejected(t *testing.T) {
	yaml := `services:
  - id: wifi
    kind: connectivity
    link: {interface: wlan0}
    reach_url: https://example.com
  - id: eth
    kind: connectivity
    link: {interface: eth0}
    reach_url: https://example.com
`
	_, err := Parse([]byte(yaml))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for second gate, got %v", err)
	}
}

func TestWaves_IndependentServicesShareWave(t *testing.T) {
	specs := []Spec{
		{ID: "a", Kind: KindProcess, Match: "a", Start: "run-a"},
		{ID: "b", Kind: KindProcess, Match: "b", Start: "run-b"},
		{ID: "c", Kind: KindProcess, Match: "c", Start: "run-c", DependsOn: []string{"a", "b"}},
	}
	reg, err := FromSpecs(Defaults{}, specs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waves := reg.Waves()
	if len(waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(waves))
	}
	if len(waves[0]) != 2 {
		t.Fatalf("expected a and b in wave 0, got %v", waves[0])
	}
	if len(waves[1]) != 1 || waves[1][0].ID != "c" {
		t.Fatalf("expected c alone in wave 1, got %v", waves[1])
	}
}

func TestFromSpecs_EmptyRegistry(t *testing.T) {
	_, err := FromSpecs(Defaults{}, nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for empty registry, got %v", err)
	}
}
