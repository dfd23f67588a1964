package registry

import (
	"time"
)

// Kind identifies how a service is supervised and repaired.
type Kind string

const (
	KindProcess      Kind = "process"
	KindContainer    Kind = "container"
	KindTunnel       Kind = "tunnel"
	KindConnectivity Kind = "connectivity"
)

// ShallowCheck is a bounded-timeout reachability probe against a well-known
// address. A timed-out request counts as a tier failure, not as unknown.
type ShallowCheck struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DeepCheck fetches a small status document of named boolean readiness flags.
// All listed flags must be true for the service to count as healthy.
type DeepCheck struct {
	URL     string        `yaml:"url"`
	Flags   []string      `yaml:"flags"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Link describes the connectivity gate's local interface and its bounce repair.
type Link struct {
	Interface  string        `yaml:"interface"`
	BounceDown string        `yaml:"bounce_down"`
	BounceUp   string        `yaml:"bounce_up"`
	MaxWait    time.Duration `yaml:"max_wait,omitempty"`
}

// Budget caps corrective actions inside a rolling wall-clock window.
type Budget struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Spec describes one supervised unit. Specs are immutable after load.
type Spec struct {
	ID        string   `yaml:"id"`
	Kind      Kind     `yaml:"kind"`
	DependsOn []string `yaml:"depends_on,omitempty"`

	// NeedsNetwork marks the service's repair path as requiring outbound
	// network access. Unset defaults to true for tunnels, false otherwise.
	NeedsNetwork *bool `yaml:"needs_network,omitempty"`

	// Container is the container name for kind container. Defaults to ID.
	Container string `yaml:"container,omitempty"`
	// Match is a pgrep -f pattern for kinds process and tunnel.
	Match string `yaml:"match,omitempty"`

	// Start and Stop are shell commands for kinds process and tunnel.
	// Start must be idempotent: starting a running unit is a no-op success.
	Start string `yaml:"start,omitempty"`
	Stop  string `yaml:"stop,omitempty"`

	Shallow *ShallowCheck `yaml:"shallow,omitempty"`
	Deep    *DeepCheck    `yaml:"deep,omitempty"`

	// Link and ReachURL are only meaningful for kind connectivity.
	Link     *Link  `yaml:"link,omitempty"`
	ReachURL string `yaml:"reach_url,omitempty"`

	Budget        Budget `yaml:"budget,omitempty"`
	EscalateAfter int    `yaml:"escalate_after,omitempty"`

	// set when a depends_on edge referenced the connectivity gate
	gateDependent bool
}

// RequiresNetwork reports whether repairing this service needs the
// connectivity gate to be healthy.
func (s Spec) RequiresNetwork() bool {
	if s.NeedsNetwork != nil {
		return *s.NeedsNetwork
	}
	return s.gateDependent || s.Kind == KindTunnel
}

// ContainerName returns the container to inspect for kind container.
func (s Spec) ContainerName() string {
	if s.Container != "" {
		return s.Container
	}
	return s.ID
}
