package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBudgetMax     = 5
	defaultBudgetWindow  = 60 * time.Minute
	defaultEscalateAfter = 3
	defaultLinkMaxWait   = 30 * time.Second
)

// ConfigError indicates an invalid registry. It is fatal at load time:
// nothing runs against a registry that failed validation.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "registry config: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Defaults supplies fallback budget and escalation settings for specs that
// leave them unset.
type Defaults struct {
	Budget        Budget `yaml:"budget"`
	EscalateAfter int    `yaml:"escalate_after"`
}

// File is the parsed YAML registry document.
type File struct {
	Defaults Defaults `yaml:"defaults"`
	Services []Spec   `yaml:"services"`
}

// Registry is the validated, topologically ordered set of service specs.
type Registry struct {
	// Gate is the connectivity entry, if any. It is excluded from Services
	// and from the dependency waves; the reconciler evaluates it first.
	Gate *Spec

	services    []Spec
	byID        map[string]Spec
	waves       [][]Spec
	fingerprint string
}

// Load reads and validates a YAML registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse validates registry bytes. All structural problems surface as
// ConfigError; cycles are a load-time error, never a runtime condition.
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, configErrorf("parse yaml: %v", err)
	}

	reg, err := build(file.Defaults, file.Services)
	if err != nil {
		return nil, err
	}
	reg.fingerprint = Fingerprint(data)
	return reg, nil
}

// FromSpecs builds a registry directly from specs, applying the given
// defaults. Used by the compose importer and tests.
func FromSpecs(defaults Defaults, specs []Spec) (*Registry, error) {
	return build(defaults, specs)
}

func build(defaults Defaults, specs []Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, configErrorf("registry contains no services")
	}

	applyDefaults(defaults, specs)

	reg := &Registry{byID: make(map[string]Spec, len(specs))}
	for i, spec := range specs {
		if spec.ID == "" {
			return nil, configErrorf("service %d: id is required", i)
		}
		if _, ok := reg.byID[spec.ID]; ok {
			return nil, configErrorf("service %q: duplicate id", spec.ID)
		}
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
		if spec.Kind == KindConnectivity {
			if reg.Gate != nil {
				return nil, configErrorf("service %q: multiple connectivity entries (gate %q already defined)", spec.ID, reg.Gate.ID)
			}
			gate := spec
			reg.Gate = &gate
		}
		reg.byID[spec.ID] = spec
	}

	// Resolve dependency references. Edges onto the gate are rewritten into
	// the needs-network flag: the gate is always evaluated before any wave.
	for _, spec := range specs {
		if spec.Kind == KindConnectivity {
			continue
		}
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			target, ok := reg.byID[dep]
			if !ok {
				return nil, configErrorf("service %q: depends_on references unknown id %q", spec.ID, dep)
			}
			if dep == spec.ID {
				return nil, configErrorf("service %q: depends on itself", spec.ID)
			}
			if target.Kind == KindConnectivity {
				spec.gateDependent = true
				continue
			}
			deps = append(deps, dep)
		}
		spec.DependsOn = deps
		reg.byID[spec.ID] = spec
		reg.services = append(reg.services, spec)
	}

	waves, err := partitionWaves(reg.services)
	if err != nil {
		return nil, err
	}
	reg.waves = waves

	// Flatten waves back into the exposed topological order.
	ordered := make([]Spec, 0, len(reg.services))
	for _, wave := range waves {
		ordered = append(ordered, wave...)
	}
	reg.services = ordered

	return reg, nil
}

func applyDefaults(defaults Defaults, specs []Spec) {
	budgetMax := defaults.Budget.Max
	if budgetMax <= 0 {
		budgetMax = defaultBudgetMax
	}
	budgetWindow := defaults.Budget.Window
	if budgetWindow <= 0 {
		budgetWindow = defaultBudgetWindow
	}
	escalateAfter := defaults.EscalateAfter
	if escalateAfter <= 0 {
		escalateAfter = defaultEscalateAfter
	}

	for i := range specs {
		if specs[i].Budget.Max <= 0 {
			specs[i].Budget.Max = budgetMax
		}
		if specs[i].Budget.Window <= 0 {
			specs[i].Budget.Window = budgetWindow
		}
		if specs[i].EscalateAfter <= 0 {
			specs[i].EscalateAfter = escalateAfter
		}
		if specs[i].Link != nil && specs[i].Link.MaxWait <= 0 {
			specs[i].Link.MaxWait = defaultLinkMaxWait
		}
	}
}

func validateSpec(spec Spec) error {
	switch spec.Kind {
	case KindContainer:
		// container name falls back to the id
	case KindProcess:
		if spec.Match == "" {
			return configErrorf("service %q: process kind requires match", spec.ID)
		}
		if spec.Start == "" {
			return configErrorf("service %q: process kind requires start", spec.ID)
		}
	case KindTunnel:
		if spec.Match == "" {
			return configErrorf("service %q: tunnel kind requires match", spec.ID)
		}
		if spec.Start == "" {
			return configErrorf("service %q: tunnel kind requires start", spec.ID)
		}
		if spec.Shallow == nil || spec.Shallow.URL == "" {
			return configErrorf("service %q: tunnel kind requires a shallow check to verify the far end", spec.ID)
		}
	case KindConnectivity:
		if spec.Link == nil || spec.Link.Interface == "" {
			return configErrorf("service %q: connectivity kind requires link.interface", spec.ID)
		}
		if spec.ReachURL == "" {
			return configErrorf("service %q: connectivity kind requires reach_url", spec.ID)
		}
		if len(spec.DependsOn) > 0 {
			return configErrorf("service %q: connectivity gate cannot have dependencies", spec.ID)
		}
	default:
		return configErrorf("service %q: unknown kind %q", spec.ID, spec.Kind)
	}

	if spec.Deep != nil {
		if spec.Deep.URL == "" {
			return configErrorf("service %q: deep check requires url", spec.ID)
		}
		if len(spec.Deep.Flags) == 0 {
			return configErrorf("service %q: deep check requires at least one flag", spec.ID)
		}
	}

	return nil
}

// Services returns all non-gate specs in topological order: dependency
// predecessors always precede their dependents.
func (r *Registry) Services() []Spec {
	return r.services
}

// Waves partitions services into groups with no dependency relation among
// them. Services in one wave may be probed concurrently; waves are processed
// strictly in order.
func (r *Registry) Waves() [][]Spec {
	return r.waves
}

// Lookup returns the spec for an id, including the gate.
func (r *Registry) Lookup(id string) (Spec, bool) {
	spec, ok := r.byID[id]
	return spec, ok
}

// Len returns the number of supervised services, gate included.
func (r *Registry) Len() int {
	return len(r.byID)
}

// DocFingerprint returns the SHA-256 fingerprint of the source document, or
// empty when the registry was built from specs directly.
func (r *Registry) DocFingerprint() string {
	return r.fingerprint
}
