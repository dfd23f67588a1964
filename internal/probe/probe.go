package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/nholik/node-warden/internal/docker"
	"github.com/nholik/node-warden/internal/health"
	"github.com/nholik/node-warden/internal/proc"
	"github.com/nholik/node-warden/internal/registry"
)

const deepBodyLimit = 64 * 1024

// Prober evaluates the tiered health check for one service: liveness, then
// shallow, then deep, short-circuiting on the first failing tier.
//
// Unreachability is a status, never an error. Probe returns an error only
// when the check mechanism itself breaks (daemon unreachable, malformed
// spec); callers treat that as a controller-internal failure.
type Prober struct {
	logger         zerolog.Logger
	docker         docker.Client
	procs          proc.Runner
	client         *retryablehttp.Client
	defaultTimeout time.Duration
}

// New constructs a Prober. Retries are disabled on the HTTP client: a probe
// either answers within its timeout or fails its tier.
func New(logger zerolog.Logger, dockerClient docker.Client, procs proc.Runner, defaultTimeout time.Duration) *Prober {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: defaultTimeout}

	return &Prober{
		logger:         logger,
		docker:         dockerClient,
		procs:          procs,
		client:         client,
		defaultTimeout: defaultTimeout,
	}
}

// Probe evaluates all defined tiers for the spec.
func (p *Prober) Probe(ctx context.Context, spec registry.Spec) (health.Result, error) {
	if spec.Kind == registry.KindConnectivity {
		return health.Result{}, fmt.Errorf("service %q: connectivity specs are evaluated by the gate, not the prober", spec.ID)
	}

	alive, detail, err := p.liveness(ctx, spec)
	if err != nil {
		return health.Result{}, fmt.Errorf("service %q: liveness check: %w", spec.ID, err)
	}
	if !alive {
		return health.Result{
			Status:     health.StatusDown,
			FailedTier: health.TierLiveness,
			Detail:     detail,
		}, nil
	}

	if spec.Shallow != nil {
		if failDetail, ok := p.shallow(ctx, spec.Shallow); !ok {
			return health.Result{
				Status:     health.StatusDegraded,
				FailedTier: health.TierShallow,
				Detail:     failDetail,
			}, nil
		}
	}

	if spec.Deep != nil {
		flags, failDetail, ok := p.deep(ctx, spec.Deep)
		if !ok {
			return health.Result{
				Status:     health.StatusDegraded,
				FailedTier: health.TierDeep,
				Detail:     failDetail,
				Flags:      flags,
			}, nil
		}
		return health.Result{Status: health.StatusHealthy, Flags: flags}, nil
	}

	return health.Result{Status: health.StatusHealthy}, nil
}

// CheckShallow exposes the shallow tier for post-action verification, e.g.
// deciding whether a re-established tunnel is visible from the far end.
func (p *Prober) CheckShallow(ctx context.Context, check *registry.ShallowCheck) (string, bool) {
	return p.shallow(ctx, check)
}

func (p *Prober) liveness(ctx context.Context, spec registry.Spec) (bool, string, error) {
	switch spec.Kind {
	case registry.KindContainer:
		state, err := p.docker.ContainerState(ctx, spec.ContainerName())
		if err != nil {
			return false, "", err
		}
		if !state.Exists {
			return false, fmt.Sprintf("container %s not found", spec.ContainerName()), nil
		}
		if !state.Running {
			return false, fmt.Sprintf("container %s is %s", spec.ContainerName(), state.Status), nil
		}
		return true, "", nil
	case registry.KindProcess, registry.KindTunnel:
		exists, err := p.procs.Exists(ctx, spec.Match)
		if err != nil {
			return false, "", err
		}
		if !exists {
			return false, fmt.Sprintf("no process matching %q", spec.Match), nil
		}
		return true, "", nil
	default:
		return false, "", fmt.Errorf("unsupported kind %q", spec.Kind)
	}
}

// shallow performs the bounded reachability probe. Any transport error,
// timeout, or non-2xx response fails the tier.
func (p *Prober) shallow(ctx context.Context, check *registry.ShallowCheck) (string, bool) {
	status, _, err := p.get(ctx, check.URL, check.Timeout)
	if err != nil {
		return fmt.Sprintf("unreachable: %v", err), false
	}
	if status < 200 || status >= 300 {
		return fmt.Sprintf("unexpected status %d", status), false
	}
	return "", true
}

// deep fetches the readiness document and requires every listed flag to be
// true. The specific failing flags are named in the detail.
func (p *Prober) deep(ctx context.Context, check *registry.DeepCheck) (map[string]bool, string, bool) {
	status, body, err := p.get(ctx, check.URL, check.Timeout)
	if err != nil {
		return nil, fmt.Sprintf("unreachable: %v", err), false
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Sprintf("unexpected status %d", status), false
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Sprintf("malformed readiness document: %v", err), false
	}

	flags := make(map[string]bool, len(check.Flags))
	failing := make([]string, 0)
	for _, name := range check.Flags {
		value, _ := doc[name].(bool)
		flags[name] = value
		if !value {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		return flags, "readiness flags false: " + strings.Join(failing, ", "), false
	}
	return flags, "", true
}

func (p *Prober) get(ctx context.Context, url string, timeout time.Duration) (int, []byte, error) {
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, deepBodyLimit))
	return resp.StatusCode, body, nil
}
