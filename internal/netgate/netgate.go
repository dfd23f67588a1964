package netgate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/nholik/node-warden/internal/health"
	"github.com/nholik/node-warden/internal/proc"
	"github.com/nholik/node-warden/internal/registry"
)

const (
	defaultReachTimeout = 5 * time.Second
	bounceSettle        = 2 * time.Second
	recheckInterval     = 3 * time.Second
)

// LinkChecker reports whether a local network interface is up and associated.
type LinkChecker interface {
	LinkUp(name string) (bool, error)
}

// InterfaceChecker implements LinkChecker with the OS interface table.
type InterfaceChecker struct{}

// LinkUp reports whether the named interface exists and carries both the up
// and running flags (running implies association on wireless links).
func (InterfaceChecker) LinkUp(name string) (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Name != name {
			continue
		}
		return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0, nil
	}
	return false, fmt.Errorf("interface %q not found", name)
}

// Gate is the two-level connectivity prober/repairer evaluated before any
// service whose repair path needs outbound network access.
type Gate struct {
	logger zerolog.Logger
	spec   registry.Spec
	links  LinkChecker
	procs  proc.Runner
	client *retryablehttp.Client
	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) bool
}

// Option customizes gate behavior.
type Option func(*Gate)

// WithLinkChecker overrides how link state is read.
func WithLinkChecker(checker LinkChecker) Option {
	return func(g *Gate) {
		g.links = checker
	}
}

// WithSleep overrides waiting between repair steps (for tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(g *Gate) {
		g.sleep = sleep
	}
}

// New constructs a Gate for a connectivity spec.
func New(logger zerolog.Logger, spec registry.Spec, procs proc.Runner, opts ...Option) *Gate {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: defaultReachTimeout}

	g := &Gate{
		logger: logger,
		spec:   spec,
		links:  InterfaceChecker{},
		procs:  procs,
		client: client,
		sleep:  sleepWithContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Spec returns the gate's registry entry.
func (g *Gate) Spec() registry.Spec {
	return g.spec
}

// Check evaluates link state then external reachability. A down link maps to
// Down; a working link without reachability maps to Degraded.
func (g *Gate) Check(ctx context.Context) (health.Result, error) {
	up, err := g.links.LinkUp(g.spec.Link.Interface)
	if err != nil {
		return health.Result{}, fmt.Errorf("link check %q: %w", g.spec.Link.Interface, err)
	}
	if !up {
		return health.Result{
			Status:     health.StatusDown,
			FailedTier: health.TierLiveness,
			Detail:     fmt.Sprintf("interface %s not associated", g.spec.Link.Interface),
		}, nil
	}

	if detail, ok := g.reachable(ctx); !ok {
		return health.Result{
			Status:     health.StatusDegraded,
			FailedTier: health.TierShallow,
			Detail:     detail,
		}, nil
	}

	return health.Result{Status: health.StatusHealthy}, nil
}

// Repair applies the gate's repair policy for a failed check and re-checks.
// A down link gets exactly one interface bounce before reachability is
// retried; a working link is never bounced for a reachability failure, to
// avoid flapping a healthy link. The whole attempt is bounded by
// link.max_wait.
func (g *Gate) Repair(ctx context.Context, last health.Result) (health.Result, error) {
	deadline := time.Now().Add(g.spec.Link.MaxWait)
	repairCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if last.FailedTier == health.TierLiveness {
		if err := g.bounce(repairCtx); err != nil {
			return health.Result{}, err
		}
		if err := g.waitForLink(repairCtx); err != nil {
			g.logger.Warn().Err(err).Str("interface", g.spec.Link.Interface).Msg("link did not come back within max_wait")
			return last, nil
		}
	}

	// Retry reachability only, until the repair window closes.
	for {
		detail, ok := g.reachable(repairCtx)
		if ok {
			return health.Result{Status: health.StatusHealthy}, nil
		}
		if !g.sleep(repairCtx, recheckInterval) {
			return health.Result{
				Status:     health.StatusDegraded,
				FailedTier: health.TierShallow,
				Detail:     detail,
			}, nil
		}
	}
}

func (g *Gate) bounce(ctx context.Context) error {
	link := g.spec.Link
	g.logger.Info().Str("interface", link.Interface).Msg("bouncing interface")

	if link.BounceDown != "" {
		if err := g.procs.Run(ctx, link.BounceDown); err != nil {
			return fmt.Errorf("bounce down: %w", err)
		}
	}
	if !g.sleep(ctx, bounceSettle) {
		return ctx.Err()
	}
	if link.BounceUp != "" {
		if err := g.procs.Run(ctx, link.BounceUp); err != nil {
			return fmt.Errorf("bounce up: %w", err)
		}
	}
	return nil
}

func (g *Gate) waitForLink(ctx context.Context) error {
	for {
		up, err := g.links.LinkUp(g.spec.Link.Interface)
		if err != nil {
			return err
		}
		if up {
			return nil
		}
		if !g.sleep(ctx, time.Second) {
			return fmt.Errorf("interface %s still down: %w", g.spec.Link.Interface, ctx.Err())
		}
	}
}

// reachable counts any completed HTTP exchange as proof of connectivity,
// whatever the status code.
func (g *Gate) reachable(ctx context.Context) (string, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultReachTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, g.spec.ReachURL, nil)
	if err != nil {
		return fmt.Sprintf("build reachability request: %v", err), false
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Sprintf("unreachable: %v", err), false
	}
	resp.Body.Close()
	return "", true
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
