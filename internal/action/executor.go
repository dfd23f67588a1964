package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nholik/node-warden/internal/docker"
	"github.com/nholik/node-warden/internal/proc"
	"github.com/nholik/node-warden/internal/registry"
)

// Kind names a corrective action.
type Kind string

const (
	// KindStart is an idempotent start-or-noop.
	KindStart Kind = "start"
	// KindRestart is stop-if-running, then start.
	KindRestart Kind = "restart"
)

// Outcome reports whether an action took effect.
type Outcome struct {
	OK bool
	// Detail carries the failure reason, or a short note on success.
	Detail string
}

func succeeded(detail string) Outcome {
	return Outcome{OK: true, Detail: detail}
}

func failed(detail string) Outcome {
	return Outcome{OK: false, Detail: detail}
}

// ShallowProber verifies reachability after an action.
type ShallowProber interface {
	CheckShallow(ctx context.Context, check *registry.ShallowCheck) (string, bool)
}

// Executor applies one corrective action for one service. Actions are
// synchronous from the reconciler's perspective: the underlying repair may
// wait, but always within a bound. Runtime failures are outcomes; Apply
// errors only on a spec the executor cannot act on.
type Executor struct {
	logger  zerolog.Logger
	docker  docker.Client
	procs   proc.Runner
	shallow ShallowProber

	verifyInitial time.Duration
	verifyMax     time.Duration
	verifyElapsed time.Duration
}

// Option customizes executor behavior.
type Option func(*Executor)

// WithVerifyTiming overrides the tunnel verification backoff (for tests).
func WithVerifyTiming(initial, max, elapsed time.Duration) Option {
	return func(e *Executor) {
		e.verifyInitial = initial
		e.verifyMax = max
		e.verifyElapsed = elapsed
	}
}

// NewExecutor constructs an Executor.
func NewExecutor(logger zerolog.Logger, dockerClient docker.Client, procs proc.Runner, shallow ShallowProber, opts ...Option) *Executor {
	e := &Executor{
		logger:        logger,
		docker:        dockerClient,
		procs:         procs,
		shallow:       shallow,
		verifyInitial: time.Second,
		verifyMax:     5 * time.Second,
		verifyElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply executes the action for the spec's kind.
func (e *Executor) Apply(ctx context.Context, spec registry.Spec, kind Kind) (Outcome, error) {
	switch spec.Kind {
	case registry.KindContainer:
		return e.applyContainer(ctx, spec, kind), nil
	case registry.KindProcess:
		return e.applyProcess(ctx, spec, kind), nil
	case registry.KindTunnel:
		return e.applyTunnel(ctx, spec), nil
	case registry.KindConnectivity:
		return Outcome{}, fmt.Errorf("service %q: connectivity repair is owned by the gate", spec.ID)
	default:
		return Outcome{}, fmt.Errorf("service %q: unsupported kind %q", spec.ID, spec.Kind)
	}
}

func (e *Executor) applyContainer(ctx context.Context, spec registry.Spec, kind Kind) Outcome {
	name := spec.ContainerName()
	switch kind {
	case KindStart:
		state, err := e.docker.ContainerState(ctx, name)
		if err != nil {
			return failed(fmt.Sprintf("inspect %s: %v", name, err))
		}
		if state.Running {
			return succeeded("already running")
		}
		if err := e.docker.StartContainer(ctx, name); err != nil {
			return failed(fmt.Sprintf("start %s: %v", name, err))
		}
		return succeeded("started")
	case KindRestart:
		if err := e.docker.RestartContainer(ctx, name); err != nil {
			return failed(fmt.Sprintf("restart %s: %v", name, err))
		}
		return succeeded("restarted")
	default:
		return failed(fmt.Sprintf("unknown action %q", kind))
	}
}

func (e *Executor) applyProcess(ctx context.Context, spec registry.Spec, kind Kind) Outcome {
	running, err := e.procs.Exists(ctx, spec.Match)
	if err != nil {
		return failed(fmt.Sprintf("presence check: %v", err))
	}

	if kind == KindStart && running {
		return succeeded("already running")
	}

	if kind == KindRestart && running {
		if err := e.stop(ctx, spec); err != nil {
			return failed(fmt.Sprintf("stop: %v", err))
		}
	}

	if err := e.procs.Run(ctx, spec.Start); err != nil {
		return failed(fmt.Sprintf("start: %v", err))
	}
	return succeeded("started")
}

// applyTunnel re-establishes the tunnel and verifies it through a shallow
// probe of the remote-visible endpoint. The establishment command succeeding
// is not enough: a tunnel can start and still be unreachable from the far
// end.
func (e *Executor) applyTunnel(ctx context.Context, spec registry.Spec) Outcome {
	running, err := e.procs.Exists(ctx, spec.Match)
	if err != nil {
		return failed(fmt.Sprintf("presence check: %v", err))
	}
	if running {
		if err := e.stop(ctx, spec); err != nil {
			return failed(fmt.Sprintf("terminate tunnel: %v", err))
		}
	}

	if err := e.procs.Run(ctx, spec.Start); err != nil {
		return failed(fmt.Sprintf("establish tunnel: %v", err))
	}

	detail, ok := e.verifyShallow(ctx, spec.Shallow)
	if !ok {
		return failed("tunnel endpoint not reachable after reconnect: " + detail)
	}
	return succeeded("reconnected")
}

func (e *Executor) stop(ctx context.Context, spec registry.Spec) error {
	if spec.Stop != "" {
		return e.procs.Run(ctx, spec.Stop)
	}
	return e.procs.Run(ctx, "pkill -f "+shellQuote(spec.Match))
}

// verifyShallow retries the shallow probe under exponential backoff, bounded
// by verifyElapsed.
func (e *Executor) verifyShallow(ctx context.Context, check *registry.ShallowCheck) (string, bool) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = e.verifyInitial
	backoffCfg.MaxInterval = e.verifyMax
	backoffCfg.MaxElapsedTime = e.verifyElapsed
	backoffCfg.Reset()

	for {
		detail, ok := e.shallow.CheckShallow(ctx, check)
		if ok {
			return "", true
		}
		wait := backoffCfg.NextBackOff()
		if wait == backoff.Stop {
			return detail, false
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err().Error(), false
		case <-timer.C:
		}
	}
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
