package action

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nholik/node-warden/internal/registry"
)

// DryRunExecutor logs intended actions without executing them. Every apply
// reports success so a dry-run tick walks the same decision path as a real
// one.
type DryRunExecutor struct {
	logger zerolog.Logger
}

// NewDryRunExecutor returns an executor that only logs.
func NewDryRunExecutor(logger zerolog.Logger) *DryRunExecutor {
	return &DryRunExecutor{logger: logger}
}

// Apply implements the executor contract.
func (e *DryRunExecutor) Apply(_ context.Context, spec registry.Spec, kind Kind) (Outcome, error) {
	e.logger.Info().
		Str("service", spec.ID).
		Str("kind", string(spec.Kind)).
		Str("action", string(kind)).
		Msg("[DRY-RUN] Would apply action")
	return Outcome{OK: true, Detail: "dry-run"}, nil
}
