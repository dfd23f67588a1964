package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nholik/node-warden/internal/action"
	"github.com/nholik/node-warden/internal/audit"
	"github.com/nholik/node-warden/internal/budget"
	"github.com/nholik/node-warden/internal/config"
	"github.com/nholik/node-warden/internal/docker"
	"github.com/nholik/node-warden/internal/healthcheck"
	"github.com/nholik/node-warden/internal/logging"
	"github.com/nholik/node-warden/internal/metrics"
	"github.com/nholik/node-warden/internal/netgate"
	"github.com/nholik/node-warden/internal/notify"
	"github.com/nholik/node-warden/internal/probe"
	"github.com/nholik/node-warden/internal/proc"
	"github.com/nholik/node-warden/internal/reconcile"
	"github.com/nholik/node-warden/internal/registry"
	"github.com/nholik/node-warden/internal/server"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "node-warden",
	Short:   "Self-healing service reconciliation controller for a single node",
	Version: Version,
}

var dryRun bool

func init() {
	onceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log intended actions and escalations without executing them")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(validateCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := logging.New(cfg.LogLevel)

		reg, err := loadRegistry(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		logger.Info().
			Int("services", reg.Len()).
			Str("fingerprint", reg.DocFingerprint()).
			Msg("registry loaded")

		sink, err := audit.NewFileSink(cfg.AuditLogPath, logger)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer sink.Close()

		collectors := metrics.New()
		tracker := healthcheck.NewTracker()

		reconciler, err := buildReconciler(logger, cfg, reg, sink, collectors, tracker, false)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		server.Start(ctx, logger, cfg.TickInterval, tracker, collectors, cfg.HealthPort, cfg.MetricsPort)

		reloadCh := reloadSignals(ctx)
		loop := reconcile.NewLoop(logger, cfg.TickInterval, reconciler.Tick,
			reconcile.WithReload(reloadCh, func() {
				reloadRegistry(ctx, logger, cfg, reconciler)
			}),
		)

		logger.Info().Str("version", Version).Dur("interval", cfg.TickInterval).Msg("node-warden starting")
		return loop.Run(ctx)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single reconciliation tick and print the resulting states",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := logging.New(cfg.LogLevel)

		reg, err := loadRegistry(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		var sink audit.Sink = audit.NopSink{}
		if !dryRun {
			fileSink, err := audit.NewFileSink(cfg.AuditLogPath, logger)
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			defer fileSink.Close()
			sink = fileSink
		}

		reconciler, err := buildReconciler(logger, cfg, reg, sink, metrics.New(), healthcheck.NewTracker(), dryRun)
		if err != nil {
			return err
		}

		if err := reconciler.Tick(cmd.Context()); err != nil {
			return err
		}

		for _, snapshot := range reconciler.States() {
			line := fmt.Sprintf("%-20s %-12s failures=%d", snapshot.ServiceID, snapshot.Status, snapshot.ConsecutiveFailures)
			if snapshot.Detail != "" {
				line += "  " + snapshot.Detail
			}
			fmt.Println(line)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the registry and print the computed dependency waves",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		reg, err := loadRegistry(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		fmt.Printf("registry ok: %d services, fingerprint %s\n", reg.Len(), reg.DocFingerprint())
		if reg.Gate != nil {
			fmt.Printf("gate: %s (interface %s)\n", reg.Gate.ID, reg.Gate.Link.Interface)
		}
		for i, wave := range reg.Waves() {
			fmt.Printf("wave %d:", i)
			for _, spec := range wave {
				fmt.Printf(" %s", spec.ID)
			}
			fmt.Println()
		}
		return nil
	},
}

func loadRegistry(ctx context.Context, cfg config.Config) (*registry.Registry, error) {
	if cfg.ComposePath != "" {
		return registry.LoadCompose(ctx, cfg.ComposePath, registry.Defaults{})
	}
	return registry.Load(cfg.RegistryPath)
}

func buildReconciler(logger zerolog.Logger, cfg config.Config, reg *registry.Registry, sink audit.Sink, collectors *metrics.Metrics, tracker *healthcheck.Tracker, dry bool) (*reconcile.Reconciler, error) {
	dockerClient, err := docker.NewAPIClient(cfg.DockerHost, cfg.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("init docker client: %w", err)
	}
	procs := proc.NewShellRunner(cfg.ProbeTimeout)
	prober := probe.New(logger, dockerClient, procs, cfg.ProbeTimeout)

	var executor reconcile.Executor = action.NewExecutor(logger, dockerClient, procs, prober)
	var notifier notify.Notifier
	if dry {
		executor = action.NewDryRunExecutor(logger)
		notifier = notify.NewDryRunNotifier(logger)
	} else {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, "")
		if err != nil {
			return nil, err
		}
		notifier = notify.NewMultiNotifier(
			notify.NewSlackNotifier(logger, cfg.SlackWebhookURL),
			webhook,
		)
	}

	opts := []reconcile.Option{
		reconcile.WithMetrics(collectors),
		reconcile.WithHealthTracker(tracker),
		reconcile.WithTickTimeout(cfg.TickTimeout),
		reconcile.WithProbeWorkers(cfg.ProbeWorkers),
	}
	if reg.Gate != nil {
		opts = append(opts, reconcile.WithGate(netgate.New(logger, *reg.Gate, procs)))
	}

	return reconcile.New(logger, reg, prober, executor, budget.NewTracker(), notifier, sink, opts...), nil
}

// reloadSignals converts SIGHUP into explicit reload triggers.
func reloadSignals(ctx context.Context) <-chan struct{} {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)

	out := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

// reloadRegistry swaps in a freshly validated registry; a broken file keeps
// the old registry running.
func reloadRegistry(ctx context.Context, logger zerolog.Logger, cfg config.Config, reconciler *reconcile.Reconciler) {
	reg, err := loadRegistry(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("registry reload rejected, keeping previous registry")
		return
	}

	var gate reconcile.Gate
	if reg.Gate != nil {
		gate = netgate.New(logger, *reg.Gate, proc.NewShellRunner(cfg.ProbeTimeout))
	}
	reconciler.Reload(reg, gate)
	logger.Info().Str("fingerprint", reg.DocFingerprint()).Msg("registry reload applied")
}
