package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Loop schedules reconciliation ticks: one at boot, then one per interval.
// Ticks run on the loop goroutine and never overlap; a trigger that fires
// while a tick is still running is dropped, not queued.
type Loop struct {
	logger        zerolog.Logger
	interval      time.Duration
	tickerFactory func(time.Duration) Ticker
	tick          func(context.Context) error
	reloadCh      <-chan struct{}
	reload        func()
}

// LoopOption customizes loop behavior.
type LoopOption func(*Loop)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) LoopOption {
	return func(l *Loop) {
		l.tickerFactory = factory
	}
}

// WithReload installs an explicit reload trigger, typically fed by SIGHUP.
// The reload function runs on the loop goroutine between ticks.
func WithReload(ch <-chan struct{}, reload func()) LoopOption {
	return func(l *Loop) {
		l.reloadCh = ch
		l.reload = reload
	}
}

// NewLoop constructs a Loop around a tick function.
func NewLoop(logger zerolog.Logger, interval time.Duration, tick func(context.Context) error, opts ...LoopOption) *Loop {
	l := &Loop{
		logger:   logger,
		interval: interval,
		tick:     tick,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run starts the loop and blocks until the context is canceled.
func (l *Loop) Run(ctx context.Context) error {
	if l.interval <= 0 {
		return errors.New("tick interval must be greater than zero")
	}

	// run once at boot
	l.runTick(ctx)

	ticker := l.tickerFactory(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("reconcile loop stopped")
			return nil
		case <-l.reloadCh:
			if l.reload != nil {
				l.reload()
			}
		case <-ticker.C():
			l.runTick(ctx)
			l.dropPendingTrigger(ticker)
		}
	}
}

func (l *Loop) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := l.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Error().Err(err).Msg("tick failed")
	}
}

// dropPendingTrigger discards a trigger that fired while the tick was
// running, so a slow tick defers to the next scheduled one instead of
// back-to-back ticks racing the interval.
func (l *Loop) dropPendingTrigger(ticker Ticker) {
	select {
	case <-ticker.C():
		l.logger.Warn().Msg("previous tick overran the interval, dropping trigger")
	default:
	}
}
