package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/node-warden/internal/action"
	"github.com/nholik/node-warden/internal/audit"
	"github.com/nholik/node-warden/internal/budget"
	"github.com/nholik/node-warden/internal/health"
	"github.com/nholik/node-warden/internal/healthcheck"
	"github.com/nholik/node-warden/internal/metrics"
	"github.com/nholik/node-warden/internal/notify"
	"github.com/nholik/node-warden/internal/registry"
)

const notifyTimeout = 15 * time.Second

// Prober evaluates the tiered health check for one service.
type Prober interface {
	Probe(ctx context.Context, spec registry.Spec) (health.Result, error)
}

// Executor applies one corrective action for one service.
type Executor interface {
	Apply(ctx context.Context, spec registry.Spec, kind action.Kind) (action.Outcome, error)
}

// Gate is the connectivity prober/repairer evaluated before any wave.
type Gate interface {
	Spec() registry.Spec
	Check(ctx context.Context) (health.Result, error)
	Repair(ctx context.Context, last health.Result) (health.Result, error)
}

// Reconciler drives the control loop: each tick compares observed service
// state against "all running and healthy" and applies budgeted corrective
// actions in dependency order.
//
// All runtime state is owned by the goroutine running the current tick;
// probes run in worker goroutines but report results back to be applied
// sequentially. Ticks never overlap (the loop guarantees that).
type Reconciler struct {
	logger       zerolog.Logger
	reg          *registry.Registry
	gate         Gate
	prober       Prober
	executor     Executor
	budgets      *budget.Tracker
	notifier     notify.Notifier
	sink         audit.Sink
	metrics      *metrics.Metrics
	tracker      *healthcheck.Tracker
	tickTimeout  time.Duration
	probeWorkers int
	now          func() time.Time

	states map[string]*runtimeState
}

// Option customizes reconciler behavior.
type Option func(*Reconciler)

// WithGate installs the connectivity gate.
func WithGate(gate Gate) Option {
	return func(r *Reconciler) {
		r.gate = gate
	}
}

// WithMetrics installs prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithHealthTracker installs the controller self-health tracker.
func WithHealthTracker(t *healthcheck.Tracker) Option {
	return func(r *Reconciler) {
		r.tracker = t
	}
}

// WithTickTimeout overrides the wall-clock budget for one tick.
func WithTickTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.tickTimeout = d
		}
	}
}

// WithProbeWorkers bounds in-wave probe concurrency.
func WithProbeWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.probeWorkers = n
		}
	}
}

// WithClock overrides the wall clock (for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New constructs a Reconciler over a validated registry.
func New(logger zerolog.Logger, reg *registry.Registry, prober Prober, executor Executor, budgets *budget.Tracker, notifier notify.Notifier, sink audit.Sink, opts ...Option) *Reconciler {
	r := &Reconciler{
		logger:       logger,
		reg:          reg,
		prober:       prober,
		executor:     executor,
		budgets:      budgets,
		notifier:     notifier,
		sink:         sink,
		tickTimeout:  2 * time.Minute,
		probeWorkers: 4,
		now:          time.Now,
		states:       make(map[string]*runtimeState),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ensureStates()
	return r
}

func (r *Reconciler) ensureStates() {
	known := make(map[string]struct{}, r.reg.Len())
	for _, spec := range r.reg.Services() {
		known[spec.ID] = struct{}{}
		if _, ok := r.states[spec.ID]; !ok {
			r.states[spec.ID] = newRuntimeState()
		}
	}
	if r.gate != nil {
		id := r.gate.Spec().ID
		known[id] = struct{}{}
		if _, ok := r.states[id]; !ok {
			r.states[id] = newRuntimeState()
		}
	}
	for id := range r.states {
		if _, ok := known[id]; !ok {
			delete(r.states, id)
			r.budgets.Reset(id)
		}
	}
}

// Reload swaps in a new registry between ticks. States for surviving ids are
// kept; removed services lose their state and budget history. Must be called
// from the loop goroutine, never concurrently with a tick.
func (r *Reconciler) Reload(reg *registry.Registry, gate Gate) {
	r.reg = reg
	r.gate = gate
	r.ensureStates()
	r.logger.Info().Int("services", reg.Len()).Msg("registry reloaded")
}

// States returns a sorted snapshot of all runtime states.
func (r *Reconciler) States() []Snapshot {
	out := make([]Snapshot, 0, len(r.states))
	for id, st := range r.states {
		out = append(out, Snapshot{
			ServiceID:           id,
			Status:              st.status,
			ConsecutiveFailures: st.consecutiveFailures,
			LastProbeAt:         st.lastProbeAt,
			LastActionAt:        st.lastActionAt,
			Detail:              st.lastDetail,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ServiceID < out[j].ServiceID
	})
	return out
}

// Tick runs one full reconciliation pass: connectivity gate, then
// dependency-ordered waves of probe → decide → act → re-probe. One service's
// failure never aborts the tick; only the wall-clock budget does.
func (r *Reconciler) Tick(ctx context.Context) error {
	start := r.now()
	tickCtx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	defer cancel()

	networkOK := true
	if r.gate != nil {
		networkOK = r.runGate(tickCtx)
	}

	probed := 0
	actions := 0
	aborted := false

	for waveIndex, wave := range r.reg.Waves() {
		if tickCtx.Err() != nil {
			r.abortWave(waveIndex, wave)
			aborted = true
			continue
		}

		// Services whose repair needs the network are skipped wholesale when
		// the gate failed: last known status stands and no budget is spent.
		eligible := make([]registry.Spec, 0, len(wave))
		for _, spec := range wave {
			if !networkOK && spec.RequiresNetwork() {
				r.skip(spec.ID, "connectivity gate unhealthy")
				continue
			}
			eligible = append(eligible, spec)
		}

		results := r.probeWave(tickCtx, eligible)
		for i, spec := range eligible {
			r.applyProbe(spec.ID, spec.Budget, results[i])
			probed++
		}

		// Corrective actions run sequentially in wave order: no two services
		// restart concurrently on this host.
		for _, spec := range eligible {
			if tickCtx.Err() != nil {
				aborted = true
				break
			}
			if r.maybeAct(tickCtx, spec) {
				actions++
			}
		}
	}

	duration := r.now().Sub(start)
	overall := r.overallStatus()
	event := r.logger.Info()
	if aborted {
		event = r.logger.Warn().Bool("aborted", true)
	}
	event.
		Dur("duration", duration).
		Int("probed", probed).
		Int("actions", actions).
		Str("overall", string(overall)).
		Msg("tick complete")

	r.appendAudit(audit.Record{
		Timestamp: r.now().UTC(),
		ServiceID: "-",
		Kind:      audit.KindTick,
		Result:    string(overall),
		Detail:    fmt.Sprintf("probed=%d actions=%d aborted=%t", probed, actions, aborted),
	})

	r.metrics.ObserveTickDuration(duration)
	r.metrics.SetLastSuccessfulTickTimestamp(r.now())
	r.publishStatusCounts()
	r.tracker.RecordTick(duration, probed, actions)

	return ctx.Err()
}

// runGate evaluates and, when needed, repairs connectivity. The gate spends
// its own restart budget, identical in shape to any service's.
func (r *Reconciler) runGate(ctx context.Context) bool {
	spec := r.gate.Spec()
	st := r.states[spec.ID]

	result, err := r.gate.Check(ctx)
	if err != nil {
		result = r.internalFailure(spec.ID, "gate check", err)
	}
	r.applyProbe(spec.ID, spec.Budget, result)
	if result.Status == health.StatusHealthy {
		return true
	}

	if st.status == health.StatusQuarantined {
		r.skip(spec.ID, "quarantined, budget exhausted")
		return false
	}

	now := r.now()
	if r.budgets.Remaining(spec.ID, spec.Budget, now) == 0 {
		r.quarantine(spec, st)
		return false
	}

	r.budgets.Record(spec.ID, now)
	st.status = health.StatusRecovering

	repaired, err := r.gate.Repair(ctx, result)
	if err != nil {
		repaired = r.internalFailure(spec.ID, "gate repair", err)
	}
	ok := repaired.Status == health.StatusHealthy
	st.recordAction(now, action.KindRestart, ok, spec.Budget.Window)
	r.appendAudit(audit.Record{
		Timestamp: now.UTC(),
		ServiceID: spec.ID,
		Kind:      audit.KindAction,
		Result:    outcomeLabel(ok),
		Detail:    "connectivity repair: " + repaired.Detail,
	})
	r.metrics.IncActions("repair", outcomeLabel(ok))

	r.applyProbe(spec.ID, spec.Budget, repaired)
	if !ok {
		r.failedAttempt(spec, st, repaired.Detail)
	}
	return ok
}

// probeWave probes services concurrently under a bounded worker pool.
// Probes are read-only and independent; results come back by index and are
// applied by the owning tick, so there are no concurrent state writers.
func (r *Reconciler) probeWave(ctx context.Context, wave []registry.Spec) []health.Result {
	results := make([]health.Result, len(wave))
	sem := make(chan struct{}, r.probeWorkers)
	var wg sync.WaitGroup

	for i, spec := range wave {
		wg.Add(1)
		go func(i int, spec registry.Spec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.probeOne(ctx, spec)
		}(i, spec)
	}

	wg.Wait()
	return results
}

// probeOne contains panics and internal errors: a broken check is logged,
// counted, and conservatively treated as Down for this service this tick.
func (r *Reconciler) probeOne(ctx context.Context, spec registry.Spec) (result health.Result) {
	defer func() {
		if p := recover(); p != nil {
			result = r.internalFailure(spec.ID, "probe panic", fmt.Errorf("%v", p))
		}
	}()

	result, err := r.prober.Probe(ctx, spec)
	if err != nil {
		return r.internalFailure(spec.ID, "probe", err)
	}
	return result
}

func (r *Reconciler) internalFailure(serviceID, stage string, err error) health.Result {
	r.logger.Error().Err(err).Str("service", serviceID).Str("stage", stage).Msg("controller-internal error")
	r.metrics.IncInternalErrors()
	return health.Result{
		Status: health.StatusDown,
		Detail: fmt.Sprintf("internal %s error: %v", stage, err),
	}
}

// applyProbe records a probe result into runtime state and the audit log.
// Quarantine is sticky: an unhealthy probe cannot demote Quarantined while
// the budget window is still exhausted, but a genuinely healthy probe always
// clears it.
func (r *Reconciler) applyProbe(serviceID string, b registry.Budget, result health.Result) {
	st := r.states[serviceID]
	now := r.now()
	st.lastProbeAt = now
	st.lastDetail = result.Detail

	switch {
	case result.Status == health.StatusHealthy:
		st.markHealthy()
	case st.status == health.StatusQuarantined && r.budgets.IsQuarantined(serviceID, b, now):
		// stays quarantined until the window frees budget
	default:
		st.status = result.Status
	}

	detail := result.Detail
	if result.FailedTier != "" {
		detail = fmt.Sprintf("%s tier failed: %s", result.FailedTier, result.Detail)
	}
	r.appendAudit(audit.Record{
		Timestamp: now.UTC(),
		ServiceID: serviceID,
		Kind:      audit.KindProbe,
		Result:    string(st.status),
		Detail:    detail,
	})
}

// maybeAct decides and applies at most one corrective action for the
// service. Returns true when an action was dispatched.
func (r *Reconciler) maybeAct(ctx context.Context, spec registry.Spec) bool {
	st := r.states[spec.ID]
	now := r.now()

	if st.status == health.StatusQuarantined {
		if r.budgets.IsQuarantined(spec.ID, spec.Budget, now) {
			r.skip(spec.ID, "quarantined, budget exhausted")
			return false
		}
		// Window rolled over; treat as Down and proceed normally. The
		// escalation latch stays set: the failure streak never ended, and
		// only a recovery re-arms it.
		st.status = health.StatusDown
	}

	if !st.status.Unhealthy() {
		return false
	}

	if blocked, dep := r.dependencyBlocked(spec); blocked {
		r.skip(spec.ID, fmt.Sprintf("dependency %s not healthy", dep))
		return false
	}

	if r.budgets.Remaining(spec.ID, spec.Budget, now) == 0 {
		r.quarantine(spec, st)
		return false
	}

	kind := chooseAction(spec, st.status)
	r.budgets.Record(spec.ID, now)
	st.status = health.StatusRecovering

	r.logger.Info().
		Str("service", spec.ID).
		Str("action", string(kind)).
		Msg("dispatching corrective action")

	outcome := r.applyOne(ctx, spec, kind)
	st.recordAction(now, kind, outcome.OK, spec.Budget.Window)
	r.appendAudit(audit.Record{
		Timestamp: now.UTC(),
		ServiceID: spec.ID,
		Kind:      audit.KindAction,
		Result:    outcomeLabel(outcome.OK),
		Detail:    fmt.Sprintf("%s: %s", kind, outcome.Detail),
	})
	r.metrics.IncActions(string(kind), outcomeLabel(outcome.OK))

	// re-probe once to settle Recovering
	result := r.probeOne(ctx, spec)
	r.applyProbe(spec.ID, spec.Budget, result)

	if st.status.Unhealthy() {
		r.failedAttempt(spec, st, result.Detail)
	}
	return true
}

// applyOne contains executor panics and errors the same way probeOne does.
func (r *Reconciler) applyOne(ctx context.Context, spec registry.Spec, kind action.Kind) (outcome action.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.internalFailure(spec.ID, "action panic", fmt.Errorf("%v", p))
			outcome = action.Outcome{OK: false, Detail: fmt.Sprintf("internal action panic: %v", p)}
		}
	}()

	outcome, err := r.executor.Apply(ctx, spec, kind)
	if err != nil {
		r.internalFailure(spec.ID, "action", err)
		return action.Outcome{OK: false, Detail: fmt.Sprintf("internal action error: %v", err)}
	}
	return outcome
}

// failedAttempt increments the streak and fires the edge-triggered
// escalation when it crosses the threshold. A second escalation for the same
// streak is structurally impossible: the latch only resets on recovery.
func (r *Reconciler) failedAttempt(spec registry.Spec, st *runtimeState, detail string) {
	st.consecutiveFailures++
	if st.escalated || st.consecutiveFailures < spec.EscalateAfter {
		return
	}
	st.escalated = true
	r.escalate(spec, st, fmt.Sprintf("failure streak reached %d", st.consecutiveFailures), detail)
}

func (r *Reconciler) quarantine(spec registry.Spec, st *runtimeState) {
	st.status = health.StatusQuarantined
	next := r.budgets.NextFree(spec.ID, spec.Budget, r.now())
	detail := fmt.Sprintf("budget %d/%s exhausted", spec.Budget.Max, spec.Budget.Window)
	if !next.IsZero() {
		detail = fmt.Sprintf("%s, frees at %s", detail, next.UTC().Format(time.RFC3339))
	}
	r.logger.Warn().Str("service", spec.ID).Str("detail", detail).Msg("service quarantined")
	r.appendAudit(audit.Record{
		Timestamp: r.now().UTC(),
		ServiceID: spec.ID,
		Kind:      audit.KindSkip,
		Result:    string(health.StatusQuarantined),
		Detail:    detail,
	})
	if !st.escalated {
		st.escalated = true
		r.escalate(spec, st, "restart budget exhausted", detail)
	}
}

// escalate fires the notifier best-effort: failures are logged and
// swallowed, and a saturated channel cannot stall the tick beyond the
// notify timeout.
func (r *Reconciler) escalate(spec registry.Spec, st *runtimeState, reason, detail string) {
	r.metrics.IncEscalations()
	r.appendAudit(audit.Record{
		Timestamp: r.now().UTC(),
		ServiceID: spec.ID,
		Kind:      audit.KindEscalation,
		Result:    string(st.status),
		Detail:    reason,
	})

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	err := r.notifier.Notify(ctx, notify.Event{
		ServiceID:           spec.ID,
		Status:              st.status,
		ConsecutiveFailures: st.consecutiveFailures,
		Reason:              reason,
		Detail:              detail,
		At:                  r.now().UTC(),
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("service", spec.ID).Msg("escalation delivery failed")
		return
	}
	r.logger.Info().Str("service", spec.ID).Str("reason", reason).Msg("escalation sent")
}

// dependencyBlocked reports whether any predecessor is not currently
// Healthy. Blocked dependents are still probed; only their own repair is
// gated.
func (r *Reconciler) dependencyBlocked(spec registry.Spec) (bool, string) {
	for _, dep := range spec.DependsOn {
		depState, ok := r.states[dep]
		if !ok || depState.status != health.StatusHealthy {
			return true, dep
		}
	}
	return false, ""
}

func (r *Reconciler) skip(serviceID, reason string) {
	r.logger.Debug().Str("service", serviceID).Str("reason", reason).Msg("skipping service")
	r.appendAudit(audit.Record{
		Timestamp: r.now().UTC(),
		ServiceID: serviceID,
		Kind:      audit.KindSkip,
		Result:    "skipped",
		Detail:    reason,
	})
}

func (r *Reconciler) abortWave(index int, wave []registry.Spec) {
	ids := make([]string, 0, len(wave))
	for _, spec := range wave {
		ids = append(ids, spec.ID)
	}
	r.logger.Warn().Int("wave", index).Strs("services", ids).Msg("tick budget exceeded, wave aborted")
	r.appendAudit(audit.Record{
		Timestamp: r.now().UTC(),
		ServiceID: "-",
		Kind:      audit.KindTick,
		Result:    "timeout",
		Detail:    fmt.Sprintf("wave %d aborted: %v", index, ids),
	})
}

func (r *Reconciler) overallStatus() health.Status {
	overall := health.StatusHealthy
	for _, st := range r.states {
		overall = health.Worse(overall, st.status)
	}
	return overall
}

func (r *Reconciler) publishStatusCounts() {
	counts := map[health.Status]int{
		health.StatusUnknown:     0,
		health.StatusHealthy:     0,
		health.StatusDegraded:    0,
		health.StatusDown:        0,
		health.StatusQuarantined: 0,
	}
	for _, st := range r.states {
		counts[st.status]++
	}
	for status, count := range counts {
		r.metrics.SetServicesTotal(string(status), count)
	}
}

func (r *Reconciler) appendAudit(record audit.Record) {
	if err := r.sink.Append(record); err != nil {
		r.logger.Warn().Err(err).Msg("audit append failed")
	}
}

func chooseAction(spec registry.Spec, status health.Status) action.Kind {
	if spec.Kind == registry.KindTunnel {
		return action.KindRestart
	}
	if status == health.StatusDown {
		return action.KindStart
	}
	return action.KindRestart
}

func outcomeLabel(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}
