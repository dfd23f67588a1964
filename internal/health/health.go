package health

// Status represents the reconciled health of a supervised service.
type Status string

const (
	// StatusUnknown means the service has never been probed.
	StatusUnknown Status = "UNKNOWN"
	// StatusHealthy means every defined check tier passed.
	StatusHealthy Status = "HEALTHY"
	// StatusDegraded means liveness passed but a shallow or deep tier failed.
	StatusDegraded Status = "DEGRADED"
	// StatusDown means the underlying unit does not exist.
	StatusDown Status = "DOWN"
	// StatusQuarantined means the restart budget is exhausted and no further
	// automatic action is taken until the sliding window frees budget.
	StatusQuarantined Status = "QUARANTINED"
	// StatusRecovering is transitional: a corrective action has been
	// dispatched and the settling re-probe has not happened yet.
	StatusRecovering Status = "RECOVERING"
)

// Unhealthy reports whether the status calls for corrective action.
func (s Status) Unhealthy() bool {
	return s == StatusDegraded || s == StatusDown
}

// Tier identifies which check tier produced a probe finding.
type Tier string

const (
	TierLiveness Tier = "liveness"
	TierShallow  Tier = "shallow"
	TierDeep     Tier = "deep"
)

// Result captures the outcome of one tiered probe.
type Result struct {
	Status Status
	// FailedTier is the tier that failed, empty when all tiers passed.
	FailedTier Tier
	// Detail is free-form diagnostic text, e.g. which deep flag was false.
	Detail string
	// Flags holds the deep readiness flags as reported, when a deep check ran.
	Flags map[string]bool
}

// Worse returns the more severe of two statuses.
func Worse(current, next Status) Status {
	if severity(next) > severity(current) {
		return next
	}
	return current
}

func severity(status Status) int {
	switch status {
	case StatusDown:
		return 3
	case StatusQuarantined:
		return 2
	case StatusDegraded, StatusRecovering:
		return 1
	case StatusHealthy:
		return 0
	default:
		return -1
	}
}
