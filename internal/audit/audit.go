package audit

import (
	"time"
)

// EventKind categorizes audit entries.
type EventKind string

const (
	KindProbe      EventKind = "probe"
	KindAction     EventKind = "action"
	KindEscalation EventKind = "escalation"
	KindSkip       EventKind = "skip"
	KindTick       EventKind = "tick"
)

// Record is one append-only audit entry. Records are immutable once written;
// every probe and action is recorded, not just failures, so the full health
// timeline can be reconstructed after the fact.
type Record struct {
	Timestamp time.Time `json:"ts"`
	ServiceID string    `json:"service_id"`
	Kind      EventKind `json:"kind"`
	Result    string    `json:"result"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink is an append-only destination for audit records.
type Sink interface {
	Append(record Record) error
	Close() error
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Append(Record) error { return nil }
func (NopSink) Close() error        { return nil }
