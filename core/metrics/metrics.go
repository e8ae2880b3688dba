// Package metrics defines the observability contracts of the node. Concrete
// sinks live under infra/metrics; market code publishes events on the event
// bus and never talks to a sink directly.
package metrics

import "time"

// StateTransitionEvent records one market state change.
type StateTransitionEvent struct {
	Market string
	Series string
	From   string
	To     string
	Time   time.Time
}

// MetricsSink records market lifecycle events for observability purposes.
type MetricsSink interface {
	RecordStateTransition(ev StateTransitionEvent) error
}

// PriceClearedEvent records one balanced marginal price.
type PriceClearedEvent struct {
	Market   string
	Series   string
	Interval string
	Price    float64
	Time     time.Time
}

// PriceRecorder records cleared prices.
type PriceRecorder interface {
	RecordPriceCleared(ev PriceClearedEvent) error
}

// SignalRetryEvent captures one tick spent waiting on a neighbor's signal.
type SignalRetryEvent struct {
	Market   string
	Neighbor string
	Missing  int
	Time     time.Time
}

// RetryRecorder records signal retries.
type RetryRecorder interface {
	RecordSignalRetry(ev SignalRetryEvent) error
}

// PowerScheduledEvent records one participant's settled power.
type PowerScheduledEvent struct {
	Market      string
	Participant string
	Interval    string
	Power       float64
	Time        time.Time
}

// PowerRecorder records scheduled powers.
type PowerRecorder interface {
	RecordPowerScheduled(ev PowerScheduledEvent) error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) RecordStateTransition(StateTransitionEvent) error { return nil }
func (NopSink) RecordPriceCleared(PriceClearedEvent) error       { return nil }
func (NopSink) RecordSignalRetry(SignalRetryEvent) error         { return nil }
func (NopSink) RecordPowerScheduled(PowerScheduledEvent) error   { return nil }
