package market

import "time"

// intervalNameLayout formats an interval's start time into its identifying
// name. Names travel inside transactive signals, so the layout is part of the
// wire contract between nodes.
const intervalNameLayout = "20060102T150405"

// TimeInterval is one discrete delivery period owned by a market.
// It is immutable once created; identity is the formatted start time.
type TimeInterval struct {
	Name      string
	StartTime time.Time
	Duration  time.Duration

	// Market is a non-owning back-reference to the owning market.
	Market *Market
}

// NewTimeInterval creates an interval starting at start.
func NewTimeInterval(start time.Time, d time.Duration, m *Market) *TimeInterval {
	return &TimeInterval{
		Name:      IntervalName(start),
		StartTime: start,
		Duration:  d,
		Market:    m,
	}
}

// IntervalName returns the canonical interval name for a start time.
func IntervalName(start time.Time) string {
	return start.UTC().Format(intervalNameLayout)
}

// End returns the instant the interval's delivery period ends.
func (ti *TimeInterval) End() time.Time { return ti.StartTime.Add(ti.Duration) }
