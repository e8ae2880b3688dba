package events

import "time"

// Event is implemented by every market lifecycle event.
type Event interface {
	When() time.Time
}

// StateTransition is published when a market fires a state transition.
type StateTransition struct {
	Market string
	Series string
	From   string
	To     string
	Time   time.Time
}

func (e StateTransition) When() time.Time { return e.Time }

// PriceCleared is published when balancing determines the marginal price of
// one time interval.
type PriceCleared struct {
	Market   string
	Series   string
	Interval string
	Price    float64
	Time     time.Time
}

func (e PriceCleared) When() time.Time { return e.Time }

// SignalRetry is published when a market re-requests a missing transactive
// signal from a neighbor.
type SignalRetry struct {
	Market   string
	Neighbor string
	Missing  []string
	Time     time.Time
}

func (e SignalRetry) When() time.Time { return e.Time }

// PowerScheduled is published when a participant's power is (re)scheduled for
// one time interval after clearing.
type PowerScheduled struct {
	Market      string
	Participant string
	Interval    string
	Power       float64
	Time        time.Time
}

func (e PowerScheduled) When() time.Time { return e.Time }
