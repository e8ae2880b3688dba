package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordStateTransition forwards the transition to all sinks, returning the
// first error encountered.
func (m *MultiSink) RecordStateTransition(ev StateTransitionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordStateTransition(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordPriceCleared forwards cleared prices to the sinks that record them.
func (m *MultiSink) RecordPriceCleared(ev PriceClearedEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(PriceRecorder); ok {
			if err := rec.RecordPriceCleared(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSignalRetry forwards retry events.
func (m *MultiSink) RecordSignalRetry(ev SignalRetryEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(RetryRecorder); ok {
			if err := rec.RecordSignalRetry(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordPowerScheduled forwards settled powers.
func (m *MultiSink) RecordPowerScheduled(ev PowerScheduledEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(PowerRecorder); ok {
			if err := rec.RecordPowerScheduled(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
