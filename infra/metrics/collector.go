package metrics

import (
	"context"

	"github.com/kilianp07/transactive/core/events"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/internal/eventbus"
)

// StartEventCollector subscribes to the node's event bus and records metrics
// for market events. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus[events.Event], sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.StateTransition:
					_ = sink.RecordStateTransition(coremetrics.StateTransitionEvent{
						Market: e.Market,
						Series: e.Series,
						From:   e.From,
						To:     e.To,
						Time:   e.Time,
					})
				case events.PriceCleared:
					if r, ok := sink.(coremetrics.PriceRecorder); ok {
						_ = r.RecordPriceCleared(coremetrics.PriceClearedEvent{
							Market:   e.Market,
							Series:   e.Series,
							Interval: e.Interval,
							Price:    e.Price,
							Time:     e.Time,
						})
					}
				case events.SignalRetry:
					if r, ok := sink.(coremetrics.RetryRecorder); ok {
						_ = r.RecordSignalRetry(coremetrics.SignalRetryEvent{
							Market:   e.Market,
							Neighbor: e.Neighbor,
							Missing:  len(e.Missing),
							Time:     e.Time,
						})
					}
				case events.PowerScheduled:
					if r, ok := sink.(coremetrics.PowerRecorder); ok {
						_ = r.RecordPowerScheduled(coremetrics.PowerScheduledEvent{
							Market:      e.Market,
							Participant: e.Participant,
							Interval:    e.Interval,
							Power:       e.Power,
							Time:        e.Time,
						})
					}
				}
			}
		}
	}()
}
