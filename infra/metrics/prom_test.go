package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/transactive/core/events"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/internal/eventbus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func promSink(t *testing.T, reg *prometheus.Registry) coremetrics.MetricsSink {
	t.Helper()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new prom sink: %v", err)
	}
	return sink
}

func TestPromSinkRecordsMarketEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := promSink(t, reg)

	if err := sink.RecordStateTransition(coremetrics.StateTransitionEvent{Series: "dayahead", To: "negotiation"}); err != nil {
		t.Fatalf("record transition: %v", err)
	}
	if got := gatherValue(t, reg, "market_state_transitions_total"); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}

	pr := sink.(coremetrics.PriceRecorder)
	if err := pr.RecordPriceCleared(coremetrics.PriceClearedEvent{Series: "dayahead", Price: 0.07}); err != nil {
		t.Fatalf("record price: %v", err)
	}
	if got := gatherValue(t, reg, "market_cleared_price"); got != 0.07 {
		t.Fatalf("cleared price = %v, want 0.07", got)
	}
}

func TestPromSinkReregisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	promSink(t, reg)
	// A second sink on the same registry reuses the existing collectors.
	promSink(t, reg)
}

type capturingSink struct {
	transitions chan coremetrics.StateTransitionEvent
}

func (c *capturingSink) RecordStateTransition(ev coremetrics.StateTransitionEvent) error {
	c.transitions <- ev
	return nil
}

func TestEventCollectorBridgesBusToSink(t *testing.T) {
	bus := eventbus.New[events.Event]()
	defer bus.Close()
	sink := &capturingSink{transitions: make(chan coremetrics.StateTransitionEvent, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, bus, sink)

	bus.Publish(events.StateTransition{Market: "dayahead_20260310T000000", Series: "dayahead", From: "active", To: "negotiation", Time: time.Now()})

	select {
	case ev := <-sink.transitions:
		if ev.To != "negotiation" {
			t.Fatalf("recorded transition to %s, want negotiation", ev.To)
		}
	case <-time.After(time.Second):
		t.Fatal("collector did not forward the event")
	}
}
