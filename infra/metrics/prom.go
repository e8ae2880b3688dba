package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/kilianp07/transactive/core/metrics"
)

// PromSink records market events in Prometheus metrics.
type PromSink struct {
	transitions *prometheus.CounterVec
	price       *prometheus.GaugeVec
	retries     *prometheus.CounterVec
	power       *prometheus.GaugeVec
}

// NewPromSink registers market metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using StartPromServer.
func NewPromSink() (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer. A nil
// registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "market_state_transitions_total",
		Help: "Total number of market state transitions",
	}, []string{"series", "to"})
	price := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_cleared_price",
		Help: "Latest balanced marginal price per market series",
	}, []string{"series"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "market_signal_retries_total",
		Help: "Ticks spent waiting on a neighbor's transactive signal",
	}, []string{"neighbor"})
	power := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_scheduled_power_kw",
		Help: "Latest scheduled power per participant",
	}, []string{"participant"})

	if err := registerCounterVec(reg, &transitions); err != nil {
		return nil, err
	}
	if err := registerGaugeVec(reg, &price); err != nil {
		return nil, err
	}
	if err := registerCounterVec(reg, &retries); err != nil {
		return nil, err
	}
	if err := registerGaugeVec(reg, &power); err != nil {
		return nil, err
	}

	return &PromSink{transitions: transitions, price: price, retries: retries, power: power}, nil
}

func registerCounterVec(reg prometheus.Registerer, v **prometheus.CounterVec) error {
	if err := reg.Register(*v); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			*v = are.ExistingCollector.(*prometheus.CounterVec)
			return nil
		}
		return err
	}
	return nil
}

func registerGaugeVec(reg prometheus.Registerer, v **prometheus.GaugeVec) error {
	if err := reg.Register(*v); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			*v = are.ExistingCollector.(*prometheus.GaugeVec)
			return nil
		}
		return err
	}
	return nil
}

// RecordStateTransition increments the transition counter.
func (s *PromSink) RecordStateTransition(ev coremetrics.StateTransitionEvent) error {
	s.transitions.WithLabelValues(ev.Series, ev.To).Inc()
	return nil
}

// RecordPriceCleared updates the cleared price gauge for the series.
func (s *PromSink) RecordPriceCleared(ev coremetrics.PriceClearedEvent) error {
	s.price.WithLabelValues(ev.Series).Set(ev.Price)
	return nil
}

// RecordSignalRetry increments the per-neighbor retry counter.
func (s *PromSink) RecordSignalRetry(ev coremetrics.SignalRetryEvent) error {
	s.retries.WithLabelValues(ev.Neighbor).Inc()
	return nil
}

// RecordPowerScheduled updates the per-participant power gauge.
func (s *PromSink) RecordPowerScheduled(ev coremetrics.PowerScheduledEvent) error {
	s.power.WithLabelValues(ev.Participant).Set(ev.Power)
	return nil
}

// StartPromServer exposes /metrics on the given port in a background
// goroutine.
func StartPromServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
