// Package app assembles a transactive node from its configuration: clock,
// transport, markets, neighbors, assets, services, meters and metrics.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/transactive/config"
	"github.com/kilianp07/transactive/core/asset"
	"github.com/kilianp07/transactive/core/clock"
	"github.com/kilianp07/transactive/core/forecast"
	corelogger "github.com/kilianp07/transactive/core/logger"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/meter"
	coremetrics "github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/core/scheduler"
	"github.com/kilianp07/transactive/infra/logger"
	"github.com/kilianp07/transactive/infra/metrics"
	"github.com/kilianp07/transactive/infra/mqtt"
)

// Transport is what the service needs from a message bus: the market
// publishing surface plus inbound signal subscriptions.
type Transport interface {
	market.Transport
	SubscribeSignals(topic string, h mqtt.SignalHandler) error
}

type logSettable interface {
	SetLogger(corelogger.Logger)
}

// Service runs one transactive node.
type Service struct {
	Node      *market.Node
	Scheduler *scheduler.Scheduler

	transport Transport
	sink      coremetrics.MetricsSink
	log       logger.Logger
}

// New creates a Service connected to the configured MQTT broker.
func New(cfg *config.Config) (*Service, error) {
	tr, err := mqtt.NewTransport(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt transport: %w", err)
	}
	return NewWithTransport(cfg, tr)
}

// NewWithTransport creates a Service on the given transport. The simulator
// passes an in-memory mock here.
func NewWithTransport(cfg *config.Config, tr Transport) (*Service, error) {
	log := logger.New("service")

	clk, err := buildClock(cfg.Clock)
	if err != nil {
		return nil, err
	}

	n := market.NewNode(cfg.Node.Name, clk, tr, logger.New("node"))
	n.Description = cfg.Node.Description
	if cfg.Node.Mechanism != "" {
		n.Mechanism = cfg.Node.Mechanism
	}
	n.OperationsTopic = cfg.Node.OperationsTopic

	for _, nc := range cfg.Neighbors {
		nb := market.NewNeighbor(nc.ToCore(), logger.New("neighbor"))
		n.Neighbors = append(n.Neighbors, nb)
		if nb.SubscribeTopic != "" {
			if err := tr.SubscribeSignals(nb.SubscribeTopic, nb.Deliver); err != nil {
				return nil, fmt.Errorf("subscribe %s for neighbor %s: %w", nb.SubscribeTopic, nb.Name, err)
			}
		}
	}

	services, err := forecast.CreateAll(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("information services: %w", err)
	}
	for _, s := range services {
		if ls, ok := s.(logSettable); ok {
			ls.SetLogger(logger.New("service:" + s.Name()))
		}
	}
	n.Services = services

	assets, err := asset.CreateAll(cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("local assets: %w", err)
	}
	for _, a := range assets {
		if ls, ok := a.(logSettable); ok {
			ls.SetLogger(logger.New("asset:" + a.Name()))
		}
	}
	n.LocalAssets = assets
	for _, a := range assets {
		if b, ok := a.(asset.ServiceBinder); ok {
			if err := b.BindServices(n); err != nil {
				return nil, err
			}
		}
	}

	for _, mc := range cfg.Meters {
		n.MeterPoints = append(n.MeterPoints, meter.New(mc))
	}

	for _, mc := range cfg.Markets {
		if err := addMarket(n, mc, clk.Now()); err != nil {
			return nil, err
		}
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}

	return &Service{
		Node:      n,
		Scheduler: scheduler.New(n, cfg.Scheduler.TickInterval(), logger.New("scheduler")),
		transport: tr,
		sink:      sink,
		log:       log,
	}, nil
}

func buildClock(cfg config.ClockConfig) (clock.Clock, error) {
	if cfg.Mode != "simulated" {
		return clock.Real{}, nil
	}
	start, err := time.Parse(time.RFC3339, cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("clock.start: %w", err)
	}
	accel := cfg.Acceleration
	if accel <= 0 {
		accel = 1
	}
	return clock.NewSimulated(start, accel), nil
}

func addMarket(n *market.Node, mc config.MarketConfig, now time.Time) error {
	core := mc.ToCore(now)
	var m *market.Market
	switch mc.Kind {
	case "auction":
		m = market.NewAuction(core, logger.New("market:"+mc.Series))
	case "", "day_ahead":
		m = market.NewDayAheadAuction(core, logger.New("market:"+mc.Series))
	default:
		return fmt.Errorf("market %s: unknown kind %q", mc.Series, mc.Kind)
	}
	m.PriceModel = market.NewPriceModel(mc.PriceModelWindow)
	m.IsNewest = true
	m.CheckIntervals()
	m.CheckMarginalPrices(n)
	n.AddMarket(m)
	if m.Kind == market.KindDayAheadAuction && core.RealTimeSeriesName != "" {
		market.SpawnRealTimeRefinements(m, n)
	}
	return nil
}

// Run starts the metrics collector and ticks the node until the context is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.Node.Bus, s.sink)
	s.log.Infof("node %s running with %d markets, %d neighbors, %d assets",
		s.Node.Name, len(s.Node.Markets), len(s.Node.Neighbors), len(s.Node.LocalAssets))
	return s.Scheduler.Run(ctx)
}

// Close releases the transport and the event bus.
func (s *Service) Close() error {
	if d, ok := s.transport.(interface{ Disconnect() }); ok {
		d.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.Node.Bus != nil {
		s.Node.Bus.Close()
	}
	return nil
}
