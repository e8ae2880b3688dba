// Package config loads and validates the node configuration from a YAML or
// JSON file, with environment overrides under the TN_ prefix.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/transactive/core/factory"
	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/core/meter"
	"github.com/kilianp07/transactive/core/metrics"
	"github.com/kilianp07/transactive/infra/mqtt"
)

// Config is the whole node configuration.
type Config struct {
	Node      NodeConfig             `json:"node"`
	Clock     ClockConfig            `json:"clock"`
	Scheduler SchedulerConfig        `json:"scheduler"`
	MQTT      mqtt.Config            `json:"mqtt"`
	Metrics   metrics.Config         `json:"metrics"`
	Markets   []MarketConfig         `json:"markets"`
	Neighbors []NeighborConfig       `json:"neighbors"`
	Assets    []factory.ModuleConfig `json:"assets"`
	Services  []factory.ModuleConfig `json:"services"`
	Meters    []meter.Config         `json:"meters"`
}

// NodeConfig identifies the agent.
type NodeConfig struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Mechanism       string `json:"mechanism"`
	OperationsTopic string `json:"operations_topic"`
}

// ClockConfig selects the time source.
type ClockConfig struct {
	// Mode is "real" or "simulated".
	Mode         string  `json:"mode"`
	Start        string  `json:"start"`
	Acceleration float64 `json:"acceleration"`
}

// SchedulerConfig sets the market tick cadence.
type SchedulerConfig struct {
	TickMS int `json:"tick_ms"`
}

// TickInterval returns the configured cadence, defaulting to one second.
func (c SchedulerConfig) TickInterval() time.Duration {
	if c.TickMS <= 0 {
		return time.Second
	}
	return time.Duration(c.TickMS) * time.Millisecond
}

// MarketConfig describes one market series. Durations are whole seconds.
type MarketConfig struct {
	Series string `json:"series"`
	// Kind is "auction" or "day_ahead".
	Kind string `json:"kind"`
	// FirstClearing is an RFC3339 time; empty aligns the first clearing to
	// the next clearing-interval boundary.
	FirstClearing string `json:"first_clearing"`

	ClearingIntervalS int `json:"clearing_interval_s"`
	IntervalDurationS int `json:"interval_duration_s"`
	IntervalsToClear  int `json:"intervals_to_clear"`
	FutureHorizonS    int `json:"future_horizon_s"`

	ActivationLeadS  int `json:"activation_lead_s"`
	NegotiationLeadS int `json:"negotiation_lead_s"`
	MarketLeadS      int `json:"market_lead_s"`
	DeliveryLeadS    int `json:"delivery_lead_s"`

	DefaultPrice float64 `json:"default_price"`

	RealTimeSeries    string `json:"real_time_series"`
	RealTimeDurationS int    `json:"real_time_duration_s"`
	RealTimeLeadS     int    `json:"real_time_lead_s"`

	RetryWarningTicks int `json:"retry_warning_ticks"`
	PriceModelWindow  int `json:"price_model_window"`
}

func seconds(s int) time.Duration { return time.Duration(s) * time.Second }

// Validate rejects configurations a market cannot be built from.
func (c MarketConfig) Validate() error {
	if c.Series == "" {
		return fmt.Errorf("market with no series name")
	}
	switch c.Kind {
	case "", "auction", "day_ahead":
	default:
		return fmt.Errorf("market %s: unknown kind %q", c.Series, c.Kind)
	}
	if c.ClearingIntervalS <= 0 {
		return fmt.Errorf("market %s: clearing_interval_s must be positive", c.Series)
	}
	if c.IntervalDurationS <= 0 {
		return fmt.Errorf("market %s: interval_duration_s must be positive", c.Series)
	}
	if c.IntervalsToClear <= 0 && c.FutureHorizonS <= 0 {
		return fmt.Errorf("market %s: either intervals_to_clear or future_horizon_s is required", c.Series)
	}
	if c.FirstClearing != "" {
		if _, err := time.Parse(time.RFC3339, c.FirstClearing); err != nil {
			return fmt.Errorf("market %s: first_clearing: %w", c.Series, err)
		}
	}
	return nil
}

// ToCore maps the market section onto the core configuration, computing the
// first clearing time from now when none is set.
func (c MarketConfig) ToCore(now time.Time) market.Config {
	clearing := now.Truncate(seconds(c.ClearingIntervalS)).Add(seconds(c.ClearingIntervalS))
	if c.FirstClearing != "" {
		if t, err := time.Parse(time.RFC3339, c.FirstClearing); err == nil {
			clearing = t
		}
	}
	return market.Config{
		SeriesName:          c.Series,
		ClearingTime:        clearing,
		ClearingInterval:    seconds(c.ClearingIntervalS),
		IntervalDuration:    seconds(c.IntervalDurationS),
		IntervalsToClear:    c.IntervalsToClear,
		FutureHorizon:       seconds(c.FutureHorizonS),
		ActivationLeadTime:  seconds(c.ActivationLeadS),
		NegotiationLeadTime: seconds(c.NegotiationLeadS),
		MarketLeadTime:      seconds(c.MarketLeadS),
		DeliveryLeadTime:    seconds(c.DeliveryLeadS),
		DefaultPrice:        c.DefaultPrice,
		RealTimeSeriesName:  c.RealTimeSeries,
		RealTimeDuration:    seconds(c.RealTimeDurationS),
		RealTimeLeadTime:    seconds(c.RealTimeLeadS),
		RetryWarningTicks:   c.RetryWarningTicks,
	}
}

// VertexConfig is one point of a configured default curve.
type VertexConfig struct {
	Price float64 `json:"price"`
	Power float64 `json:"power"`
}

// NeighborConfig describes one peer relationship.
type NeighborConfig struct {
	Name        string `json:"name"`
	Direction   string `json:"direction"`
	Transactive bool   `json:"transactive"`
	Location    string `json:"location"`

	MaximumPower         float64 `json:"maximum_power"`
	MinimumPower         float64 `json:"minimum_power"`
	LossFactor           float64 `json:"loss_factor"`
	ConvergenceThreshold float64 `json:"convergence_threshold"`

	DefaultVertices []VertexConfig `json:"default_vertices"`

	PublishTopic   string `json:"publish_topic"`
	SubscribeTopic string `json:"subscribe_topic"`
}

// ToCore maps the neighbor section onto the core configuration.
func (c NeighborConfig) ToCore() market.NeighborConfig {
	verts := make([]*market.Vertex, 0, len(c.DefaultVertices))
	for _, v := range c.DefaultVertices {
		verts = append(verts, market.NewVertex(v.Price, v.Power))
	}
	return market.NeighborConfig{
		Name:                 c.Name,
		Direction:            c.Direction,
		Transactive:          c.Transactive,
		Location:             c.Location,
		MaximumPower:         c.MaximumPower,
		MinimumPower:         c.MinimumPower,
		LossFactor:           c.LossFactor,
		ConvergenceThreshold: c.ConvergenceThreshold,
		DefaultVertices:      verts,
		PublishTopic:         c.PublishTopic,
		SubscribeTopic:       c.SubscribeTopic,
	}
}

// Load reads, overrides and validates the configuration at path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("TN_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "tn_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies cross-section checks. Duplicate instance names anywhere
// are configuration errors and abort startup.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("node.name is required")
	}
	switch c.Clock.Mode {
	case "", "real", "simulated":
	default:
		return fmt.Errorf("clock.mode %q is not real or simulated", c.Clock.Mode)
	}
	if c.Clock.Mode == "simulated" && c.Clock.Start == "" {
		return fmt.Errorf("clock.start is required in simulated mode")
	}
	if c.Clock.Start != "" {
		if _, err := time.Parse(time.RFC3339, c.Clock.Start); err != nil {
			return fmt.Errorf("clock.start: %w", err)
		}
	}

	series := map[string]struct{}{}
	for _, m := range c.Markets {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, ok := series[m.Series]; ok {
			return fmt.Errorf("duplicate market series %s", m.Series)
		}
		series[m.Series] = struct{}{}
		if m.RealTimeSeries != "" {
			if _, ok := series[m.RealTimeSeries]; ok {
				return fmt.Errorf("real-time series %s collides with another series", m.RealTimeSeries)
			}
			series[m.RealTimeSeries] = struct{}{}
		}
	}

	names := map[string]struct{}{}
	for _, nb := range c.Neighbors {
		if nb.Name == "" {
			return fmt.Errorf("neighbor with no name")
		}
		if _, ok := names[nb.Name]; ok {
			return fmt.Errorf("duplicate neighbor name %s", nb.Name)
		}
		names[nb.Name] = struct{}{}
	}

	meterNames := map[string]struct{}{}
	for _, mc := range c.Meters {
		if mc.Name == "" {
			return fmt.Errorf("meter point with no name")
		}
		if _, ok := meterNames[mc.Name]; ok {
			return fmt.Errorf("duplicate meter point name %s", mc.Name)
		}
		meterNames[mc.Name] = struct{}{}
	}
	return nil
}
