package asset

import (
	"fmt"

	"github.com/kilianp07/transactive/core/factory"
	"github.com/kilianp07/transactive/core/market"
)

// BatteryConfig parameterizes a price-responsive storage asset.
type BatteryConfig struct {
	Description string `json:"description"`

	// CapacityKWh bounds the energy the battery can shift.
	CapacityKWh float64 `json:"capacity_kwh"`
	// MaxChargePower and MaxDischargePower are magnitudes in kW.
	MaxChargePower    float64 `json:"max_charge_power"`
	MaxDischargePower float64 `json:"max_discharge_power"`
	RoundTripEff      float64 `json:"round_trip_efficiency"`

	// LowPriceFactor and HighPriceFactor place the two curve vertices
	// relative to the interval's reference price. Below the low point the
	// battery charges at full power; above the high point it discharges.
	LowPriceFactor  float64 `json:"low_price_factor"`
	HighPriceFactor float64 `json:"high_price_factor"`
}

// Battery is an elastic storage asset. Its curve runs from full charging at
// prices under LowPriceFactor times the reference price to full discharging
// above HighPriceFactor times the reference price, linear in between.
type Battery struct {
	Base
	cfg BatteryConfig
}

// NewBattery builds a battery model, applying the conventional 0.8 and 1.2
// price factors when none are configured.
func NewBattery(name string, cfg BatteryConfig) *Battery {
	if cfg.LowPriceFactor <= 0 {
		cfg.LowPriceFactor = 0.8
	}
	if cfg.HighPriceFactor <= cfg.LowPriceFactor {
		cfg.HighPriceFactor = 1.2
	}
	if cfg.RoundTripEff <= 0 || cfg.RoundTripEff > 1 {
		cfg.RoundTripEff = 0.9
	}
	b := &Battery{
		Base: newBase(name, cfg.Description, -cfg.MaxChargePower, cfg.MaxDischargePower),
		cfg:  cfg,
	}
	return b
}

func newBatteryFromConf(name string, conf map[string]any) (market.LocalAsset, error) {
	var cfg BatteryConfig
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, fmt.Errorf("battery %s: %w", name, err)
	}
	return NewBattery(name, cfg), nil
}

func init() {
	if err := Register("battery", newBatteryFromConf); err != nil {
		panic(err)
	}
}

func (b *Battery) vertices(m *market.Market, ti *market.TimeInterval) []*market.Vertex {
	ref := m.MarginalPrice(ti.Name)
	if ref == 0 {
		ref = m.DefaultPrice()
	}
	// Charging losses make the battery slightly less eager to charge than
	// the nominal power suggests.
	charge := -b.cfg.MaxChargePower * b.cfg.RoundTripEff
	return []*market.Vertex{
		market.NewVertex(ref*b.cfg.LowPriceFactor, charge),
		market.NewVertex(ref*b.cfg.HighPriceFactor, b.cfg.MaxDischargePower),
	}
}

// UpdateVertices refreshes the elastic pair for every active interval.
func (b *Battery) UpdateVertices(m *market.Market) {
	for _, ti := range m.TimeIntervals {
		b.setVertices(m, ti, b.vertices(m, ti))
	}
}

// SchedulePower interpolates the battery's response at each interval's
// current marginal price.
func (b *Battery) SchedulePower(m *market.Market) {
	for _, ti := range m.TimeIntervals {
		verts := b.ActiveVertices(m, ti.Name)
		if len(verts) == 0 {
			verts = b.vertices(m, ti)
		}
		b.SetScheduledPower(m, ti, market.Production(verts, m.MarginalPrice(ti.Name)))
	}
	b.calculated = true
}

func (b *Battery) Status() map[string]any {
	st := b.Base.Status()
	st["kind"] = "battery"
	st["capacity_kwh"] = b.cfg.CapacityKWh
	return st
}
