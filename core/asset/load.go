package asset

import (
	"fmt"

	"github.com/kilianp07/transactive/core/factory"
	"github.com/kilianp07/transactive/core/market"
)

// defaultTemperature stands in when no forecast is bound or the forecast has
// no value for an interval.
const defaultTemperature = 56.6

// LoadConfig parameterizes an inelastic building load predicted from an
// hour-of-day regression against outdoor temperature.
type LoadConfig struct {
	Description  string  `json:"description"`
	MaximumPower float64 `json:"maximum_power"`
	MinimumPower float64 `json:"minimum_power"`

	// TemperatureService names the information service supplying forecast
	// temperatures. Empty disables the temperature term.
	TemperatureService string `json:"temperature_service"`

	// HourlyIntercept and HourlyTempCoeff are the regression coefficients,
	// one pair per hour of day. Predicted power for an interval starting in
	// hour h is intercept[h] + coeff[h] * temperature.
	HourlyIntercept [24]float64 `json:"hourly_intercept"`
	HourlyTempCoeff [24]float64 `json:"hourly_temp_coeff"`
}

// Load is an inelastic consumption asset. It offers no price flexibility: its
// curve is a single vertex at the predicted power, so balancing treats it as
// a fixed demand.
type Load struct {
	Base
	cfg     LoadConfig
	service market.InformationService
}

// NewLoad builds a load model from its configuration.
func NewLoad(name string, cfg LoadConfig) *Load {
	return &Load{Base: newBase(name, cfg.Description, cfg.MinimumPower, cfg.MaximumPower), cfg: cfg}
}

func newLoadFromConf(name string, conf map[string]any) (market.LocalAsset, error) {
	var cfg LoadConfig
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return NewLoad(name, cfg), nil
}

func init() {
	if err := Register("load", newLoadFromConf); err != nil {
		panic(err)
	}
}

// BindServices resolves the configured temperature service on the assembled
// node. A named service that does not exist aborts configuration.
func (l *Load) BindServices(n *market.Node) error {
	if l.cfg.TemperatureService == "" {
		return nil
	}
	svc, err := n.ServiceByName(l.cfg.TemperatureService)
	if err != nil {
		return fmt.Errorf("load %s: %w", l.Name(), err)
	}
	l.service = svc
	return nil
}

// predictedPower evaluates the regression for one interval.
func (l *Load) predictedPower(ti *market.TimeInterval) float64 {
	temp := defaultTemperature
	if l.service != nil {
		if v, ok := l.service.PredictedValue(ti.Name); ok {
			temp = v
		}
	}
	h := ti.StartTime.Hour()
	p := l.cfg.HourlyIntercept[h] + l.cfg.HourlyTempCoeff[h]*temp
	return l.clamp(p)
}

func (l *Load) clamp(p float64) float64 {
	if l.MaximumPower != 0 && p > l.MaximumPower {
		return l.MaximumPower
	}
	if l.MinimumPower != 0 && p < l.MinimumPower {
		return l.MinimumPower
	}
	return p
}

// SchedulePower predicts the load for every active interval and stores it.
func (l *Load) SchedulePower(m *market.Market) {
	for _, ti := range m.TimeIntervals {
		l.SetScheduledPower(m, ti, l.predictedPower(ti))
	}
	l.calculated = true
}

// UpdateVertices publishes the prediction as a single inelastic vertex per
// interval.
func (l *Load) UpdateVertices(m *market.Market) {
	for _, ti := range m.TimeIntervals {
		l.setVertices(m, ti, []*market.Vertex{
			market.NewVertex(m.MarginalPrice(ti.Name), l.predictedPower(ti)),
		})
	}
}

func (l *Load) Status() map[string]any {
	st := l.Base.Status()
	st["kind"] = "load"
	return st
}
