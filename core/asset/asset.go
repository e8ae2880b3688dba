// Package asset holds the local device and load models a node schedules
// against its markets. Each model contributes a piecewise-linear flexibility
// curve per time interval and accepts the scheduled power the market settles
// on.
package asset

import (
	"github.com/kilianp07/transactive/core/factory"
	"github.com/kilianp07/transactive/core/logger"
	"github.com/kilianp07/transactive/core/market"
)

// Base carries the interval bookkeeping shared by every asset model.
type Base struct {
	name        string
	description string

	MaximumPower float64
	MinimumPower float64

	scheduledPowers []*market.IntervalValue[float64]
	activeVertices  []*market.IntervalValue[*market.Vertex]
	calculated      bool

	log logger.Logger
}

func newBase(name, description string, minPower, maxPower float64) Base {
	return Base{
		name:         name,
		description:  description,
		MinimumPower: minPower,
		MaximumPower: maxPower,
		log:          logger.Nop{},
	}
}

func (b *Base) Name() string { return b.name }

// SetLogger replaces the asset's logger. Factories build assets before the
// node's logger exists; the application attaches it afterwards.
func (b *Base) SetLogger(log logger.Logger) {
	if log != nil {
		b.log = log
	}
}

func (b *Base) ScheduleCalculated() bool { return b.calculated }
func (b *Base) ResetSchedule()           { b.calculated = false }

// ActiveVertices returns the asset's flexibility curve for one interval of
// the market.
func (b *Base) ActiveVertices(m *market.Market, intervalName string) []*market.Vertex {
	var out []*market.Vertex
	for _, iv := range b.activeVertices {
		if iv.Market == m && iv.TimeInterval != nil && iv.TimeInterval.Name == intervalName {
			out = append(out, iv.Value)
		}
	}
	return out
}

// SetScheduledPower overwrites the asset's scheduled power for one interval.
func (b *Base) SetScheduledPower(m *market.Market, ti *market.TimeInterval, power float64) {
	var dups int
	b.scheduledPowers, dups = market.SetIntervalValue(b.scheduledPowers, ti, m, market.MeasurementScheduledPower, power)
	if dups > 1 {
		b.log.Warnf("duplicate scheduled power found for asset %s in time interval %s", b.name, ti.Name)
	}
	b.scheduledPowers = market.PruneExpired(b.scheduledPowers)
}

// ScheduledPower returns the power scheduled for the named interval.
func (b *Base) ScheduledPower(intervalName string) (float64, bool) {
	if iv := market.FindByInterval(b.scheduledPowers, intervalName); iv != nil {
		return iv.Value, true
	}
	return 0, false
}

// setVertices replaces the asset's curve for one interval.
func (b *Base) setVertices(m *market.Market, ti *market.TimeInterval, verts []*market.Vertex) {
	b.activeVertices = market.RemoveByInterval(b.activeVertices, m, ti.Name)
	for _, v := range verts {
		b.activeVertices = append(b.activeVertices, &market.IntervalValue[*market.Vertex]{
			TimeInterval: ti,
			Market:       m,
			Kind:         market.MeasurementActiveVertex,
			Value:        v,
		})
	}
	b.activeVertices = market.PruneExpired(b.activeVertices)
}

// Status returns the shared part of an asset's operations record.
func (b *Base) Status() map[string]any {
	powers := make(map[string]float64, len(b.scheduledPowers))
	for _, iv := range b.scheduledPowers {
		if iv.TimeInterval != nil {
			powers[iv.TimeInterval.Name] = iv.Value
		}
	}
	return map[string]any{
		"name":             b.name,
		"description":      b.description,
		"scheduled_powers": powers,
	}
}

// ServiceBinder is implemented by assets depending on named information
// services. The application binds them once the node is assembled; a missing
// service is a configuration error.
type ServiceBinder interface {
	BindServices(n *market.Node) error
}

var registry = factory.NewRegistry[market.LocalAsset]()

// Register adds an asset factory under the given type name.
func Register(typeName string, f factory.Factory[market.LocalAsset]) error {
	return registry.Register(typeName, f)
}

// CreateAll instantiates the configured assets. Duplicate or missing instance
// names abort configuration.
func CreateAll(cfgs []factory.ModuleConfig) ([]market.LocalAsset, error) {
	return registry.CreateAll(cfgs)
}
