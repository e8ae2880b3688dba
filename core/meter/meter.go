// Package meter models measurement points of the local circuit. A meter
// point corresponds to exactly one measurement type and location, so a single
// physical meter may back several points. Readings land in a bounded,
// expiring buffer; markets read the filtered value when reconciling
// delivered power against schedules.
package meter

import (
	"time"
)

// MeasurementUnit labels the unit of a meter point's readings.
type MeasurementUnit string

const (
	UnitKilowatts  MeasurementUnit = "kW"
	UnitDegreesF   MeasurementUnit = "degF"
	UnitDollarsKWh MeasurementUnit = "USD/kWh"
	UnitUnknown    MeasurementUnit = "unknown"
)

// Config defines a meter point.
type Config struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Unit        MeasurementUnit `json:"unit"`
	// ScaleFactor multiplies every reading; -1 reverses the meter's sign.
	ScaleFactor float64 `json:"scale_factor"`
	// Expiry drops readings older than this duration. Zero keeps readings
	// until the buffer wraps.
	ExpirySeconds int `json:"expiry_seconds"`
	// MaxReadings bounds the buffer length.
	MaxReadings int `json:"max_readings"`
}

// Reading is one timestamped datum.
type Reading struct {
	Value float64
	At    time.Time
}

// Point is one measurement point with a bounded reading history.
type Point struct {
	name        string
	description string
	unit        MeasurementUnit
	scale       float64
	expiry      time.Duration
	maxLen      int

	readings   []Reading
	lastUpdate time.Time
}

// New builds a meter point from its configuration.
func New(cfg Config) *Point {
	scale := cfg.ScaleFactor
	if scale == 0 {
		scale = 1
	}
	maxLen := cfg.MaxReadings
	if maxLen <= 0 {
		maxLen = 360
	}
	unit := cfg.Unit
	if unit == "" {
		unit = UnitUnknown
	}
	return &Point{
		name:        cfg.Name,
		description: cfg.Description,
		unit:        unit,
		scale:       scale,
		expiry:      time.Duration(cfg.ExpirySeconds) * time.Second,
		maxLen:      maxLen,
	}
}

// Name returns the point's configured name.
func (p *Point) Name() string { return p.name }

// Unit returns the point's measurement unit.
func (p *Point) Unit() MeasurementUnit { return p.unit }

// Record stores a scaled reading taken at the given time and prunes expired
// history.
func (p *Point) Record(value float64, at time.Time) {
	p.prune(at)
	p.readings = append(p.readings, Reading{Value: value * p.scale, At: at})
	if len(p.readings) > p.maxLen {
		p.readings = p.readings[len(p.readings)-p.maxLen:]
	}
	p.lastUpdate = at
}

// Last returns the newest reading, if any.
func (p *Point) Last() (Reading, bool) {
	if len(p.readings) == 0 {
		return Reading{}, false
	}
	return p.readings[len(p.readings)-1], true
}

// Mean averages readings taken in [from, to). It returns false when the
// window holds no readings.
func (p *Point) Mean(from, to time.Time) (float64, bool) {
	var sum float64
	var count int
	for _, r := range p.readings {
		if r.At.Before(from) || !r.At.Before(to) {
			continue
		}
		sum += r.Value
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

func (p *Point) prune(now time.Time) {
	if p.expiry <= 0 {
		return
	}
	cutoff := now.Add(-p.expiry)
	idx := 0
	for idx < len(p.readings) && p.readings[idx].At.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		p.readings = p.readings[idx:]
	}
}

// Status returns a serializable snapshot for operations records.
func (p *Point) Status() map[string]any {
	st := map[string]any{
		"name":        p.name,
		"description": p.description,
		"unit":        string(p.unit),
		"readings":    len(p.readings),
	}
	if !p.lastUpdate.IsZero() {
		st["last_update"] = p.lastUpdate
	}
	if last, ok := p.Last(); ok {
		st["last_value"] = last.Value
	}
	return st
}
