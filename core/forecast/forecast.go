// Package forecast provides the information services markets consult while
// scheduling, the main one being an hourly temperature forecast read from a
// CSV file that an external weather job keeps up to date.
package forecast

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/transactive/core/factory"
	"github.com/kilianp07/transactive/core/logger"
	"github.com/kilianp07/transactive/core/market"
)

// probeOffsets are the fallback lookups tried around a missing hour before
// the forecast reports an error. Nearby hours first, then the same hour one
// day away.
var probeOffsets = []time.Duration{
	0,
	-time.Hour, time.Hour,
	-2 * time.Hour, 2 * time.Hour,
	-24 * time.Hour, 24 * time.Hour,
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"1/2/2006 15:04",
}

// TemperatureConfig points a temperature service at its data file.
type TemperatureConfig struct {
	File string `json:"file"`
}

// Temperature serves hourly temperature predictions from a CSV file holding
// timestamp and temperature columns. The file is re-read whenever its
// modification time changes, so a periodically refreshed forecast is picked
// up without restarting the node.
type Temperature struct {
	name string
	cfg  TemperatureConfig

	mu          sync.Mutex
	byHour      map[time.Time]float64
	loadedAt    time.Time
	predictions map[string]float64

	log logger.Logger
}

// NewTemperature builds a temperature service reading the given file.
func NewTemperature(name string, cfg TemperatureConfig, log logger.Logger) *Temperature {
	if log == nil {
		log = logger.Nop{}
	}
	return &Temperature{
		name:        name,
		cfg:         cfg,
		byHour:      map[time.Time]float64{},
		predictions: map[string]float64{},
		log:         log,
	}
}

func newTemperatureFromConf(name string, conf map[string]any) (market.InformationService, error) {
	var cfg TemperatureConfig
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, fmt.Errorf("temperature %s: %w", name, err)
	}
	if cfg.File == "" {
		return nil, fmt.Errorf("temperature %s: no data file configured", name)
	}
	return NewTemperature(name, cfg, nil), nil
}

func init() {
	if err := Register("temperature", newTemperatureFromConf); err != nil {
		panic(err)
	}
}

func (t *Temperature) Name() string { return t.name }

// SetLogger attaches the node's logger after assembly.
func (t *Temperature) SetLogger(log logger.Logger) {
	if log != nil {
		t.log = log
	}
}

// UpdateInformation caches a prediction for every active interval of the
// market. An interval with no usable observation, even after probing nearby
// hours, makes the whole update fail.
func (t *Temperature) UpdateInformation(m *market.Market) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(); err != nil {
		return err
	}
	var missed []string
	for _, ti := range m.TimeIntervals {
		v, ok := t.lookup(ti.StartTime)
		if !ok {
			missed = append(missed, ti.Name)
			continue
		}
		t.predictions[ti.Name] = v
	}
	if len(missed) > 0 {
		return fmt.Errorf("temperature %s: no observation near intervals %s", t.name, strings.Join(missed, ", "))
	}
	return nil
}

// PredictedValue returns the cached temperature for the named interval.
// Real-time markets refining a passed hour reuse the value cached when the
// day-ahead market scheduled it.
func (t *Temperature) PredictedValue(intervalName string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.predictions[intervalName]
	return v, ok
}

func (t *Temperature) lookup(at time.Time) (float64, bool) {
	hour := at.UTC().Truncate(time.Hour)
	for _, off := range probeOffsets {
		if v, ok := t.byHour[hour.Add(off)]; ok {
			if off != 0 {
				t.log.Debugf("temperature %s: substituted observation %s away for %s", t.name, off, hour)
			}
			return v, true
		}
	}
	return 0, false
}

// ensureLoaded (re)parses the data file when it changed on disk.
func (t *Temperature) ensureLoaded() error {
	info, err := os.Stat(t.cfg.File)
	if err != nil {
		return fmt.Errorf("temperature %s: %w", t.name, err)
	}
	if !t.loadedAt.IsZero() && !info.ModTime().After(t.loadedAt) {
		return nil
	}

	f, err := os.Open(t.cfg.File)
	if err != nil {
		return fmt.Errorf("temperature %s: %w", t.name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("temperature %s: parse %s: %w", t.name, t.cfg.File, err)
	}

	byHour := make(map[time.Time]float64, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		ts, ok := parseTime(strings.TrimSpace(row[0]))
		if !ok {
			// Header rows and malformed lines are skipped, not fatal.
			if i > 0 {
				t.log.Debugf("temperature %s: skipping row %d of %s", t.name, i+1, t.cfg.File)
			}
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			continue
		}
		byHour[ts.UTC().Truncate(time.Hour)] = v
	}
	if len(byHour) == 0 {
		return fmt.Errorf("temperature %s: no usable rows in %s", t.name, t.cfg.File)
	}

	t.byHour = byHour
	t.loadedAt = info.ModTime()
	t.log.Infof("temperature %s: loaded %d hourly observations from %s", t.name, len(byHour), t.cfg.File)
	return nil
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

var registry = factory.NewRegistry[market.InformationService]()

// Register adds a service factory under the given type name.
func Register(typeName string, f factory.Factory[market.InformationService]) error {
	return registry.Register(typeName, f)
}

// CreateAll instantiates the configured information services.
func CreateAll(cfgs []factory.ModuleConfig) ([]market.InformationService, error) {
	return registry.CreateAll(cfgs)
}
