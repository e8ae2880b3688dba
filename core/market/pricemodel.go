package market

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// PriceModel holds an hourly estimate of the clearing price, one slot per
// hour of day. Markets seed initial marginal prices from it and feed cleared
// prices back during reconciliation, so the model tracks the series over
// time. A model is shared across the markets of a series and their spawned
// successors.
type PriceModel struct {
	mu     sync.Mutex
	hours  [24][]float64
	window int
}

// NewPriceModel returns a model averaging up to window observations per
// hour.
func NewPriceModel(window int) *PriceModel {
	if window <= 0 {
		window = 14
	}
	return &PriceModel{window: window}
}

// Price returns the model's estimate for the hour containing t.
func (pm *PriceModel) Price(t time.Time) (float64, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	obs := pm.hours[t.Hour()]
	if len(obs) == 0 {
		return 0, false
	}
	return stat.Mean(obs, nil), true
}

// Observe records a cleared price for the hour containing t.
func (pm *PriceModel) Observe(t time.Time, price float64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	h := t.Hour()
	pm.hours[h] = append(pm.hours[h], price)
	if len(pm.hours[h]) > pm.window {
		pm.hours[h] = pm.hours[h][len(pm.hours[h])-pm.window:]
	}
}
