package market

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// clearingPrice solves for the price at which the aggregate of the given
// participant curves balances (net power crosses zero). The aggregate of
// supply and demand curves is nondecreasing in price, so the crossing is
// unique up to flat segments; the search is deterministic for a given vertex
// set. When no curve supplies a vertex the fallback price is returned with
// ok=false.
func clearingPrice(curves [][]*Vertex, fallback float64) (price float64, ok bool) {
	candidates := candidatePrices(curves)
	if len(candidates) == 0 {
		return fallback, false
	}

	net := make([]float64, len(candidates))
	contrib := make([]float64, len(curves))
	for i, p := range candidates {
		for j, curve := range curves {
			contrib[j] = Production(curve, p)
		}
		net[i] = floats.Sum(contrib)
	}

	// Net power is nondecreasing with price. Find the first candidate at or
	// above zero and interpolate the crossing within the bracketing segment.
	for i, n := range net {
		if n < 0 {
			continue
		}
		if i == 0 || n == 0 {
			return candidates[i], true
		}
		lo, hi := candidates[i-1], candidates[i]
		nLo, nHi := net[i-1], net[i]
		if nHi == nLo {
			return hi, true
		}
		return lo + (hi-lo)*(-nLo)/(nHi-nLo), true
	}
	// Demand exceeds supply at every vertex price; the balance point lies at
	// or beyond the highest offered price.
	return candidates[len(candidates)-1], true
}

// candidatePrices returns the sorted distinct marginal prices across all
// curves. Each participant holds only a handful of active vertices, so the
// candidate set stays small.
func candidatePrices(curves [][]*Vertex) []float64 {
	var prices []float64
	for _, curve := range curves {
		for _, v := range curve {
			prices = append(prices, v.MarginalPrice)
		}
	}
	if len(prices) == 0 {
		return nil
	}
	sort.Float64s(prices)
	out := prices[:1]
	for _, p := range prices[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
