package market

import "sort"

// Vertex is one inflection point of a participant's piecewise-linear
// price/power flexibility curve. Power is signed: positive for production
// toward the node, negative for consumption.
type Vertex struct {
	MarginalPrice    float64
	ProductionCost   float64
	Power            float64
	Continuity       bool
	PowerUncertainty float64
	Record           int
}

// NewVertex returns a continuous vertex at the given price and power.
func NewVertex(price, power float64) *Vertex {
	return &Vertex{MarginalPrice: price, Power: power, Continuity: true}
}

// Production interpolates a participant's power at the given price from its
// vertex curve. A single vertex represents inelastic power regardless of
// price. Outside the curve the end powers are held. Between two vertices at
// the same price (a discontinuity) the higher-power side wins.
func Production(vertices []*Vertex, price float64) float64 {
	switch len(vertices) {
	case 0:
		return 0
	case 1:
		return vertices[0].Power
	}
	vs := make([]*Vertex, len(vertices))
	copy(vs, vertices)
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].MarginalPrice == vs[j].MarginalPrice {
			return vs[i].Power < vs[j].Power
		}
		return vs[i].MarginalPrice < vs[j].MarginalPrice
	})
	if price <= vs[0].MarginalPrice {
		return vs[0].Power
	}
	last := vs[len(vs)-1]
	if price >= last.MarginalPrice {
		return last.Power
	}
	for i := 1; i < len(vs); i++ {
		lo, hi := vs[i-1], vs[i]
		if price > hi.MarginalPrice {
			continue
		}
		if hi.MarginalPrice == lo.MarginalPrice {
			return hi.Power
		}
		frac := (price - lo.MarginalPrice) / (hi.MarginalPrice - lo.MarginalPrice)
		return lo.Power + frac*(hi.Power-lo.Power)
	}
	return last.Power
}
