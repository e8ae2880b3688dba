package market

import (
	"math"
	"testing"
	"time"

	"github.com/kilianp07/transactive/core/clock"
)

var testBase = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func testConfig(clearing time.Time) Config {
	return Config{
		SeriesName:          "dayahead",
		ClearingTime:        clearing,
		ClearingInterval:    time.Hour,
		IntervalDuration:    time.Hour,
		IntervalsToClear:    1,
		ActivationLeadTime:  time.Hour,
		NegotiationLeadTime: time.Hour,
		MarketLeadTime:      time.Hour,
		DeliveryLeadTime:    time.Hour,
		DefaultPrice:        0.05,
	}
}

type fakeAsset struct {
	name       string
	vertices   []*Vertex
	calculated bool
	powers     map[string]float64
	scheduleN  int
}

func newFakeAsset(name string, vertices ...*Vertex) *fakeAsset {
	return &fakeAsset{name: name, vertices: vertices, powers: map[string]float64{}}
}

func (a *fakeAsset) Name() string { return a.name }

func (a *fakeAsset) SchedulePower(m *Market) {
	a.scheduleN++
	for _, ti := range m.TimeIntervals {
		a.powers[ti.Name] = Production(a.vertices, m.MarginalPrice(ti.Name))
	}
	a.calculated = true
}

func (a *fakeAsset) UpdateVertices(*Market) {}

func (a *fakeAsset) ScheduleCalculated() bool { return a.calculated }
func (a *fakeAsset) ResetSchedule()           { a.calculated = false }

func (a *fakeAsset) ActiveVertices(*Market, string) []*Vertex { return a.vertices }

func (a *fakeAsset) SetScheduledPower(_ *Market, ti *TimeInterval, power float64) {
	a.powers[ti.Name] = power
}

func (a *fakeAsset) Status() map[string]any { return map[string]any{"name": a.name} }

func tick(n *Node) {
	for _, m := range n.Markets {
		m.Events(n)
	}
	n.PruneExpired()
}

func TestAuctionLifecycleForwardOnly(t *testing.T) {
	clearing := testBase.Add(3 * time.Hour)
	clk := clock.NewManual(testBase.Add(-time.Minute))
	n := NewNode("node1", clk, nil, nil)

	m := NewAuction(testConfig(clearing), nil)
	n.AddMarket(m)

	tick(n)
	if m.State != Inactive {
		t.Fatalf("state before activation = %s, want inactive", m.State)
	}

	steps := []struct {
		at   time.Time
		want State
	}{
		{testBase, Active},
		{testBase.Add(1 * time.Hour), Negotiation},
		{testBase.Add(2 * time.Hour), MarketLead},
		{testBase.Add(3 * time.Hour), DeliveryLead},
		{testBase.Add(4 * time.Hour), Delivery},
		{testBase.Add(5 * time.Hour), Reconcile},
	}
	for _, step := range steps {
		clk.Set(step.at)
		tick(n)
		if m.State != step.want {
			t.Fatalf("state at %s = %s, want %s", step.at, m.State, step.want)
		}
	}

	// Reconcile finished its work within its tick; the next tick expires and
	// prunes the market.
	tick(n)
	if m.State != Expired {
		t.Fatalf("final state = %s, want expired", m.State)
	}
	if len(n.Markets) != 0 {
		t.Fatalf("expired market not pruned, %d markets remain", len(n.Markets))
	}

	// An expired market ignores further ticks.
	clk.Advance(24 * time.Hour)
	m.Events(n)
	if m.State != Expired {
		t.Fatalf("expired market moved to %s", m.State)
	}
}

func TestCheckIntervalsIdempotent(t *testing.T) {
	cfg := testConfig(testBase)
	cfg.IntervalsToClear = 4
	m := NewAuction(cfg, nil)

	m.CheckIntervals()
	if len(m.TimeIntervals) != 4 {
		t.Fatalf("got %d intervals, want 4", len(m.TimeIntervals))
	}
	first := m.TimeIntervals[0]

	m.CheckIntervals()
	m.CheckIntervals()
	if len(m.TimeIntervals) != 4 {
		t.Fatalf("re-check grew intervals to %d", len(m.TimeIntervals))
	}
	if m.TimeIntervals[0] != first {
		t.Fatal("re-check replaced an existing interval")
	}
	for i := 1; i < len(m.TimeIntervals); i++ {
		if !m.TimeIntervals[i-1].StartTime.Before(m.TimeIntervals[i].StartTime) {
			t.Fatal("intervals not in chronological order")
		}
	}
}

func TestCheckMarginalPricesNeverOverwrites(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	m := NewAuction(testConfig(testBase), nil)
	m.CheckIntervals()
	ti := m.TimeIntervals[0]

	m.MarginalPrices, _ = SetIntervalValue(m.MarginalPrices, ti, m, MeasurementMarginalPrice, 0.42)
	m.CheckMarginalPrices(n)
	if got := m.MarginalPrice(ti.Name); got != 0.42 {
		t.Fatalf("seed overwrote existing price: got %v, want 0.42", got)
	}
}

func TestMarginalPriceSeedsFromPriorInSeries(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	prior := NewAuction(testConfig(testBase), nil)
	prior.CheckIntervals()
	for _, ti := range prior.TimeIntervals {
		prior.MarginalPrices, _ = SetIntervalValue(prior.MarginalPrices, ti, prior, MeasurementMarginalPrice, 0.31)
	}

	// The successor shares the prior's delivery hour so its interval names
	// overlap.
	next := NewAuction(testConfig(testBase), nil)
	next.PriorInSeries = prior
	next.CheckIntervals()
	next.CheckMarginalPrices(n)
	if got := next.MarginalPrice(next.TimeIntervals[0].Name); got != 0.31 {
		t.Fatalf("seed price = %v, want 0.31 from prior market", got)
	}
}

func TestBalanceFindsCrossingPrice(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	m := NewAuction(testConfig(testBase), nil)
	m.CheckIntervals()

	demand := newFakeAsset("load", NewVertex(5, -10), NewVertex(10, -5))
	n.LocalAssets = append(n.LocalAssets, demand)

	supply := NewNeighbor(NeighborConfig{Name: "utility", Direction: "upstream", Transactive: true}, nil)
	ti := m.TimeIntervals[0]
	for _, v := range []*Vertex{NewVertex(5, 5), NewVertex(10, 15)} {
		supply.ActiveVertices = append(supply.ActiveVertices, &IntervalValue[*Vertex]{
			TimeInterval: ti, Market: m, Kind: MeasurementActiveVertex, Value: v,
		})
	}
	n.Neighbors = append(n.Neighbors, supply)

	m.Balance(n)

	price := m.MarginalPrice(ti.Name)
	want := 5.0 + 5.0/3.0
	if math.Abs(price-want) > 1e-9 {
		t.Fatalf("clearing price = %v, want %v", price, want)
	}
	net := Production(demand.vertices, price) + Production(supply.IntervalVertices(m, ti.Name), price)
	if math.Abs(net) > 1e-9 {
		t.Fatalf("aggregate power at clearing price = %v, want 0", net)
	}
}

func TestBalanceWithoutVerticesFallsBackToDefault(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	m := NewAuction(testConfig(testBase), nil)
	m.CheckIntervals()

	m.Balance(n)
	if got := m.MarginalPrice(m.TimeIntervals[0].Name); got != 0.05 {
		t.Fatalf("fallback price = %v, want default 0.05", got)
	}
}

func TestNegotiationWaitsForAssetSchedules(t *testing.T) {
	clearing := testBase.Add(3 * time.Hour)
	clk := clock.NewManual(testBase.Add(time.Hour))
	n := NewNode("node1", clk, nil, nil)

	a := newFakeAsset("load", NewVertex(0.05, -4))
	n.LocalAssets = append(n.LocalAssets, a)

	m := NewAuction(testConfig(clearing), nil)
	m.State = Active
	m.MarkCompleted()
	n.AddMarket(m)

	tick(n)
	if m.State != Negotiation {
		t.Fatalf("state = %s, want negotiation", m.State)
	}
	if !m.Converged || !m.StateCompleted() {
		t.Fatal("negotiation did not complete once all schedules were calculated")
	}
	if a.scheduleN == 0 {
		t.Fatal("asset was never asked to schedule")
	}
	if got := a.powers[m.TimeIntervals[0].Name]; got != -4 {
		t.Fatalf("scheduled power = %v, want -4", got)
	}
}

func TestMarketLeadRetriesMissingSignal(t *testing.T) {
	clearing := testBase.Add(3 * time.Hour)
	clk := clock.NewManual(testBase.Add(2 * time.Hour))
	n := NewNode("node1", clk, nil, nil)

	down := NewNeighbor(NeighborConfig{Name: "feeder", Direction: "downstream", Transactive: true}, nil)
	n.Neighbors = append(n.Neighbors, down)

	m := NewAuction(testConfig(clearing), nil)
	m.CheckIntervals()
	m.State = MarketLead
	n.AddMarket(m)

	// No signal yet: the market must keep retrying, tick after tick, without
	// completing or failing.
	for i := 0; i < 3; i++ {
		tick(n)
		if m.StateCompleted() {
			t.Fatal("market lead completed without the downstream signal")
		}
	}
	if m.State != MarketLead {
		t.Fatalf("state = %s, want market_lead", m.State)
	}

	// The signal arrives: the next tick drains it and completes the period.
	var curves []TransactiveRecord
	for _, ti := range m.TimeIntervals {
		curves = append(curves, TransactiveRecord{TimeInterval: ti.Name, MarginalPrice: 0.04, Power: -3})
	}
	down.Deliver(SignalMessage{MessageID: "msg1", Source: "feeder", Curves: curves})

	tick(n)
	if !m.StateCompleted() {
		t.Fatal("market lead did not complete after the signal arrived")
	}
	if len(down.ReceivedSignal) != len(m.TimeIntervals) {
		t.Fatalf("received %d records, want %d", len(down.ReceivedSignal), len(m.TimeIntervals))
	}
}

func TestUnknownNeighborDirectionCoercedDownstream(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	odd := NewNeighbor(NeighborConfig{Name: "odd", Direction: "sideways"}, nil)
	up := NewNeighbor(NeighborConfig{Name: "utility", Direction: "upstream", Transactive: true}, nil)
	n.Neighbors = append(n.Neighbors, odd, up)

	m := NewAuction(testConfig(testBase), nil)
	enterMarketLead(m, n)

	if odd.Direction != DirectionDownstream {
		t.Fatalf("direction = %s, want downstream", odd.Direction)
	}
	if up.Direction != DirectionUpstream {
		t.Fatalf("upstream neighbor was altered to %s", up.Direction)
	}
}

func TestNeighborSchedulePowerReplacesEntries(t *testing.T) {
	cfg := testConfig(testBase)
	cfg.IntervalsToClear = 3
	m := NewAuction(cfg, nil)
	m.CheckIntervals()

	nb := NewNeighbor(NeighborConfig{Name: "feeder", Direction: "downstream"}, nil)
	ti := m.TimeIntervals[0]
	nb.ActiveVertices = append(nb.ActiveVertices, &IntervalValue[*Vertex]{
		TimeInterval: ti, Market: m, Kind: MeasurementActiveVertex, Value: NewVertex(0.05, -2),
	})

	for i := 0; i < 5; i++ {
		nb.SchedulePower(m)
	}
	if len(nb.ScheduledPowers) != 3 {
		t.Fatalf("got %d scheduled powers after rescheduling, want 3", len(nb.ScheduledPowers))
	}
	if iv := FindByInterval(nb.ScheduledPowers, ti.Name); iv == nil || iv.Value != -2 {
		t.Fatalf("scheduled power for %s = %+v, want -2", ti.Name, iv)
	}
}

func TestPrepSignalExcludesTargetNeighbor(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	m := NewAuction(testConfig(testBase), nil)
	m.CheckIntervals()
	ti := m.TimeIntervals[0]

	load := newFakeAsset("load", NewVertex(0.05, -4))
	n.LocalAssets = append(n.LocalAssets, load)

	up := NewNeighbor(NeighborConfig{Name: "utility", Direction: "upstream", Transactive: true}, nil)
	up.ActiveVertices = append(up.ActiveVertices, &IntervalValue[*Vertex]{
		TimeInterval: ti, Market: m, Kind: MeasurementActiveVertex, Value: NewVertex(0.05, 100),
	})
	n.Neighbors = append(n.Neighbors, up)

	up.PrepTransactiveSignal(m, n)
	if len(up.SentSignal) == 0 {
		t.Fatal("no records prepared")
	}
	for _, rec := range up.SentSignal {
		// Only the load contributes; the signal asks the peer for its 4 kW.
		if rec.Power != 4 {
			t.Fatalf("record power = %v, want 4 (target's own curve excluded)", rec.Power)
		}
	}
}

func TestReconcileFeedsPriceModel(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	m := NewAuction(testConfig(testBase), nil)
	m.PriceModel = NewPriceModel(14)
	m.CheckIntervals()
	ti := m.TimeIntervals[0]
	m.MarginalPrices, _ = SetIntervalValue(m.MarginalPrices, ti, m, MeasurementMarginalPrice, 0.12)

	whileReconciling(m, n)
	if !m.StateCompleted() {
		t.Fatal("reconcile did not complete")
	}
	got, ok := m.PriceModel.Price(ti.StartTime)
	if !ok || got != 0.12 {
		t.Fatalf("price model hour mean = %v (ok=%v), want 0.12", got, ok)
	}
}

func TestReceivedSignalPrunedAcrossRollovers(t *testing.T) {
	n := NewNode("node1", clock.NewManual(testBase), nil, nil)
	nb := NewNeighbor(NeighborConfig{Name: "feeder1", Direction: "downstream", Transactive: true}, nil)
	n.Neighbors = append(n.Neighbors, nb)

	var prev *Market
	for i := 0; i < 72; i++ {
		m := NewAuction(testConfig(testBase.Add(time.Duration(i)*time.Hour)), nil)
		m.CheckIntervals()
		n.AddMarket(m)
		if prev != nil {
			prev.State = Expired
			n.PruneExpired()
		}
		nb.Deliver(SignalMessage{Source: "feeder1", Curves: []TransactiveRecord{
			{TimeInterval: m.TimeIntervals[0].Name, MarginalPrice: 0.1, Power: 2},
		}})
		nb.ReceiveTransactiveSignal(n, m)
		prev = m
	}

	if got := len(nb.ReceivedSignal); got != 1 {
		t.Fatalf("received records after 72 rollovers = %d, want 1", got)
	}
	if want := prev.TimeIntervals[0].Name; nb.ReceivedSignal[0].TimeInterval != want {
		t.Fatalf("kept record is for %s, want %s", nb.ReceivedSignal[0].TimeInterval, want)
	}
}

func TestNeighborVerticesKeptPerMarket(t *testing.T) {
	// A real-time sub-interval can share its start time, and therefore its
	// interval name, with the day-ahead interval it refines. Replacing one
	// market's curve must leave the other's untouched.
	da := NewAuction(testConfig(testBase), nil)
	rtCfg := testConfig(testBase)
	rtCfg.SeriesName = "realtime"
	rt := NewRealTimeAuction(rtCfg, nil)
	da.CheckIntervals()
	rt.CheckIntervals()
	name := da.TimeIntervals[0].Name
	if rt.TimeIntervals[0].Name != name {
		t.Fatalf("intervals diverged: %s vs %s", name, rt.TimeIntervals[0].Name)
	}

	nb := NewNeighbor(NeighborConfig{
		Name:            "feeder1",
		Direction:       "downstream",
		Transactive:     true,
		DefaultVertices: []*Vertex{NewVertex(0.05, 3)},
	}, nil)
	nb.UpdateVertices(da)
	nb.UpdateVertices(rt)

	if got := len(nb.IntervalVertices(da, name)); got != 1 {
		t.Fatalf("day-ahead vertices after real-time update = %d, want 1", got)
	}
	if got := len(nb.IntervalVertices(rt, name)); got != 1 {
		t.Fatalf("real-time vertices = %d, want 1", got)
	}
}
