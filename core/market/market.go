package market

import (
	"sort"
	"time"

	"github.com/kilianp07/transactive/core/events"
	"github.com/kilianp07/transactive/core/logger"
)

// Config carries the construction parameters of one market instance. Spawned
// successors inherit the config of their predecessor with a shifted clearing
// time.
type Config struct {
	SeriesName   string
	ClearingTime time.Time
	// ClearingInterval separates successive clearing times within a series.
	ClearingInterval time.Duration
	IntervalDuration time.Duration
	IntervalsToClear int
	FutureHorizon    time.Duration

	ActivationLeadTime  time.Duration
	NegotiationLeadTime time.Duration
	MarketLeadTime      time.Duration
	DeliveryLeadTime    time.Duration

	DefaultPrice float64

	// Real-time refinement parameters, used by day-ahead markets to spawn
	// corrective children.
	RealTimeSeriesName string
	RealTimeDuration   time.Duration
	RealTimeLeadTime   time.Duration

	// RetryWarningTicks bounds silent signal retries: past this many
	// consecutive re-requests for the same neighbor the market emits a
	// warning. Zero applies a default.
	RetryWarningTicks int
}

// Behavior is the per-state hook set installed on a market at construction.
// Entry hooks fire exactly once on transition into a state; while hooks run
// every tick until the state reports completion.
type Behavior struct {
	OnEntry map[State]func(*Market, *Node)
	WhileIn map[State]func(*Market, *Node)
	// Spawn creates the successor market of the series, and possibly
	// children, when the current newest market nears its own activation.
	Spawn func(m *Market, n *Node, clearing time.Time)
}

// Market is one clearing cycle's state machine instance over a set of future
// time intervals.
type Market struct {
	Name       string
	SeriesName string
	Kind       Kind
	State      State
	IsNewest   bool

	ClearingTime     time.Time
	NextClearingTime time.Time

	TimeIntervals  []*TimeInterval
	MarginalPrices []*IntervalValue[float64]
	Converged      bool

	// PriorInSeries and ToBeRefined are non-owning back-references; expired
	// markets drop out of the node's registry regardless of them.
	PriorInSeries *Market
	ToBeRefined   *Market

	PriceModel *PriceModel

	cfg      Config
	behavior Behavior

	stateCompleted bool
	retryTicks     map[string]int
	retryWarnAt    int

	log logger.Logger
}

// New builds a market in the Inactive state with the given behavior set.
func New(kind Kind, cfg Config, b Behavior, log logger.Logger) *Market {
	if log == nil {
		log = logger.Nop{}
	}
	warnAt := cfg.RetryWarningTicks
	if warnAt <= 0 {
		warnAt = 300
	}
	m := &Market{
		Name:             MarketName(cfg.SeriesName, cfg.ClearingTime),
		SeriesName:       cfg.SeriesName,
		Kind:             kind,
		State:            Inactive,
		ClearingTime:     cfg.ClearingTime,
		NextClearingTime: cfg.ClearingTime.Add(cfg.ClearingInterval),
		cfg:              cfg,
		behavior:         b,
		retryTicks:       make(map[string]int),
		retryWarnAt:      warnAt,
		log:              log,
	}
	return m
}

// MarketName derives a market's unique name from its series and clearing
// time.
func MarketName(series string, clearing time.Time) string {
	return series + "_" + IntervalName(clearing)
}

// Cfg returns a copy of the market's construction parameters.
func (m *Market) Cfg() Config { return m.cfg }

// DefaultPrice returns the configured fallback price.
func (m *Market) DefaultPrice() float64 { return m.cfg.DefaultPrice }

// DeliveryStart is the start of the market's first delivery interval.
func (m *Market) DeliveryStart() time.Time {
	return m.ClearingTime.Add(m.cfg.DeliveryLeadTime)
}

// DeliveryEnd is the end of the market's last delivery interval.
func (m *Market) DeliveryEnd() time.Time {
	return m.DeliveryStart().Add(time.Duration(m.intervalCount()) * m.cfg.IntervalDuration)
}

func (m *Market) intervalCount() int {
	if m.cfg.IntervalsToClear > 0 {
		return m.cfg.IntervalsToClear
	}
	if m.cfg.IntervalDuration <= 0 {
		return 0
	}
	return int(m.cfg.FutureHorizon / m.cfg.IntervalDuration)
}

// State transition thresholds. The four lead times stack backward from the
// clearing time; delivery begins one delivery lead after clearing.
func (m *Market) activateAt() time.Time {
	return m.ClearingTime.Add(-(m.cfg.ActivationLeadTime + m.cfg.NegotiationLeadTime + m.cfg.MarketLeadTime))
}

func (m *Market) negotiateAt() time.Time {
	return m.ClearingTime.Add(-(m.cfg.NegotiationLeadTime + m.cfg.MarketLeadTime))
}

func (m *Market) marketLeadAt() time.Time {
	return m.ClearingTime.Add(-m.cfg.MarketLeadTime)
}

func (m *Market) deliveryLeadAt() time.Time { return m.ClearingTime }

func (m *Market) deliveryAt() time.Time { return m.DeliveryStart() }

func (m *Market) reconcileAt() time.Time { return m.DeliveryEnd() }

// CheckIntervals (re)computes the market's active time intervals. It is
// idempotent: an interval whose start time already exists is never
// duplicated.
func (m *Market) CheckIntervals() {
	count := m.intervalCount()
	start := m.DeliveryStart()
	for i := 0; i < count; i++ {
		s := start.Add(time.Duration(i) * m.cfg.IntervalDuration)
		name := IntervalName(s)
		exists := false
		for _, ti := range m.TimeIntervals {
			if ti.Name == name {
				exists = true
				break
			}
		}
		if !exists {
			m.TimeIntervals = append(m.TimeIntervals, NewTimeInterval(s, m.cfg.IntervalDuration, m))
		}
	}
	sortIntervals(m.TimeIntervals)
}

// CheckMarginalPrices seeds an initial marginal price for every active
// interval lacking one. Existing prices are never overwritten. Seeding works
// through the documented fallback chain: prior market in series, market being
// refined, hourly price model, default price.
func (m *Market) CheckMarginalPrices(n *Node) {
	for _, ti := range m.TimeIntervals {
		if FindByInterval(m.MarginalPrices, ti.Name) != nil {
			continue
		}
		price, ok := m.seedPrice(ti)
		if !ok {
			price = m.cfg.DefaultPrice
		}
		var dups int
		m.MarginalPrices, dups = SetIntervalValue(m.MarginalPrices, ti, m, MeasurementMarginalPrice, price)
		if dups > 1 {
			m.log.Warnf("market %s: duplicate marginal price entries for interval %s", m.Name, ti.Name)
		}
	}
}

func (m *Market) seedPrice(ti *TimeInterval) (float64, bool) {
	if prior := m.PriorInSeries; prior != nil {
		if iv := FindByInterval(prior.MarginalPrices, ti.Name); iv != nil {
			return iv.Value, true
		}
	}
	if refined := m.ToBeRefined; refined != nil {
		// The containing coarse interval carries the day-ahead estimate.
		for _, coarse := range refined.TimeIntervals {
			if !ti.StartTime.Before(coarse.StartTime) && ti.StartTime.Before(coarse.End()) {
				if iv := FindByInterval(refined.MarginalPrices, coarse.Name); iv != nil {
					return iv.Value, true
				}
			}
		}
	}
	if m.PriceModel != nil {
		if p, ok := m.PriceModel.Price(ti.StartTime); ok {
			return p, true
		}
	}
	return 0, false
}

// MarginalPrice returns the interval's current marginal price, falling back
// to the default price when none has been written yet.
func (m *Market) MarginalPrice(intervalName string) float64 {
	if iv := FindByInterval(m.MarginalPrices, intervalName); iv != nil {
		return iv.Value
	}
	return m.cfg.DefaultPrice
}

// Balance sums the active vertices contributed by local assets and neighbors
// for each interval and solves for the balancing marginal price, writing the
// result into MarginalPrices with find-and-replace semantics.
func (m *Market) Balance(n *Node) {
	for _, ti := range m.TimeIntervals {
		var curves [][]*Vertex
		for _, a := range n.LocalAssets {
			if vs := a.ActiveVertices(m, ti.Name); len(vs) > 0 {
				curves = append(curves, vs)
			}
		}
		for _, nb := range n.Neighbors {
			if vs := nb.IntervalVertices(m, ti.Name); len(vs) > 0 {
				curves = append(curves, vs)
			}
		}
		price, ok := clearingPrice(curves, m.cfg.DefaultPrice)
		if !ok {
			m.log.Warnf("market %s: no vertices to balance interval %s, using default price", m.Name, ti.Name)
		}
		var dups int
		m.MarginalPrices, dups = SetIntervalValue(m.MarginalPrices, ti, m, MeasurementMarginalPrice, price)
		if dups > 1 {
			m.log.Warnf("market %s: duplicate marginal price entries for interval %s", m.Name, ti.Name)
		}
		n.publish(events.PriceCleared{
			Market:   m.Name,
			Series:   m.SeriesName,
			Interval: ti.Name,
			Price:    price,
			Time:     n.Clock.Now(),
		})
	}
}

// MarkCompleted flags the current state's work as done, allowing the next
// timed transition to fire.
func (m *Market) MarkCompleted() { m.stateCompleted = true }

// StateCompleted reports whether the current state finished its work.
func (m *Market) StateCompleted() bool { return m.stateCompleted }

// Events is the single tick entry point. It fires at most one state
// transition, then runs the current state's recurring hook. It is safe to
// call every tick indefinitely; transitions only ever move forward.
func (m *Market) Events(n *Node) {
	now := n.Clock.Now()

	// The newest market of a series spawns its successor when the
	// successor's activation threshold nears.
	if m.IsNewest && m.behavior.Spawn != nil {
		spawnAt := m.NextClearingTime.Add(-(m.cfg.ActivationLeadTime + m.cfg.NegotiationLeadTime + m.cfg.MarketLeadTime))
		if !now.Before(spawnAt) {
			m.behavior.Spawn(m, n, m.NextClearingTime)
		}
	}

	switch m.State {
	case Inactive:
		if !now.Before(m.activateAt()) {
			m.transition(Active, n)
		}
	case Active:
		if m.stateCompleted && !now.Before(m.negotiateAt()) {
			m.transition(Negotiation, n)
		}
	case Negotiation:
		if m.stateCompleted && !now.Before(m.marketLeadAt()) {
			m.transition(MarketLead, n)
		}
	case MarketLead:
		if m.stateCompleted && !now.Before(m.deliveryLeadAt()) {
			m.transition(DeliveryLead, n)
		}
	case DeliveryLead:
		if m.stateCompleted && !now.Before(m.deliveryAt()) {
			m.transition(Delivery, n)
		}
	case Delivery:
		if m.stateCompleted && !now.Before(m.reconcileAt()) {
			m.transition(Reconcile, n)
		}
	case Reconcile:
		if m.stateCompleted {
			m.transition(Expired, n)
		}
	case Expired:
		return
	}

	if h := m.behavior.WhileIn[m.State]; h != nil && !m.stateCompleted {
		h(m, n)
	}
}

func (m *Market) transition(to State, n *Node) {
	from := m.State
	m.State = to
	m.stateCompleted = false
	m.log.Infof("market %s: %s -> %s", m.Name, from, to)
	n.publish(events.StateTransition{
		Market: m.Name,
		Series: m.SeriesName,
		From:   from.String(),
		To:     to.String(),
		Time:   n.Clock.Now(),
	})
	if h := m.behavior.OnEntry[to]; h != nil {
		h(m, n)
	}
	// A state without a recurring hook has no exit work to wait for.
	if m.behavior.WhileIn[to] == nil {
		m.stateCompleted = true
	}
}

// noteRetry counts consecutive signal re-requests toward a neighbor and
// warns once past the configured bound. Retries themselves never fail the
// market.
func (m *Market) noteRetry(n *Node, neighbor string, missing []string) {
	m.retryTicks[neighbor]++
	if m.retryTicks[neighbor] == m.retryWarnAt {
		m.log.Warnf("market %s: still missing signal from %s after %d ticks (intervals %v)",
			m.Name, neighbor, m.retryWarnAt, missing)
	}
	n.publish(events.SignalRetry{
		Market:   m.Name,
		Neighbor: neighbor,
		Missing:  missing,
		Time:     n.Clock.Now(),
	})
}

func (m *Market) clearRetry(neighbor string) { delete(m.retryTicks, neighbor) }

func sortIntervals(intervals []*TimeInterval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		return intervals[i].StartTime.Before(intervals[j].StartTime)
	})
}
