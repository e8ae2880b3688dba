package market

import (
	"time"

	"github.com/kilianp07/transactive/core/events"
	"github.com/kilianp07/transactive/core/logger"
)

// NewAuction builds a consensus auction market. Demand curves flow up from
// downstream neighbors during the market lead period, the node aggregates and
// forwards them upstream, and the cleared supply answer flows back down
// during the delivery lead period.
func NewAuction(cfg Config, log logger.Logger) *Market {
	b := auctionBehavior()
	b.Spawn = spawnSuccessor(NewAuction)
	return New(KindAuction, cfg, b, log)
}

// NewRealTimeAuction builds a corrective refinement auction. Real-time
// markets are spawned by their day-ahead parent's cascade and never spawn
// successors themselves.
func NewRealTimeAuction(cfg Config, log logger.Logger) *Market {
	return New(KindRealTimeAuction, cfg, auctionBehavior(), log)
}

func auctionBehavior() Behavior {
	return Behavior{
		OnEntry: map[State]func(*Market, *Node){
			Active:      enterActive,
			Negotiation: enterNegotiation,
			MarketLead:  enterMarketLead,
			Delivery:    publishStatus,
		},
		WhileIn: map[State]func(*Market, *Node){
			Negotiation:  whileNegotiating,
			MarketLead:   whileMarketLead,
			DeliveryLead: whileDeliveryLead,
			Reconcile:    whileReconciling,
		},
	}
}

func enterActive(m *Market, n *Node) {
	m.CheckIntervals()
	m.CheckMarginalPrices(n)
	for _, s := range n.Services {
		if err := s.UpdateInformation(m); err != nil {
			m.log.Warnf("market %s: service %s: %v", m.Name, s.Name(), err)
		}
	}
	publishStatus(m, n)
}

func enterNegotiation(m *Market, n *Node) {
	m.CheckIntervals()
	m.CheckMarginalPrices(n)
	m.Converged = false
	for _, a := range n.LocalAssets {
		a.ResetSchedule()
		a.UpdateVertices(m)
		a.SchedulePower(m)
	}
	publishStatus(m, n)
}

// whileNegotiating keeps prompting assets until every schedule is in. An
// asset whose model could not converge yet is simply asked again next tick.
func whileNegotiating(m *Market, n *Node) {
	done := true
	for _, a := range n.LocalAssets {
		if a.ScheduleCalculated() {
			continue
		}
		a.UpdateVertices(m)
		a.SchedulePower(m)
		if !a.ScheduleCalculated() {
			done = false
		}
	}
	if !done {
		return
	}
	m.Converged = true
	m.MarkCompleted()
}

// enterMarketLead fixes up neighbor directions before signal exchange starts.
// A neighbor with no recognized direction is coerced to downstream, once,
// with a warning; it is a recoverable configuration mistake, not a fault.
func enterMarketLead(m *Market, n *Node) {
	upstream := 0
	for _, nb := range n.Neighbors {
		if nb.Direction == DirectionUnknown {
			m.log.Warnf("market %s: neighbor %s has no recognized direction, assuming downstream", m.Name, nb.Name)
			nb.Direction = DirectionDownstream
		}
		if nb.Direction == DirectionUpstream {
			upstream++
		}
	}
	if upstream != 1 {
		m.log.Warnf("market %s: expected exactly one upstream neighbor, found %d", m.Name, upstream)
	}
	publishStatus(m, n)
}

// whileMarketLead collects demand curves from downstream transactive
// neighbors, retrying missing intervals every tick, then aggregates and sends
// the node's own curve upstream.
func whileMarketLead(m *Market, n *Node) {
	ready := true
	for _, nb := range n.Neighbors {
		if nb.Direction != DirectionDownstream || !nb.Transactive {
			continue
		}
		nb.ReceiveTransactiveSignal(n, m)
		if missing := nb.MissingIntervals(m); len(missing) > 0 {
			m.noteRetry(n, nb.Name, missing)
			ready = false
			continue
		}
		m.clearRetry(nb.Name)
	}
	if !ready {
		return
	}
	for _, nb := range n.Neighbors {
		if nb.Direction != DirectionDownstream {
			continue
		}
		nb.UpdateVertices(m)
		nb.SchedulePower(m)
	}
	for _, nb := range n.Neighbors {
		if nb.Direction != DirectionUpstream || !nb.Transactive {
			continue
		}
		nb.PrepTransactiveSignal(m, n)
		if err := nb.SendTransactiveSignal(m, n, nb.PublishTopic); err != nil {
			m.log.Errorf("market %s: send signal to %s: %v", m.Name, nb.Name, err)
		}
	}
	m.MarkCompleted()
}

// whileDeliveryLead waits for the upstream supply answer, balances the local
// marginal prices, reschedules every participant at the cleared prices, and
// answers the downstream neighbors in turn.
func whileDeliveryLead(m *Market, n *Node) {
	ready := true
	for _, nb := range n.Neighbors {
		if nb.Direction != DirectionUpstream || !nb.Transactive {
			continue
		}
		nb.ReceiveTransactiveSignal(n, m)
		if missing := nb.MissingIntervals(m); len(missing) > 0 {
			m.noteRetry(n, nb.Name, missing)
			ready = false
			continue
		}
		m.clearRetry(nb.Name)
	}
	if !ready {
		return
	}
	for _, nb := range n.Neighbors {
		if nb.Direction == DirectionUpstream {
			nb.UpdateVertices(m)
		}
	}

	m.Balance(n)

	for _, nb := range n.Neighbors {
		if nb.Direction == DirectionUpstream {
			nb.SchedulePower(m)
		}
	}
	for _, a := range n.LocalAssets {
		for _, ti := range m.TimeIntervals {
			power := Production(a.ActiveVertices(m, ti.Name), m.MarginalPrice(ti.Name))
			a.SetScheduledPower(m, ti, power)
			n.publish(events.PowerScheduled{
				Market:      m.Name,
				Participant: a.Name(),
				Interval:    ti.Name,
				Power:       power,
				Time:        n.Clock.Now(),
			})
		}
	}
	for _, nb := range n.Neighbors {
		if nb.Direction != DirectionDownstream {
			continue
		}
		nb.SchedulePower(m)
		if !nb.Transactive {
			continue
		}
		nb.PrepTransactiveSignal(m, n)
		if err := nb.SendTransactiveSignal(m, n, nb.PublishTopic); err != nil {
			m.log.Errorf("market %s: send signal to %s: %v", m.Name, nb.Name, err)
		}
	}
	publishStatus(m, n)
	m.MarkCompleted()
}

// whileReconciling publishes the final market record and feeds the cleared
// prices back into the hourly price model.
func whileReconciling(m *Market, n *Node) {
	if m.PriceModel != nil {
		for _, iv := range m.MarginalPrices {
			if iv.TimeInterval != nil {
				m.PriceModel.Observe(iv.TimeInterval.StartTime, iv.Value)
			}
		}
	}
	publishStatus(m, n)
	m.MarkCompleted()
}

// spawnSuccessor returns the series continuation hook: clone the market's
// configuration at the next clearing time, hand over the newest-market flag
// and the shared price model, and register the successor.
func spawnSuccessor(build func(Config, logger.Logger) *Market) func(*Market, *Node, time.Time) {
	return func(m *Market, n *Node, clearing time.Time) {
		if n.MarketInSeries(m.SeriesName, clearing) != nil {
			return
		}
		cfg := m.Cfg()
		cfg.ClearingTime = clearing
		next := build(cfg, m.log)
		next.PriceModel = m.PriceModel
		next.PriorInSeries = m
		next.IsNewest = true
		m.IsNewest = false
		next.CheckIntervals()
		next.CheckMarginalPrices(n)
		n.AddMarket(next)
		m.log.Infof("market %s: spawned successor %s", m.Name, next.Name)
	}
}

func publishStatus(m *Market, n *Node) {
	if n.OperationsTopic == "" {
		return
	}
	assets := make([]map[string]any, 0, len(n.LocalAssets))
	for _, a := range n.LocalAssets {
		assets = append(assets, a.Status())
	}
	neighbors := make([]map[string]any, 0, len(n.Neighbors))
	for _, nb := range n.Neighbors {
		neighbors = append(neighbors, nb.Status())
	}
	prices := make(map[string]float64, len(m.MarginalPrices))
	for _, iv := range m.MarginalPrices {
		if iv.TimeInterval != nil {
			prices[iv.TimeInterval.Name] = iv.Value
		}
	}
	record := map[string]any{
		"node":            n.Name,
		"market":          m.Name,
		"series":          m.SeriesName,
		"state":           m.State.String(),
		"converged":       m.Converged,
		"marginal_prices": prices,
		"assets":          assets,
		"neighbors":       neighbors,
		"time":            n.Clock.Now().UTC(),
	}
	topic := n.OperationsTopic + "/" + m.SeriesName
	if err := n.Transport.PublishStatus(topic, record); err != nil {
		n.Log.Warnf("market %s: publish status on %s: %v", m.Name, topic, err)
	}
}
