package market

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/transactive/core/logger"
)

// NeighborConfig defines one peer relationship.
type NeighborConfig struct {
	Name        string
	Direction   string
	Transactive bool
	Location    string

	MaximumPower float64
	MinimumPower float64
	LossFactor   float64

	ConvergenceThreshold float64
	DefaultVertices      []*Vertex

	PublishTopic   string
	SubscribeTopic string
}

// Neighbor models a peer transactive node connected upstream or downstream.
// It keeps the per-interval record of signals sent to and received from the
// peer, converts received curves into active vertices, and schedules its own
// power at cleared prices. Received curves arrive asynchronously from the
// transport into a mailbox; ReceiveTransactiveSignal drains the mailbox under
// the market tick.
type Neighbor struct {
	Name        string
	Direction   Direction
	Transactive bool
	Location    string

	MaximumPower float64
	MinimumPower float64
	LossFactor   float64

	ConvergenceThreshold float64
	DefaultVertices      []*Vertex

	PublishTopic   string
	SubscribeTopic string

	// ReceivedSignal holds the accepted records keyed one per interval name.
	ReceivedSignal []*TransactiveRecord
	// SentSignal holds the records most recently published to the peer.
	SentSignal []*TransactiveRecord

	ScheduledPowers []*IntervalValue[float64]
	ActiveVertices  []*IntervalValue[*Vertex]

	mu      sync.Mutex
	mailbox []TransactiveRecord

	log logger.Logger
}

// NewNeighbor builds a neighbor from its configuration. An unrecognized
// direction is kept as unknown here; markets coerce it to downstream with a
// warning when they first partition their neighbors.
func NewNeighbor(cfg NeighborConfig, log logger.Logger) *Neighbor {
	if log == nil {
		log = logger.Nop{}
	}
	return &Neighbor{
		Name:                 cfg.Name,
		Direction:            ParseDirection(cfg.Direction),
		Transactive:          cfg.Transactive,
		Location:             cfg.Location,
		MaximumPower:         cfg.MaximumPower,
		MinimumPower:         cfg.MinimumPower,
		LossFactor:           cfg.LossFactor,
		ConvergenceThreshold: cfg.ConvergenceThreshold,
		DefaultVertices:      cfg.DefaultVertices,
		PublishTopic:         cfg.PublishTopic,
		SubscribeTopic:       cfg.SubscribeTopic,
		log:                  log,
	}
}

// Deliver accepts curves arriving from the transport. It is the only
// neighbor entry point called off the node's tick goroutine.
func (nb *Neighbor) Deliver(msg SignalMessage) {
	nb.mu.Lock()
	nb.mailbox = append(nb.mailbox, msg.Curves...)
	nb.mu.Unlock()
	nb.log.Debugf("neighbor %s: received %d curve records from %s", nb.Name, len(msg.Curves), msg.Source)
}

// ReceiveTransactiveSignal drains the mailbox into the per-interval received
// record set, replacing older records for the same interval. Markets call it
// every tick an expected record is missing; draining an empty mailbox is the
// retry's no-op.
func (nb *Neighbor) ReceiveTransactiveSignal(n *Node, m *Market) {
	nb.mu.Lock()
	pending := nb.mailbox
	nb.mailbox = nil
	nb.mu.Unlock()

	for i := range pending {
		rec := pending[i]
		replaced := false
		for j, old := range nb.ReceivedSignal {
			if old.TimeInterval == rec.TimeInterval {
				nb.ReceivedSignal[j] = &rec
				replaced = true
				break
			}
		}
		if !replaced {
			nb.ReceivedSignal = append(nb.ReceivedSignal, &rec)
		}
	}
	nb.pruneReceived(n)
}

// pruneReceived drops received records no active market can use anymore. A
// record's interval name encodes its start time; one starting before every
// interval still held by a live market belongs to an expired clearing cycle,
// and without this the set would grow by one record per rolled-forward
// interval forever.
func (nb *Neighbor) pruneReceived(n *Node) {
	var oldest time.Time
	found := false
	for _, m := range n.Markets {
		if m.State == Expired {
			continue
		}
		for _, ti := range m.TimeIntervals {
			if !found || ti.StartTime.Before(oldest) {
				oldest = ti.StartTime
				found = true
			}
		}
	}
	if !found {
		return
	}
	out := nb.ReceivedSignal[:0]
	for _, rec := range nb.ReceivedSignal {
		start, err := time.Parse(intervalNameLayout, rec.TimeInterval)
		if err == nil && start.Before(oldest) {
			continue
		}
		out = append(out, rec)
	}
	nb.ReceivedSignal = out
}

// ReceivedIntervalNames returns the interval names present in the received
// record set. The set is kept per neighbor, not per market, so a record for
// a day-ahead interval also satisfies a real-time market whose sub-interval
// shares the same start time; the refinement then overwrites it with the
// peer's corrective record on arrival.
func (nb *Neighbor) ReceivedIntervalNames() map[string]struct{} {
	names := make(map[string]struct{}, len(nb.ReceivedSignal))
	for _, rec := range nb.ReceivedSignal {
		names[rec.TimeInterval] = struct{}{}
	}
	return names
}

// MissingIntervals lists the market's active intervals lacking a received
// record, in interval order.
func (nb *Neighbor) MissingIntervals(m *Market) []string {
	have := nb.ReceivedIntervalNames()
	var missing []string
	for _, ti := range m.TimeIntervals {
		if _, ok := have[ti.Name]; !ok {
			missing = append(missing, ti.Name)
		}
	}
	return missing
}

// UpdateVertices converts the received record set into the neighbor's active
// vertices for the market's intervals. Intervals without records fall back to
// the configured default vertices.
func (nb *Neighbor) UpdateVertices(m *Market) {
	for _, ti := range m.TimeIntervals {
		var verts []*Vertex
		for _, rec := range nb.ReceivedSignal {
			if rec.TimeInterval != ti.Name {
				continue
			}
			verts = append(verts, &Vertex{
				MarginalPrice:    rec.MarginalPrice,
				Power:            rec.Power,
				PowerUncertainty: rec.PowerUncertainty,
				ProductionCost:   rec.Cost,
				Continuity:       true,
				Record:           rec.Record,
			})
		}
		if len(verts) == 0 {
			verts = nb.DefaultVertices
		}
		nb.ActiveVertices = RemoveByInterval(nb.ActiveVertices, m, ti.Name)
		for _, v := range verts {
			nb.ActiveVertices = append(nb.ActiveVertices, &IntervalValue[*Vertex]{
				TimeInterval: ti,
				Market:       m,
				Kind:         MeasurementActiveVertex,
				Value:        v,
			})
		}
	}
	nb.ActiveVertices = PruneExpired(nb.ActiveVertices)
}

// IntervalVertices returns the neighbor's active vertex curve for one
// interval of the market.
func (nb *Neighbor) IntervalVertices(m *Market, intervalName string) []*Vertex {
	var out []*Vertex
	for _, iv := range nb.ActiveVertices {
		if iv.Market == m && iv.TimeInterval.Name == intervalName {
			out = append(out, iv.Value)
		}
	}
	return out
}

// SchedulePower interpolates the neighbor's power at each interval's
// marginal price and stores it with find-and-replace semantics.
func (nb *Neighbor) SchedulePower(m *Market) {
	for _, ti := range m.TimeIntervals {
		price := m.MarginalPrice(ti.Name)
		power := Production(nb.IntervalVertices(m, ti.Name), price)
		var dups int
		nb.ScheduledPowers, dups = SetIntervalValue(nb.ScheduledPowers, ti, m, MeasurementScheduledPower, power)
		if dups > 1 {
			nb.log.Warnf("duplicate scheduled power found for neighbor %s in time interval %s", nb.Name, ti.Name)
		}
	}
	nb.ScheduledPowers = PruneExpired(nb.ScheduledPowers)
}

// PrepTransactiveSignal builds the records to send to this neighbor: the
// node's aggregate curve over every participant except the neighbor itself,
// sampled at the distinct marginal prices of the contributing vertices.
func (nb *Neighbor) PrepTransactiveSignal(m *Market, n *Node) {
	var prepared []*TransactiveRecord
	for _, ti := range m.TimeIntervals {
		var curves [][]*Vertex
		for _, a := range n.LocalAssets {
			if vs := a.ActiveVertices(m, ti.Name); len(vs) > 0 {
				curves = append(curves, vs)
			}
		}
		for _, other := range n.Neighbors {
			if other == nb {
				continue
			}
			if vs := other.IntervalVertices(m, ti.Name); len(vs) > 0 {
				curves = append(curves, vs)
			}
		}
		prices := candidatePrices(curves)
		if len(prices) == 0 {
			prices = []float64{m.MarginalPrice(ti.Name)}
		}
		for i, p := range prices {
			var power float64
			for _, curve := range curves {
				power += Production(curve, p)
			}
			prepared = append(prepared, &TransactiveRecord{
				TimeInterval:  ti.Name,
				MarginalPrice: p,
				// The signal states what the node wants to exchange with the
				// peer: the negated local balance.
				Power:  -power,
				Record: i,
			})
		}
	}
	sort.SliceStable(prepared, func(i, j int) bool {
		if prepared[i].TimeInterval == prepared[j].TimeInterval {
			return prepared[i].MarginalPrice < prepared[j].MarginalPrice
		}
		return prepared[i].TimeInterval < prepared[j].TimeInterval
	})
	nb.SentSignal = prepared
}

// SendTransactiveSignal publishes the prepared records to the given topic.
func (nb *Neighbor) SendTransactiveSignal(m *Market, n *Node, topic string) error {
	curves := make([]TransactiveRecord, len(nb.SentSignal))
	for i, rec := range nb.SentSignal {
		curves[i] = *rec
	}
	msg := SignalMessage{
		MessageID: uuid.NewString(),
		Source:    n.Name,
		Market:    m.Name,
		RealTime:  m.Kind == KindRealTimeAuction,
		Curves:    curves,
	}
	if err := n.Transport.PublishSignal(topic, msg); err != nil {
		return err
	}
	nb.log.Infof("neighbor %s: sent %d records on %s for market %s", nb.Name, len(curves), topic, m.Name)
	return nil
}

// Status returns a serializable snapshot for operations records.
func (nb *Neighbor) Status() map[string]any {
	recs := func(rs []*TransactiveRecord) []map[string]any {
		out := make([]map[string]any, 0, len(rs))
		for _, r := range rs {
			out = append(out, map[string]any{
				"time_interval":  r.TimeInterval,
				"marginal_price": r.MarginalPrice,
				"power":          r.Power,
			})
		}
		return out
	}
	return map[string]any{
		"name":            nb.Name,
		"direction":       nb.Direction.String(),
		"transactive":     nb.Transactive,
		"sent_signal":     recs(nb.SentSignal),
		"received_signal": recs(nb.ReceivedSignal),
	}
}
