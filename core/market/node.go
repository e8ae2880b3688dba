package market

import (
	"fmt"
	"time"

	"github.com/kilianp07/transactive/core/clock"
	"github.com/kilianp07/transactive/core/events"
	"github.com/kilianp07/transactive/core/logger"
	"github.com/kilianp07/transactive/core/meter"
	"github.com/kilianp07/transactive/internal/eventbus"
)

// LocalAsset is a device or load model local to the node. Markets call it to
// schedule power and refresh flexibility vertices for their active intervals.
type LocalAsset interface {
	Name() string

	// SchedulePower refreshes the asset's scheduled power for every active
	// interval of the market and marks the schedule calculated.
	SchedulePower(m *Market)
	// UpdateVertices refreshes the asset's active flexibility vertices for
	// every active interval of the market.
	UpdateVertices(m *Market)

	// ScheduleCalculated reports whether SchedulePower completed since the
	// last ResetSchedule.
	ScheduleCalculated() bool
	// ResetSchedule clears the calculated flag ahead of a negotiation round.
	ResetSchedule()

	// ActiveVertices returns the asset's flexibility curve for one interval.
	ActiveVertices(m *Market, intervalName string) []*Vertex
	// SetScheduledPower overwrites the asset's scheduled power for one
	// interval, replacing any existing entry.
	SetScheduledPower(m *Market, ti *TimeInterval, power float64)

	// Status returns a serializable snapshot for operations records.
	Status() map[string]any
}

// InformationService supplies interval-keyed predictions (for example
// temperature forecasts) that local assets read while scheduling.
type InformationService interface {
	Name() string
	// UpdateInformation refreshes predictions for the market's intervals.
	UpdateInformation(m *Market) error
	// PredictedValue returns the prediction for the named interval.
	PredictedValue(intervalName string) (float64, bool)
}

// Node is the process-wide container for one transactive agent: its markets,
// neighbors, local assets, meter points and information services. All market
// state is mutated only by the node's own scheduler tick; cross-node
// interaction flows exclusively through transport payloads.
type Node struct {
	Name        string
	Description string
	Mechanism   string

	Markets     []*Market
	Neighbors   []*Neighbor
	LocalAssets []LocalAsset
	MeterPoints []*meter.Point
	Services    []InformationService

	// OperationsTopic is the topic prefix for published status records.
	OperationsTopic string

	Clock     clock.Clock
	Transport Transport
	Bus       *eventbus.Bus[events.Event]
	Log       logger.Logger
}

// NewNode returns a node with the given identity and collaborators. A nil
// clock, transport, bus or logger is replaced by an inert default.
func NewNode(name string, clk clock.Clock, tr Transport, log logger.Logger) *Node {
	if clk == nil {
		clk = clock.Real{}
	}
	if tr == nil {
		tr = NopTransport{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Node{
		Name:      name,
		Mechanism: "consensus",
		Clock:     clk,
		Transport: tr,
		Bus:       eventbus.New[events.Event](),
		Log:       log,
	}
}

func (n *Node) publish(e events.Event) {
	if n.Bus != nil {
		n.Bus.Publish(e)
	}
}

// AddMarket registers a market and hands it the node's logger if it has none.
func (n *Node) AddMarket(m *Market) {
	if m.log == nil {
		m.log = n.Log
	}
	n.Markets = append(n.Markets, m)
}

// MarketByName returns the named market, or nil.
func (n *Node) MarketByName(name string) *Market {
	for _, m := range n.Markets {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// NewestInSeries returns the market carrying the newest-market flag for the
// series, or nil. At most one market per series carries the flag at any
// instant.
func (n *Node) NewestInSeries(series string) *Market {
	for _, m := range n.Markets {
		if m.SeriesName == series && m.IsNewest {
			return m
		}
	}
	return nil
}

// MarketInSeries returns the market of the series clearing at the given
// instant, or nil. (series, clearingTime) is unique across the registry.
func (n *Node) MarketInSeries(series string, clearing time.Time) *Market {
	for _, m := range n.Markets {
		if m.SeriesName == series && m.ClearingTime.Equal(clearing) {
			return m
		}
	}
	return nil
}

// AssetByName returns the named local asset, or an error: a missing named
// dependency is a configuration error and fatal at configuration time.
func (n *Node) AssetByName(name string) (LocalAsset, error) {
	for _, a := range n.LocalAssets {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("local asset %s is not available", name)
}

// ServiceByName returns the named information service, or an error.
func (n *Node) ServiceByName(name string) (InformationService, error) {
	for _, s := range n.Services {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("information service %s is not available", name)
}

// MeterByName returns the named meter point, or an error.
func (n *Node) MeterByName(name string) (*meter.Point, error) {
	for _, mp := range n.MeterPoints {
		if mp.Name() == name {
			return mp, nil
		}
	}
	return nil, fmt.Errorf("meter point %s is not available", name)
}

// NeighborByName returns the named neighbor, or nil.
func (n *Node) NeighborByName(name string) *Neighbor {
	for _, nb := range n.Neighbors {
		if nb.Name == name {
			return nb
		}
	}
	return nil
}

// PruneExpired removes expired markets from the active set. The scheduler
// calls it at the end of the tick that observed the Expired state.
func (n *Node) PruneExpired() []*Market {
	var removed []*Market
	kept := n.Markets[:0]
	for _, m := range n.Markets {
		if m.State == Expired {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, m)
	}
	n.Markets = kept
	return removed
}
