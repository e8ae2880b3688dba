package market

// State enumerates the lifecycle states of a market object. Transitions are
// strictly forward; a market never revisits a state.
type State int

const (
	Inactive State = iota
	Active
	Negotiation
	MarketLead
	DeliveryLead
	Delivery
	Reconcile
	Expired
)

var stateNames = [...]string{
	"inactive",
	"active",
	"negotiation",
	"market_lead",
	"delivery_lead",
	"delivery",
	"reconcile",
	"expired",
}

func (s State) String() string {
	if s < Inactive || s > Expired {
		return "unknown"
	}
	return stateNames[s]
}

// Kind identifies the behavior set installed on a market.
type Kind int

const (
	KindAuction Kind = iota
	KindDayAheadAuction
	KindRealTimeAuction
)

func (k Kind) String() string {
	switch k {
	case KindDayAheadAuction:
		return "day_ahead_auction"
	case KindRealTimeAuction:
		return "real_time_auction"
	default:
		return "auction"
	}
}

// Direction locates a neighbor relative to this node in the distribution
// hierarchy: upstream toward generation, downstream toward demand.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionUpstream
	DirectionDownstream
)

func (d Direction) String() string {
	switch d {
	case DirectionUpstream:
		return "upstream"
	case DirectionDownstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// ParseDirection maps a configuration string onto a Direction. Unrecognized
// values map to DirectionUnknown; the market auto-corrects those to
// downstream with a warning rather than failing.
func ParseDirection(s string) Direction {
	switch s {
	case "upstream":
		return DirectionUpstream
	case "downstream":
		return DirectionDownstream
	default:
		return DirectionUnknown
	}
}

// MeasurementType tags the quantity held by an IntervalValue.
type MeasurementType int

const (
	MeasurementUnknown MeasurementType = iota
	MeasurementScheduledPower
	MeasurementActiveVertex
	MeasurementMarginalPrice
	MeasurementPredictedValue
	MeasurementTemperature
)

func (m MeasurementType) String() string {
	switch m {
	case MeasurementScheduledPower:
		return "scheduled_power"
	case MeasurementActiveVertex:
		return "active_vertex"
	case MeasurementMarginalPrice:
		return "marginal_price"
	case MeasurementPredictedValue:
		return "predicted_value"
	case MeasurementTemperature:
		return "temperature"
	default:
		return "unknown"
	}
}
