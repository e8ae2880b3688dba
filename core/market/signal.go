package market

// TransactiveRecord is one point of a sender's aggregated supply/demand curve
// for one time interval. Records are the payload unit exchanged between
// neighbor nodes.
type TransactiveRecord struct {
	TimeInterval     string  `json:"time_interval"`
	MarginalPrice    float64 `json:"marginal_price"`
	Power            float64 `json:"power"`
	PowerUncertainty float64 `json:"power_uncertainty,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
	Record           int     `json:"record"`
}

// SignalMessage is the wire message carrying a set of transactive records to
// a peer node. RealTime marks corrections published by real-time markets.
type SignalMessage struct {
	MessageID string              `json:"message_id"`
	Source    string              `json:"source"`
	Market    string              `json:"market"`
	RealTime  bool                `json:"real_time"`
	Curves    []TransactiveRecord `json:"curves"`
}

// Transport publishes signals and status records to the message bus
// connecting neighbor nodes. The concrete transport lives outside the core.
type Transport interface {
	// PublishSignal sends a transactive signal on the given topic.
	PublishSignal(topic string, msg SignalMessage) error
	// PublishStatus sends an operations record on the given topic.
	PublishStatus(topic string, status map[string]any) error
}

// NopTransport discards everything. It stands in when a node runs without a
// message bus, e.g. in tests of purely local behavior.
type NopTransport struct{}

func (NopTransport) PublishSignal(string, SignalMessage) error  { return nil }
func (NopTransport) PublishStatus(string, map[string]any) error { return nil }
