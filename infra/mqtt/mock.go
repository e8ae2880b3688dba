package mqtt

import (
	"sync"

	"github.com/kilianp07/transactive/core/market"
)

// MockTransport implements market.Transport in memory. The simulator uses it
// to run a node without a broker, and tests use it to observe outbound
// traffic.
type MockTransport struct {
	mu       sync.Mutex
	signals  map[string][]market.SignalMessage
	statuses map[string][]map[string]any
	handlers map[string][]SignalHandler
}

// NewMockTransport returns an empty in-memory transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		signals:  make(map[string][]market.SignalMessage),
		statuses: make(map[string][]map[string]any),
		handlers: make(map[string][]SignalHandler),
	}
}

func (m *MockTransport) PublishSignal(topic string, msg market.SignalMessage) error {
	m.mu.Lock()
	m.signals[topic] = append(m.signals[topic], msg)
	handlers := append([]SignalHandler(nil), m.handlers[topic]...)
	m.mu.Unlock()
	// Loopback: a handler subscribed to the topic receives the publication,
	// which lets a single process simulate both ends of a signal exchange.
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (m *MockTransport) PublishStatus(topic string, status map[string]any) error {
	m.mu.Lock()
	m.statuses[topic] = append(m.statuses[topic], status)
	m.mu.Unlock()
	return nil
}

// SubscribeSignals registers a handler for signals published on the topic.
func (m *MockTransport) SubscribeSignals(topic string, h SignalHandler) error {
	m.mu.Lock()
	m.handlers[topic] = append(m.handlers[topic], h)
	m.mu.Unlock()
	return nil
}

// Inject delivers a signal to the topic's handlers as if it arrived from the
// broker.
func (m *MockTransport) Inject(topic string, msg market.SignalMessage) {
	m.mu.Lock()
	handlers := append([]SignalHandler(nil), m.handlers[topic]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// Signals returns the messages published on the topic.
func (m *MockTransport) Signals(topic string) []market.SignalMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]market.SignalMessage(nil), m.signals[topic]...)
}

// Statuses returns the operations records published on the topic.
func (m *MockTransport) Statuses(topic string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.statuses[topic]))
	copy(out, m.statuses[topic])
	return out
}
