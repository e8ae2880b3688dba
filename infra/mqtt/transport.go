// Package mqtt connects a node to its neighbors over an MQTT broker.
// Transactive signals and operations records are JSON payloads on
// per-neighbor topics.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	AuthMethod string      `json:"auth_method"`
	QoS        byte        `json:"qos"`
	LWTTopic   string      `json:"lwt_topic"`
	LWTPayload string      `json:"lwt_payload"`
	LWTQoS     byte        `json:"lwt_qos"`
	LWTRetain  bool        `json:"lwt_retain"`
	MaxRetries int         `json:"max_retries"`
	BackoffMS  int         `json:"backoff_ms"`
	TLSConfig  *tls.Config `json:"-"`
}

// SignalHandler consumes a decoded transactive signal.
type SignalHandler func(msg market.SignalMessage)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Transport implements market.Transport over an MQTT broker. Subscriptions
// are replayed on every (re)connect so a broker restart does not silence
// neighbors.
type Transport struct {
	cli pahoClient
	qos byte

	mu       sync.Mutex
	handlers map[string][]SignalHandler

	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewTransport connects to the configured broker.
func NewTransport(cfg Config) (*Transport, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_transport")
	t := &Transport{
		qos:        cfg.QoS,
		handlers:   make(map[string][]SignalHandler),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		log:        log,
	}
	if t.maxRetries <= 0 {
		t.maxRetries = 3
	}
	if t.backoff <= 0 {
		t.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		t.mu.Lock()
		topics := make([]string, 0, len(t.handlers))
		for topic := range t.handlers {
			topics = append(topics, topic)
		}
		t.mu.Unlock()
		for _, topic := range topics {
			if token := c.Subscribe(topic, t.qos, t.onSignal); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe %s: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	t.cli = c
	return t, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// SubscribeSignals registers a handler for transactive signals on the topic.
// Handlers run on the Paho callback goroutine; they must only hand the
// message off, never touch market state.
func (t *Transport) SubscribeSignals(topic string, h SignalHandler) error {
	t.mu.Lock()
	t.handlers[topic] = append(t.handlers[topic], h)
	first := len(t.handlers[topic]) == 1
	t.mu.Unlock()
	if !first {
		return nil
	}
	if token := t.cli.Subscribe(topic, t.qos, t.onSignal); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	t.log.Infof("subscribed to %s", topic)
	return nil
}

func (t *Transport) onSignal(_ paho.Client, msg paho.Message) {
	var sm market.SignalMessage
	if err := json.Unmarshal(msg.Payload(), &sm); err != nil {
		t.log.Errorf("failed to decode signal on %s: %v", msg.Topic(), err)
		return
	}
	t.mu.Lock()
	handlers := append([]SignalHandler(nil), t.handlers[msg.Topic()]...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(sm)
	}
}

// PublishSignal sends a transactive signal, retrying with exponential
// backoff on broker errors.
func (t *Transport) PublishSignal(topic string, msg market.SignalMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.publish(topic, payload); err != nil {
		return err
	}
	t.log.Infof("sent signal %s for market %s on %s", msg.MessageID, msg.Market, topic)
	return nil
}

// PublishStatus sends an operations record.
func (t *Transport) PublishStatus(topic string, status map[string]any) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return t.publish(topic, payload)
}

func (t *Transport) publish(topic string, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		token := t.cli.Publish(topic, t.qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		t.log.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		time.Sleep(t.backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (t *Transport) Disconnect() {
	if t.cli != nil && t.cli.IsConnected() {
		t.cli.Disconnect(250)
	}
}
