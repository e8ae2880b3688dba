package mqtt

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/transactive/core/market"
)

// TestIntegration verifies signal exchange between two transports through a
// real Mosquitto broker.
func TestIntegration(t *testing.T) {
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %v", err)
		}
	}()

	// give broker time to fully start
	time.Sleep(500 * time.Millisecond)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	connect := func(id string) *Transport {
		var tr *Transport
		var connectErr error
		for i := 0; i < 5; i++ {
			tr, connectErr = NewTransport(Config{Broker: broker, ClientID: id})
			if connectErr == nil {
				return tr
			}
			time.Sleep(500 * time.Millisecond)
		}
		t.Fatalf("failed to connect %s: %v", id, connectErr)
		return nil
	}

	sender := connect("sender")
	defer sender.Disconnect()
	receiver := connect("receiver")
	defer receiver.Disconnect()

	received := make(chan market.SignalMessage, 1)
	if err := receiver.SubscribeSignals("tn/node2/signal", func(m market.SignalMessage) { received <- m }); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	msg := market.SignalMessage{
		MessageID: "it-1",
		Source:    "node1",
		Market:    "dayahead_20260310T000000",
		Curves:    []market.TransactiveRecord{{TimeInterval: "20260310T010000", MarginalPrice: 0.05, Power: -4}},
	}
	if err := sender.PublishSignal("tn/node2/signal", msg); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case got := <-received:
		if got.MessageID != "it-1" || len(got.Curves) != 1 {
			t.Fatalf("received %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for signal")
	}
}
