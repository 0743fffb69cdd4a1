//go:build integration

package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/venus-bridge/internal/infrastructure/config"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	client, err := Connect(integrationConfig(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_ConnectAndClose(t *testing.T) {
	client, err := Connect(integrationConfig("venusbridge-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
	if err := client.Publish("vessels/self/x", []byte("1"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestIntegration_BrokerRefused(t *testing.T) {
	cfg := integrationConfig("venusbridge-int-refused")
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connect(t, "venusbridge-int-sub-track")
	handler := func(string, []byte) error { return nil }

	topics := []string{
		Topics{}.SignalKSelf("int/"),
		Topics{}.SignalKDelta("int/"),
	}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if n := client.SubscriptionCount(); n != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", n)
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) || !client.HasSubscription(topics[1]) {
		t.Error("subscription tracking wrong after Unsubscribe")
	}
}

// TestIntegration_SignalKPathsInOrder publishes a burst of per-path values
// and expects them back through the wildcard subscription in order.
func TestIntegration_SignalKPathsInOrder(t *testing.T) {
	pub := connect(t, "venusbridge-int-pub")
	sub := connect(t, "venusbridge-int-sub")

	const prefix = "int-order/"
	var (
		mu  sync.Mutex
		got []string
	)
	all := make(chan struct{})
	paths := []string{
		"electrical.batteries.house.voltage",
		"electrical.batteries.house.current",
		"tanks.freshWater.0.currentLevel",
		"environment.inside.temperature",
	}

	err := sub.Subscribe(Topics{}.SignalKSelf(prefix), 1, func(topic string, _ []byte) error {
		path, ok := Topics{}.PathFromTopic(prefix, topic)
		if !ok {
			return errors.New("foreign topic")
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, path)
		if len(got) == len(paths) {
			close(all)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	for _, p := range paths {
		if err := pub.Publish(Topics{}.SignalKPath(prefix, p), []byte("1"), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", p, err)
		}
	}

	select {
	case <-all:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for messages")
	}
	for i, p := range paths {
		if got[i] != p {
			t.Errorf("message %d = %s, want %s", i, got[i], p)
		}
	}
}

func TestIntegration_CallbacksCanBeCleared(t *testing.T) {
	client := connect(t, "venusbridge-int-callbacks")

	client.SetOnConnect(func() {})
	client.SetOnDisconnect(func(error) {})
	client.SetOnConnect(nil)
	client.SetOnDisconnect(nil)

	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}
