//go:build integration

package mqtt

import (
	"context"
	"testing"
	"time"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_PublishSubscribeRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "thermolink-integration-test"

	c := New(cfg)
	defer c.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	want := Topics{}.Temperature("it@x.com", "IT:00:01")
	received := make(chan string, 1)
	c.OnMessage(func(topic string, payload []byte) {
		if topic == want {
			received <- string(payload)
		}
	})

	if err := c.Subscribe(ctx, Topics{}.AllTemperature()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Publish(ctx, want, []byte(`{"value":21.5}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"value":21.5}` {
			t.Errorf("received %q", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_UnreachableBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	c := New(cfg)
	defer c.Close() //nolint:errcheck // Test cleanup

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() to a closed port should fail")
	}
	if err := c.Publish(context.Background(), "users/a/devices/b/config", []byte(`{}`)); err == nil {
		t.Fatal("Publish() to an unreachable broker should fail")
	}
}
