package configpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/mqtt"
)

type sent struct {
	topic   string
	payload []byte
}

type recordingTransport struct {
	sent []sent
	err  error
}

func (r *recordingTransport) Publish(_ context.Context, topic string, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{topic: topic, payload: payload})
	return nil
}

func testDevice() *device.Device {
	cfg := device.DefaultConfig()
	cfg.TempThresholdHigh = 250
	return &device.Device{ID: "dev-1", MACAddress: "AA:BB:CC", Config: cfg}
}

func TestPublisher_PublishesAllFields(t *testing.T) {
	transport := &recordingTransport{}
	p := NewPublisher(transport, DefaultBreakerSettings())

	if err := p.Publish(t.Context(), testDevice(), "a@x.com"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("publishes = %d, want 1", len(transport.sent))
	}

	msg := transport.sent[0]
	if msg.topic != "users/a@x.com/devices/AA:BB:CC/config" {
		t.Errorf("topic = %q", msg.topic)
	}

	want := `{"contrast":"medium","orientation":0,"interval":4000,"temp_threshold_high":25.0,"temp_threshold_low":19.0}`
	if string(msg.payload) != want {
		t.Errorf("payload = %s, want %s", msg.payload, want)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(decoded) != 5 {
		t.Errorf("payload has %d fields, want 5", len(decoded))
	}
}

func TestNewPayload_OrientationAsInteger(t *testing.T) {
	cfg := device.DefaultConfig()
	cfg.Orientation = true
	if got := NewPayload(cfg).Orientation; got != 1 {
		t.Errorf("Orientation = %d, want 1", got)
	}
	cfg.Orientation = false
	if got := NewPayload(cfg).Orientation; got != 0 {
		t.Errorf("Orientation = %d, want 0", got)
	}
}

func TestPublisher_FailureWrapsPublishFailed(t *testing.T) {
	transport := &recordingTransport{err: errors.New("broker unreachable")}
	p := NewPublisher(transport, DefaultBreakerSettings())

	var observed []bool
	p.SetObserver(func(ok bool) { observed = append(observed, ok) })

	err := p.Publish(t.Context(), testDevice(), "a@x.com")
	if !errors.Is(err, mqtt.ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
	if len(observed) != 1 || observed[0] {
		t.Errorf("observed = %v, want [false]", observed)
	}
}

func TestPublisher_TransportErrorWrappedOnce(t *testing.T) {
	transport := &recordingTransport{err: fmt.Errorf("%w: %w", mqtt.ErrPublishFailed, mqtt.ErrNotConnected)}
	p := NewPublisher(transport, DefaultBreakerSettings())

	err := p.Publish(t.Context(), testDevice(), "a@x.com")
	if !errors.Is(err, mqtt.ErrPublishFailed) || !errors.Is(err, mqtt.ErrNotConnected) {
		t.Fatalf("Publish() error = %v, want ErrPublishFailed with ErrNotConnected", err)
	}
	if n := strings.Count(err.Error(), mqtt.ErrPublishFailed.Error()); n != 1 {
		t.Errorf("Publish() error = %q mentions %q %d times, want once", err, mqtt.ErrPublishFailed, n)
	}
}

func TestPublisher_BreakerOpensAndRecovers(t *testing.T) {
	transport := &recordingTransport{err: errors.New("broker unreachable")}
	p := NewPublisher(transport, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: 50 * time.Millisecond})
	ctx := t.Context()

	for range 2 {
		if err := p.Publish(ctx, testDevice(), "a@x.com"); err == nil {
			t.Fatal("Publish() should fail while the broker is down")
		}
	}
	if got := p.BreakerState(); got != "open" {
		t.Fatalf("BreakerState() = %q, want open", got)
	}

	transport.err = nil
	err := p.Publish(ctx, testDevice(), "a@x.com")
	if !errors.Is(err, gobreaker.ErrOpenState) || !errors.Is(err, mqtt.ErrPublishFailed) {
		t.Errorf("Publish() while open error = %v, want open state wrapped in ErrPublishFailed", err)
	}
	if len(transport.sent) != 0 {
		t.Errorf("open breaker should not reach the transport")
	}

	time.Sleep(80 * time.Millisecond)
	if err := p.Publish(ctx, testDevice(), "a@x.com"); err != nil {
		t.Fatalf("Publish() after open timeout error = %v", err)
	}
	if got := p.BreakerState(); got != "closed" {
		t.Errorf("BreakerState() = %q, want closed after a successful trial publish", got)
	}
}
