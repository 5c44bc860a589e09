package configpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the Publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transport publishes a payload on a topic. *mqtt.Client satisfies it.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Payload is the configuration message understood by device firmware.
// Orientation is 0 or 1, not a JSON boolean.
type Payload struct {
	Contrast          device.Contrast    `json:"contrast"`
	Orientation       int                `json:"orientation"`
	Interval          int                `json:"interval"`
	TempThresholdHigh device.Temperature `json:"temp_threshold_high"`
	TempThresholdLow  device.Temperature `json:"temp_threshold_low"`
}

// NewPayload builds the firmware payload from a stored configuration.
func NewPayload(cfg device.Config) Payload {
	orientation := 0
	if cfg.Orientation {
		orientation = 1
	}
	return Payload{
		Contrast:          cfg.Contrast,
		Orientation:       orientation,
		Interval:          cfg.Interval,
		TempThresholdHigh: cfg.TempThresholdHigh,
		TempThresholdLow:  cfg.TempThresholdLow,
	}
}

// Result reports a configuration change and whether it reached the broker.
// A stored change with Delivered false is a partial success.
type Result struct {
	Device        *device.Device `json:"device"`
	Delivered     bool           `json:"delivered"`
	DeliveryError string         `json:"delivery_error,omitempty"`
}

// BreakerSettings tunes the circuit breaker around publishes.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns the production breaker settings.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// Publisher sends device configuration to the device's config topic.
//
// Publishes go through a circuit breaker: after repeated broker failures
// further publishes fail fast with mqtt.ErrPublishFailed until the open
// timeout passes, instead of each mutation waiting on a dead broker.
type Publisher struct {
	transport Transport
	breaker   *gobreaker.CircuitBreaker
	logger    Logger
	observe   func(delivered bool)
}

// NewPublisher creates a configuration publisher.
func NewPublisher(transport Transport, settings BreakerSettings) *Publisher {
	p := &Publisher{
		transport: transport,
		logger:    noopLogger{},
		observe:   func(bool) {},
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "config-publish",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return p
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// SetObserver registers a callback invoked once per publish attempt.
func (p *Publisher) SetObserver(fn func(delivered bool)) {
	p.observe = fn
}

// BreakerState returns the breaker state name: closed, half-open or open.
func (p *Publisher) BreakerState() string {
	return p.breaker.State().String()
}

// Publish sends dev's current configuration to
// users/<routingKey>/devices/<mac>/config. Failures wrap mqtt.ErrPublishFailed.
func (p *Publisher) Publish(ctx context.Context, dev *device.Device, routingKey string) error {
	payload, err := json.Marshal(NewPayload(dev.Config))
	if err != nil {
		return fmt.Errorf("%w: encoding config: %w", mqtt.ErrPublishFailed, err)
	}
	topic := mqtt.Topics{}.Config(routingKey, dev.MACAddress)

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.transport.Publish(ctx, topic, payload)
	})
	p.observe(err == nil)
	if err != nil {
		p.logger.Warn("config publish failed",
			"device_id", dev.ID,
			"topic", topic,
			"error", err,
		)
		if errors.Is(err, mqtt.ErrPublishFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", mqtt.ErrPublishFailed, err)
	}

	p.logger.Debug("config published", "device_id", dev.ID, "topic", topic)
	return nil
}
