package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	z "github.com/Oudwins/zog"

	"github.com/nerrad567/thermolink-core/internal/account"
	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/mqtt"
)

// ErrMalformedMessage marks a payload that is not JSON or has the wrong shape.
var ErrMalformedMessage = errors.New("messaging: malformed message")

// ErrUnknownTopic marks a topic outside the device topic grammar.
var ErrUnknownTopic = errors.New("messaging: unrecognized topic")

// Kind identifies a message variant.
type Kind string

// Message kinds. Every inbound message is exactly one of these.
const (
	KindInitialConfiguration Kind = "initial_configuration"
	KindTemperatureReport    Kind = "temperature_report"
	KindUnrecognized         Kind = "unrecognized"
)

// Message is the closed set of classified inbound messages:
// InitialConfiguration, TemperatureReport and Unrecognized.
type Message interface {
	Kind() Kind
	sealed()
}

// InitialConfiguration is a device announcement.
type InitialConfiguration struct {
	UserEmail  string
	MACAddress string
	SecretCode string
}

// TemperatureReport is a reading published by a device.
type TemperatureReport struct {
	RoutingKey string
	MACAddress string
	Value      device.Temperature
	Timestamp  time.Time // zero if the device did not supply one
}

// Unrecognized is any message that is dropped. Reason wraps
// ErrUnknownTopic or ErrMalformedMessage.
type Unrecognized struct {
	Topic  string
	Reason error
}

func (InitialConfiguration) Kind() Kind { return KindInitialConfiguration }
func (TemperatureReport) Kind() Kind    { return KindTemperatureReport }
func (Unrecognized) Kind() Kind         { return KindUnrecognized }

func (InitialConfiguration) sealed() {}
func (TemperatureReport) sealed()    {}
func (Unrecognized) sealed()         {}

// Classify maps a topic and raw payload to exactly one message variant.
// It never fails: anything that cannot be used becomes Unrecognized.
func Classify(topic string, payload []byte) Message {
	if topic == mqtt.TopicInitialConfiguration {
		msg, err := parseInitialConfiguration(payload)
		if err != nil {
			return Unrecognized{Topic: topic, Reason: err}
		}
		return msg
	}

	if key, mac, ok := mqtt.ParseTemperatureTopic(topic); ok {
		msg, err := parseTemperatureReport(payload)
		if err != nil {
			return Unrecognized{Topic: topic, Reason: err}
		}
		msg.RoutingKey = key
		msg.MACAddress = mac
		return msg
	}

	return Unrecognized{Topic: topic, Reason: fmt.Errorf("%w: %q", ErrUnknownTopic, topic)}
}

type initialConfigurationPayload struct {
	UserEmail  string `json:"userEmail"`
	MACAddress string `json:"macAddress"`
	SecretCode string `json:"secretCode"`
}

var initialConfigurationSchema = z.Struct(z.Shape{
	"UserEmail":  z.String().Min(1).Required(z.Message("userEmail is required")),
	"MACAddress": z.String().Min(1).Required(z.Message("macAddress is required")),
	"SecretCode": z.String().Min(1).Required(z.Message("secretCode is required")),
})

func parseInitialConfiguration(payload []byte) (InitialConfiguration, error) {
	var p initialConfigurationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return InitialConfiguration{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if issues := initialConfigurationSchema.Validate(&p); len(issues) > 0 {
		return InitialConfiguration{}, fmt.Errorf("%w: %v", ErrMalformedMessage, issues)
	}
	if err := account.ValidateEmail(p.UserEmail); err != nil {
		return InitialConfiguration{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if err := device.ValidateMAC(p.MACAddress); err != nil {
		return InitialConfiguration{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return InitialConfiguration(p), nil
}

type temperaturePayload struct {
	Value     *float64        `json:"value"`
	Timestamp json.RawMessage `json:"timestamp"`
}

var temperatureValueSchema = z.Float64().
	GTE(-999.9, z.Message("value below -999.9")).
	LTE(999.9, z.Message("value above 999.9"))

func parseTemperatureReport(payload []byte) (TemperatureReport, error) {
	var p temperaturePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return TemperatureReport{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if p.Value == nil {
		return TemperatureReport{}, fmt.Errorf("%w: value is required", ErrMalformedMessage)
	}
	if issues := temperatureValueSchema.Validate(p.Value); len(issues) > 0 {
		return TemperatureReport{}, fmt.Errorf("%w: %v", ErrMalformedMessage, issues)
	}

	value, err := device.TemperatureFromFloat(*p.Value)
	if err != nil {
		return TemperatureReport{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return TemperatureReport{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return TemperatureReport{Value: value, Timestamp: ts}, nil
}

// parseTimestamp accepts an RFC 3339 string or unix seconds. Absent or
// null yields the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		return parsed.UTC(), nil
	case float64:
		if t <= 0 || math.IsInf(t, 0) || math.IsNaN(t) {
			return time.Time{}, fmt.Errorf("timestamp: %v out of range", t)
		}
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("timestamp: unsupported type %T", v)
	}
}
