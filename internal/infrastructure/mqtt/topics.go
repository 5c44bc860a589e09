package mqtt

import (
	"fmt"
	"strings"
)

// Topic grammar. Literal segments are case-sensitive.
const (
	// TopicInitialConfiguration is where devices announce themselves.
	TopicInitialConfiguration = "initial_configuration"

	// TopicPrefixUsers is the first segment of every per-device topic.
	TopicPrefixUsers = "users"

	segmentDevices     = "devices"
	segmentTemperature = "temperature"
	segmentConfig      = "config"
)

// Topics provides builders for device topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Config("a@x.com", "AA:BB:CC")
//	// Returns: "users/a@x.com/devices/AA:BB:CC/config"
type Topics struct{}

// Temperature returns the topic a device publishes readings on.
//
// Example: users/a@x.com/devices/AA:BB:CC/temperature
func (Topics) Temperature(routingKey, mac string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicPrefixUsers, routingKey, segmentDevices, mac, segmentTemperature)
}

// Config returns the topic a device receives its configuration on.
//
// Example: users/a@x.com/devices/AA:BB:CC/config
func (Topics) Config(routingKey, mac string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicPrefixUsers, routingKey, segmentDevices, mac, segmentConfig)
}

// InitialConfiguration returns the device announcement topic.
func (Topics) InitialConfiguration() string {
	return TopicInitialConfiguration
}

// AllTemperature returns a pattern matching every device's temperature topic.
//
// Pattern: users/+/devices/+/temperature
func (Topics) AllTemperature() string {
	return fmt.Sprintf("%s/+/%s/+/%s", TopicPrefixUsers, segmentDevices, segmentTemperature)
}

// ParseTemperatureTopic extracts the routing key and MAC address from a
// temperature topic. ok is false for any other topic shape.
func ParseTemperatureTopic(topic string) (routingKey, mac string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 { //nolint:mnd // users/<key>/devices/<mac>/temperature
		return "", "", false
	}
	if parts[0] != TopicPrefixUsers || parts[2] != segmentDevices || parts[4] != segmentTemperature {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// ValidatePublishTopic rejects empty topics and topics containing wildcards.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}
