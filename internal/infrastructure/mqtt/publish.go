package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize caps outbound payloads at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends a non-retained message with the configured QoS, connecting
// first if needed.
//
// Every failure, including an unreachable broker, is returned wrapped in
// ErrPublishFailed; nothing is dropped silently. Publishes started before
// Close are allowed to finish within the drain timeout.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ValidatePublishTopic(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return fmt.Errorf("%w: %w", ErrPublishFailed, ErrInvalidQoS)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	done, err := c.beginOperation()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	defer done()

	client, err := c.connectedClient(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	// paho queues or drops QoS 0 publishes on a closed socket without error.
	if !client.IsConnectionOpen() {
		return fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotConnected)
	}

	token := client.Publish(topic, byte(c.cfg.QoS), false, payload)
	if err := waitToken(ctx, token, defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
