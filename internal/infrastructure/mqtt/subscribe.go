package mqtt

import (
	"context"
	"fmt"
)

// Subscribe subscribes to a topic pattern with the configured QoS,
// connecting first if needed. Messages are delivered to the listeners
// registered with OnMessage.
//
// Subscriptions are tracked and restored after every reconnect.
// Subscribe fails with ErrClosed once Close has been called.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrInvalidTopic)
	}
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrInvalidQoS)
	}

	done, err := c.beginOperation()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	defer done()

	client, err := c.connectedClient(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	qos := byte(c.cfg.QoS)
	c.subMu.Lock()
	c.subscriptions[topic] = qos
	c.subMu.Unlock()

	token := client.Subscribe(topic, qos, c.dispatch)
	if err := waitToken(ctx, token, defaultOperationTimeout); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact topic string.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
