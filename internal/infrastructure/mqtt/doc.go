// Package mqtt owns the single broker connection used by thermolink.
//
// A Client is built once with New, handed to every component that publishes
// or subscribes, and closed once at shutdown. Nothing in this package is
// global.
//
// # Connection lifecycle
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> Connecting ...
//
// The first Connect, Publish or Subscribe opens the connection. Callers that
// arrive while an attempt is pending wait for that attempt rather than
// opening another socket. A failed attempt is returned to every waiter and
// the next call tries again; ConnectWithRetry loops with capped exponential
// backoff for startup. Once connected, paho's auto-reconnect takes over and
// never gives up, and tracked subscriptions are restored on every reconnect.
//
// # Inbound messages
//
// Every message on every subscribed topic goes to all listeners registered
// with OnMessage. Listeners run on paho's delivery goroutine; a panic in one
// is recovered and logged and the remaining listeners still run.
//
// # Topics
//
//	initial_configuration                   device -> core  announcement
//	users/<email>/devices/<mac>/temperature device -> core  reading
//	users/<email>/devices/<mac>/config      core -> device  configuration
//
// # Shutdown
//
// Close refuses new publishes and subscriptions, waits up to
// mqtt.shutdown.drain_timeout seconds for in-flight ones, then disconnects.
package mqtt
