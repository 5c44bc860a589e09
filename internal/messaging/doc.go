// Package messaging classifies inbound broker messages and routes them to
// the provisioning and telemetry services.
//
// Classify turns a topic and payload into exactly one Message variant.
// The Dispatcher runs classification and handling on a bounded worker
// pool fed by the MQTT client's message listener:
//
//	d := messaging.NewDispatcher(provisioner, ingester, messaging.Options{Workers: 4, QueueSize: 256})
//	d.Start(ctx)
//	client.OnMessage(d.Deliver)
//	...
//	d.Close() // drains queued messages
//
// A failed message is logged and counted. It never stops the dispatcher.
package messaging
