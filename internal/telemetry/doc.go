// Package telemetry ingests temperature reports published by devices on
// users/<email>/devices/<mac>/temperature.
//
// Every valid report for a known device is stored; there is no
// deduplication or rate limiting at this layer. Stored readings are then
// fanned out to sinks such as the live websocket stream, the InfluxDB mirror
// and the metrics collectors.
package telemetry
