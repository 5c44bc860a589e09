// Package api provides the HTTP REST API and WebSocket stream for account
// clients.
//
// All device routes live under /api/v1/devices and require a bearer token
// whose subject is the calling account ID. Each operation is delegated to
// the management service, which rejects accounts not linked to the device.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Live readings are pushed over /api/v1/ws?token=... to clients subscribed
// to device.<id>.temperature channels. The Hub receives readings as a
// telemetry sink.
package api
