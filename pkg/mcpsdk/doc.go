// Package mcpsdk maintains a persistent, authenticated websocket session to
// an MCP gateway: it receives signed request envelopes, forwards them to a
// downstream MCP server and returns signed, correlated responses.
//
// # Basic usage
//
//	cfg := mcpsdk.DefaultConfig("https://gw.example.com", accessID, accessSecret)
//	cfg.MCPServerEndpoint = "http://localhost:3000/sse"
//
//	client := mcpsdk.New(cfg)
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	if err := client.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Session lifecycle
//
// The connection engine drives a small state machine: Disconnected,
// Connecting, Connected, Reconnecting and the terminal Offline. Transport
// failures trigger reconnection with a forced token refresh and exponential
// backoff (base 1s, cap 120s). The gateway can steer the session with two
// control methods: root/migrate forces an immediate reconnect and
// root/kickout terminates the session permanently.
//
// # Message protocol
//
// Both directions carry JSON envelopes:
//
//	{"request_id", "endpoint", "version", "method", "ts", "request"|"response", "sign"}
//
// Every envelope is signed with HMAC-SHA256 keyed by the current session
// token. Frames that fail decoding or signature verification are dropped
// without affecting the session.
package mcpsdk
