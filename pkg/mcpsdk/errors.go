package mcpsdk

import "errors"

var (
	ErrNotConnected     = errors.New("client not connected")
	ErrNoForwarder      = errors.New("mcp forwarder not configured")
	ErrConnectionClosed = errors.New("connection closed")
	ErrNoToken          = errors.New("no session token available")
	ErrSessionOffline   = errors.New("session is offline")
)
