package mcpsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudbridge-io/mcp-sdk-go/pkg/auth"
)

// State is the connection lifecycle state. StateOffline is terminal: it is
// entered on kickout and left only through a brand-new Connect.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Handler processes one inbound request envelope. It runs on the receive
// goroutine; returning an error produces an error-payload response instead
// of breaking the loop. A nil response suppresses the reply.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// TokenProvider supplies session tokens and the signed dial material.
// Implemented by auth.Manager.
type TokenProvider interface {
	Current() (auth.TokenData, bool)
	Refresh(ctx context.Context, force bool) (auth.TokenData, error)
	SessionURL(clientID string) (string, error)
	ConnectHeaders(token auth.TokenData) (http.Header, error)
}

type ConnConfig struct {
	BaseReconnectInterval time.Duration
	MaxReconnectInterval  time.Duration
	HandshakeTimeout      time.Duration
	Logger                *slog.Logger
}

func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		BaseReconnectInterval: time.Second,
		MaxReconnectInterval:  120 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		Logger:                slog.Default(),
	}
}

// Conn owns the websocket session: the receive loop, control-method
// dispatch, response signing and the reconnection state machine.
type Conn struct {
	cfg       ConnConfig
	tokens    TokenProvider
	handler   Handler
	heartbeat *Heartbeat
	logger    *slog.Logger

	connMu sync.RWMutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   State
	running bool

	reconnectMu       sync.Mutex
	reconnecting      bool
	reconnectInterval time.Duration
	attempts          int
}

func NewConn(cfg ConnConfig, tokens TokenProvider, handler Handler) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.BaseReconnectInterval <= 0 {
		cfg.BaseReconnectInterval = time.Second
	}

	if cfg.MaxReconnectInterval < cfg.BaseReconnectInterval {
		cfg.MaxReconnectInterval = 120 * time.Second
	}

	return &Conn{
		cfg:               cfg,
		tokens:            tokens,
		handler:           handler,
		logger:            cfg.Logger,
		reconnectInterval: cfg.BaseReconnectInterval,
	}
}

// BindHeartbeat attaches the liveness monitor notified on inbound frames and
// restarted after reconnection.
func (c *Conn) BindHeartbeat(h *Heartbeat) {
	c.heartbeat = h
}

func (c *Conn) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.state
}

func (c *Conn) Running() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	return c.running
}

// setState never leaves StateOffline: kickout is terminal for the reconnect
// machinery, and only an explicit Connect starts over.
func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	if c.state != StateOffline {
		c.state = s
	}
	c.stateMu.Unlock()
}

// Connect opens the websocket session with the given token snapshot. It is
// the only way out of StateOffline.
func (c *Conn) Connect(ctx context.Context, token auth.TokenData) error {
	c.stateMu.Lock()
	c.state = StateDisconnected
	c.stateMu.Unlock()

	if err := c.dial(ctx, token); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	return nil
}

func (c *Conn) dial(ctx context.Context, token auth.TokenData) error {
	c.setState(StateConnecting)

	sessionURL, err := c.tokens.SessionURL(token.ClientID)
	if err != nil {
		return fmt.Errorf("failed to build session url: %w", err)
	}

	headers, err := c.tokens.ConnectHeaders(token)
	if err != nil {
		return fmt.Errorf("failed to build connection headers: %w", err)
	}

	c.logger.Info("connecting to gateway", slog.String("url", sessionURL))

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, _, err := dialer.DialContext(ctx, sessionURL, headers)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	// Release any previous handle before installing the new one so the
	// receive loop never sees two live transports.
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()

	// A kickout may have landed while the handshake was in flight; an
	// offline session must never come back with a live transport.
	c.stateMu.Lock()
	if c.state == StateOffline {
		c.stateMu.Unlock()
		c.closeTransport()

		return ErrSessionOffline
	}
	c.state = StateConnected
	c.stateMu.Unlock()

	c.resetBackoff()

	if c.heartbeat != nil {
		c.heartbeat.NotifyActivity()
	}

	c.logger.Info("gateway connection established")

	return nil
}

func (c *Conn) transport() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.conn
}

// Listen consumes inbound frames until the session is closed, kicked out or
// the context is cancelled. Frame-local failures (decode, signature,
// handler) are contained; transport failures drive reconnection.
func (c *Conn) Listen(ctx context.Context) error {
	c.stateMu.Lock()
	c.running = true
	c.stateMu.Unlock()

	c.logger.Info("listening for gateway messages")

	for {
		if !c.Running() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn := c.transport()
		if conn == nil {
			// Transport is mid-replacement; wait for the reconnect
			// sequence to install a new handle.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}

			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.Running() || c.State() == StateOffline {
				return nil
			}

			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				c.logger.Error("read error", slog.Any("error", err))
			}

			if !c.reconnect(ctx) {
				// Another reconnect sequence is already running.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
			}

			continue
		}

		c.handleMessage(ctx, data)
	}
}

func (c *Conn) handleMessage(ctx context.Context, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Error("failed to decode frame", slog.Any("error", err))
		return
	}

	// Only frames that decode count as liveness activity.
	if c.heartbeat != nil {
		c.heartbeat.NotifyActivity()
	}

	if req.Method == MethodSysError {
		c.logger.Warn("received sys/error message",
			slog.String("request_id", req.RequestID),
			slog.String("request", req.Request),
		)

		return
	}

	token, ok := c.tokens.Current()
	if !ok {
		c.logger.Error("no token available for signature verification")
		return
	}

	if !req.VerifySignature(token.Token) {
		c.logger.Error("message signature verification failed", slog.String("request_id", req.RequestID))
		return
	}

	switch req.Method {
	case MethodMigrate:
		c.logger.Info("received root/migrate, initiating reconnection")
		go c.handleMigrate(ctx)

		return
	case MethodKickout:
		c.logger.Warn("received root/kickout, terminating session")
		go c.handleKickout()

		return
	}

	if req.RequestID == "" {
		c.logger.Debug("ignoring non-request message", slog.String("method", req.Method))
		return
	}

	if c.handler == nil {
		c.logger.Warn("no request handler set, ignoring request", slog.String("request_id", req.RequestID))
		return
	}

	resp, err := c.handler(ctx, &req)
	if err != nil {
		resp = NewErrorResponse(&req, err)
	}

	if resp == nil {
		return
	}

	if err := c.Send(resp); err != nil {
		c.logger.Error("failed to send response",
			slog.String("request_id", resp.RequestID),
			slog.Any("error", err),
		)
	}
}

// Send signs the response with the current session token and writes it to
// the transport.
func (c *Conn) Send(resp *Response) error {
	token, ok := c.tokens.Current()
	if !ok {
		return ErrNoToken
	}

	resp.DoSign(token.Token)

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	conn := c.transport()
	if conn == nil {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteMessage(websocket.TextMessage, data)
}

// handleMigrate treats a server-initiated topology change like a transport
// failure, except the backoff resets to its base so the retry is immediate.
func (c *Conn) handleMigrate(ctx context.Context) {
	c.reconnectMu.Lock()
	c.reconnectInterval = c.cfg.BaseReconnectInterval
	c.reconnectMu.Unlock()

	c.closeTransport()
	c.reconnect(ctx)
}

// handleKickout terminates the session permanently. No reconnection is
// attempted; resuming requires a new client-level Connect.
func (c *Conn) handleKickout() {
	c.stateMu.Lock()
	c.running = false
	c.state = StateOffline
	c.stateMu.Unlock()

	c.closeTransport()

	if c.heartbeat != nil {
		c.heartbeat.MarkOffline()
	}

	c.logger.Warn("session marked offline")
}

// reconnect runs the reconnection sequence: forced token refresh, dial,
// cached-token fallback, exponential backoff. At most one sequence runs at a
// time; concurrent triggers return false immediately.
func (c *Conn) reconnect(ctx context.Context) bool {
	if !c.beginReconnect() {
		return false
	}
	defer c.endReconnect()

	c.closeTransport()
	c.setState(StateReconnecting)

	for c.Running() {
		c.reconnectMu.Lock()
		c.attempts++
		attempt := c.attempts
		interval := c.reconnectInterval
		c.reconnectMu.Unlock()

		c.logger.Info("attempting reconnection",
			slog.Int("attempt", attempt),
			slog.Duration("wait", interval),
		)

		select {
		case <-ctx.Done():
			return true
		case <-time.After(interval):
		}

		// A kickout or Close may have landed during the backoff sleep.
		if !c.Running() {
			return true
		}

		token, refreshErr := c.tokens.Refresh(ctx, true)
		if refreshErr == nil {
			if err := c.dial(ctx, token); err == nil {
				c.logger.Info("reconnection successful")
				c.restoreHeartbeat()

				return true
			} else {
				c.logger.Error("reconnection with fresh token failed", slog.Any("error", err))
			}
		} else {
			c.logger.Error("token refresh failed", slog.Any("error", refreshErr))
		}

		// Fall back to the previously cached token once per attempt.
		if cached, ok := c.tokens.Current(); ok {
			if err := c.dial(ctx, cached); err == nil {
				c.logger.Info("reconnection successful with cached token")
				c.restoreHeartbeat()

				return true
			} else {
				c.logger.Error("reconnection with cached token failed", slog.Any("error", err))
			}
		} else if refreshErr != nil {
			// Never acquired a token and cannot get one: retrying
			// cannot make progress.
			c.logger.Error("no credentials available, stopping reconnection attempts")

			c.stateMu.Lock()
			c.running = false
			c.state = StateDisconnected
			c.stateMu.Unlock()

			return true
		}

		if !c.Running() {
			return true
		}

		c.setState(StateReconnecting)
		c.widenBackoff()
	}

	return true
}

func (c *Conn) beginReconnect() bool {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.reconnecting {
		return false
	}

	c.reconnecting = true

	return true
}

func (c *Conn) endReconnect() {
	c.reconnectMu.Lock()
	c.reconnecting = false
	c.reconnectMu.Unlock()
}

func (c *Conn) resetBackoff() {
	c.reconnectMu.Lock()
	c.reconnectInterval = c.cfg.BaseReconnectInterval
	c.attempts = 0
	c.reconnectMu.Unlock()
}

func (c *Conn) widenBackoff() {
	c.reconnectMu.Lock()
	c.reconnectInterval = nextInterval(c.reconnectInterval, c.cfg.MaxReconnectInterval)
	c.reconnectMu.Unlock()
}

func nextInterval(current, max time.Duration) time.Duration {
	doubled := current * 2
	if doubled > max {
		return max
	}

	return doubled
}

func (c *Conn) restoreHeartbeat() {
	if c.heartbeat == nil {
		return
	}

	c.heartbeat.NotifyActivity()

	if !c.heartbeat.Running() {
		c.heartbeat.Start()
	}
}

func (c *Conn) closeTransport() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn == nil {
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// Close stops the receive loop and releases the transport. It is idempotent
// and safe to call on an already-closed session.
func (c *Conn) Close() error {
	c.stateMu.Lock()
	c.running = false
	if c.state != StateOffline {
		c.state = StateDisconnected
	}
	c.stateMu.Unlock()

	c.closeTransport()

	return nil
}
