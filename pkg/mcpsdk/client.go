package mcpsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudbridge-io/mcp-sdk-go/pkg/auth"
	"github.com/cloudbridge-io/mcp-sdk-go/pkg/forward"
)

type Config struct {
	Endpoint     string
	AccessID     string
	AccessSecret string

	// MCPServerEndpoint is the downstream MCP server. Forwarding is
	// disabled when empty.
	MCPServerEndpoint string

	PingInterval time.Duration
	PingTimeout  time.Duration
	Logger       *slog.Logger
}

func DefaultConfig(endpoint, accessID, accessSecret string) Config {
	return Config{
		Endpoint:     endpoint,
		AccessID:     accessID,
		AccessSecret: accessSecret,
		PingInterval: 30 * time.Second,
		PingTimeout:  10 * time.Second,
		Logger:       slog.Default(),
	}
}

// Client composes the session credentials, the connection engine, the
// liveness monitor and the optional downstream forwarder.
type Client struct {
	cfg    Config
	logger *slog.Logger

	auth      *auth.Manager
	forwarder *forward.Forwarder
	heartbeat *Heartbeat
	conn      *Conn

	mu        sync.RWMutex
	connected bool
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}

	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger,
	}

	c.auth = auth.NewManager(auth.Credentials{
		AccessID:     cfg.AccessID,
		AccessSecret: cfg.AccessSecret,
		Endpoint:     cfg.Endpoint,
	}, auth.WithLogger(cfg.Logger))

	hbCfg := DefaultHeartbeatConfig()
	hbCfg.PingInterval = cfg.PingInterval
	hbCfg.PingTimeout = cfg.PingTimeout
	hbCfg.Logger = cfg.Logger
	c.heartbeat = NewHeartbeat(hbCfg)

	connCfg := DefaultConnConfig()
	connCfg.Logger = cfg.Logger
	c.conn = NewConn(connCfg, c.auth, c.handleRequest)
	c.conn.BindHeartbeat(c.heartbeat)

	if cfg.MCPServerEndpoint != "" {
		fwCfg := forward.DefaultConfig(cfg.MCPServerEndpoint)
		fwCfg.Logger = cfg.Logger
		c.forwarder = forward.New(fwCfg)
	}

	return c
}

// Connect acquires a token, connects the downstream forwarder when
// configured, opens the gateway session and starts the liveness monitor. On
// failure everything already opened is released.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to mcp gateway")

	token, err := c.auth.Refresh(ctx, false)
	if err != nil {
		return err
	}

	if c.forwarder != nil {
		if err := c.forwarder.Connect(ctx); err != nil {
			_ = c.Disconnect()
			return fmt.Errorf("failed to connect mcp server: %w", err)
		}
	}

	if err := c.conn.Connect(ctx, token); err != nil {
		_ = c.Disconnect()
		return err
	}

	c.heartbeat.Start()

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("mcp gateway connected")

	return nil
}

// Disconnect releases all resources. Each step tolerates failure so a
// partial teardown never prevents the others from running.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.heartbeat.Stop()

	if err := c.conn.Close(); err != nil {
		c.logger.Error("failed to close gateway connection", slog.Any("error", err))
	}

	if c.forwarder != nil {
		if err := c.forwarder.Disconnect(); err != nil {
			c.logger.Error("failed to disconnect mcp server", slog.Any("error", err))
		}
	}

	c.logger.Info("mcp gateway disconnected")

	return nil
}

// Listen blocks consuming gateway messages until the session terminates or
// ctx is cancelled.
func (c *Client) Listen(ctx context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	return c.conn.Listen(ctx)
}

// Run supervises the session in the calling goroutine: the receive loop
// runs until it exits or ctx is cancelled, and the transport is closed on
// the way out.
func (c *Client) Run(ctx context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return c.conn.Listen(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		_ = c.conn.Close()

		return nil
	})

	return g.Wait()
}

// SendRequest forwards a request to the downstream MCP server directly and
// returns the response payload. It requires a connected client with a
// configured forwarder.
func (c *Client) SendRequest(ctx context.Context, request any) (string, error) {
	if !c.Connected() {
		return "", ErrNotConnected
	}

	if c.forwarder == nil {
		return "", ErrNoForwarder
	}

	raw, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	return c.forward(ctx, raw)
}

func (c *Client) handleRequest(ctx context.Context, req *Request) (*Response, error) {
	c.logger.Debug("handling gateway request",
		slog.String("request_id", req.RequestID),
		slog.String("method", req.Method),
	)

	if c.forwarder == nil {
		return NewErrorResponse(req, ErrNoForwarder), nil
	}

	payload, err := c.forward(ctx, []byte(req.Request))
	if err != nil {
		c.logger.Error("mcp request failed",
			slog.String("request_id", req.RequestID),
			slog.Any("error", err),
		)

		return NewErrorResponse(req, err), nil
	}

	return NewResponse(req, payload), nil
}

// forward executes one downstream call, re-establishing the downstream
// connection once if it was lost.
func (c *Client) forward(ctx context.Context, raw []byte) (string, error) {
	payload, err := c.forwarder.Forward(ctx, raw)
	if errors.Is(err, forward.ErrNotConnected) {
		if rerr := c.forwarder.Reconnect(ctx); rerr != nil {
			return "", rerr
		}

		payload, err = c.forwarder.Forward(ctx, raw)
	}

	return payload, err
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

// Running reports whether the receive loop is active.
func (c *Client) Running() bool {
	return c.conn.Running()
}

// State exposes the connection engine state.
func (c *Client) State() State {
	return c.conn.State()
}
