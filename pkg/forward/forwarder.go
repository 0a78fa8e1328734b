// Package forward adapts inbound gateway requests into calls against a
// downstream MCP server and normalizes the results back into wire payloads.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	ErrNotConnected      = errors.New("mcp client not connected")
	ErrUnsupportedMethod = errors.New("unsupported mcp method")
	ErrMissingToolName   = errors.New("tool call missing name parameter")
)

// Transport selects how the downstream MCP server is reached.
type Transport string

const (
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

type Config struct {
	Endpoint          string
	Transport         Transport
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Logger            *slog.Logger
}

func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		Transport:         TransportSSE,
		ReconnectAttempts: 3,
		ReconnectDelay:    5 * time.Second,
		Logger:            slog.Default(),
	}
}

// rpcClient is the slice of the MCP client the forwarder depends on.
type rpcClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Forwarder owns the downstream MCP connection lifecycle and translates the
// two supported method families, tools/list and tools/call.
type Forwarder struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	cli rpcClient
}

func New(cfg Config) *Forwarder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Forwarder{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

func (f *Forwarder) Connect(ctx context.Context) error {
	f.logger.Info("connecting to mcp server", slog.String("endpoint", f.cfg.Endpoint))

	var (
		cli *client.Client
		err error
	)

	switch f.cfg.Transport {
	case TransportStreamableHTTP:
		cli, err = client.NewStreamableHttpClient(f.cfg.Endpoint)
	default:
		cli, err = client.NewSSEMCPClient(f.cfg.Endpoint)
	}

	if err != nil {
		return fmt.Errorf("failed to create mcp client: %w", err)
	}

	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mcp client: %w", err)
	}

	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		_ = cli.Close()
		return fmt.Errorf("failed to initialize mcp client: %w", err)
	}

	f.mu.Lock()
	f.cli = cli
	f.mu.Unlock()

	f.logger.Info("mcp server connection established")

	return nil
}

func (f *Forwarder) Disconnect() error {
	f.mu.Lock()
	cli := f.cli
	f.cli = nil
	f.mu.Unlock()

	if cli == nil {
		return nil
	}

	return cli.Close()
}

func (f *Forwarder) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cli != nil
}

// Reconnect re-establishes the downstream connection with a bounded number
// of attempts.
func (f *Forwarder) Reconnect(ctx context.Context) error {
	var err error

	for attempt := 1; attempt <= f.cfg.ReconnectAttempts; attempt++ {
		_ = f.Disconnect()

		if err = f.Connect(ctx); err == nil {
			return nil
		}

		f.logger.Warn("mcp reconnect failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if attempt == f.cfg.ReconnectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}

	return fmt.Errorf("mcp reconnect failed after %d attempts: %w", f.cfg.ReconnectAttempts, err)
}

// Forward executes the request carried in the envelope's opaque payload and
// returns the response payload as a compact JSON string.
func (f *Forwarder) Forward(ctx context.Context, raw []byte) (string, error) {
	var call struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}

	if err := json.Unmarshal(raw, &call); err != nil {
		return "", fmt.Errorf("invalid mcp request: %w", err)
	}

	cli := f.client()
	if cli == nil {
		return "", ErrNotConnected
	}

	switch call.Method {
	case "tools/list":
		return f.listTools(ctx, cli)
	case "tools/call":
		return f.callTool(ctx, cli, call.Params)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, call.Method)
	}
}

func (f *Forwarder) client() rpcClient {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cli
}

func (f *Forwarder) listTools(ctx context.Context, cli rpcClient) (string, error) {
	result, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to list tools: %w", err)
	}

	return marshalPayload(normalizeTools(result.Tools))
}

func (f *Forwarder) callTool(ctx context.Context, cli rpcClient, rawParams json.RawMessage) (string, error) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}

	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return "", fmt.Errorf("invalid tool call params: %w", err)
		}
	}

	if params.Name == "" {
		return "", ErrMissingToolName
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = params.Name
	req.Params.Arguments = params.Arguments

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to call tool %q: %w", params.Name, err)
	}

	return marshalPayload(normalizeCallResult(result))
}

func marshalPayload(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
