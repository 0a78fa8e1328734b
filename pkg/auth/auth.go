// Package auth owns the session credentials: the immutable access key pair
// and the token issued by the gateway's registration endpoint.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudbridge-io/mcp-sdk-go/pkg/sign"
)

const (
	registrationPath = "/v1/client/registration"
	sessionPath      = "/ws/mcp"
)

// ErrAuth reports a failed token exchange with the gateway.
var ErrAuth = errors.New("authentication failed")

// Credentials identify the developer account. They are immutable for the
// lifetime of a client.
type Credentials struct {
	AccessID     string
	AccessSecret string
	Endpoint     string
}

// TokenData is the current session token pair. It is replaced wholesale on
// every refresh and never partially updated.
type TokenData struct {
	ClientID string
	Token    string
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// Manager exchanges the access key pair for session tokens and caches the
// latest one. Callers must re-fetch the token at every point of use: it may
// rotate between two consecutive operations.
type Manager struct {
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token *TokenData
}

func NewManager(creds Credentials, opts ...Option) *Manager {
	m := &Manager{
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Current returns a snapshot of the cached token, if any.
func (m *Manager) Current() (TokenData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return TokenData{}, false
	}

	return *m.token, true
}

// Refresh returns the session token, calling the registration endpoint when
// force is set or no token has been acquired yet. Failures wrap ErrAuth.
func (m *Manager) Refresh(ctx context.Context, force bool) (TokenData, error) {
	if !force {
		if token, ok := m.Current(); ok {
			return token, nil
		}
	}

	token, err := m.register(ctx)
	if err != nil {
		return TokenData{}, err
	}

	m.mu.Lock()
	m.token = &token
	m.mu.Unlock()

	m.logger.Info("session token acquired", slog.String("client_id", token.ClientID))

	return token, nil
}

type registrationResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ClientID string `json:"client_id"`
		Token    string `json:"token"`
	} `json:"data"`
}

func (m *Manager) register(ctx context.Context) (TokenData, error) {
	regURL, err := url.Parse(m.creds.Endpoint)
	if err != nil {
		return TokenData{}, fmt.Errorf("%w: invalid endpoint: %w", ErrAuth, err)
	}

	regURL.Path = registrationPath

	headers := authHeaders(m.creds.AccessID)
	headers["sign"] = sign.HeaderSigner{
		Headers: headers,
		Path:    regURL.Path,
	}.Sign(m.creds.AccessSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, regURL.String(), nil)
	if err != nil {
		return TokenData{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return TokenData{}, fmt.Errorf("%w: registration request failed: %w", ErrAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenData{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	if resp.StatusCode != http.StatusOK {
		return TokenData{}, fmt.Errorf("%w: unexpected status %d", ErrAuth, resp.StatusCode)
	}

	var reg registrationResponse
	if err := json.Unmarshal(body, &reg); err != nil {
		return TokenData{}, fmt.Errorf("%w: invalid registration response: %w", ErrAuth, err)
	}

	if !reg.Success || reg.Data.Token == "" {
		return TokenData{}, fmt.Errorf("%w: registration rejected", ErrAuth)
	}

	return TokenData{ClientID: reg.Data.ClientID, Token: reg.Data.Token}, nil
}

// SessionURL derives the websocket session URL from the configured endpoint:
// the scheme is rewritten to ws/wss and the client id is carried as a query
// parameter.
func (m *Manager) SessionURL(clientID string) (string, error) {
	u, err := url.Parse(m.creds.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}

	u.Path = sessionPath
	u.RawQuery = url.Values{"client_id": {clientID}}.Encode()

	return u.String(), nil
}

// ConnectHeaders builds the signed headers for the websocket dial request.
// Unlike registration, the signature here is keyed by the session token.
func (m *Manager) ConnectHeaders(token TokenData) (http.Header, error) {
	sessionURL, err := m.SessionURL(token.ClientID)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(sessionURL)
	if err != nil {
		return nil, err
	}

	headers := authHeaders(m.creds.AccessID)
	headers["sign"] = sign.HeaderSigner{
		Headers: headers,
		Query:   u.Query(),
		Path:    u.Path,
	}.Sign(token.Token)

	out := http.Header{}
	for key, value := range headers {
		out.Set(key, value)
	}

	return out, nil
}

func authHeaders(accessID string) map[string]string {
	return map[string]string{
		"access_id":   accessID,
		"t":           strconv.FormatInt(time.Now().UnixMilli(), 10),
		"nonce":       nonce(),
		"sign_method": sign.Method,
	}
}

func nonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:32]
}
