package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbridge-io/mcp-sdk-go/pkg/auth"
	"github.com/cloudbridge-io/mcp-sdk-go/pkg/sign"
)

func registrationHandler(t *testing.T, calls *atomic.Int32) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, "/v1/client/registration", r.URL.Path)
		assert.Equal(t, "dev-1", r.Header.Get("access_id"))
		assert.Equal(t, sign.Method, r.Header.Get("sign_method"))
		assert.Len(t, r.Header.Get("nonce"), 32)
		assert.NotEmpty(t, r.Header.Get("t"))

		signer := sign.HeaderSigner{
			Headers: map[string]string{
				"access_id":   r.Header.Get("access_id"),
				"t":           r.Header.Get("t"),
				"nonce":       r.Header.Get("nonce"),
				"sign_method": r.Header.Get("sign_method"),
			},
			Path: r.URL.Path,
		}
		assert.True(t, signer.Verify("secret-1", r.Header.Get("sign")), "header signature")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"client_id": "cid-1", "token": "tok-1"},
		})
	}
}

func TestManager_Refresh(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(registrationHandler(t, &calls))
	defer ts.Close()

	mgr := auth.NewManager(auth.Credentials{
		AccessID:     "dev-1",
		AccessSecret: "secret-1",
		Endpoint:     ts.URL,
	})

	_, ok := mgr.Current()
	require.False(t, ok, "no token before first refresh")

	token, err := mgr.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "cid-1", token.ClientID)
	assert.Equal(t, "tok-1", token.Token)

	cached, ok := mgr.Current()
	require.True(t, ok)
	assert.Equal(t, token, cached)

	// Non-forced refresh returns the cached token without a network call.
	_, err = mgr.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = mgr.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_RefreshRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer ts.Close()

	mgr := auth.NewManager(auth.Credentials{AccessID: "dev-1", AccessSecret: "s", Endpoint: ts.URL})

	_, err := mgr.Refresh(context.Background(), true)
	require.ErrorIs(t, err, auth.ErrAuth)

	_, ok := mgr.Current()
	assert.False(t, ok, "failed refresh must not cache a token")
}

func TestManager_RefreshServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	mgr := auth.NewManager(auth.Credentials{AccessID: "dev-1", AccessSecret: "s", Endpoint: ts.URL})

	_, err := mgr.Refresh(context.Background(), true)
	require.ErrorIs(t, err, auth.ErrAuth)
}

func TestManager_SessionURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"http://gw.example.com", "ws://gw.example.com/ws/mcp?client_id=cid-1"},
		{"https://gw.example.com", "wss://gw.example.com/ws/mcp?client_id=cid-1"},
		{"wss://gw.example.com", "wss://gw.example.com/ws/mcp?client_id=cid-1"},
	}

	for _, tt := range tests {
		mgr := auth.NewManager(auth.Credentials{Endpoint: tt.endpoint})

		got, err := mgr.SessionURL("cid-1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestManager_ConnectHeaders(t *testing.T) {
	mgr := auth.NewManager(auth.Credentials{AccessID: "dev-1", AccessSecret: "s", Endpoint: "https://gw.example.com"})

	headers, err := mgr.ConnectHeaders(auth.TokenData{ClientID: "cid-1", Token: "tok-1"})
	require.NoError(t, err)

	signer := sign.HeaderSigner{
		Headers: map[string]string{
			"access_id":   headers.Get("access_id"),
			"t":           headers.Get("t"),
			"nonce":       headers.Get("nonce"),
			"sign_method": headers.Get("sign_method"),
		},
		Query: url.Values{"client_id": {"cid-1"}},
		Path:  "/ws/mcp",
	}

	// The dial signature is keyed by the session token, not the access secret.
	assert.True(t, signer.Verify("tok-1", headers.Get("sign")))
	assert.False(t, signer.Verify("s", headers.Get("sign")))
}
