package mcpsdk

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponse_CopiesCorrelationFields(t *testing.T) {
	req := &Request{
		RequestID: "req_42",
		Endpoint:  "gw.example.com",
		Version:   "1.0",
		Method:    "tools/call",
		Timestamp: "1700000000000",
		Request:   `{"method":"tools/call"}`,
	}

	resp := NewResponse(req, `{"content":[]}`)

	assert.Equal(t, req.RequestID, resp.RequestID)
	assert.Equal(t, req.Endpoint, resp.Endpoint)
	assert.Equal(t, req.Version, resp.Version)
	assert.Equal(t, req.Method, resp.Method)
	assert.Equal(t, `{"content":[]}`, resp.Response)

	// The timestamp is freshly generated, not copied from the request.
	assert.NotEqual(t, req.Timestamp, resp.Timestamp)

	ms, err := strconv.ParseInt(resp.Timestamp, 10, 64)
	require.NoError(t, err)
	assert.Greater(t, ms, int64(1700000000000))
}

func TestNewErrorResponse(t *testing.T) {
	req := &Request{RequestID: "req_7", Method: "tools/call"}

	resp := NewErrorResponse(req, errors.New("tool name is required"))

	assert.Equal(t, "req_7", resp.RequestID)
	assert.JSONEq(t, `{"error":"tool name is required"}`, resp.Response)
}

func TestRequest_SignRoundTrip(t *testing.T) {
	req := &Request{
		RequestID: "req_1",
		Endpoint:  "gw.example.com",
		Version:   "1.0",
		Method:    "tools/list",
		Timestamp: "1700000000000",
		Request:   `{"method":"tools/list"}`,
	}

	req.DoSign("session-token")

	assert.NotEmpty(t, req.Sign)
	assert.True(t, req.VerifySignature("session-token"))
	assert.False(t, req.VerifySignature("other-token"))

	req.Request = `{"method":"tools/call"}`
	assert.False(t, req.VerifySignature("session-token"), "tampered payload must not verify")
}

func TestResponse_SignRoundTrip(t *testing.T) {
	resp := NewResponse(&Request{RequestID: "req_1", Method: "tools/list"}, `{"tools":[]}`)

	resp.DoSign("session-token")

	assert.True(t, resp.VerifySignature("session-token"))

	resp.Response = `{"tools":[{}]}`
	assert.False(t, resp.VerifySignature("session-token"))
}
