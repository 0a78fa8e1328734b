package mcpsdk

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cloudbridge-io/mcp-sdk-go/pkg/sign"
)

// Control methods alter connection state instead of carrying application
// payload. They never receive a response frame.
const (
	MethodMigrate  = "root/migrate"
	MethodKickout  = "root/kickout"
	MethodSysError = "sys/error"
)

// Request is an inbound signed envelope. The request payload is an opaque
// JSON-encoded string that the core never interprets.
type Request struct {
	RequestID string `json:"request_id"`
	Endpoint  string `json:"endpoint"`
	Version   string `json:"version"`
	Method    string `json:"method"`
	Timestamp string `json:"ts"`
	Request   string `json:"request"`
	Sign      string `json:"sign"`
}

func (r *Request) signFields() map[string]string {
	return map[string]string{
		"request_id": r.RequestID,
		"endpoint":   r.Endpoint,
		"version":    r.Version,
		"method":     r.Method,
		"ts":         r.Timestamp,
		"request":    r.Request,
	}
}

func (r *Request) DoSign(token string) {
	r.Sign = sign.Envelope(token, r.signFields())
}

func (r *Request) VerifySignature(token string) bool {
	return sign.VerifyEnvelope(token, r.signFields(), r.Sign)
}

// Response is an outbound envelope. It echoes the request id of the inbound
// envelope that triggered it and is freshly timestamped and signed at send
// time.
type Response struct {
	RequestID string `json:"request_id"`
	Endpoint  string `json:"endpoint"`
	Version   string `json:"version"`
	Method    string `json:"method"`
	Timestamp string `json:"ts"`
	Response  string `json:"response"`
	Sign      string `json:"sign"`
}

func (r *Response) signFields() map[string]string {
	return map[string]string{
		"request_id": r.RequestID,
		"endpoint":   r.Endpoint,
		"version":    r.Version,
		"method":     r.Method,
		"ts":         r.Timestamp,
		"response":   r.Response,
	}
}

func (r *Response) DoSign(token string) {
	r.Sign = sign.Envelope(token, r.signFields())
}

func (r *Response) VerifySignature(token string) bool {
	return sign.VerifyEnvelope(token, r.signFields(), r.Sign)
}

// NewResponse builds a response correlated to req carrying the given payload
// string.
func NewResponse(req *Request, payload string) *Response {
	return &Response{
		RequestID: req.RequestID,
		Endpoint:  req.Endpoint,
		Version:   req.Version,
		Method:    req.Method,
		Timestamp: timestamp(),
		Response:  payload,
	}
}

// NewErrorResponse builds a response carrying err as an error payload.
func NewErrorResponse(req *Request, err error) *Response {
	return NewResponse(req, ErrorPayload(err))
}

// ErrorPayload encodes err as the wire error payload {"error": "<message>"}.
func ErrorPayload(err error) string {
	data, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error":"internal error"}`
	}

	return string(data)
}

func timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
