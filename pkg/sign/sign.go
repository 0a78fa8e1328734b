// Package sign implements the HMAC-SHA256 signing scheme used by the
// gateway protocol: per-message envelope signatures and the signed headers
// sent with registration and websocket dial requests.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Method is the algorithm name advertised in the sign_method header.
const Method = "HMAC-SHA256"

// Envelope signs the given envelope fields with the session token.
// Fields are canonicalized as sorted "key:value" lines joined by newlines,
// with no trailing newline. A "sign" key, if present, is excluded.
func Envelope(secret string, fields map[string]string) string {
	return digest(secret, canonical(fields))
}

// VerifyEnvelope recomputes the envelope signature and compares it with the
// presented one. Any mismatch, including a missing or empty signature,
// returns false.
func VerifyEnvelope(secret string, fields map[string]string, sig string) bool {
	if sig == "" {
		return false
	}

	want := digest(secret, canonical(fields))

	return hmac.Equal([]byte(want), []byte(sig))
}

func canonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key == "sign" {
			continue
		}

		keys = append(keys, key)
	}

	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+":"+fields[key])
	}

	return strings.Join(lines, "\n")
}

// HeaderSigner signs an HTTP request for the gateway: the auth headers, the
// sorted query string, the payload and the path are concatenated into one
// string and digested with the given secret.
type HeaderSigner struct {
	Headers map[string]string
	Query   url.Values
	Path    string
	Payload []byte
}

func (s HeaderSigner) Sign(secret string) string {
	return digest(secret, s.stringToSign())
}

func (s HeaderSigner) Verify(secret, sig string) bool {
	if sig == "" {
		return false
	}

	return hmac.Equal([]byte(s.Sign(secret)), []byte(sig))
}

func (s HeaderSigner) stringToSign() string {
	return s.headerString() + "\n" + s.queryString() + "\n" + string(s.Payload) + "\n" + s.Path
}

// headerString canonicalizes the fixed auth headers, then any extra headers
// named by the signature_headers header, as "key:value" lines.
func (s HeaderSigner) headerString() string {
	header := make(map[string]string, len(s.Headers))
	for key, value := range s.Headers {
		header[strings.ToLower(key)] = value
	}

	out := fmt.Sprintf("%s\n%s\n%s\n%s\n", header["access_id"], header["t"], header["sign_method"], header["nonce"])

	if extra := header["signature_headers"]; extra != "" {
		for _, key := range strings.Split(extra, ",") {
			key = strings.TrimSpace(key)
			out += fmt.Sprintf("%s:%s\n", key, strings.TrimSpace(header[key]))
		}
	}

	return out
}

func (s HeaderSigner) queryString() string {
	if len(s.Query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(s.Query))
	for key := range s.Query {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+strings.Join(s.Query[key], ","))
	}

	return strings.Join(pairs, "&")
}

func digest(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))

	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
