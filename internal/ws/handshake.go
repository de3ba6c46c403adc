package ws

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// websocketGUID is the fixed key-hashing GUID from RFC 6455 section 1.3.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrIncomplete is returned by Negotiate while the request's blank terminator
// line has not arrived yet. The caller should read more bytes and retry.
var ErrIncomplete = errors.New("websocket: incomplete handshake request")

// Causes carried by HandshakeError.
var (
	ErrMalformed    = errors.New("websocket: malformed handshake request")
	ErrNotWebSocket = errors.New("websocket: not a websocket upgrade")
)

// HandshakeError rejects an Upgrade request. Status is the HTTP status the
// client should receive before the connection is closed.
type HandshakeError struct {
	Status int
	Err    error
	Reason string
}

func (e *HandshakeError) Error() string { return e.Err.Error() + ": " + e.Reason }
func (e *HandshakeError) Unwrap() error { return e.Err }

func malformed(format string, args ...any) *HandshakeError {
	return &HandshakeError{Status: 400, Err: ErrMalformed, Reason: fmt.Sprintf(format, args...)}
}

func notWebSocket(format string, args ...any) *HandshakeError {
	return &HandshakeError{Status: 400, Err: ErrNotWebSocket, Reason: fmt.Sprintf(format, args...)}
}

// Handshake is the outcome of a successful Upgrade negotiation.
type Handshake struct {
	Target string // request target from the request line
	Key    string // client's Sec-WebSocket-Key, still base64
	Accept string // derived Sec-WebSocket-Accept value
}

// Negotiate parses the client's HTTP Upgrade request from buf. On success it
// returns the handshake outcome plus any bytes that followed the header
// terminator; those belong to the first WebSocket frame and must not be
// discarded. Sec-WebSocket-Extensions and Sec-WebSocket-Protocol headers are
// ignored: the bridge negotiates neither.
func Negotiate(buf []byte) (*Handshake, []byte, error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, nil, ErrIncomplete
	}
	head := string(buf[:idx])
	remaining := buf[idx+4:]

	lines := strings.Split(head, "\r\n")
	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return nil, nil, malformed("bad request line %q", lines[0])
	}
	method, target, version := parts[0], parts[1], parts[2]
	if method != "GET" {
		return nil, nil, notWebSocket("method %s is not GET", method)
	}
	if version != "HTTP/1.1" {
		return nil, nil, notWebSocket("version %s is not HTTP/1.1", version)
	}

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, nil, malformed("bad header line %q", line)
		}
		name := strings.ToLower(strings.TrimSpace(line[:i]))
		headers[name] = strings.TrimSpace(line[i+1:])
	}

	if !strings.EqualFold(headers["upgrade"], "websocket") {
		return nil, nil, notWebSocket("missing Upgrade: websocket header")
	}
	if !containsToken(headers["connection"], "upgrade") {
		return nil, nil, notWebSocket("Connection header does not contain Upgrade")
	}
	if v := headers["sec-websocket-version"]; v != "13" {
		return nil, nil, notWebSocket("unsupported Sec-WebSocket-Version %q", v)
	}
	key := headers["sec-websocket-key"]
	if key == "" {
		return nil, nil, notWebSocket("missing Sec-WebSocket-Key header")
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return nil, nil, notWebSocket("Sec-WebSocket-Key is not 16 base64-encoded bytes")
	}

	return &Handshake{Target: target, Key: key, Accept: AcceptKey(key)}, remaining, nil
}

// AcceptKey derives the Sec-WebSocket-Accept value for a client key:
// SHA-1 over the key concatenated with the protocol GUID, base64-encoded.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Response renders the 101 Switching Protocols response for the handshake.
func (h *Handshake) Response() []byte {
	return fmt.Appendf(nil,
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n", h.Accept)
}

// ErrorResponse renders the minimal HTTP response written before closing the
// socket of a rejected handshake.
func ErrorResponse(status int) []byte {
	text := "Bad Request"
	if status == 503 {
		text = "Service Unavailable"
	}
	return fmt.Appendf(nil, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", status, text)
}

// containsToken reports whether the comma-separated header value contains the
// token, case-insensitively.
func containsToken(headerValue, token string) bool {
	for _, part := range strings.Split(headerValue, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
