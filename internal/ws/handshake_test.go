package ws

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const sampleRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"\r\n"

func TestAcceptKey(t *testing.T) {
	// Worked example from RFC 6455 section 1.3.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	if got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("AcceptKey = %q, want %q", got, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
	}
}

func TestNegotiate(t *testing.T) {
	hs, remaining, err := Negotiate([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if hs.Target != "/chat" {
		t.Errorf("target = %q, want %q", hs.Target, "/chat")
	}
	if hs.Accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("accept = %q", hs.Accept)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %q, want empty", remaining)
	}

	resp := string(hs.Response())
	if !strings.HasPrefix(resp, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("response does not start with 101 status line: %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("response missing accept header: %q", resp)
	}
	if strings.Contains(resp, "Sec-WebSocket-Extensions") || strings.Contains(resp, "Sec-WebSocket-Protocol") {
		t.Errorf("response offers extensions or subprotocols: %q", resp)
	}
}

func TestNegotiateIncomplete(t *testing.T) {
	for i := 0; i < len(sampleRequest)-1; i++ {
		_, _, err := Negotiate([]byte(sampleRequest[:i]))
		if !errors.Is(err, ErrIncomplete) {
			t.Fatalf("prefix of %d bytes: err = %v, want ErrIncomplete", i, err)
		}
	}
}

func TestNegotiatePreservesRemainingBytes(t *testing.T) {
	frame := []byte{0x82, 0x02, 0xAA, 0xBB}
	buf := append([]byte(sampleRequest), frame...)

	_, remaining, err := Negotiate(buf)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !bytes.Equal(remaining, frame) {
		t.Errorf("remaining = %v, want %v", remaining, frame)
	}
}

func TestNegotiateRejections(t *testing.T) {
	replace := func(old, new string) string {
		return strings.Replace(sampleRequest, old, new, 1)
	}
	tests := []struct {
		name    string
		request string
		cause   error
	}{
		{"POST method", replace("GET", "POST"), ErrNotWebSocket},
		{"HTTP/1.0", replace("HTTP/1.1", "HTTP/1.0"), ErrNotWebSocket},
		{"missing upgrade", replace("Upgrade: websocket\r\n", ""), ErrNotWebSocket},
		{"wrong upgrade", replace("Upgrade: websocket", "Upgrade: h2c"), ErrNotWebSocket},
		{"missing connection token", replace("Connection: Upgrade", "Connection: keep-alive"), ErrNotWebSocket},
		{"missing key", replace("Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n", ""), ErrNotWebSocket},
		{"short key", replace("dGhlIHNhbXBsZSBub25jZQ==", "c2hvcnQ="), ErrNotWebSocket},
		{"key not base64", replace("dGhlIHNhbXBsZSBub25jZQ==", "not base64 at all!!!"), ErrNotWebSocket},
		{"wrong version", replace("Sec-WebSocket-Version: 13", "Sec-WebSocket-Version: 8"), ErrNotWebSocket},
		{"bad request line", "GET\r\n\r\n", ErrMalformed},
		{"bad header line", replace("Host: server.example.com", "this is not a header"), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Negotiate([]byte(tt.request))
			if !errors.Is(err, tt.cause) {
				t.Fatalf("err = %v, want cause %v", err, tt.cause)
			}
			var he *HandshakeError
			if !errors.As(err, &he) {
				t.Fatalf("err = %v, want HandshakeError", err)
			}
			if he.Status != 400 {
				t.Errorf("status = %d, want 400", he.Status)
			}
		})
	}
}

func TestNegotiateIgnoresExtensionHeaders(t *testing.T) {
	request := strings.Replace(sampleRequest, "\r\n\r\n",
		"\r\nSec-WebSocket-Extensions: permessage-deflate\r\nSec-WebSocket-Protocol: chat\r\n\r\n", 1)
	hs, _, err := Negotiate([]byte(request))
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if resp := string(hs.Response()); strings.Contains(resp, "Extensions") || strings.Contains(resp, "Protocol") {
		t.Errorf("response echoes ignored headers: %q", resp)
	}
}

func TestNegotiateCaseInsensitiveHeaders(t *testing.T) {
	request := "GET / HTTP/1.1\r\n" +
		"host: example.com\r\n" +
		"upgrade: WebSocket\r\n" +
		"connection: keep-alive, Upgrade\r\n" +
		"sec-websocket-key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"sec-websocket-version: 13\r\n" +
		"\r\n"
	if _, _, err := Negotiate([]byte(request)); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
}

func TestErrorResponse(t *testing.T) {
	got := string(ErrorResponse(400))
	want := "HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n"
	if got != want {
		t.Errorf("ErrorResponse(400) = %q, want %q", got, want)
	}
}
