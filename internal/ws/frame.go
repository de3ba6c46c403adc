// Package ws implements the server side of the RFC 6455 wire protocol:
// the Upgrade handshake, the binary frame codec and message reassembly.
// It performs no socket I/O; callers feed it raw bytes and decoded frames.
package ws

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies the type of a WebSocket frame.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether op is a control opcode (Close, Ping, Pong).
func (op Opcode) IsControl() bool { return op >= OpClose }

// IsData reports whether op starts a data message.
func (op Opcode) IsData() bool { return op == OpText || op == OpBinary }

func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(0x%x)", byte(op))
}

// Close codes from RFC 6455 section 7.4.1.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseMessageTooBig = 1009
	CloseInternalError = 1011
)

// MaxControlPayload is the RFC 6455 cap on control frame payloads.
const MaxControlPayload = 125

// Frame is a single WebSocket frame. Frames decoded from a client carry
// Masked=true and the mask key they arrived with; the payload is already
// unmasked. Frames written to a client are never masked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// ProtocolError reports a violation of the WebSocket framing rules.
// Code is the close code the peer should receive for it.
type ProtocolError struct {
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string { return "websocket: " + e.Reason }

func protocolErr(code int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CloseFrame builds an unfragmented Close frame carrying the given code.
func CloseFrame(code int) Frame {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(code))
	return Frame{Fin: true, Opcode: OpClose, Payload: payload}
}

// ParseClosePayload extracts the close code and reason from a Close frame
// payload. An empty payload is treated as a normal closure. A code that is
// not allowed on the wire is normalized to 1000 so the echo stays valid.
func ParseClosePayload(p []byte) (code int, reason []byte, err error) {
	switch {
	case len(p) == 0:
		return CloseNormal, nil, nil
	case len(p) == 1:
		return 0, nil, protocolErr(CloseProtocolError, "close frame with one-byte payload")
	}
	code = int(binary.BigEndian.Uint16(p))
	if !validCloseCode(code) {
		code = CloseNormal
	}
	return code, p[2:], nil
}

func validCloseCode(code int) bool {
	switch code {
	case CloseNormal, CloseGoingAway, CloseProtocolError, 1003, 1007, 1008,
		CloseMessageTooBig, 1010, CloseInternalError:
		return true
	}
	return code >= 3000 && code <= 4999
}
