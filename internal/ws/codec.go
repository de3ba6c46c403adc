package ws

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrNeedMoreData is returned by Decode when buf does not yet hold a complete
// frame. It is a retry signal, not a failure: no bytes are consumed, and the
// caller should read more from the socket and call Decode again.
var ErrNeedMoreData = errors.New("websocket: need more data")

const (
	finBit  = 0x80
	maskBit = 0x80
	rsvMask = 0x70
)

// Decode parses one frame from the front of buf and returns it together with
// the number of bytes consumed. maxPayload bounds the declared payload length
// of a single frame; a larger declaration is rejected before any allocation
// so a malicious length field cannot exhaust memory.
func Decode(buf []byte, maxPayload int64) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrNeedMoreData
	}
	b0, b1 := buf[0], buf[1]
	if b0&rsvMask != 0 {
		return Frame{}, 0, protocolErr(CloseProtocolError, "reserved bits set without negotiated extension")
	}

	f := Frame{
		Fin:    b0&finBit != 0,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&maskBit != 0,
	}
	if !f.Opcode.valid() {
		return Frame{}, 0, protocolErr(CloseProtocolError, "unknown opcode 0x%x", b0&0x0F)
	}
	if f.Opcode.IsControl() && !f.Fin {
		return Frame{}, 0, protocolErr(CloseProtocolError, "fragmented control frame")
	}

	length := int64(b1 & 0x7F)
	offset := 2
	switch length {
	case 126:
		if len(buf) < offset+2 {
			return Frame{}, 0, ErrNeedMoreData
		}
		length = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return Frame{}, 0, ErrNeedMoreData
		}
		v := binary.BigEndian.Uint64(buf[offset:])
		if v > math.MaxInt64 {
			return Frame{}, 0, protocolErr(CloseMessageTooBig, "declared payload length overflows")
		}
		length = int64(v)
		offset += 8
	}

	if f.Opcode.IsControl() && length > MaxControlPayload {
		return Frame{}, 0, protocolErr(CloseProtocolError, "control frame payload of %d bytes exceeds %d", length, MaxControlPayload)
	}
	if length > maxPayload {
		return Frame{}, 0, protocolErr(CloseMessageTooBig, "declared payload length %d exceeds limit %d", length, maxPayload)
	}

	if f.Masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, ErrNeedMoreData
		}
		copy(f.MaskKey[:], buf[offset:])
		offset += 4
	}

	total := offset + int(length)
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMoreData
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, buf[offset:total])
	if f.Masked {
		maskBytes(f.Payload, f.MaskKey)
	}
	return f, total, nil
}

// AppendFrame appends the wire encoding of f to dst and returns the extended
// slice. The minimal length tier is chosen for the payload, and the frame is
// emitted unmasked: per RFC 6455 only client-to-server frames carry a mask.
func AppendFrame(dst []byte, f Frame) []byte {
	b0 := byte(f.Opcode)
	if f.Fin {
		b0 |= finBit
	}
	dst = append(dst, b0)

	n := len(f.Payload)
	switch {
	case n <= 125:
		dst = append(dst, byte(n))
	case n <= math.MaxUint16:
		dst = append(dst, 126, byte(n>>8), byte(n))
	default:
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		dst = append(dst, 127)
		dst = append(dst, ext[:]...)
	}
	return append(dst, f.Payload...)
}

// EncodeFrame returns the wire encoding of f as a fresh buffer.
func EncodeFrame(f Frame) []byte {
	return AppendFrame(make([]byte, 0, len(f.Payload)+10), f)
}

// maskBytes XORs p in place with the 4-byte mask key. The transform is its
// own inverse, so it serves both masking and unmasking.
func maskBytes(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i%4]
	}
}
