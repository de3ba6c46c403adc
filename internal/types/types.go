package types

// CloseReason classifies why a session ended. It is recorded once, by the
// first cause observed, and reported through logs and session hooks.
type CloseReason int32

const (
	// ReasonNormal: clean closing handshake, or clean upstream EOF.
	ReasonNormal CloseReason = iota
	// ReasonProtocolError: the client violated the WebSocket framing rules.
	ReasonProtocolError
	// ReasonUpstreamFailure: the upstream TCP connection could not be
	// established, or failed mid-relay.
	ReasonUpstreamFailure
	// ReasonTimeout: the handshake or closing handshake exceeded its bound.
	ReasonTimeout
	// ReasonHandshakeRejected: the Upgrade request was invalid.
	ReasonHandshakeRejected
	// ReasonShutdown: the operator asked the server to stop.
	ReasonShutdown
	// ReasonTransportError: the client socket failed without a clean close.
	ReasonTransportError
)

func (r CloseReason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonProtocolError:
		return "protocol-error"
	case ReasonUpstreamFailure:
		return "upstream-failure"
	case ReasonTimeout:
		return "timeout"
	case ReasonHandshakeRejected:
		return "handshake-rejected"
	case ReasonShutdown:
		return "shutdown"
	case ReasonTransportError:
		return "transport-error"
	}
	return "unknown"
}
