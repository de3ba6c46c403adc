package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"go.uber.org/atomic"

	"github.com/QuadTriangle/wsbridge/internal/config"
	"github.com/QuadTriangle/wsbridge/internal/hooks"
	"github.com/QuadTriangle/wsbridge/internal/types"
	"github.com/QuadTriangle/wsbridge/internal/ws"
)

// Session states. Every transition is one-directional toward stateClosed and
// is applied through a CAS on the state word, so both relay directions
// observe a consistent terminal decision exactly once.
const (
	stateConnecting int32 = iota
	stateHandshaking
	stateRelaying
	stateClosingLocal
	stateClosingRemote
	stateClosed
)

const (
	// maxHandshakeBytes caps the Upgrade request size.
	maxHandshakeBytes = 8 << 10
	// outboxDepth bounds queued data frames toward the client. Beyond it the
	// upstream reader suspends, which is the backpressure path.
	outboxDepth = 64
	// upstreamChunk is the read size for upstream bytes; each read becomes
	// one Binary frame.
	upstreamChunk = 32 << 10
)

// Session orchestrates one client connection: handshake, frame relay in both
// directions, the closing handshake and resource teardown. It exclusively
// owns the client socket and, once dialed, the upstream socket.
type Session struct {
	id       string
	cfg      config.Config
	log      *slog.Logger
	hooks    *hooks.Pipeline
	client   net.Conn
	upstream net.Conn

	state  atomic.Int32
	reason *atomic.Int32 // types.CloseReason, -1 until decided
	outbox *outbox

	upstreamOnce sync.Once
	bytesIn      atomic.Int64 // client -> upstream
	bytesOut     atomic.Int64 // upstream -> client
}

// NewSession wraps an accepted client connection. Run does the rest.
func NewSession(cfg config.Config, logger *slog.Logger, pipeline *hooks.Pipeline, client net.Conn) *Session {
	setNoDelay(client)
	s := &Session{
		id:     uuid.New(),
		cfg:    cfg,
		hooks:  pipeline,
		client: client,
		reason: atomic.NewInt32(-1),
		outbox: newOutbox(outboxDepth),
	}
	s.log = logger.With("sid", s.id, "client_addr", client.RemoteAddr().String())
	s.state.Store(stateConnecting)
	return s
}

// ID returns the session identifier used in logs and hooks.
func (s *Session) ID() string { return s.id }

// Run drives the session to completion. It blocks until every resource is
// released and must be called exactly once.
func (s *Session) Run() {
	defer s.teardown()

	s.state.Store(stateHandshaking)
	remaining, ok := s.negotiate()
	if !ok {
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	up, err := dialUpstream(s.cfg.UpstreamAddr, s.cfg.DialTimeout)
	if err != nil {
		s.log.Warn("cannot connect to upstream", "error", err)
		s.beginClose(ws.CloseInternalError, types.ReasonUpstreamFailure)
	} else {
		s.upstream = up
		s.state.Store(stateRelaying)
		s.hooks.NotifyRelaying(s.id)
		s.log.Debug("relaying", "upstream_addr", up.RemoteAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.upstreamLoop()
		}()
	}

	s.readLoop(remaining)

	// Reading is over: flush whatever is queued (a pending Close frame in
	// particular), bounded by the closing timeout, then tear the socket down.
	s.outbox.close()
	s.closeUpstream()
	_ = s.client.SetWriteDeadline(time.Now().Add(s.cfg.ClosingTimeout))
	wg.Wait()
}

// negotiate runs the HTTP Upgrade exchange. On success the 101 response has
// been written and any bytes past the header terminator are returned.
func (s *Session) negotiate() ([]byte, bool) {
	_ = s.client.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))

	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)
	for {
		n, err := s.client.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			hs, remaining, nerr := ws.Negotiate(buf)
			switch {
			case nerr == nil:
				if _, werr := s.client.Write(hs.Response()); werr != nil {
					s.setReason(types.ReasonTransportError)
					s.log.Warn("cannot write handshake response", "error", werr)
					return nil, false
				}
				_ = s.client.SetReadDeadline(time.Time{})
				s.log.Debug("handshake accepted", "target", hs.Target)
				return remaining, true

			case errors.Is(nerr, ws.ErrIncomplete):
				if len(buf) > maxHandshakeBytes {
					return nil, s.rejectHandshake(ws.ErrMalformed, 400)
				}

			default:
				status := 400
				var he *ws.HandshakeError
				if errors.As(nerr, &he) {
					status = he.Status
				}
				return nil, s.rejectHandshake(nerr, status)
			}
		}
		if err != nil {
			s.handleReadError(err)
			return nil, false
		}
	}
}

// rejectHandshake writes the minimal HTTP error response and terminates the
// session without ever emitting WebSocket frames. Always returns false.
func (s *Session) rejectHandshake(cause error, status int) bool {
	_, _ = s.client.Write(ws.ErrorResponse(status))
	s.setReason(types.ReasonHandshakeRejected)
	s.hooks.NotifyHandshakeRejected(s.id, s.client.RemoteAddr().String(), cause)
	s.log.Warn("handshake rejected", "error", cause)
	return false
}

// readLoop owns the client socket's read side: it feeds the codec, the
// assembler, and the client-to-upstream relay direction.
func (s *Session) readLoop(initial []byte) {
	asm := ws.NewAssembler(s.cfg.MaxMessageSize)
	buf := append([]byte(nil), initial...)
	chunk := make([]byte, 4096)
	for {
		for len(buf) > 0 {
			f, n, err := ws.Decode(buf, s.cfg.MaxMessageSize)
			if errors.Is(err, ws.ErrNeedMoreData) {
				break
			}
			if err != nil {
				s.protocolViolation(err)
				return
			}
			buf = buf[n:]
			if !f.Masked {
				s.protocolViolation(&ws.ProtocolError{Code: ws.CloseProtocolError, Reason: "unmasked client frame"})
				return
			}

			act, err := asm.Next(f)
			if err != nil {
				s.protocolViolation(err)
				return
			}
			if done := s.apply(act); done {
				return
			}
		}

		n, err := s.client.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			s.handleReadError(err)
			return
		}
	}
}

// apply executes one assembler action. It reports true when the closing
// handshake has completed and reading should stop.
func (s *Session) apply(act ws.Action) bool {
	switch act.Kind {
	case ws.ActionMessage:
		if s.state.Load() != stateRelaying || s.upstream == nil {
			return false // closing already decided; late data is dropped
		}
		if _, err := s.upstream.Write(act.Payload); err != nil {
			s.log.Warn("upstream write failed", "error", err)
			s.beginClose(ws.CloseInternalError, types.ReasonUpstreamFailure)
			return false
		}
		s.bytesIn.Add(int64(len(act.Payload)))

	case ws.ActionPong:
		// Pings are answered until a close is decided.
		if s.state.Load() <= stateRelaying {
			s.outbox.pushControl(ws.EncodeFrame(ws.Frame{Fin: true, Opcode: ws.OpPong, Payload: act.Payload}))
		}

	case ws.ActionClose:
		if s.state.CompareAndSwap(stateRelaying, stateClosingRemote) {
			// Peer initiated the closing handshake: echo its code, stop the
			// relay, and let Run flush the queue before closing the socket.
			s.setReason(types.ReasonNormal)
			s.log.Debug("client sent close", "code", act.Code, "close_reason", string(act.Reason))
			s.outbox.pushClose(ws.EncodeFrame(ws.CloseFrame(act.Code)))
			s.closeUpstream()
			return true
		}
		// We initiated: this is the peer's echo, the handshake is complete.
		s.log.Debug("client acknowledged close", "code", act.Code)
		return true
	}
	return false
}

// protocolViolation starts the closing handshake with the violation's close
// code. The stream can no longer be trusted to stay in sync, so the session
// does not wait for the peer's echo; the queued Close frame is still flushed
// before the socket closes.
func (s *Session) protocolViolation(err error) {
	code := ws.CloseProtocolError
	var pe *ws.ProtocolError
	if errors.As(err, &pe) {
		code = pe.Code
	}
	s.log.Warn("client protocol violation", "error", err, "close_code", code)
	s.beginClose(code, types.ReasonProtocolError)
}

// beginClose initiates the closing handshake from this side: exactly one
// caller wins the transition, queues the Close frame, tears down the
// upstream and bounds the wait for the peer's echo.
func (s *Session) beginClose(code int, reason types.CloseReason) {
	if !s.state.CompareAndSwap(stateRelaying, stateClosingLocal) &&
		!s.state.CompareAndSwap(stateHandshaking, stateClosingLocal) {
		return
	}
	s.setReason(reason)
	s.log.Debug("starting closing handshake", "code", code)
	s.outbox.pushClose(ws.EncodeFrame(ws.CloseFrame(code)))
	s.closeUpstream()
	_ = s.client.SetReadDeadline(time.Now().Add(s.cfg.ClosingTimeout))
}

// CloseGoingAway asks the session to shut down because the server is
// stopping. Sessions still in the handshake are cut off without WebSocket
// framing; relaying sessions get a clean 1001 close.
func (s *Session) CloseGoingAway() {
	if s.state.Load() <= stateHandshaking {
		s.setReason(types.ReasonShutdown)
		_ = s.client.Close()
		return
	}
	s.beginClose(ws.CloseGoingAway, types.ReasonShutdown)
}

// writeLoop owns the client socket's write side, draining the outbox until
// it is closed and empty.
func (s *Session) writeLoop() {
	for {
		frame, ok := s.outbox.pop()
		if !ok {
			return
		}
		if _, err := s.client.Write(frame); err != nil {
			s.setReason(types.ReasonTransportError)
			s.outbox.close()
			// Wake the read side; a broken write side means the socket is done.
			_ = s.client.Close()
			return
		}
	}
}

// upstreamLoop owns the upstream socket's read side. Every chunk of upstream
// bytes becomes one unmasked Binary frame toward the client; the distinction
// between Text and Binary cannot be preserved for an opaque TCP stream.
func (s *Session) upstreamLoop() {
	buf := make([]byte, upstreamChunk)
	for {
		n, err := s.upstream.Read(buf)
		if n > 0 {
			frame := ws.EncodeFrame(ws.Frame{Fin: true, Opcode: ws.OpBinary, Payload: buf[:n]})
			if !s.outbox.pushData(frame) {
				return
			}
			s.bytesOut.Add(int64(n))
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Debug("upstream closed the connection")
				s.beginClose(ws.CloseNormal, types.ReasonNormal)
			case s.state.Load() >= stateClosingLocal:
				// Wakeup from our own teardown of the upstream socket.
			default:
				s.log.Warn("upstream read failed", "error", err)
				s.beginClose(ws.CloseInternalError, types.ReasonUpstreamFailure)
			}
			return
		}
	}
}

func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		if s.state.Load() >= stateClosingLocal {
			s.log.Debug("closing handshake timed out")
		} else {
			s.log.Warn("client timed out", "error", err)
		}
		s.setReason(types.ReasonTimeout)
	case errors.Is(err, io.EOF):
		s.log.Debug("client closed the connection")
		s.setReason(types.ReasonTransportError)
	default:
		if s.state.Load() < stateClosingLocal {
			s.log.Warn("client read failed", "error", err)
		}
		s.setReason(types.ReasonTransportError)
	}
}

// setReason records the close reason; the first cause wins.
func (s *Session) setReason(r types.CloseReason) {
	s.reason.CompareAndSwap(-1, int32(r))
}

func (s *Session) closeReason() types.CloseReason {
	if r := s.reason.Load(); r >= 0 {
		return types.CloseReason(r)
	}
	return types.ReasonTransportError
}

func (s *Session) closeUpstream() {
	s.upstreamOnce.Do(func() {
		if s.upstream != nil {
			_ = s.upstream.Close()
		}
	})
}

func (s *Session) teardown() {
	s.state.Store(stateClosed)
	s.closeUpstream()
	_ = s.client.Close()

	reason := s.closeReason()
	bytesIn, bytesOut := s.bytesIn.Load(), s.bytesOut.Load()
	s.hooks.NotifyClosed(s.id, reason, bytesIn, bytesOut)
	s.log.Info("session closed", "reason", reason.String(), "bytes_in", bytesIn, "bytes_out", bytesOut)
}
