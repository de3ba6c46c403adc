package ws

// ActionKind classifies the assembler's verdict on one frame.
type ActionKind int

const (
	// ActionNone means the frame was buffered or discarded; nothing to do.
	ActionNone ActionKind = iota
	// ActionMessage yields a complete reassembled data message.
	ActionMessage
	// ActionPong requests an immediate Pong carrying Payload. Pongs take
	// priority over queued data frames.
	ActionPong
	// ActionClose reports a Close frame from the peer. Code is the value to
	// echo back if this side has not sent a Close yet.
	ActionClose
)

// Action is what the session should do in response to a consumed frame.
type Action struct {
	Kind    ActionKind
	Opcode  Opcode // first-fragment opcode, set for ActionMessage
	Payload []byte // message payload or ping payload to echo
	Code    int    // close code, set for ActionClose
	Reason  []byte // close reason, set for ActionClose
}

// Assembler consumes decoded frames one at a time, reassembling fragmented
// data messages and dispatching control frames. It enforces the configured
// maximum size across a whole reassembled message, not just one frame.
type Assembler struct {
	maxMessage int64
	fragmented bool
	fragOp     Opcode
	frag       []byte
}

// NewAssembler returns an assembler that rejects reassembled messages larger
// than maxMessage bytes with close code 1009.
func NewAssembler(maxMessage int64) *Assembler {
	return &Assembler{maxMessage: maxMessage}
}

// Next consumes one decoded frame. Control frames are dispatched immediately;
// data frames are buffered until the final fragment arrives.
func (a *Assembler) Next(f Frame) (Action, error) {
	switch f.Opcode {
	case OpPing:
		return Action{Kind: ActionPong, Payload: f.Payload}, nil

	case OpPong:
		// The bridge never sends Pings, so any Pong is unsolicited. Dropped.
		return Action{}, nil

	case OpClose:
		code, reason, err := ParseClosePayload(f.Payload)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionClose, Code: code, Reason: reason}, nil

	case OpText, OpBinary:
		if a.fragmented {
			a.reset()
			return Action{}, protocolErr(CloseProtocolError, "%s frame while a fragmented message is in progress", f.Opcode)
		}
		if f.Fin {
			return Action{Kind: ActionMessage, Opcode: f.Opcode, Payload: f.Payload}, nil
		}
		a.fragmented = true
		a.fragOp = f.Opcode
		a.frag = append(a.frag[:0], f.Payload...)
		return Action{}, nil

	default: // OpContinuation
		if !a.fragmented {
			return Action{}, protocolErr(CloseProtocolError, "continuation frame without a preceding fragment")
		}
		if int64(len(a.frag))+int64(len(f.Payload)) > a.maxMessage {
			a.reset()
			return Action{}, protocolErr(CloseMessageTooBig, "reassembled message exceeds limit %d", a.maxMessage)
		}
		a.frag = append(a.frag, f.Payload...)
		if !f.Fin {
			return Action{}, nil
		}
		op := a.fragOp
		payload := a.frag
		a.fragmented, a.fragOp, a.frag = false, 0, nil
		return Action{Kind: ActionMessage, Opcode: op, Payload: payload}, nil
	}
}

func (a *Assembler) reset() {
	a.fragmented = false
	a.fragOp = 0
	a.frag = nil
}
