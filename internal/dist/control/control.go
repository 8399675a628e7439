// Package control implements C7: the distribution control-message layer.
// Each established-phase frame (after optional fragment reassembly)
// begins with a pass-through byte, an ETF-encoded control tuple, and an
// optional ETF-encoded payload. Opcode numbering and per-opcode field
// shapes are grounded on
// original_source/edp_client/control.rs's ControlMessageType/
// ControlMessage enums, re-expressed as a Go const block plus one
// discriminated struct (Go has no sum types).
package control

import (
	"errors"
	"fmt"

	"github.com/danmuck/erldist/internal/etf"
)

// PassThrough is the constant byte prefixing every steady-state
// distribution message.
const PassThrough = 112

// Opcode is the first element of the control tuple.
type Opcode int

const (
	OpLink                Opcode = 1
	OpSend                Opcode = 2
	OpExit                Opcode = 3
	OpUnlink              Opcode = 4
	OpNodeLink            Opcode = 5
	OpRegSend             Opcode = 6
	OpGroupLeader         Opcode = 7
	OpExit2               Opcode = 8
	OpSendTT              Opcode = 12
	OpExitTT              Opcode = 13
	OpRegSendTT           Opcode = 16
	OpExit2TT             Opcode = 18
	OpMonitorP            Opcode = 19
	OpDemonitorP          Opcode = 20
	OpMonitorPExit        Opcode = 21
	OpSendSender          Opcode = 22
	OpSendSenderTT        Opcode = 23
	OpPayloadExit         Opcode = 24
	OpPayloadExitTT       Opcode = 25
	OpPayloadExit2        Opcode = 26
	OpPayloadExit2TT      Opcode = 27
	OpPayloadMonitorPExit Opcode = 28
	OpAliasSend           Opcode = 33
	OpAliasSendTT         Opcode = 38
	OpUnlinkID            Opcode = 35
	OpUnlinkIDAck         Opcode = 36
)

// ErrUnknownOpcode is the sentinel UnknownControl(n) errors wrap; per
// SPEC_FULL.md §4.7/§4.8 this is a warn-and-drop condition, not fatal.
var ErrUnknownOpcode = errors.New("control: unknown opcode")

// UnknownControlError carries the unrecognized opcode value for logging.
type UnknownControlError struct {
	Opcode int64
}

func (e *UnknownControlError) Error() string {
	return fmt.Sprintf("control: unknown opcode %d", e.Opcode)
}

func (e *UnknownControlError) Unwrap() error { return ErrUnknownOpcode }

var (
	ErrMalformedControlTuple = errors.New("control: malformed control tuple")
	ErrMissingPassThrough    = errors.New("control: missing pass-through byte")
)

// Message is a decoded control tuple plus its optional, lazily-decoded
// payload bytes. HasPayload reflects whether this opcode carries one;
// PayloadBytes is the still-encoded ETF term, decoded on demand via
// DecodePayload so callers that don't need the body skip the etf.Decode
// call, per SPEC_FULL.md §4.7.
type Message struct {
	Opcode  Opcode
	Fields  []etf.Term // tuple elements after the opcode, in wire order
	HasPayload bool
	PayloadBytes []byte
}

// DecodePayload lazily decodes the payload term, if any.
func (m Message) DecodePayload() (etf.Term, error) {
	if !m.HasPayload {
		return nil, nil
	}
	t, _, err := etf.Decode(m.PayloadBytes)
	return t, err
}

// Encode builds one established-phase frame body: pass-through byte +
// encoded control tuple + optional encoded payload.
func Encode(opcode Opcode, fields []etf.Term, payload etf.Term) ([]byte, error) {
	tupleElems := make(etf.Tuple, 0, len(fields)+1)
	tupleElems = append(tupleElems, etf.SmallInteger(opcode))
	tupleElems = append(tupleElems, fields...)

	ctrlBytes, err := etf.Encode(tupleElems, etf.EncodeOptions{})
	if err != nil {
		return nil, fmt.Errorf("control: encode control tuple: %w", err)
	}

	out := make([]byte, 0, 1+len(ctrlBytes))
	out = append(out, PassThrough)
	out = append(out, ctrlBytes...)

	if payload != nil {
		payloadBytes, err := etf.Encode(payload, etf.EncodeOptions{})
		if err != nil {
			return nil, fmt.Errorf("control: encode payload: %w", err)
		}
		out = append(out, payloadBytes...)
	}
	return out, nil
}

// Decode parses one established-phase frame body (after any fragment
// reassembly). A failure decoding the control header itself is
// session-fatal per SPEC_FULL.md §4.8 and is returned as-is; an unknown
// opcode returns *UnknownControlError, which callers must treat as
// warn-and-drop, not a reason to close the session.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 1 || frame[0] != PassThrough {
		return Message{}, ErrMissingPassThrough
	}
	rest := frame[1:]

	ctrlTerm, tail, err := etf.Decode(rest)
	if err != nil {
		return Message{}, fmt.Errorf("control: decode control tuple: %w", err)
	}
	tuple, ok := ctrlTerm.(etf.Tuple)
	if !ok || len(tuple) < 1 {
		return Message{}, ErrMalformedControlTuple
	}
	opInt, ok := tuple[0].(etf.SmallInteger)
	if !ok {
		return Message{}, ErrMalformedControlTuple
	}
	opcode := Opcode(opInt)

	if !knownOpcode(opcode) {
		return Message{}, &UnknownControlError{Opcode: int64(opInt)}
	}

	msg := Message{Opcode: opcode, Fields: tuple[1:]}
	if opcodeHasPayload(opcode) && len(tail) > 0 {
		// tail is exactly the payload's own version-magic-prefixed ETF
		// buffer: each term on the wire here carries its own magic byte.
		msg.HasPayload = true
		msg.PayloadBytes = tail
	}
	return msg, nil
}

func knownOpcode(op Opcode) bool {
	switch op {
	case OpLink, OpSend, OpExit, OpUnlink, OpNodeLink, OpRegSend, OpGroupLeader,
		OpExit2, OpSendTT, OpExitTT, OpRegSendTT, OpExit2TT, OpMonitorP, OpDemonitorP,
		OpMonitorPExit, OpSendSender, OpSendSenderTT, OpPayloadExit, OpPayloadExitTT,
		OpPayloadExit2, OpPayloadExit2TT, OpPayloadMonitorPExit, OpAliasSend, OpAliasSendTT,
		OpUnlinkID, OpUnlinkIDAck:
		return true
	default:
		return false
	}
}

// opcodeHasPayload reports whether this opcode's wire form is followed
// by a separate ETF-encoded payload term, per spec.md §4.7's opcode
// list (SEND/REG_SEND-family, ALIAS_SEND, and the PAYLOAD_* exit variants).
func opcodeHasPayload(op Opcode) bool {
	switch op {
	case OpSend, OpSendTT, OpSendSender, OpSendSenderTT,
		OpRegSend, OpRegSendTT,
		OpPayloadExit, OpPayloadExitTT, OpPayloadExit2, OpPayloadExit2TT,
		OpPayloadMonitorPExit, OpAliasSend, OpAliasSendTT:
		return true
	default:
		return false
	}
}
