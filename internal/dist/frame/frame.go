// Package frame implements C4: length-prefixed framing for distribution
// messages, with a narrower (2-byte) header during the handshake phase
// and a wider (4-byte) header once a session is established.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// Phase selects the header width in effect. The handshake and
// established phases use different length-prefix widths per
// SPEC_FULL.md §4.4, so a frame.Reader/Writer is always bound to one.
type Phase int

const (
	Handshake Phase = iota
	Established
)

const (
	maxHandshakeLen   = 0xFFFF
	maxEstablishedLen = 0x7FFFFFFF
)

var (
	// ErrShortHeader is returned when the stream ends before a complete
	// length header could be read, or partway through a frame body.
	ErrShortHeader = errors.New("frame: short length header")
	// ErrFrameTooLarge is returned when a declared frame length exceeds
	// the phase's maximum.
	ErrFrameTooLarge = errors.New("frame: length exceeds phase maximum")
)

// Tick is the zero-length established-phase frame used as a liveness
// keepalive (SPEC_FULL.md §4.4/§4.8). It never carries a control tuple.
var Tick = []byte{}

// ReadFrame reads one length-prefixed frame from r for the given phase.
// A zero-length result in the Established phase is a tick; callers must
// check len(payload) == 0 themselves rather than treating it as an
// error, matching internal/protocol/frame's ReadFrame/WriteFrame split
// between header validation and payload read.
func ReadFrame(r io.Reader, phase Phase) ([]byte, error) {
	n, err := readLength(r, phase)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes payload as one length-prefixed frame for phase. An
// empty payload writes a tick frame.
func WriteFrame(w io.Writer, phase Phase, payload []byte) error {
	n := len(payload)
	max := maxHandshakeLen
	if phase == Established {
		max = maxEstablishedLen
	}
	if n > max {
		return ErrFrameTooLarge
	}
	var header []byte
	switch phase {
	case Handshake:
		header = make([]byte, 2)
		binary.BigEndian.PutUint16(header, uint16(n))
	default:
		header = make([]byte, 4)
		binary.BigEndian.PutUint32(header, uint32(n))
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readLength(r io.Reader, phase Phase) (int, error) {
	switch phase {
	case Handshake:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, shortHeaderErr(err)
		}
		return int(binary.BigEndian.Uint16(b[:])), nil
	default:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, shortHeaderErr(err)
		}
		n := binary.BigEndian.Uint32(b[:])
		if n > maxEstablishedLen {
			return 0, ErrFrameTooLarge
		}
		return int(n), nil
	}
}

func shortHeaderErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortHeader
	}
	return err
}
