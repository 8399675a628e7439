package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Handshake message tags, per OTP 23+ (handshake version 6) wire format.
const (
	tagSendName     = 'N'
	tagStatus       = 's'
	tagChallengeAck = 'a'
	tagChallengeReply = 'r'
)

var (
	ErrShortMessage   = errors.New("handshake: message too short")
	ErrUnexpectedTag  = errors.New("handshake: unexpected message tag")
)

// SendName is the client's opening message: our_flags + our_creation +
// our_node_name.
type SendName struct {
	Flags    Flags
	Creation uint32
	Name     string
}

func (m SendName) Encode() []byte {
	buf := make([]byte, 0, 1+8+4+2+len(m.Name))
	buf = append(buf, tagSendName)
	buf = appendU64(buf, uint64(m.Flags))
	buf = appendU32(buf, m.Creation)
	buf = appendU16(buf, uint16(len(m.Name)))
	buf = append(buf, m.Name...)
	return buf
}

// statusAlive is recv_status's third, non-terminal outcome: the peer
// already has a live connection under this node's name and expects a
// true/false resolution rather than continuation or rejection.
const statusAlive = "alive"

// Status carries the peer's acceptance/rejection of the connection.
type Status struct {
	Value string // "ok", "ok_simultaneous", "nok", "not_allowed", "alive"
}

func (s Status) IsOK() bool {
	return s.Value == "ok" || s.Value == "ok_simultaneous"
}

// IsAlive reports the third recv_status outcome, requiring a true/false
// resolution rather than the binary ok/reject paths IsOK distinguishes.
func (s Status) IsAlive() bool {
	return s.Value == statusAlive
}

func DecodeStatus(data []byte) (Status, error) {
	if len(data) < 1 || data[0] != tagStatus {
		return Status{}, fmt.Errorf("%w: status", ErrUnexpectedTag)
	}
	return Status{Value: string(data[1:])}, nil
}

// Challenge is the peer's reply to send_name: their flags, their
// creation, their challenge nonce, and their node name.
type Challenge struct {
	Flags     Flags
	Creation  uint32
	Challenge uint32
	Name      string
}

func DecodeChallenge(data []byte) (Challenge, error) {
	if len(data) < 1 || data[0] != tagSendName {
		return Challenge{}, fmt.Errorf("%w: challenge", ErrUnexpectedTag)
	}
	rest := data[1:]
	if len(rest) < 8+4+4+2 {
		return Challenge{}, ErrShortMessage
	}
	flags := Flags(binary.BigEndian.Uint64(rest[0:8]))
	challenge := binary.BigEndian.Uint32(rest[8:12])
	creation := binary.BigEndian.Uint32(rest[12:16])
	nameLen := binary.BigEndian.Uint16(rest[16:18])
	if len(rest) < 18+int(nameLen) {
		return Challenge{}, ErrShortMessage
	}
	name := string(rest[18 : 18+int(nameLen)])
	return Challenge{Flags: flags, Creation: creation, Challenge: challenge, Name: name}, nil
}

// ChallengeReply is the client's response: our own challenge nonce plus
// the digest proving knowledge of the shared cookie.
type ChallengeReply struct {
	Challenge uint32
	Digest    [16]byte
}

func (m ChallengeReply) Encode() []byte {
	buf := make([]byte, 0, 1+4+16)
	buf = append(buf, tagChallengeReply)
	buf = appendU32(buf, m.Challenge)
	buf = append(buf, m.Digest[:]...)
	return buf
}

// ChallengeAck is the peer's final digest, proving it also knows the
// shared cookie.
type ChallengeAck struct {
	Digest [16]byte
}

func DecodeChallengeAck(data []byte) (ChallengeAck, error) {
	if len(data) < 1 || data[0] != tagChallengeAck {
		return ChallengeAck{}, fmt.Errorf("%w: challenge_ack", ErrUnexpectedTag)
	}
	rest := data[1:]
	if len(rest) < 16 {
		return ChallengeAck{}, ErrShortMessage
	}
	var ack ChallengeAck
	copy(ack.Digest[:], rest[:16])
	return ack, nil
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
