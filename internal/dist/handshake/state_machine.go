package handshake

import (
	"errors"
	"fmt"
)

// State is one phase of the client-role-only handshake, per SPEC_FULL.md
// §4.5: Init -> SendName -> RecvStatus -> RecvChallenge ->
// SendChallengeReply -> RecvChallengeAck -> Established, or Failed from
// any state.
type State int

const (
	Init State = iota
	SendingName
	AwaitingStatus
	AwaitingAliveResolution
	AwaitingChallenge
	SendingChallengeReply
	AwaitingChallengeAck
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case SendingName:
		return "sending_name"
	case AwaitingStatus:
		return "awaiting_status"
	case AwaitingAliveResolution:
		return "awaiting_alive_resolution"
	case AwaitingChallenge:
		return "awaiting_challenge"
	case SendingChallengeReply:
		return "sending_challenge_reply"
	case AwaitingChallengeAck:
		return "awaiting_challenge_ack"
	case Established:
		return "established"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handshake error kinds (SPEC_FULL.md §7).
var (
	ErrAuthenticationFailed   = errors.New("handshake: authentication failed")
	ErrConnectionRefused      = errors.New("handshake: connection refused by peer")
	ErrInvalidStateTransition = errors.New("handshake: invalid state transition")
)

// MissingRequiredFlagError reports that the peer's negotiated flag set
// lacks a flag this client requires.
type MissingRequiredFlagError struct {
	Missing Flags
}

func (e *MissingRequiredFlagError) Error() string {
	return fmt.Sprintf("handshake: peer missing required flags: %#x", uint64(e.Missing))
}

// StatusRejectedError reports a non-ok status message from the peer.
type StatusRejectedError struct {
	Status string
}

func (e *StatusRejectedError) Error() string {
	return fmt.Sprintf("handshake: status rejected: %s", e.Status)
}

// StatusAliveError signals recv_status == "alive": the peer already has a
// live connection from this node's name and the caller must resolve the
// duplicate-name contention by calling PrepareAliveResponse(keepNew) before
// the handshake can proceed, per spec.md §4.5. Not a terminal failure by
// itself - the state machine stays in AwaitingAliveResolution, not Failed.
type StatusAliveError struct{}

func (e *StatusAliveError) Error() string {
	return "handshake: status alive: duplicate node name requires resolution"
}

// StateMachine is a pure (state, bytes) -> (state, bytes) transform, per
// SPEC_FULL.md §9: each method mutates only the receiver's own fields and
// returns bytes to send (if any), so the I/O task stays thin and the
// handshake is testable against recorded byte logs without a network.
// Grounded on original_source/edp_client/state_machine.rs's
// HandshakeStateMachine, one Go method per Rust method.
type StateMachine struct {
	state State

	localName string
	cookie    string
	flags     Flags
	creation  uint32

	ourChallenge     uint32
	theirChallenge   uint32
	negotiatedFlags  Flags
	peerName         string
	peerCreation     uint32

	challengeFn func() uint32 // overridable for deterministic tests
}

// New constructs a handshake state machine in the Init state.
func New(localName, cookie string, flags Flags, creation uint32) *StateMachine {
	return &StateMachine{
		state:       Init,
		localName:   localName,
		cookie:      cookie,
		flags:       flags,
		creation:    creation,
		challengeFn: generateChallenge,
	}
}

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// NegotiatedFlags returns the intersected flag set, valid once the
// handshake reaches AwaitingChallengeAck or Established.
func (m *StateMachine) NegotiatedFlags() Flags { return m.negotiatedFlags }

// PeerName returns the peer's node name, learned from recv_challenge.
func (m *StateMachine) PeerName() string { return m.peerName }

// PeerCreation returns the peer's creation value, learned from
// recv_challenge.
func (m *StateMachine) PeerCreation() uint32 { return m.peerCreation }

func (m *StateMachine) fail() {
	m.state = Failed
	m.ourChallenge = 0
	m.theirChallenge = 0
	m.negotiatedFlags = 0
}

// PrepareSendName produces the bytes for the opening send_name message
// and advances to AwaitingStatus.
func (m *StateMachine) PrepareSendName() ([]byte, error) {
	if m.state != Init {
		return nil, m.invalidTransition(SendingName)
	}
	m.state = SendingName
	msg := SendName{Flags: m.flags, Creation: m.creation, Name: m.localName}
	data := msg.Encode()
	m.state = AwaitingStatus
	return data, nil
}

// HandleStatus consumes the peer's status message. A status of "alive" is
// neither ok nor a hard rejection: it reports a still-live prior connection
// from this node's name and requires the caller to resolve the contention
// via PrepareAliveResponse, so it is held in AwaitingAliveResolution and
// reported as *StatusAliveError rather than folded into the !IsOK() branch.
func (m *StateMachine) HandleStatus(data []byte) error {
	if m.state != AwaitingStatus {
		return m.invalidTransitionErr()
	}
	status, err := DecodeStatus(data)
	if err != nil {
		m.fail()
		return err
	}
	if status.IsAlive() {
		m.state = AwaitingAliveResolution
		return &StatusAliveError{}
	}
	if !status.IsOK() {
		m.fail()
		return &StatusRejectedError{Status: status.Value}
	}
	m.state = AwaitingChallenge
	return nil
}

// PrepareAliveResponse answers a prior *StatusAliveError. keepNewConnection
// true sends "true" (displace the existing connection and proceed to
// recv_challenge); false sends "false" (defer to the existing connection
// and abort this attempt). The reply bytes must be written to the peer in
// both cases - the caller decides whether to keep dealing with this
// connection only after inspecting State() post-write.
func (m *StateMachine) PrepareAliveResponse(keepNewConnection bool) ([]byte, error) {
	if m.state != AwaitingAliveResolution {
		return nil, m.invalidTransitionErr()
	}
	value := "false"
	if keepNewConnection {
		value = "true"
	}
	data := append([]byte{tagStatus}, value...)
	if keepNewConnection {
		m.state = AwaitingChallenge
	} else {
		m.fail()
	}
	return data, nil
}

// HandleChallenge consumes the peer's challenge message, validates the
// negotiated flag set, and stores our own fresh challenge nonce.
func (m *StateMachine) HandleChallenge(data []byte) error {
	if m.state != AwaitingChallenge {
		return m.invalidTransitionErr()
	}
	challenge, err := DecodeChallenge(data)
	if err != nil {
		m.fail()
		return err
	}
	negotiated := Intersect(challenge.Flags, m.flags)
	if missing := negotiated.Missing(Mandatory); missing != 0 {
		m.fail()
		return &MissingRequiredFlagError{Missing: missing}
	}
	m.negotiatedFlags = negotiated
	m.theirChallenge = challenge.Challenge
	m.peerName = challenge.Name
	m.peerCreation = challenge.Creation
	m.ourChallenge = m.challengeFn()
	return nil
}

// PrepareChallengeReply produces the challenge-reply bytes and advances
// to AwaitingChallengeAck.
func (m *StateMachine) PrepareChallengeReply() ([]byte, error) {
	if m.state != AwaitingChallenge {
		return nil, m.invalidTransitionErr()
	}
	m.state = SendingChallengeReply
	reply := ChallengeReply{Challenge: m.ourChallenge, Digest: Digest(m.theirChallenge, m.cookie)}
	data := reply.Encode()
	m.state = AwaitingChallengeAck
	return data, nil
}

// HandleChallengeAck consumes the peer's final digest and, on success,
// transitions to Established.
func (m *StateMachine) HandleChallengeAck(data []byte) error {
	if m.state != AwaitingChallengeAck {
		return m.invalidTransitionErr()
	}
	ack, err := DecodeChallengeAck(data)
	if err != nil {
		m.fail()
		return err
	}
	want := Digest(m.ourChallenge, m.cookie)
	if ack.Digest != want {
		m.fail()
		return ErrAuthenticationFailed
	}
	m.state = Established
	return nil
}

func (m *StateMachine) invalidTransition(to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, m.state, to)
}

func (m *StateMachine) invalidTransitionErr() error {
	m.fail()
	return fmt.Errorf("%w: unexpected input in state %s", ErrInvalidStateTransition, m.state)
}
