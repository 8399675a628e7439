package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/erldist/internal/dist/control"
	"github.com/danmuck/erldist/internal/dist/fragment"
	"github.com/danmuck/erldist/internal/dist/frame"
	"github.com/danmuck/erldist/internal/dist/handshake"
	"github.com/danmuck/erldist/internal/dist/identity"
	"github.com/danmuck/erldist/internal/etf"
)

// fragmentFrameMarker prefixes an established-phase frame body that
// carries one fragment of a split control message, distinguishing it
// from a complete message (which always starts with control.PassThrough).
// Chosen as a byte value control.PassThrough and the ETF version magic
// (131) never take, so dispatch in readLoop is a single byte compare.
const fragmentFrameMarker = 0

// Session is one established distribution connection: a TCP socket plus
// the C4-C8 machinery layered over it, per SPEC_FULL.md §4/§5/§6.
type Session struct {
	conn   net.Conn
	cfg    Config
	ident  *identity.Context
	flags  handshake.Flags
	selfPid etf.Pid

	reassembler *fragment.Reassembler
	fragSeq     uint64 // monotonic sequence id allocator for outbound fragments

	monitorsMu sync.Mutex
	monitors   map[uint32]etf.Term // FreshReference's IDs[0] -> original monitor target

	outbound chan []byte
	inbound  *eventQueue

	wg sync.WaitGroup

	shutdownOnce sync.Once // guards the user-initiated Close signal
	done         chan struct{}

	closeOnce sync.Once // guards the terminal closeErr/inbound EventClosed
	closeErr  error
}

// Connect dials addr, drives the handshake state machine to completion,
// and starts the read/write loops. localName and cookie are this
// client's own identity; hidden suppresses DFLAG_PUBLISHED so the peer
// does not advertise this node to others in its cluster.
func Connect(ctx context.Context, addr, localName, cookie string, hidden bool, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ourFlags := handshake.Default
	if !hidden {
		ourFlags |= handshake.FlagPublished
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}

	creation := uint32(time.Now().Unix()) &^ 0xC0000000
	sm := handshake.New(localName, cookie, ourFlags, creation)

	if err := runHandshake(conn, sm, cfg.HandshakeTimeout, cfg.DisplaceExistingConnection); err != nil {
		conn.Close()
		return nil, err
	}

	ident := identity.New(localName, creation)

	s := &Session{
		conn:        conn,
		cfg:         cfg,
		ident:       ident,
		flags:       sm.NegotiatedFlags(),
		reassembler: fragment.New(cfg.MaxInFlightFragments),
		monitors:    make(map[uint32]etf.Term),
		outbound:    make(chan []byte, cfg.OutboundQueueDepth),
		inbound:     newEventQueue(),
		done:        make(chan struct{}),
	}
	s.selfPid = ident.FreshPid(0)

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()

	return s, nil
}

func runHandshake(conn net.Conn, sm *handshake.StateMachine, timeout time.Duration, displaceExisting bool) error {
	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("session: set handshake deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	out, err := sm.PrepareSendName()
	if err != nil {
		return err
	}
	if err := frame.WriteFrame(conn, frame.Handshake, out); err != nil {
		return fmt.Errorf("session: write send_name: %w", err)
	}
	log.Debug().Str("state", sm.State().String()).Msg("handshake: sent send_name")

	statusBytes, err := frame.ReadFrame(conn, frame.Handshake)
	if err != nil {
		return fmt.Errorf("session: read status: %w", err)
	}
	if err := sm.HandleStatus(statusBytes); err != nil {
		var alive *handshake.StatusAliveError
		if !errors.As(err, &alive) {
			return err
		}
		log.Debug().Bool("displace", displaceExisting).Msg("handshake: peer reports alive, resolving")
		reply, rerr := sm.PrepareAliveResponse(displaceExisting)
		if rerr != nil {
			return rerr
		}
		if werr := frame.WriteFrame(conn, frame.Handshake, reply); werr != nil {
			return fmt.Errorf("session: write alive response: %w", werr)
		}
		if sm.State() == handshake.Failed {
			return &handshake.StatusRejectedError{Status: "alive"}
		}
	}
	log.Debug().Str("state", sm.State().String()).Msg("handshake: received status")

	challengeBytes, err := frame.ReadFrame(conn, frame.Handshake)
	if err != nil {
		return fmt.Errorf("session: read challenge: %w", err)
	}
	if err := sm.HandleChallenge(challengeBytes); err != nil {
		return err
	}
	log.Debug().Str("state", sm.State().String()).Msg("handshake: received challenge")

	reply, err := sm.PrepareChallengeReply()
	if err != nil {
		return err
	}
	if err := frame.WriteFrame(conn, frame.Handshake, reply); err != nil {
		return fmt.Errorf("session: write challenge_reply: %w", err)
	}
	log.Debug().Str("state", sm.State().String()).Msg("handshake: sent challenge_reply")

	ackBytes, err := frame.ReadFrame(conn, frame.Handshake)
	if err != nil {
		return fmt.Errorf("session: read challenge_ack: %w", err)
	}
	if err := sm.HandleChallengeAck(ackBytes); err != nil {
		return err
	}
	log.Debug().Str("state", sm.State().String()).Msg("handshake: established")
	return nil
}

// Send delivers payload to a remote Pid or registered name, per
// SPEC_FULL.md §6's send(to, payload).
func (s *Session) Send(to Destination, payload etf.Term) error {
	var body []byte
	var err error
	switch {
	case to.Pid != nil:
		body, err = control.Encode(control.OpSendSender, []etf.Term{s.selfPid, *to.Pid}, payload)
	case to.Name != "":
		body, err = control.Encode(control.OpRegSend,
			[]etf.Term{s.selfPid, etf.Atom{Text: ""}, etf.Atom{Text: to.Name}}, payload)
	default:
		return fmt.Errorf("session: send: destination has neither Pid nor Name")
	}
	if err != nil {
		return fmt.Errorf("session: encode send: %w", err)
	}
	return s.enqueue(body)
}

// Link establishes a bidirectional link to a remote process.
func (s *Session) Link(to etf.Pid) error {
	body, err := control.Encode(control.OpLink, []etf.Term{s.selfPid, to}, nil)
	if err != nil {
		return fmt.Errorf("session: encode link: %w", err)
	}
	return s.enqueue(body)
}

// Unlink tears down a previously established link using the id-tracked
// protocol (OTP 24+'s UNLINK_ID/UNLINK_ID_ACK), per spec.md §4.7. The
// peer's ack is absorbed internally and does not surface as an Event;
// Unlink's error return covers only the local send, not ack receipt.
func (s *Session) Unlink(to etf.Pid) error {
	id := s.ident.FreshPid(0).ID // reuse the pid allocator as a cheap monotonic id source
	body, err := control.Encode(control.OpUnlinkID, []etf.Term{etf.Integer(id), s.selfPid, to}, nil)
	if err != nil {
		return fmt.Errorf("session: encode unlink: %w", err)
	}
	return s.enqueue(body)
}

// Monitor starts monitoring a remote process or registered name,
// returning the reference that will accompany the eventual
// EventMonitorDown delivery.
func (s *Session) Monitor(to Destination) (etf.Reference, error) {
	ref := s.ident.FreshReference()
	var target etf.Term
	switch {
	case to.Pid != nil:
		target = *to.Pid
	case to.Name != "":
		target = etf.Atom{Text: to.Name}
	default:
		return etf.Reference{}, fmt.Errorf("session: monitor: destination has neither Pid nor Name")
	}
	body, err := control.Encode(control.OpMonitorP, []etf.Term{s.selfPid, target, ref}, nil)
	if err != nil {
		return etf.Reference{}, fmt.Errorf("session: encode monitor: %w", err)
	}
	if err := s.enqueue(body); err != nil {
		return etf.Reference{}, err
	}
	s.monitorsMu.Lock()
	s.monitors[ref.IDs[0]] = target
	s.monitorsMu.Unlock()
	return ref, nil
}

// Demonitor cancels a previously established monitor. ref must be a
// value previously returned by Monitor on this Session.
func (s *Session) Demonitor(ref etf.Reference) error {
	s.monitorsMu.Lock()
	target, ok := s.monitors[ref.IDs[0]]
	if ok {
		delete(s.monitors, ref.IDs[0])
	}
	s.monitorsMu.Unlock()
	if !ok {
		return fmt.Errorf("session: demonitor: unknown reference")
	}

	body, err := control.Encode(control.OpDemonitorP, []etf.Term{s.selfPid, target, ref}, nil)
	if err != nil {
		return fmt.Errorf("session: encode demonitor: %w", err)
	}
	return s.enqueue(body)
}

// Exit sends an exit signal to a remote process with an explicit reason
// term, using the payload-bearing EXIT2 variant.
func (s *Session) Exit(to etf.Pid, reason etf.Term) error {
	body, err := control.Encode(control.OpPayloadExit2, []etf.Term{s.selfPid, to}, reason)
	if err != nil {
		return fmt.Errorf("session: encode exit: %w", err)
	}
	return s.enqueue(body)
}

// Recv blocks for the next inbound Event, or until ctx is done.
func (s *Session) Recv(ctx context.Context) (Event, error) {
	return s.inbound.pop(ctx)
}

// Close initiates graceful shutdown: the outbound queue stops accepting
// new sends, pending outbound frames are flushed up to
// ShutdownFlushDeadline, the write half closes, and the read loop drains
// until EOF or the same deadline. Safe to call more than once.
func (s *Session) Close() error {
	s.shutdownOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return s.closeErr
}

func (s *Session) enqueue(body []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.outbound <- body:
		return nil
	default:
		return ErrBackpressure
	}
}

// fail records an unexpected terminal error, closes the connection, and
// delivers a final EventClosed to the caller. It is idempotent with
// finishGraceful: whichever path reaches closeOnce first wins.
func (s *Session) fail(err error) {
	s.shutdownOnce.Do(func() { close(s.done) })
	s.closeOnce.Do(func() {
		s.closeErr = err
		log.Error().Err(err).Msg("session: closed")
		s.conn.Close()
		s.inbound.closeWith(Event{Kind: EventClosed, Err: &ClosedError{Reason: err}})
	})
}

// finishGraceful completes a caller-initiated Close with no error.
func (s *Session) finishGraceful() {
	s.closeOnce.Do(func() {
		s.conn.Close()
		s.inbound.closeWith(Event{Kind: EventClosed, Err: &ClosedError{}})
	})
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.drainOutboundOnShutdown()
			return
		case body := <-s.outbound:
			if err := s.writeBody(body); err != nil {
				s.fail(fmt.Errorf("session: write: %w", err))
				return
			}
		}
	}
}

// drainOutboundOnShutdown flushes whatever is already queued, then
// half-closes the write side (skipped on transports that don't support
// CloseWrite) so the peer observes EOF, and sets the read deadline so the
// read loop below can unwind on its own.
func (s *Session) drainOutboundOnShutdown() {
	deadline := time.Now().Add(s.cfg.ShutdownFlushDeadline)
	s.conn.SetWriteDeadline(deadline)
	for {
		select {
		case body := <-s.outbound:
			_ = s.writeBody(body)
		default:
			if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
				cw.CloseWrite()
			}
			s.conn.SetReadDeadline(deadline)
			return
		}
	}
}

// writeBody fragments body across multiple established-phase frames when
// it exceeds the negotiated fragment threshold and DFLAG_FRAGMENTS was
// negotiated; otherwise it writes a single frame, per spec.md §4.7's
// send-path description.
func (s *Session) writeBody(body []byte) error {
	if len(body) <= s.cfg.FragmentThreshold || !s.flags.Has(handshake.FlagFragments) {
		return frame.WriteFrame(s.conn, frame.Established, body)
	}

	seq := s.fragSeq + 1
	s.fragSeq = seq

	chunkSize := s.cfg.FragmentThreshold
	var chunks [][]byte
	for off := 0; off < len(body); off += chunkSize {
		end := off + chunkSize
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[off:end])
	}

	count := uint64(len(chunks))
	for i, chunk := range chunks {
		fragID := count - uint64(i)
		header := make([]byte, 17+len(chunk))
		header[0] = fragmentFrameMarker
		binary.BigEndian.PutUint64(header[1:9], seq)
		binary.BigEndian.PutUint64(header[9:17], fragID)
		copy(header[17:], chunk)
		if err := frame.WriteFrame(s.conn, frame.Established, header); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	var curFragSeq uint64
	var curFragCount uint64
	var curFragActive bool

	for {
		select {
		case <-s.done:
			// A graceful Close is in progress; drainOutboundOnShutdown
			// has already set a bounded read deadline, so continue
			// reading until that deadline or peer EOF.
		default:
			if s.cfg.TickInterval > 0 {
				s.conn.SetReadDeadline(time.Now().Add(4 * s.cfg.TickInterval))
			}
		}
		payload, err := frame.ReadFrame(s.conn, frame.Established)
		if err != nil {
			select {
			case <-s.done:
				s.finishGraceful()
			default:
				if isTimeout(err) {
					s.fail(ErrTickTimeout)
				} else {
					s.fail(fmt.Errorf("session: read: %w", err))
				}
			}
			return
		}
		if len(payload) == 0 {
			// Tick frame: answer with a tick of our own; never dispatched.
			_ = s.enqueue(frame.Tick)
			continue
		}

		if payload[0] == fragmentFrameMarker {
			if len(payload) < 17 {
				s.fail(&ProtocolError{Detail: "short fragment frame"})
				return
			}
			seq := binary.BigEndian.Uint64(payload[1:9])
			fragID := binary.BigEndian.Uint64(payload[9:17])
			chunk := payload[17:]

			if !curFragActive || curFragSeq != seq {
				curFragSeq = seq
				curFragCount = fragID
				curFragActive = true
			}
			body, _, done, err := s.reassembler.Push(seq, curFragCount, fragID, nil, chunk)
			if err != nil {
				s.fail(fmt.Errorf("session: fragment reassembly: %w", err))
				return
			}
			log.Debug().Uint64("seq", seq).Uint64("fragment", fragID).Bool("done", done).Msg("fragment reassembly")
			if !done {
				continue
			}
			curFragActive = false
			s.dispatch(body)
			continue
		}

		s.dispatch(payload)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// dispatch decodes one complete established-phase message body and
// translates it into zero or one Event, per SPEC_FULL.md §4.7/§4.8's
// failure semantics: an unknown opcode is warn-and-drop, a malformed
// control header is session-fatal, and a payload decode error surfaces
// as a per-message event without closing the session.
func (s *Session) dispatch(body []byte) {
	msg, err := control.Decode(body)
	if err != nil {
		var unknown *control.UnknownControlError
		if errors.As(err, &unknown) {
			log.Warn().Int64("opcode", unknown.Opcode).Msg("control: unknown opcode, dropping")
			return
		}
		s.fail(&ProtocolError{Detail: err.Error()})
		return
	}
	log.Debug().Int("opcode", int(msg.Opcode)).Msg("control: dispatch")
	for _, f := range msg.Fields {
		s.ident.InternTerm(f)
	}

	payload, perr := msg.DecodePayload()
	if perr != nil {
		s.inbound.push(Event{Kind: EventPayloadError, Err: fmt.Errorf("%w: %v", ErrPayloadDecode, perr)})
		return
	}
	if payload != nil {
		s.ident.InternTerm(payload)
	}

	switch msg.Opcode {
	case control.OpSendSender, control.OpSendSenderTT:
		s.inbound.push(Event{Kind: EventMessage, From: field(msg.Fields, 0), To: field(msg.Fields, 1), Term: payload})
	case control.OpSend, control.OpSendTT:
		s.inbound.push(Event{Kind: EventMessage, To: field(msg.Fields, 1), Term: payload})
	case control.OpRegSend, control.OpRegSendTT:
		s.inbound.push(Event{Kind: EventMessage, From: field(msg.Fields, 0), To: field(msg.Fields, 2), Term: payload})
	case control.OpAliasSend, control.OpAliasSendTT:
		s.inbound.push(Event{Kind: EventMessage, From: field(msg.Fields, 0), To: field(msg.Fields, 1), Term: payload})
	case control.OpExit, control.OpExitTT, control.OpExit2, control.OpExit2TT:
		s.inbound.push(Event{Kind: EventExit, From: field(msg.Fields, 0), To: field(msg.Fields, 1), Reason: field(msg.Fields, 2)})
	case control.OpPayloadExit, control.OpPayloadExitTT, control.OpPayloadExit2, control.OpPayloadExit2TT:
		s.inbound.push(Event{Kind: EventExit, From: field(msg.Fields, 0), To: field(msg.Fields, 1), Reason: payload})
	case control.OpMonitorPExit:
		s.inbound.push(Event{Kind: EventMonitorDown, From: field(msg.Fields, 0), To: field(msg.Fields, 1), Ref: field(msg.Fields, 2), Reason: field(msg.Fields, 3)})
	case control.OpPayloadMonitorPExit:
		s.inbound.push(Event{Kind: EventMonitorDown, From: field(msg.Fields, 0), To: field(msg.Fields, 1), Ref: field(msg.Fields, 2), Reason: payload})
	case control.OpMonitorP, control.OpDemonitorP, control.OpLink, control.OpUnlink,
		control.OpNodeLink, control.OpGroupLeader, control.OpUnlinkID, control.OpUnlinkIDAck:
		// Link/monitor-request and group-leader opcodes decode correctly
		// but have no caller-facing Event shape defined in SPEC_FULL.md
		// §6; they are acknowledged at the protocol level only.
	}
}

func field(fields []etf.Term, i int) etf.Term {
	if i < 0 || i >= len(fields) {
		return nil
	}
	return fields[i]
}

