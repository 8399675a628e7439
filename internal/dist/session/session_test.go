package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/danmuck/erldist/internal/dist/control"
	"github.com/danmuck/erldist/internal/dist/frame"
	"github.com/danmuck/erldist/internal/dist/handshake"
	"github.com/danmuck/erldist/internal/etf"

	"github.com/danmuck/erldist/internal/testutil/testlog"
)

const testCookie = "fake-peer-cookie"

// fakePeer drives the server side of the handshake (the role this
// module deliberately never implements, per spec.md's Non-goals) over a
// real TCP loopback connection, then hands the caller a raw conn already
// in the Established phase for steady-state exchanges.
func fakePeer(t *testing.T, conn net.Conn) {
	t.Helper()

	sendNameBytes, err := frame.ReadFrame(conn, frame.Handshake)
	if err != nil {
		t.Errorf("fakePeer: read send_name: %v", err)
		return
	}
	_ = sendNameBytes // flags/creation/name of the client, unused by this fixture

	if err := frame.WriteFrame(conn, frame.Handshake, append([]byte{'s'}, "ok"...)); err != nil {
		t.Errorf("fakePeer: write status: %v", err)
		return
	}

	ourChallenge := uint32(0xC0FFEE01)
	challenge := handshake.Challenge{
		Flags:     handshake.Default,
		Creation:  99,
		Challenge: ourChallenge,
		Name:      "peer@host",
	}
	challengeBytes := []byte{'N'}
	challengeBytes = appendU64(challengeBytes, uint64(challenge.Flags))
	challengeBytes = appendU32(challengeBytes, challenge.Challenge)
	challengeBytes = appendU32(challengeBytes, challenge.Creation)
	challengeBytes = appendU16(challengeBytes, uint16(len(challenge.Name)))
	challengeBytes = append(challengeBytes, challenge.Name...)
	if err := frame.WriteFrame(conn, frame.Handshake, challengeBytes); err != nil {
		t.Errorf("fakePeer: write challenge: %v", err)
		return
	}

	replyBytes, err := frame.ReadFrame(conn, frame.Handshake)
	if err != nil {
		t.Errorf("fakePeer: read challenge_reply: %v", err)
		return
	}
	if len(replyBytes) < 1+4+16 || replyBytes[0] != 'r' {
		t.Errorf("fakePeer: malformed challenge_reply")
		return
	}
	theirChallenge := binary.BigEndian.Uint32(replyBytes[1:5])
	wantDigest := handshake.Digest(ourChallenge, testCookie)
	if !bytes.Equal(replyBytes[5:21], wantDigest[:]) {
		t.Errorf("fakePeer: client digest mismatch")
		return
	}

	ackDigest := handshake.Digest(theirChallenge, testCookie)
	ackBytes := append([]byte{'a'}, ackDigest[:]...)
	if err := frame.WriteFrame(conn, frame.Handshake, ackBytes); err != nil {
		t.Errorf("fakePeer: write challenge_ack: %v", err)
		return
	}
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// listenAndConnect starts a loopback listener, runs fakePeer against the
// first accepted connection on a separate goroutine, and returns a
// connected *Session plus that raw peer-side conn for further steady
// state I/O.
func listenAndConnect(t *testing.T) (*Session, net.Conn, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	peerConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fakePeer(t, conn)
		peerConnCh <- conn
	}()

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.TickInterval = 30 * time.Second
	cfg.FragmentThreshold = 16 * 1024

	sess, err := Connect(context.Background(), ln.Addr().String(), "client@host", testCookie, true, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peerConn := <-peerConnCh

	return sess, peerConn, func() {
		sess.Close()
		peerConn.Close()
		ln.Close()
	}
}

// readEstablishedMessage drains one logical message off conn,
// transparently reassembling this package's fragment-frame wire scheme
// so test bodies don't duplicate that bookkeeping.
func readEstablishedMessage(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var seq uint64
	var active bool
	var body []byte
	for {
		payload, err := frame.ReadFrame(conn, frame.Established)
		if err != nil {
			t.Fatalf("read established frame: %v", err)
		}
		if len(payload) == 0 {
			continue
		}
		if payload[0] != fragmentFrameMarker {
			return payload
		}
		gotSeq := binary.BigEndian.Uint64(payload[1:9])
		fragID := binary.BigEndian.Uint64(payload[9:17])
		chunk := payload[17:]
		if !active {
			seq, active, body = gotSeq, true, nil
		}
		body = append(body, chunk...)
		if fragID == 1 {
			active = false
			_ = seq
			return body
		}
	}
}

// writeEstablishedFragmented writes body to conn split into this
// package's fragment-frame scheme, mirroring writeBody, for tests that
// need the fake peer to originate a large fragmented message.
func writeEstablishedFragmented(t *testing.T, conn net.Conn, body []byte, chunkSize int) {
	t.Helper()
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
		hdr := make([]byte, 17+len(chunk))
		hdr[0] = fragmentFrameMarker
		binary.BigEndian.PutUint64(hdr[1:9], uint64(1))
		binary.BigEndian.PutUint64(hdr[9:17], fragID)
		copy(hdr[17:], chunk)
		if err := frame.WriteFrame(conn, frame.Established, hdr); err != nil {
			t.Fatalf("write fragment: %v", err)
		}
	}
}

// TestSendReceivesSmallMessageRoundTrip is a baseline sanity check that
// the established-phase control/frame wiring works before exercising
// fragmentation.
func TestSendReceivesSmallMessageRoundTrip(t *testing.T) {
	testlog.Start(t)
	sess, peerConn, cleanup := listenAndConnect(t)
	defer cleanup()

	to := etf.Pid{Node: etf.Atom{Text: "peer@host"}, ID: 1, Serial: 0, Creation: 99}
	if err := sess.Send(Destination{Pid: &to}, etf.Atom{Text: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := readEstablishedMessage(t, peerConn)
	msg, err := control.Decode(body)
	if err != nil {
		t.Fatalf("control.Decode: %v", err)
	}
	if msg.Opcode != control.OpSendSender {
		t.Fatalf("got opcode %v, want OpSendSender", msg.Opcode)
	}
	payload, err := msg.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !etf.Equal(payload, etf.Atom{Text: "hello"}) {
		t.Fatalf("got payload %#v, want atom hello", payload)
	}
}

// TestFragmentedInboundBinaryRoundTrip is seed scenario S6: a 100 KiB
// binary payload arrives split across many fragment frames and must
// reassemble into one message delivered through Recv.
func TestFragmentedInboundBinaryRoundTrip(t *testing.T) {
	testlog.Start(t)
	sess, peerConn, cleanup := listenAndConnect(t)
	defer cleanup()

	big := make([]byte, 100*1024)
	for i := range big {
		big[i] = byte(i)
	}
	fromPid := etf.Pid{Node: etf.Atom{Text: "peer@host"}, ID: 7, Serial: 0, Creation: 99}
	toPid := etf.Pid{Node: etf.Atom{Text: "client@host"}, ID: 1, Serial: 0, Creation: 1}

	body, err := control.Encode(control.OpSendSender, []etf.Term{fromPid, toPid}, etf.Binary(big))
	if err != nil {
		t.Fatalf("control.Encode: %v", err)
	}
	writeEstablishedFragmented(t, peerConn, body, 4096)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sess.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != EventMessage {
		t.Fatalf("got kind %v, want EventMessage", ev.Kind)
	}
	got, ok := ev.Term.(etf.Binary)
	if !ok {
		t.Fatalf("got term %#v, want etf.Binary", ev.Term)
	}
	if !bytes.Equal(got, big) {
		t.Fatalf("reassembled binary mismatch: got %d bytes, want %d", len(got), len(big))
	}
}

// TestOutboundFragmentationRoundTrip is the write-side complement of S6:
// Send with a payload larger than FragmentThreshold must split across
// frames that the peer can reassemble back to the original bytes.
func TestOutboundFragmentationRoundTrip(t *testing.T) {
	testlog.Start(t)
	sess, peerConn, cleanup := listenAndConnect(t)
	defer cleanup()

	big := make([]byte, 100*1024)
	for i := range big {
		big[i] = byte(i * 3)
	}
	to := etf.Pid{Node: etf.Atom{Text: "peer@host"}, ID: 1, Serial: 0, Creation: 99}
	if err := sess.Send(Destination{Pid: &to}, etf.Binary(big)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := readEstablishedMessage(t, peerConn)
	msg, err := control.Decode(body)
	if err != nil {
		t.Fatalf("control.Decode: %v", err)
	}
	payload, err := msg.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	got, ok := payload.(etf.Binary)
	if !ok || !bytes.Equal(got, big) {
		t.Fatalf("reassembled outbound binary mismatch")
	}
}

// TestPidByteRetentionThroughRoundTrip is seed scenario S7: a Pid
// decoded from the wire carries its original bytes, and that identity
// survives being embedded in a tuple payload delivered through Recv.
func TestPidByteRetentionThroughRoundTrip(t *testing.T) {
	testlog.Start(t)
	sess, peerConn, cleanup := listenAndConnect(t)
	defer cleanup()

	originalPid := etf.Pid{Node: etf.Atom{Text: "peer@host"}, ID: 42, Serial: 0, Creation: 99}
	wireBytes, err := etf.Encode(originalPid, etf.EncodeOptions{})
	if err != nil {
		t.Fatalf("encode pid: %v", err)
	}
	decodedTerm, _, err := etf.Decode(wireBytes)
	if err != nil {
		t.Fatalf("decode pid: %v", err)
	}
	decodedPid, ok := decodedTerm.(etf.Pid)
	if !ok || decodedPid.Bytes == nil {
		t.Fatalf("expected a Pid with retained Bytes, got %#v", decodedTerm)
	}

	fromPid := etf.Pid{Node: etf.Atom{Text: "peer@host"}, ID: 7, Serial: 0, Creation: 99}
	toPid := etf.Pid{Node: etf.Atom{Text: "client@host"}, ID: 1, Serial: 0, Creation: 1}
	payload := etf.Tuple{decodedPid, etf.Atom{Text: "carrier"}}

	body, err := control.Encode(control.OpSendSender, []etf.Term{fromPid, toPid}, payload)
	if err != nil {
		t.Fatalf("control.Encode: %v", err)
	}
	if err := frame.WriteFrame(peerConn, frame.Established, body); err != nil {
		t.Fatalf("write established: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sess.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	tuple, ok := ev.Term.(etf.Tuple)
	if !ok || len(tuple) != 2 {
		t.Fatalf("got term %#v, want a 2-tuple", ev.Term)
	}
	gotPid, ok := tuple[0].(etf.Pid)
	if !ok {
		t.Fatalf("got %#v, want etf.Pid", tuple[0])
	}
	if !etf.Equal(gotPid, originalPid) {
		t.Fatalf("pid identity mismatch: got %#v, want %#v", gotPid, originalPid)
	}
	if gotPid.Bytes == nil || !bytes.Equal(gotPid.Bytes, decodedPid.Bytes) {
		t.Fatalf("retained bytes not preserved through round trip")
	}
}
