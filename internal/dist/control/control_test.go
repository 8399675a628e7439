package control

import (
	"errors"
	"testing"

	"github.com/danmuck/erldist/internal/etf"

	"github.com/danmuck/erldist/internal/testutil/testlog"
)

func TestEncodeDecodeRegSendWithPayload(t *testing.T) {
	testlog.Start(t)
	from := etf.Pid{Node: etf.Atom{Text: "client@host"}, ID: 1, Serial: 0, Creation: 1}
	toName := etf.Atom{Text: "my_server"}
	cookie := etf.Atom{Text: ""}
	payload := etf.Tuple{etf.Atom{Text: "hello"}, etf.SmallInteger(1)}

	frame, err := Encode(OpRegSend, []etf.Term{from, cookie, toName}, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Opcode != OpRegSend {
		t.Fatalf("got opcode %v, want OpRegSend", msg.Opcode)
	}
	if !msg.HasPayload {
		t.Fatalf("expected payload")
	}
	decoded, err := msg.DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !etf.Equal(decoded, payload) {
		t.Fatalf("payload mismatch: got %#v", decoded)
	}
}

func TestEncodeDecodeLinkWithoutPayload(t *testing.T) {
	testlog.Start(t)
	from := etf.Pid{Node: etf.Atom{Text: "a@host"}, ID: 1, Creation: 1}
	to := etf.Pid{Node: etf.Atom{Text: "b@host"}, ID: 2, Creation: 1}

	frame, err := Encode(OpLink, []etf.Term{from, to}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Opcode != OpLink || msg.HasPayload {
		t.Fatalf("got %#v", msg)
	}
	if len(msg.Fields) != 2 || !etf.Equal(msg.Fields[0], from) || !etf.Equal(msg.Fields[1], to) {
		t.Fatalf("fields mismatch: %#v", msg.Fields)
	}
}

func TestDecodeUnknownOpcodeIsWarnNotFatal(t *testing.T) {
	testlog.Start(t)
	frame, err := Encode(Opcode(250), nil, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = Decode(frame)
	var unknown *UnknownControlError
	if !errors.As(err, &unknown) {
		t.Fatalf("got %v, want *UnknownControlError", err)
	}
	if unknown.Opcode != 250 {
		t.Fatalf("got opcode %d, want 250", unknown.Opcode)
	}
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("errors.Is(err, ErrUnknownOpcode) should hold")
	}
}

func TestDecodeMissingPassThroughByte(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte{1, 2, 3})
	if !errors.Is(err, ErrMissingPassThrough) {
		t.Fatalf("got %v, want ErrMissingPassThrough", err)
	}
}

func TestUnlinkIDRoundTrip(t *testing.T) {
	testlog.Start(t)
	from := etf.Pid{Node: etf.Atom{Text: "a@host"}, ID: 1, Creation: 1}
	to := etf.Pid{Node: etf.Atom{Text: "b@host"}, ID: 2, Creation: 1}
	frame, err := Encode(OpUnlinkID, []etf.Term{etf.NewInteger(42), from, to}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Opcode != OpUnlinkID || len(msg.Fields) != 3 {
		t.Fatalf("got %#v", msg)
	}
}
