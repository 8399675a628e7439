package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/erldist/internal/testutil/testlog"
)

func TestWriteReadHandshakeRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	payload := []byte("hello handshake")
	if err := WriteFrame(&buf, Handshake, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf, Handshake)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}

func TestWriteReadEstablishedRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0xAB}, 1024)
	if err := WriteFrame(&buf, Established, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf, Established)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %d bytes, want %d", len(got), len(payload))
	}
}

func TestTickFrameIsZeroLength(t *testing.T) {
	testlog.Start(t)
	// Invariant 8: a zero-length frame is a tick and never carries a
	// payload.
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Established, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 4 {
		t.Fatalf("tick frame should be exactly 4 header bytes, got %d", buf.Len())
	}
	got, err := ReadFrame(&buf, Established)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected tick (zero-length), got %d bytes", len(got))
	}
}

func TestReadFrameShortHeader(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{0x00}), Handshake)
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("got %v, want ErrShortHeader", err)
	}
}

func TestWriteFrameTooLargeForHandshake(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	err := WriteFrame(&buf, Handshake, make([]byte, maxHandshakeLen+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}
