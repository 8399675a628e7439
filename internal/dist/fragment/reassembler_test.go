package fragment

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/erldist/internal/testutil/testlog"
)

func TestReassembleTwoFragments(t *testing.T) {
	testlog.Start(t)
	r := New(0)
	header := []byte("header-context")

	body1, hdr1, done1, err := r.Push(1, 2, 2, header, []byte("hello "))
	if err != nil {
		t.Fatalf("push first: %v", err)
	}
	if done1 || body1 != nil || hdr1 != nil {
		t.Fatalf("first fragment should not complete: done=%v", done1)
	}

	body, hdr, done, err := r.Push(1, 2, 1, nil, []byte("world"))
	if err != nil {
		t.Fatalf("push last: %v", err)
	}
	if !done {
		t.Fatalf("expected completion on fragment id 1")
	}
	if !bytes.Equal(body, []byte("hello world")) {
		t.Fatalf("got body %q", body)
	}
	if !bytes.Equal(hdr, header) {
		t.Fatalf("got header %q, want %q", hdr, header)
	}
}

func TestReassembleSingleFragmentMessage(t *testing.T) {
	testlog.Start(t)
	r := New(0)
	body, hdr, done, err := r.Push(5, 1, 1, []byte("h"), []byte("only"))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !done || !bytes.Equal(body, []byte("only")) || !bytes.Equal(hdr, []byte("h")) {
		t.Fatalf("got body=%q hdr=%q done=%v", body, hdr, done)
	}
}

func TestReassembleOutOfOrderIsProtocolViolation(t *testing.T) {
	testlog.Start(t)
	r := New(0)
	if _, _, _, err := r.Push(1, 3, 3, []byte("h"), []byte("a")); err != nil {
		t.Fatalf("push first: %v", err)
	}
	// Skipping straight to id 1 instead of 2 is a gap.
	_, _, _, err := r.Push(1, 3, 1, nil, []byte("c"))
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("got %v, want ErrProtocolViolation", err)
	}
}

func TestInterleavedSequencesAreProtocolViolation(t *testing.T) {
	testlog.Start(t)
	r := New(0)
	if _, _, _, err := r.Push(1, 2, 2, []byte("h1"), []byte("a")); err != nil {
		t.Fatalf("push seq1 first: %v", err)
	}
	_, _, _, err := r.Push(2, 2, 2, []byte("h2"), []byte("b"))
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("got %v, want ErrProtocolViolation", err)
	}
}

// The bounded LRU only becomes observable when the one-sequence-in-
// flight invariant is bypassed (e.g. a defensive reassembler instance
// shared in a way the protocol doesn't normally allow); this test
// exercises the LRU bookkeeping directly, white-box, since legitimate
// single-connection traffic never has more than one sequence active.
func TestFragmentOverflowEvictsOldest(t *testing.T) {
	testlog.Start(t)
	r := New(2)
	if err := r.admit(1); err != nil {
		t.Fatalf("admit 1: %v", err)
	}
	if err := r.admit(2); err != nil {
		t.Fatalf("admit 2: %v", err)
	}
	r.state[1] = &pending{sequenceID: 1}
	r.state[2] = &pending{sequenceID: 2}

	err := r.admit(3)
	if !errors.Is(err, ErrFragmentOverflow) {
		t.Fatalf("got %v, want ErrFragmentOverflow", err)
	}
	if _, stillThere := r.elems[1]; stillThere {
		t.Fatalf("sequence 1 should have been evicted as the oldest")
	}
	if _, ok := r.elems[3]; !ok {
		t.Fatalf("sequence 3 should have been admitted")
	}
}

func TestDiscardClearsPartialState(t *testing.T) {
	testlog.Start(t)
	r := New(0)
	if _, _, _, err := r.Push(1, 2, 2, []byte("h"), []byte("partial")); err != nil {
		t.Fatalf("push: %v", err)
	}
	r.Discard()
	// After Discard, a brand-new sequence starts clean with no
	// leftover "active sequence" conflict.
	if _, _, _, err := r.Push(2, 1, 1, []byte("h2"), []byte("fresh")); err != nil {
		t.Fatalf("push after discard: %v", err)
	}
}
