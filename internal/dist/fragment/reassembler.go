// Package fragment implements C6: reassembly of distribution messages
// that are split across multiple frames when DFLAG_FRAGMENTS is
// negotiated. See SPEC_FULL.md §4.6 and DESIGN.md's Open Question
// resolution on strictness (bounded LRU, fatal on interleaving) versus
// original_source's more lenient timeout-based approach.
package fragment

import (
	"container/list"
	"errors"
)

// DefaultMaxInFlight is the bounded LRU capacity named in spec.md §4.6.
const DefaultMaxInFlight = 32

var (
	// ErrFragmentOverflow is returned when a new sequence is observed
	// while the Reassembler's in-flight bound (DefaultMaxInFlight unless
	// New was given another) is already reached; the least recently
	// touched in-flight sequence is dropped to make room.
	ErrFragmentOverflow = errors.New("fragment: too many in-flight sequences")
	// ErrProtocolViolation is returned for any ordering violation: a
	// fragment id that doesn't strictly decrease, a sequence id that
	// appears while a different sequence is in flight (the TCP stream
	// guarantees order, so this can only mean the peer is broken), or a
	// first fragment whose declared count is zero.
	ErrProtocolViolation = errors.New("fragment: protocol violation")
)

type pending struct {
	sequenceID  uint64
	nextExpected uint64 // next fragment id we require (counts down)
	header       []byte // header context carried by the first fragment
	body         []byte
}

// Reassembler stitches fragments for at most one in-flight sequence at a
// time per connection (interleaving is forbidden by the protocol on a
// single stream), backed by a bounded LRU for the pathological case of a
// peer abandoning sequences without completing them.
type Reassembler struct {
	maxInFlight int
	order       *list.List               // sequence ids, most-recently-touched at back
	elems       map[uint64]*list.Element // sequenceID -> element in order
	state       map[uint64]*pending
	active      uint64 // sequence id currently being assembled, 0 if none
	hasActive   bool
}

// New constructs a Reassembler with the given bound on in-flight
// sequences. maxInFlight <= 0 selects DefaultMaxInFlight.
func New(maxInFlight int) *Reassembler {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Reassembler{
		maxInFlight: maxInFlight,
		order:       list.New(),
		elems:       make(map[uint64]*list.Element),
		state:       make(map[uint64]*pending),
	}
}

// Push feeds one fragment. header is non-nil only for the first fragment
// of a sequence (fragmentCount == fragmentID). It returns (body, header,
// true, nil) when fragmentID == 1 completes the sequence; otherwise
// (nil, nil, false, nil) while more fragments are expected.
func (r *Reassembler) Push(sequenceID, fragmentCount, fragmentID uint64, header, chunk []byte) ([]byte, []byte, bool, error) {
	if fragmentID == 0 || fragmentID > fragmentCount {
		return nil, nil, false, ErrProtocolViolation
	}

	isFirst := fragmentID == fragmentCount
	p, exists := r.state[sequenceID]
	var overflow error

	if isFirst {
		if exists {
			return nil, nil, false, ErrProtocolViolation
		}
		if r.hasActive && r.active != sequenceID {
			return nil, nil, false, ErrProtocolViolation
		}
		overflow = r.admit(sequenceID)
		p = &pending{sequenceID: sequenceID, nextExpected: fragmentCount, header: header}
		r.state[sequenceID] = p
		r.active = sequenceID
		r.hasActive = true
	} else {
		if !exists {
			return nil, nil, false, ErrProtocolViolation
		}
		if fragmentID != p.nextExpected-1 {
			return nil, nil, false, ErrProtocolViolation
		}
	}

	p.nextExpected = fragmentID
	p.body = append(p.body, chunk...)
	r.touch(sequenceID)

	if fragmentID == 1 {
		r.remove(sequenceID)
		if r.active == sequenceID {
			r.hasActive = false
		}
		return p.body, p.header, true, overflow
	}
	return nil, nil, false, overflow
}

// Discard drops all partial state, per spec.md §4.6's "abnormal session
// end discards all partial state without surfacing pending payloads."
func (r *Reassembler) Discard() {
	r.order.Init()
	r.elems = make(map[uint64]*list.Element)
	r.state = make(map[uint64]*pending)
	r.hasActive = false
}

// admit makes room for a new in-flight sequence, evicting the oldest
// when at capacity, and always leaves the tracking structures
// consistent. It returns ErrFragmentOverflow when an eviction occurred.
func (r *Reassembler) admit(sequenceID uint64) error {
	var overflow error
	if len(r.state) >= r.maxInFlight {
		if oldest := r.order.Front(); oldest != nil {
			r.remove(oldest.Value.(uint64))
			overflow = ErrFragmentOverflow
		}
	}
	elem := r.order.PushBack(sequenceID)
	r.elems[sequenceID] = elem
	return overflow
}

func (r *Reassembler) touch(sequenceID uint64) {
	if elem, ok := r.elems[sequenceID]; ok {
		r.order.MoveToBack(elem)
	}
}

func (r *Reassembler) remove(sequenceID uint64) {
	if elem, ok := r.elems[sequenceID]; ok {
		r.order.Remove(elem)
		delete(r.elems, sequenceID)
	}
	delete(r.state, sequenceID)
}
