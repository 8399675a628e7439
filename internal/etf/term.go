package etf

import "math/big"

// Term is the tagged sum of every ETF value. The concrete types below are
// the only implementations; callers type-switch on Term to inspect a
// decoded value. There is deliberately no third-party "sum type" helper
// here: a type switch over an unexported marker method is the idiom this
// codebase's sibling packages already use for wire values.
type Term interface {
	isTerm()
}

// SmallInteger is an unsigned 8-bit integer (wire tag 97).
type SmallInteger uint8

// Integer is a signed 32-bit integer (wire tag 98).
type Integer int32

// BigInteger is an arbitrary-precision signed integer, stored as sign plus
// canonical little-endian magnitude bytes (no trailing zero byte).
type BigInteger struct {
	Negative  bool
	Magnitude []byte // little-endian, canonical (no trailing zero byte)
}

// Int converts to a math/big.Int for arithmetic use by callers.
func (b BigInteger) Int() *big.Int {
	be := make([]byte, len(b.Magnitude))
	for i, v := range b.Magnitude {
		be[len(be)-1-i] = v
	}
	n := new(big.Int).SetBytes(be)
	if b.Negative {
		n.Neg(n)
	}
	return n
}

// NewBigInteger builds a canonical BigInteger from a math/big.Int.
func NewBigInteger(n *big.Int) BigInteger {
	neg := n.Sign() < 0
	abs := new(big.Int).Abs(n)
	be := abs.Bytes()
	mag := make([]byte, len(be))
	for i, v := range be {
		mag[len(mag)-1-i] = v
	}
	return BigInteger{Negative: neg, Magnitude: trimTrailingZero(mag)}
}

func trimTrailingZero(mag []byte) []byte {
	n := len(mag)
	for n > 0 && mag[n-1] == 0 {
		n--
	}
	return mag[:n]
}

// Float is an IEEE-754 64-bit float (wire tag 70, NEW_FLOAT_EXT).
type Float float64

// Atom is a UTF-8 atom, at most 255 bytes once encoded.
type Atom struct {
	Text string
}

// Pid is a process identifier. Bytes, when non-nil, is the original
// tag-prefixed wire slice that produced this Pid and must be emitted
// verbatim on re-encode (see identity-preserving byte retention).
type Pid struct {
	Node     Atom
	ID       uint32
	Serial   uint32
	Creation uint32
	Bytes    []byte
}

// Port is a port identifier, same retention contract as Pid.
type Port struct {
	Node     Atom
	ID       uint64
	Creation uint32
	Bytes    []byte
}

// Reference is a reference, same retention contract as Pid. IDs holds
// 1..5 32-bit words per the wire format.
type Reference struct {
	Node     Atom
	Creation uint32
	IDs      []uint32
	Bytes    []byte
}

// Tuple is an ordered, fixed-arity sequence of terms.
type Tuple []Term

// Pair is one key/value entry of a Map, kept in insertion order.
type Pair struct {
	Key   Term
	Value Term
}

// Map is an ordered sequence of key/value pairs. It is a slice, not a Go
// map, specifically so insertion order (required by the encoder) is the
// natural representation rather than something to recover after the
// fact. Construct via NewMap to get the duplicate-key check.
type Map struct {
	Pairs []Pair
}

// NewMap builds a Map, failing if any two keys are structurally equal.
func NewMap(pairs []Pair) (Map, error) {
	for i := range pairs {
		for j := i + 1; j < len(pairs); j++ {
			if Equal(pairs[i].Key, pairs[j].Key) {
				return Map{}, ErrDuplicateMapKey
			}
		}
	}
	return Map{Pairs: pairs}, nil
}

// List is an ordered sequence of elements plus a tail term. A proper list
// has Tail == Nil{}; any other tail makes it an improper list.
type List struct {
	Elements []Term
	Tail     Term
}

// IsProper reports whether the list's tail is Nil.
func (l List) IsProper() bool {
	_, ok := l.Tail.(Nil)
	return ok
}

// Nil is the empty list sentinel.
type Nil struct{}

// String is the "list of small ints" shortcut, at most 65535 bytes.
type String []byte

// Binary is an arbitrary-length byte buffer.
type Binary []byte

// BitBinary is a Binary plus a trailing-bit count in 1..7.
type BitBinary struct {
	Data []byte
	Bits uint8 // meaningful bits in the last byte, 1..7
}

// InternalFun is an opaque internal-fun closure; Raw retains the full
// original tag-prefixed bytes since this module never executes funs.
type InternalFun struct {
	Raw []byte
}

// ExternalFun is an export (module:function/arity) reference.
type ExternalFun struct {
	Module   Atom
	Function Atom
	Arity    uint8
}

func (SmallInteger) isTerm() {}
func (Integer) isTerm()      {}
func (BigInteger) isTerm()   {}
func (Float) isTerm()        {}
func (Atom) isTerm()         {}
func (Pid) isTerm()          {}
func (Port) isTerm()         {}
func (Reference) isTerm()    {}
func (Tuple) isTerm()        {}
func (Map) isTerm()          {}
func (List) isTerm()         {}
func (Nil) isTerm()          {}
func (String) isTerm()       {}
func (Binary) isTerm()       {}
func (BitBinary) isTerm()    {}
func (InternalFun) isTerm()  {}
func (ExternalFun) isTerm()  {}

// Equal performs structural equality, per §3's map-key-uniqueness and
// identity rules: the retained original-bytes blob on Pid/Port/Reference
// is deliberately excluded from comparison (two encodings of the same
// logical identity are equal even if one carries retained bytes and the
// other doesn't), matching original_source's erltf type definitions.
func Equal(a, b Term) bool {
	switch av := a.(type) {
	case SmallInteger:
		bv, ok := b.(SmallInteger)
		return ok && av == bv
	case Integer:
		bv, ok := b.(Integer)
		return ok && av == bv
	case BigInteger:
		bv, ok := b.(BigInteger)
		return ok && av.Negative == bv.Negative && bytesEqual(av.Magnitude, bv.Magnitude)
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Atom:
		bv, ok := b.(Atom)
		return ok && av.Text == bv.Text
	case Pid:
		bv, ok := b.(Pid)
		return ok && av.Node.Text == bv.Node.Text && av.ID == bv.ID && av.Serial == bv.Serial && av.Creation == bv.Creation
	case Port:
		bv, ok := b.(Port)
		return ok && av.Node.Text == bv.Node.Text && av.ID == bv.ID && av.Creation == bv.Creation
	case Reference:
		bv, ok := b.(Reference)
		return ok && av.Node.Text == bv.Node.Text && av.Creation == bv.Creation && uint32sEqual(av.IDs, bv.IDs)
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av.Pairs) != len(bv.Pairs) {
			return false
		}
		for _, p := range av.Pairs {
			found := false
			for _, q := range bv.Pairs {
				if Equal(p.Key, q.Key) {
					found = Equal(p.Value, q.Value)
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case List:
		bv, ok := b.(List)
		if !ok || len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !Equal(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return Equal(av.Tail, bv.Tail)
	case Nil:
		_, ok := b.(Nil)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && bytesEqual(av, bv)
	case Binary:
		bv, ok := b.(Binary)
		return ok && bytesEqual(av, bv)
	case BitBinary:
		bv, ok := b.(BitBinary)
		return ok && av.Bits == bv.Bits && bytesEqual(av.Data, bv.Data)
	case InternalFun:
		bv, ok := b.(InternalFun)
		return ok && bytesEqual(av.Raw, bv.Raw)
	case ExternalFun:
		bv, ok := b.(ExternalFun)
		return ok && av.Module.Text == bv.Module.Text && av.Function.Text == bv.Function.Text && av.Arity == bv.Arity
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uint32sEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
