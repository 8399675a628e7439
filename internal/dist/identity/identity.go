// Package identity implements C8: the per-session identity context that
// the session consults for the local node's name and creation value, for
// locally originated Pids and References, and for its atom table. It
// holds no map of received Pid/Port/Reference bytes: those bytes travel
// on each decoded term's own Bytes field, and the ETF codec never
// consults a Context.
package identity

import (
	"sync"

	"github.com/danmuck/erldist/internal/etf"
)

// Context is the per-session identity carrier described in SPEC_FULL.md
// §4.1. It is owned by the session and guarded by a single mutex per
// SPEC_FULL.md §5's "simpler correct implementation" choice.
type Context struct {
	mu sync.Mutex

	localNode etf.Atom
	creation  uint32
	nextPid   uint32
	nextRef   uint32

	atoms    []string
	atomIdx  map[string]int
}

// New constructs a Context for a freshly connected session. creation is
// this node's own 32-bit creation value, the one it sent in send_name
// (the peer's creation from handshake.Challenge is not used here).
func New(localNode string, creation uint32) *Context {
	return &Context{
		localNode: etf.Atom{Text: localNode},
		creation:  creation,
		atomIdx:   make(map[string]int),
	}
}

// LocalNode returns the local node name atom.
func (c *Context) LocalNode() etf.Atom {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localNode
}

// Creation returns the session's creation value.
func (c *Context) Creation() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creation
}

// SetCreation updates the creation value once it is learned during the
// handshake (recv_challenge carries the peer's creation, not ours; ours
// is chosen before SendName and does not change mid-session, but tests
// exercise this setter directly against recorded byte logs).
func (c *Context) SetCreation(creation uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creation = creation
}

// FreshPid builds a Pid for a locally originated process, using the
// session's node atom and creation value. serial is caller-supplied so
// the upper layer controls process-identity allocation.
func (c *Context) FreshPid(serial uint32) etf.Pid {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextPid++
	return etf.Pid{
		Node:     c.localNode,
		ID:       c.nextPid,
		Serial:   serial,
		Creation: c.creation,
	}
}

// FreshReference builds a Reference for a locally originated monitor or
// alias, using a single monotonically increasing word as IDs[0] (the
// remaining two words of the extended-reference wire form are left zero,
// which OTP peers accept).
func (c *Context) FreshReference() etf.Reference {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextRef++
	return etf.Reference{
		Node:     c.localNode,
		Creation: c.creation,
		IDs:      []uint32{c.nextRef, 0, 0},
	}
}

// InternAtom returns a stable integer reference for text, allocating a
// new slot on first observation. This is the session-scoped, append-only
// atom table named in SPEC_FULL.md §4.1/§9 (grounded on
// original_source/erltf's Arc<str> atom cache, without requiring a
// shared global pool).
func (c *Context) InternAtom(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.atomIdx[text]; ok {
		return idx
	}
	idx := len(c.atoms)
	c.atoms = append(c.atoms, text)
	c.atomIdx[text] = idx
	return idx
}

// AtomText resolves a previously interned atom reference back to text.
// ok is false if idx was never interned in this session.
func (c *Context) AtomText(idx int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.atoms) {
		return "", false
	}
	return c.atoms[idx], true
}

// InternTerm walks a decoded term and interns every atom reachable from
// it (including node atoms embedded in Pid/Port/Reference), so repeated
// node names, registered names, and exit reasons observed across a
// session's control traffic resolve to the same atom table slot. The
// caller does not need the returned index; InternTerm is called for its
// table-population side effect immediately after etf.Decode, since the
// codec itself (internal/etf) stays a stateless, session-agnostic
// transform per SPEC_FULL.md §6 and cannot hold a *Context reference.
func (c *Context) InternTerm(t etf.Term) {
	switch v := t.(type) {
	case etf.Atom:
		c.InternAtom(v.Text)
	case etf.Pid:
		c.InternAtom(v.Node.Text)
	case etf.Port:
		c.InternAtom(v.Node.Text)
	case etf.Reference:
		c.InternAtom(v.Node.Text)
	case etf.Tuple:
		for _, elem := range v {
			c.InternTerm(elem)
		}
	case etf.List:
		for _, elem := range v.Elements {
			c.InternTerm(elem)
		}
		if v.Tail != nil {
			c.InternTerm(v.Tail)
		}
	case etf.Map:
		for _, pair := range v.Pairs {
			c.InternTerm(pair.Key)
			c.InternTerm(pair.Value)
		}
	}
}
