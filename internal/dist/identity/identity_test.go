package identity

import (
	"testing"

	"github.com/danmuck/erldist/internal/etf"
	"github.com/danmuck/erldist/internal/testutil/testlog"
)

func TestFreshPidIncrementsID(t *testing.T) {
	testlog.Start(t)
	c := New("client@host", 3)
	p1 := c.FreshPid(0)
	p2 := c.FreshPid(0)
	if p1.ID == p2.ID {
		t.Fatalf("expected distinct ids, got %d twice", p1.ID)
	}
	if p1.Node.Text != "client@host" || p1.Creation != 3 {
		t.Fatalf("unexpected pid %#v", p1)
	}
}

func TestFreshReferenceIncrements(t *testing.T) {
	testlog.Start(t)
	c := New("client@host", 3)
	r1 := c.FreshReference()
	r2 := c.FreshReference()
	if r1.IDs[0] == r2.IDs[0] {
		t.Fatalf("expected distinct reference ids, got %d twice", r1.IDs[0])
	}
}

func TestSetCreationUpdatesFuturePids(t *testing.T) {
	testlog.Start(t)
	c := New("client@host", 0)
	c.SetCreation(42)
	if got := c.Creation(); got != 42 {
		t.Fatalf("got creation %d, want 42", got)
	}
	p := c.FreshPid(0)
	if p.Creation != 42 {
		t.Fatalf("got pid creation %d, want 42", p.Creation)
	}
}

func TestInternAtomIsStableAndDeduplicates(t *testing.T) {
	testlog.Start(t)
	c := New("client@host", 1)
	a := c.InternAtom("foo")
	b := c.InternAtom("bar")
	aAgain := c.InternAtom("foo")
	if a != aAgain {
		t.Fatalf("expected stable index for repeated atom, got %d and %d", a, aAgain)
	}
	if a == b {
		t.Fatalf("expected distinct indices for distinct atoms")
	}
	text, ok := c.AtomText(a)
	if !ok || text != "foo" {
		t.Fatalf("got (%q, %v), want (foo, true)", text, ok)
	}
	if _, ok := c.AtomText(99); ok {
		t.Fatalf("expected ok=false for unknown index")
	}
}

func TestInternTermWalksNestedAtoms(t *testing.T) {
	testlog.Start(t)
	c := New("client@host", 1)
	term := etf.Tuple{
		etf.Atom{Text: "normal"},
		etf.Pid{Node: etf.Atom{Text: "peer@host"}, ID: 1, Serial: 0, Creation: 1},
		etf.List{Elements: []etf.Term{etf.Atom{Text: "normal"}, etf.Atom{Text: "killed"}}, Tail: etf.Nil{}},
	}
	c.InternTerm(term)

	want := []string{"normal", "peer@host", "killed"}
	for _, text := range want {
		idx := c.InternAtom(text)
		got, ok := c.AtomText(idx)
		if !ok || got != text {
			t.Fatalf("expected %q already interned, got (%q, %v)", text, got, ok)
		}
	}
	if got, want := len(c.atoms), 3; got != want {
		t.Fatalf("got %d interned atoms, want %d (InternTerm must dedupe repeats)", got, want)
	}
}
