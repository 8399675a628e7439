package session

import "github.com/danmuck/erldist/internal/etf"

// Destination names either a Pid or a registered name on the connected
// peer node, per SPEC_FULL.md §6's PidOr{Name,Node} send target.
type Destination struct {
	Pid  *etf.Pid
	Name string
}

// EventKind discriminates the Event union of SPEC_FULL.md §6.
type EventKind int

const (
	EventMessage EventKind = iota
	EventExit
	EventMonitorDown
	EventPayloadError
	EventClosed
)

// Event is one item delivered to Recv. Only the fields relevant to Kind
// are populated; Go has no sum types, so this mirrors the struct-per-
// variant idiom the rest of this codebase uses for wire-shaped values.
type Event struct {
	Kind EventKind

	From etf.Term // Pid
	To   etf.Term // Pid or registered-name Atom
	Term etf.Term // message body (EventMessage)

	Reason etf.Term // exit/monitor-down reason
	Ref    etf.Term // Reference (EventMonitorDown)

	Err error // populated for EventPayloadError and EventClosed
}
