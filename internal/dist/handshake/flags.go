// Package handshake implements C5: the client-role-only distribution
// handshake state machine, capability flags, and challenge digest.
package handshake

// Flags is the distribution capability bitmask exchanged during the
// handshake. Values match OTP's DFLAG_* constants. There is
// no third-party bitflags library in this module's dependency surface
// (see DESIGN.md); a plain uint64 with const bit values is the idiom the
// rest of this codebase uses for bitmasks (compare frame.FlagHasAuth in
// the teacher repo this module was adapted from).
type Flags uint64

const (
	FlagPublished          Flags = 1 << 0
	FlagAtomCache          Flags = 1 << 1
	FlagExtendedReferences Flags = 1 << 2
	FlagDistMonitor        Flags = 1 << 3
	FlagFunTags            Flags = 1 << 4
	FlagDistMonitorName    Flags = 1 << 5
	FlagHiddenAtomCache    Flags = 1 << 6
	FlagNewFunTags         Flags = 1 << 7
	FlagExtendedPidsPorts  Flags = 1 << 8
	FlagExportPtrTag       Flags = 1 << 9
	FlagBitBinaries        Flags = 1 << 10
	FlagNewFloats          Flags = 1 << 11
	FlagUnlinkID           Flags = 1 << 25
	FlagDistHdrAtomCache   Flags = 1 << 13
	FlagSmallAtomTags      Flags = 1 << 14
	FlagUTF8Atoms          Flags = 1 << 16
	FlagMapTag             Flags = 1 << 17
	FlagBigCreation        Flags = 1 << 18
	FlagSendSender         Flags = 1 << 19
	FlagBigSeqTraceLabels  Flags = 1 << 20
	FlagExitPayload        Flags = 1 << 22
	FlagFragments          Flags = 1 << 23
	FlagHandshake23        Flags = 1 << 24
	FlagNameMe             Flags = 1 << 33
	FlagV4NC               Flags = 1 << 34
	FlagAlias              Flags = 1 << 35
	FlagSpawn              Flags = 1 << 32
)

// Mandatory is the flag set OTP 26+ peers require of every connecting
// node; missing any of these from the negotiated set is a handshake
// failure (SPEC_FULL.md §4.5, spec.md's "required flags missing -> fail").
const Mandatory = FlagExtendedReferences | FlagExtendedPidsPorts | FlagBitBinaries |
	FlagNewFloats | FlagUTF8Atoms | FlagMapTag | FlagBigCreation |
	FlagHandshake23 | FlagNewFunTags | FlagUnlinkID

// Default is the capability set this client advertises when acting as a
// visible node: Mandatory plus fragmentation, small-atom-tags,
// UTF-8-strings-in-name-me, and spawn support.
const Default = Mandatory | FlagFragments | FlagSmallAtomTags | FlagNameMe | FlagSpawn

// Has reports whether all bits in want are set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// Missing returns the bits present in want but absent from f.
func (f Flags) Missing(want Flags) Flags {
	return want &^ f
}

// Intersect is the negotiated flag set both peers advertised.
func Intersect(a, b Flags) Flags {
	return a & b
}
