package etf

// ETF tag bytes per OTP 27 erl_ext_dist. Values match the wire format
// exactly; names follow the de-facto naming used across BEAM
// implementations rather than any single source file.
const (
	versionMagic byte = 131

	tagCompressed byte = 80

	tagSmallInteger byte = 97
	tagInteger      byte = 98
	tagFloat        byte = 99 // old float ext, decode-only
	tagAtom         byte = 100 // deprecated atom ext (latin-1), decode-only
	tagReference    byte = 101 // deprecated reference ext, decode-only
	tagPort         byte = 102 // deprecated port ext, decode-only
	tagPid          byte = 103 // deprecated pid ext, decode-only
	tagSmallTuple   byte = 104
	tagLargeTuple   byte = 105
	tagNil          byte = 106
	tagString       byte = 107
	tagList         byte = 108
	tagBinary       byte = 109
	tagSmallBignum  byte = 110
	tagLargeBignum  byte = 111
	tagNewReference byte = 114 // deprecated new reference ext, decode-only
	tagSmallAtom    byte = 115 // deprecated small atom ext (latin-1), decode-only
	tagNewFun       byte = 112
	tagExport       byte = 113
	tagNewFloat     byte = 70
	tagBitBinary    byte = 77
	tagAtomUTF8     byte = 118
	tagSmallAtomUTF8 byte = 119
	tagNewPid       byte = 88
	tagNewPort      byte = 89
	tagNewerReference byte = 90
	tagMap          byte = 116
	tagAtomCacheRef byte = 82
	tagV4Port       byte = 120
)
