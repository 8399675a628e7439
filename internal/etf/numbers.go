package etf

import (
	"math"
	"math/big"
)

// NewInteger picks the narrowest term variant that can hold n, per
// SPEC_FULL.md §4.3's tag tie-break rule: [0,255] -> SmallInteger,
// signed 32-bit range -> Integer, otherwise BigInteger.
func NewInteger(n int64) Term {
	if n >= 0 && n <= 255 {
		return SmallInteger(n)
	}
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return Integer(int32(n))
	}
	return NewBigInteger(big.NewInt(n))
}

// NewIntegerFromBig is NewInteger's arbitrary-precision counterpart.
func NewIntegerFromBig(n *big.Int) Term {
	if n.IsInt64() {
		return NewInteger(n.Int64())
	}
	return NewBigInteger(n)
}
