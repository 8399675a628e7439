package etf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeOptions controls the optional encoder behaviors named in
// SPEC_FULL.md §6. The zero value is the default, conservative
// configuration: no compression, no string-tag shortcut for byte lists.
type EncodeOptions struct {
	Compress                  bool
	CompressionThreshold      uint32
	EmitStringTagForByteLists bool
}

// Encode serializes t to wire bytes, prefixed with the version magic.
func Encode(t Term, opts EncodeOptions) ([]byte, error) {
	var body bytes.Buffer
	e := &encoder{buf: &body, opts: opts}
	if err := e.term(t); err != nil {
		return nil, err
	}

	if opts.Compress && uint32(body.Len()) > opts.CompressionThreshold {
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		if _, err := zw.Write(body.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		out := make([]byte, 0, 1+1+4+compressed.Len())
		out = append(out, versionMagic, tagCompressed)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(body.Len()))
		out = append(out, lenBuf[:]...)
		out = append(out, compressed.Bytes()...)
		return out, nil
	}

	out := make([]byte, 0, 1+body.Len())
	out = append(out, versionMagic)
	out = append(out, body.Bytes()...)
	return out, nil
}

type encoder struct {
	buf  *bytes.Buffer
	opts EncodeOptions
}

func (e *encoder) term(t Term) error {
	switch v := t.(type) {
	case SmallInteger:
		e.buf.WriteByte(tagSmallInteger)
		e.buf.WriteByte(byte(v))
		return nil

	case Integer:
		e.buf.WriteByte(tagInteger)
		return e.u32(uint32(int32(v)))

	case BigInteger:
		return e.bignum(v)

	case Float:
		e.buf.WriteByte(tagNewFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(float64(v)))
		e.buf.Write(b[:])
		return nil

	case Atom:
		return e.atom(v)

	case Pid:
		if v.Bytes != nil {
			e.buf.Write(v.Bytes)
			return nil
		}
		e.buf.WriteByte(tagNewPid)
		if err := e.term(v.Node); err != nil {
			return err
		}
		if err := e.u32(v.ID); err != nil {
			return err
		}
		if err := e.u32(v.Serial); err != nil {
			return err
		}
		return e.u32(v.Creation)

	case Port:
		if v.Bytes != nil {
			e.buf.Write(v.Bytes)
			return nil
		}
		if v.ID > math.MaxUint32 {
			e.buf.WriteByte(tagV4Port)
			if err := e.term(v.Node); err != nil {
				return err
			}
			if err := e.u64(v.ID); err != nil {
				return err
			}
			return e.u32(v.Creation)
		}
		e.buf.WriteByte(tagNewPort)
		if err := e.term(v.Node); err != nil {
			return err
		}
		if err := e.u32(uint32(v.ID)); err != nil {
			return err
		}
		return e.u32(v.Creation)

	case Reference:
		if v.Bytes != nil {
			e.buf.Write(v.Bytes)
			return nil
		}
		e.buf.WriteByte(tagNewerReference)
		if err := e.u16(uint16(len(v.IDs))); err != nil {
			return err
		}
		if err := e.term(v.Node); err != nil {
			return err
		}
		if err := e.u32(v.Creation); err != nil {
			return err
		}
		for _, id := range v.IDs {
			if err := e.u32(id); err != nil {
				return err
			}
		}
		return nil

	case Tuple:
		if len(v) <= 255 {
			e.buf.WriteByte(tagSmallTuple)
			e.buf.WriteByte(byte(len(v)))
		} else {
			e.buf.WriteByte(tagLargeTuple)
			if err := e.u32(uint32(len(v))); err != nil {
				return err
			}
		}
		for _, el := range v {
			if err := e.term(el); err != nil {
				return err
			}
		}
		return nil

	case Map:
		e.buf.WriteByte(tagMap)
		if err := e.u32(uint32(len(v.Pairs))); err != nil {
			return err
		}
		for _, p := range v.Pairs {
			if err := e.term(p.Key); err != nil {
				return err
			}
			if err := e.term(p.Value); err != nil {
				return err
			}
		}
		return nil

	case List:
		if len(v.Elements) == 0 {
			if _, ok := v.Tail.(Nil); ok {
				e.buf.WriteByte(tagNil)
				return nil
			}
		}
		if e.opts.EmitStringTagForByteLists && v.IsProper() && isByteList(v.Elements) && len(v.Elements) <= 65535 {
			e.buf.WriteByte(tagString)
			if err := e.u16(uint16(len(v.Elements))); err != nil {
				return err
			}
			for _, el := range v.Elements {
				e.buf.WriteByte(byte(el.(SmallInteger)))
			}
			return nil
		}
		e.buf.WriteByte(tagList)
		if err := e.u32(uint32(len(v.Elements))); err != nil {
			return err
		}
		for _, el := range v.Elements {
			if err := e.term(el); err != nil {
				return err
			}
		}
		return e.term(v.Tail)

	case Nil:
		e.buf.WriteByte(tagNil)
		return nil

	case String:
		if len(v) > 65535 {
			return ErrListTooLarge
		}
		e.buf.WriteByte(tagString)
		if err := e.u16(uint16(len(v))); err != nil {
			return err
		}
		e.buf.Write(v)
		return nil

	case Binary:
		e.buf.WriteByte(tagBinary)
		if err := e.u32(uint32(len(v))); err != nil {
			return err
		}
		e.buf.Write(v)
		return nil

	case BitBinary:
		if v.Bits == 0 || v.Bits > 7 {
			return ErrBitBinaryInvalidCount
		}
		e.buf.WriteByte(tagBitBinary)
		if err := e.u32(uint32(len(v.Data))); err != nil {
			return err
		}
		e.buf.WriteByte(v.Bits)
		e.buf.Write(v.Data)
		return nil

	case InternalFun:
		e.buf.Write(v.Raw)
		return nil

	case ExternalFun:
		e.buf.WriteByte(tagExport)
		if err := e.term(v.Module); err != nil {
			return err
		}
		if err := e.term(v.Function); err != nil {
			return err
		}
		return e.term(SmallInteger(v.Arity))

	default:
		return fmt.Errorf("etf: encode: unsupported term type %T", t)
	}
}

func isByteList(elems []Term) bool {
	for _, el := range elems {
		if _, ok := el.(SmallInteger); !ok {
			return false
		}
	}
	return true
}

func (e *encoder) atom(a Atom) error {
	if len(a.Text) > 255 {
		return ErrAtomTooLong
	}
	n := len(a.Text)
	if n <= 255 {
		e.buf.WriteByte(tagSmallAtomUTF8)
		e.buf.WriteByte(byte(n))
	} else {
		e.buf.WriteByte(tagAtomUTF8)
		if err := e.u16(uint16(n)); err != nil {
			return err
		}
	}
	e.buf.WriteString(a.Text)
	return nil
}

func (e *encoder) bignum(b BigInteger) error {
	mag := trimTrailingZero(b.Magnitude)
	sign := byte(0)
	if b.Negative {
		sign = 1
	}
	if len(mag) <= 255 {
		e.buf.WriteByte(tagSmallBignum)
		e.buf.WriteByte(byte(len(mag)))
	} else {
		e.buf.WriteByte(tagLargeBignum)
		if err := e.u32(uint32(len(mag))); err != nil {
			return err
		}
	}
	e.buf.WriteByte(sign)
	e.buf.Write(mag)
	return nil
}

func (e *encoder) u16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
	return nil
}

func (e *encoder) u32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
	return nil
}

func (e *encoder) u64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return nil
}
