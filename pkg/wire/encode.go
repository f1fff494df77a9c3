package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"
)

// Encode serialises v to its discriminant-prefixed wire form.
func Encode(v Value) ([]byte, error) {
	buf := make([]byte, 0, 32)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, byte(KindNull)), nil
	case *big.Int:
		return appendInt(buf, x)
	case string:
		return appendString(buf, x)
	case bool:
		b := byte(0x00)
		if x {
			b = 0x01
		}
		return append(buf, byte(KindBool), b), nil
	case Tuple:
		return appendContainer(buf, KindTuple, []Value(x))
	case Sequence:
		return appendContainer(buf, KindSequence, []Value(x))
	case Set:
		return appendContainer(buf, KindSet, []Value(x))
	case FrozenSet:
		return appendContainer(buf, KindFrozenSet, []Value(x))
	case Map:
		return appendMap(buf, x)
	case complex128:
		buf = append(buf, byte(KindComplex))
		buf = appendFloat64(buf, real(x))
		buf = appendFloat64(buf, imag(x))
		return buf, nil
	case float64:
		buf = append(buf, byte(KindDouble))
		return appendFloat64(buf, x), nil
	case Bytes:
		return appendBytes(buf, KindBytes, []byte(x))
	case MutableBytes:
		return appendBytes(buf, KindMutableBytes, []byte(x))
	default:
		return nil, fmt.Errorf("wire: unsupported value type %T", v)
	}
}

func appendFloat64(buf []byte, f float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	return append(buf, b[:]...)
}

func appendInt(buf []byte, v *big.Int) ([]byte, error) {
	mag := twosComplementBytes(v)
	if len(mag) > MaxLen {
		return nil, ErrTooLarge
	}
	buf = append(buf, byte(KindInt))
	buf = appendUint16(buf, uint16(len(mag)))
	return append(buf, mag...), nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	b := []byte(s)
	if len(b) > MaxLen {
		return nil, ErrTooLarge
	}
	buf = append(buf, byte(KindString))
	buf = appendUint16(buf, uint16(len(b)))
	return append(buf, b...), nil
}

func appendBytes(buf []byte, k Kind, b []byte) ([]byte, error) {
	if len(b) > MaxLen {
		return nil, ErrTooLarge
	}
	buf = append(buf, byte(k))
	buf = appendUint16(buf, uint16(len(b)))
	return append(buf, b...), nil
}

func appendContainer(buf []byte, k Kind, elems []Value) ([]byte, error) {
	if len(elems) > MaxLen {
		return nil, ErrTooLarge
	}
	buf = append(buf, byte(k))
	buf = appendUint16(buf, uint16(len(elems)))
	var err error
	for _, e := range elems {
		buf, err = appendValue(buf, e)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendMap(buf []byte, m Map) ([]byte, error) {
	if len(m) > MaxMapPairs {
		return nil, ErrTooLarge
	}
	buf = append(buf, byte(KindMap))
	buf = appendUint16(buf, uint16(len(m)))
	var err error
	for _, entry := range m {
		buf, err = appendValue(buf, entry.Key)
		if err != nil {
			return nil, err
		}
		buf, err = appendValue(buf, entry.Value)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendUint16(buf []byte, n uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], n)
	return append(buf, b[:]...)
}

// twosComplementBytes returns the big-endian two's-complement encoding of
// v, with the documented N=1, 0x00 special case for zero. The width is
// minimal except for negative powers of two, which take one extra byte
// (-128 encodes as FF 80).
func twosComplementBytes(v *big.Int) []byte {
	if v.Sign() == 0 {
		return []byte{0x00}
	}
	if v.Sign() > 0 {
		b := v.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return b
	}

	abs := new(big.Int).Neg(v)
	nBytes := (abs.BitLen() + 8) / 8
	mod := new(big.Int).Lsh(big.NewInt(1), uint(nBytes*8))
	tc := new(big.Int).Add(mod, v)
	out := make([]byte, nBytes)
	tc.FillBytes(out)
	return out
}

// validUTF8 reports whether b is well-formed UTF-8.
func validUTF8(b []byte) bool {
	return utf8.Valid(b)
}
