package wire

import (
	"encoding/binary"
	"math"
	"math/big"
)

// Decode parses one value from the front of buf and returns it along with
// the number of bytes consumed. Trailing bytes beyond the decoded value are
// left untouched — callers that expect buf to contain exactly one value
// should check the returned count against len(buf).
func Decode(buf []byte) (Value, int, error) {
	d := &decoder{buf: buf}
	v, err := d.value()
	if err != nil {
		return nil, 0, err
	}
	return v, d.pos, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrMalformed
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, ErrMalformed
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) readFloat64() (float64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (d *decoder) value() (Value, error) {
	disc, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch Kind(disc) {
	case KindNull:
		return nil, nil
	case KindInt:
		return d.decodeInt()
	case KindString:
		return d.decodeString()
	case KindBool:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case KindTuple:
		elems, err := d.decodeContainer()
		if err != nil {
			return nil, err
		}
		return Tuple(elems), nil
	case KindSequence:
		elems, err := d.decodeContainer()
		if err != nil {
			return nil, err
		}
		return Sequence(elems), nil
	case KindSet:
		elems, err := d.decodeContainer()
		if err != nil {
			return nil, err
		}
		return Set(elems), nil
	case KindFrozenSet:
		elems, err := d.decodeContainer()
		if err != nil {
			return nil, err
		}
		return FrozenSet(elems), nil
	case KindMap:
		return d.decodeMap()
	case KindComplex:
		re, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		im, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		return complex(re, im), nil
	case KindDouble:
		return d.readFloat64()
	case KindBytes:
		b, err := d.decodeLenPrefixed()
		if err != nil {
			return nil, err
		}
		return Bytes(b), nil
	case KindMutableBytes:
		b, err := d.decodeLenPrefixed()
		if err != nil {
			return nil, err
		}
		return MutableBytes(b), nil
	default:
		return nil, ErrMalformed
	}
}

func (d *decoder) decodeInt() (Value, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	b, err := d.readN(int(n))
	if err != nil {
		return nil, err
	}
	return twosComplementToBigInt(b), nil
}

func (d *decoder) decodeString() (Value, error) {
	b, err := d.decodeLenPrefixed()
	if err != nil {
		return nil, err
	}
	if !validUTF8(b) {
		return nil, ErrMalformed
	}
	return string(b), nil
}

// decodeLenPrefixed reads a two-byte length N followed by up to N bytes,
// clamping to however many bytes the stream actually has left — spec
// §4.A's defined "extra declared length silently truncates" behavior.
func (d *decoder) decodeLenPrefixed() ([]byte, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	avail := len(d.buf) - d.pos
	take := int(n)
	if take > avail {
		take = avail
	}
	if take < 0 {
		take = 0
	}
	return d.readN(take)
}

func (d *decoder) decodeContainer() ([]Value, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	elems := make([]Value, 0, n)
	for i := 0; i < int(n); i++ {
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return elems, nil
}

func (d *decoder) decodeMap() (Value, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	m := make(Map, 0, n)
	for i := 0; i < int(n); i++ {
		k, err := d.value()
		if err != nil {
			return nil, err
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		m = append(m, MapEntry{Key: k, Value: v})
	}
	return m, nil
}

func twosComplementToBigInt(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(b)))
		v.Sub(v, mod)
	}
	return v
}
