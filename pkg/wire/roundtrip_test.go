package wire

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeDecode(t *testing.T, v Value) Value {
	t.Helper()
	buf, err := Encode(v)
	require.NoError(t, err)
	got, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	return got
}

func TestRoundTripPrimitives(t *testing.T) {
	assert.Equal(t, big.NewInt(1), encodeDecode(t, big.NewInt(1)))
	assert.Zero(t, big.NewInt(0).Cmp(encodeDecode(t, big.NewInt(0)).(*big.Int)))
	assert.Equal(t, big.NewInt(-3), encodeDecode(t, big.NewInt(-3)))
	assert.Equal(t, "ab", encodeDecode(t, "ab"))
	assert.Equal(t, "", encodeDecode(t, ""))
	assert.Equal(t, true, encodeDecode(t, true))
	assert.Equal(t, false, encodeDecode(t, false))
	assert.Equal(t, nil, encodeDecode(t, nil))
	assert.Equal(t, 3.5, encodeDecode(t, 3.5))
	assert.Equal(t, complex(1.0, -2.0), encodeDecode(t, complex(1.0, -2.0)))
	assert.Equal(t, Bytes{1, 2, 3}, encodeDecode(t, Bytes{1, 2, 3}))
	assert.Equal(t, MutableBytes{1, 2, 3}, encodeDecode(t, MutableBytes{1, 2, 3}))
}

func TestRoundTripNaN(t *testing.T) {
	got := encodeDecode(t, math.NaN())
	gf, ok := got.(float64)
	require.True(t, ok)
	assert.Equal(t, math.Float64bits(math.NaN()), math.Float64bits(gf))
}

func TestRoundTripContainers(t *testing.T) {
	seq := Sequence{big.NewInt(1), "x", true}
	assert.Equal(t, seq, encodeDecode(t, seq))

	tup := Tuple{big.NewInt(1), "x"}
	assert.Equal(t, tup, encodeDecode(t, tup))

	set := Set{big.NewInt(1), big.NewInt(2)}
	assert.Equal(t, set, encodeDecode(t, set))

	frozen := FrozenSet{"a", "b"}
	assert.Equal(t, frozen, encodeDecode(t, frozen))

	m := Map{{Key: "k", Value: big.NewInt(42)}}
	assert.Equal(t, m, encodeDecode(t, m))

	nested := Sequence{Tuple{big.NewInt(1)}, Sequence{big.NewInt(2)}}
	assert.Equal(t, nested, encodeDecode(t, nested))
}

func TestTupleAndSequenceHaveDistinctDiscriminants(t *testing.T) {
	tupBuf, err := Encode(Tuple{big.NewInt(1)})
	require.NoError(t, err)
	seqBuf, err := Encode(Sequence{big.NewInt(1)})
	require.NoError(t, err)

	assert.Equal(t, byte(KindTuple), tupBuf[0])
	assert.Equal(t, byte(KindSequence), seqBuf[0])
	assert.NotEqual(t, tupBuf[0], seqBuf[0])
}

func TestDiscriminantStability(t *testing.T) {
	cases := []struct {
		v    Value
		kind Kind
	}{
		{big.NewInt(1), KindInt},
		{"s", KindString},
		{true, KindBool},
		{Tuple{}, KindTuple},
		{Sequence{}, KindSequence},
		{Map{}, KindMap},
		{Set{}, KindSet},
		{complex(0, 0), KindComplex},
		{1.0, KindDouble},
		{Bytes{}, KindBytes},
		{MutableBytes{}, KindMutableBytes},
		{FrozenSet{}, KindFrozenSet},
		{nil, KindNull},
	}
	for _, tt := range cases {
		buf, err := Encode(tt.v)
		require.NoError(t, err)
		assert.Equal(t, byte(tt.kind), buf[0])
	}
}

func TestIntegerBoundary(t *testing.T) {
	zero, err := Encode(big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(KindInt), 0x00, 0x01, 0x00}, zero)

	negThree, err := Encode(big.NewInt(-3))
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(KindInt), 0x00, 0x01, 0xFD}, negThree)

	huge := new(big.Int).Lsh(big.NewInt(1), 65535*8)
	_, err = Encode(huge)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestStringBoundary(t *testing.T) {
	empty, err := Encode("")
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(KindString), 0x00, 0x00}, empty)

	tooLong := make([]byte, MaxLen+1)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	_, err = Encode(string(tooLong))
	assert.ErrorIs(t, err, ErrTooLarge)

	v, n, err := Decode([]byte{byte(KindString), 0x00, 0x05, 0x61, 0x62, 0x63})
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	assert.Equal(t, 6, n)
}

func TestDecodeInvalidUTF8(t *testing.T) {
	_, _, err := Decode([]byte{byte(KindString), 0x00, 0x01, 0xFF})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnknownDiscriminant(t *testing.T) {
	_, _, err := Decode([]byte{0xFE})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeTruncatedStream(t *testing.T) {
	_, _, err := Decode([]byte{byte(KindInt), 0x00, 0x05, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSetTooManyElements(t *testing.T) {
	elems := make(Set, MaxLen+1)
	for i := range elems {
		elems[i] = big.NewInt(int64(i))
	}
	_, err := Encode(elems)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestMapTooManyPairs(t *testing.T) {
	m := make(Map, MaxMapPairs+1)
	for i := range m {
		m[i] = MapEntry{Key: big.NewInt(int64(i)), Value: big.NewInt(int64(i))}
	}
	_, err := Encode(m)
	assert.ErrorIs(t, err, ErrTooLarge)
}
