package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDictOrdersKeys(t *testing.T) {
	d := NewDict()
	d.Set("v", "hi")
	d.Set("seq", int64(3))

	out, err := Encode(d)
	require.NoError(t, err)
	require.Equal(t, "d3:seqi3e1:v2:hie", out)
}

func TestDecodeDict(t *testing.T) {
	v, err := Decode("d3:seqi3e1:v2:hie")
	require.NoError(t, err)

	d, ok := v.(*Dict)
	require.True(t, ok)
	require.Equal(t, 2, d.Len())

	seq, ok := d.Get("seq")
	require.True(t, ok)
	require.Equal(t, int64(3), seq)

	val, ok := d.Get("v")
	require.True(t, ok)
	require.Equal(t, "hi", val)
}

func TestDecodeRejectsOutOfOrderKeys(t *testing.T) {
	_, err := Decode("d1:vi1e3:seqi3ee")
	require.Error(t, err)
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	_, err := Decode("d1:ai1e1:ai2ee")
	require.Error(t, err)
}

func TestEncodeDecodeRoundtripNestedValues(t *testing.T) {
	inner := NewDict()
	inner.Set("a", int64(-7))
	inner.Set("b", []Value{"x", "y", int64(42)})

	outer := NewDict()
	outer.Set("list", []Value{inner, "tail"})
	outer.Set("n", int64(0))

	encoded, err := Encode(outer)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestDecodePrefixLeavesTrailingBytes(t *testing.T) {
	v, rest, err := DecodePrefix("i3e1:v2:hie-trailing-garbage")
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
	require.Equal(t, "1:v2:hie-trailing-garbage", rest)
}

func TestDecodeTopLevelRejectsTrailingBytes(t *testing.T) {
	_, err := Decode("i3ee")
	require.Error(t, err)
}

func TestMutableSignatureBuffer(t *testing.T) {
	buf, err := MutableSignatureBuffer(nil, 3, "hi")
	require.NoError(t, err)
	require.Equal(t, "3:seqi3e1:v2:hi", buf)

	buf, err = MutableSignatureBuffer([]byte("sa"), 3, "hi")
	require.NoError(t, err)
	require.Equal(t, "4:salt2:sa3:seqi3e1:v2:hi", buf)
}
