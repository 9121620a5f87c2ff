package per

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLengthRoundTripShort(t *testing.T) {
	var buf bytes.Buffer
	WriteLength(&buf, 0x42)
	assert.Equal(t, []byte{0x42}, buf.Bytes())
	assert.Equal(t, 0x42, ReadLength(bytes.NewReader(buf.Bytes())))
}

func TestLengthRoundTripLong(t *testing.T) {
	var buf bytes.Buffer
	WriteLength(&buf, 300)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, 300, ReadLength(bytes.NewReader(buf.Bytes())))
}

func TestInteger16RoundTripWithBase(t *testing.T) {
	const base uint16 = 1001
	var buf bytes.Buffer
	WriteInteger16(&buf, 42+base, base)
	got := ReadInteger16(bytes.NewReader(buf.Bytes()), base)
	assert.Equal(t, uint16(42+base), got)
}

func TestEnumeratedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteEnumerated(&buf, 0)
	assert.Equal(t, uint8(0), ReadEnumerated(bytes.NewReader(buf.Bytes())))
}

func TestOctetStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteOctetString(&buf, []byte("hello mcs"), 0)
	got := ReadOctetString(bytes.NewReader(buf.Bytes()), 0)
	assert.Equal(t, []byte("hello mcs"), got)
}
