package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryRecoversErrorPanic(t *testing.T) {
	err := Try(func() {
		ThrowErrorf("boom %d", 42)
	})
	assert.EqualError(t, err, "boom 42")
}

func TestTryPassesThroughOnSuccess(t *testing.T) {
	err := Try(func() {})
	assert.NoError(t, err)
}

func TestTryCatchInvokesCatchOnPanic(t *testing.T) {
	var caught any
	TryCatch(func() {
		Throw("oops")
	}, func(e any) {
		caught = e
	})
	assert.Equal(t, "oops", caught)
}

func TestReadWriteLERoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteLE(&buf, uint32(0xdeadbeef))
	var got uint32
	ReadLE(&buf, &got)
	assert.Equal(t, uint32(0xdeadbeef), got)
}

func TestReadWriteBERoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteBE(&buf, uint16(0x0304))
	assert.Equal(t, []byte{0x03, 0x04}, buf.Bytes())
}

func TestAsn1ShortLengthRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteAsn1(&buf, 0x06, []byte{0x01, 0x02, 0x03})

	a := &Asn1{}
	a.Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, uint8(0x06), a.Tag)
	assert.Equal(t, 3, a.Length)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, a.Value)
}

func TestAsn1LongLengthRoundTrip(t *testing.T) {
	value := bytes.Repeat([]byte{0xAA}, 200)
	var buf bytes.Buffer
	WriteAsn1(&buf, 0x30, value)

	a := &Asn1{}
	a.Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, 200, a.Length)
	assert.Equal(t, value, a.Value)
}

func TestIfHelper(t *testing.T) {
	assert.Equal(t, 1, If(true, 1, 2))
	assert.Equal(t, 2, If(false, 1, 2))
}
