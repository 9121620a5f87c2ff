package fastpath

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTripShort(t *testing.T) {
	var buf bytes.Buffer
	h := &Header{EncryptionFlags: 0, NumberEvents: 2, Length: 10}
	h.Write(&buf)

	got := &Header{}
	got.Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, uint8(0), got.EncryptionFlags)
	assert.Equal(t, uint8(2), got.NumberEvents)
	assert.Equal(t, 10, got.Length)
}

func TestWriteThenReadFrame(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, []byte("update pdu bytes"))
	fp := Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, []byte("update pdu bytes"), fp.Data)
	assert.Equal(t, uint8(0), fp.Header.EncryptionFlags)
}

func TestCodecEncryptDecryptRoundTrip(t *testing.T) {
	codec, err := NewCodec([]byte("0123456789abcdef"), []byte("fedcba9876543210"))
	require.NoError(t, err)

	plaintext := []byte("mouse move event payload")
	ciphertext := codec.Encrypt(plaintext)
	assert.NotEqual(t, plaintext, ciphertext)

	decoder, err := NewCodec([]byte("fedcba9876543210"), []byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoder.Decrypt(ciphertext))
}

func TestParserDecryptsEncryptedFrame(t *testing.T) {
	codecA, err := NewCodec([]byte("0123456789abcdef"), []byte("fedcba9876543210"))
	require.NoError(t, err)
	codecB, err := NewCodec([]byte("fedcba9876543210"), []byte("0123456789abcdef"))
	require.NoError(t, err)

	sender := Parser{Codec: codecA}
	out, err := sender.Serialize([]byte("keyboard event"))
	require.NoError(t, err)

	receiver := Parser{Codec: codecB}
	pdu, remainder, err := receiver.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("keyboard event"), remainder)
	assert.Equal(t, EncryptionFlagEncrypted, pdu.(*FastPathData).Header.EncryptionFlags)
}

func TestParserRejectsEncryptedFrameWithoutCodec(t *testing.T) {
	codecA, err := NewCodec([]byte("0123456789abcdef"), []byte("fedcba9876543210"))
	require.NoError(t, err)
	sender := Parser{Codec: codecA}
	out, err := sender.Serialize([]byte("data"))
	require.NoError(t, err)

	receiver := Parser{}
	_, _, err = receiver.Parse(out)
	assert.Error(t, err)
}
