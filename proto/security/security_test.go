package security

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeysAreSymmetricAcrossLegs(t *testing.T) {
	clientRandom := GenerateRandom()
	serverRandom := GenerateRandom()

	clientSide := DeriveKeys(clientRandom, serverRandom, Method128Bit, false)
	serverSide := DeriveKeys(clientRandom, serverRandom, Method128Bit, true)

	assert.Equal(t, clientSide.EncryptKey, serverSide.DecryptKey)
	assert.Equal(t, clientSide.DecryptKey, serverSide.EncryptKey)
	assert.Equal(t, clientSide.MacKey, serverSide.MacKey)
}

func TestDeriveKeysExportSaltForty(t *testing.T) {
	clientRandom := GenerateRandom()
	serverRandom := GenerateRandom()
	keys := DeriveKeys(clientRandom, serverRandom, Method40Bit, false)
	assert.Equal(t, exportKeySalt[5:], keys.EncryptKey[5:])
}

func TestRC4CrypterProxyRoundTrip(t *testing.T) {
	clientRandom := GenerateRandom()
	serverRandom := GenerateRandom()
	clientKeys := DeriveKeys(clientRandom, serverRandom, Method128Bit, false)
	serverKeys := DeriveKeys(clientRandom, serverRandom, Method128Bit, true)

	client := NewRC4CrypterProxy()
	client.MarkHalfKeyed()
	require.NoError(t, client.SetKeys(clientKeys))
	assert.Equal(t, StateKeyed, client.State())

	server := NewRC4CrypterProxy()
	require.NoError(t, server.SetKeys(serverKeys))

	plaintext := []byte("demand active pdu bytes")
	ciphertext := client.Encrypt(plaintext)
	assert.Equal(t, plaintext, server.Decrypt(ciphertext))
}

func TestRC4CrypterProxyPanicsBeforeKeyed(t *testing.T) {
	p := NewRC4CrypterProxy()
	assert.Panics(t, func() { p.Encrypt([]byte("x")) })
}

func TestMACRoundTrip(t *testing.T) {
	macKey := []byte("0123456789abcdef")
	data := []byte("slow path pdu payload")
	sig := ComputeMAC(macKey, data)
	assert.True(t, VerifyMAC(macKey, data, sig))
	assert.False(t, VerifyMAC(macKey, []byte("tampered payload!!!!"), sig))
}

func TestHeaderRoundTripEncrypted(t *testing.T) {
	var buf bytes.Buffer
	h := &Header{Flags: SEC_ENCRYPT, Signature: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	h.Write(&buf, true)

	got := &Header{}
	got.Read(bytes.NewReader(buf.Bytes()), true)
	assert.Equal(t, h.Flags, got.Flags)
	assert.Equal(t, h.Signature, got.Signature)
}

func TestClientSecurityExchangeRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	clientRandom := GenerateRandom()
	encrypted, err := EncryptClientRandom(&priv.PublicKey, clientRandom)
	require.NoError(t, err)

	pdu := &ClientSecurityExchangePDU{EncryptedRandom: encrypted}
	serialized := pdu.Serialize()

	got := &ClientSecurityExchangePDU{}
	got.Read(bytes.NewReader(serialized))

	decrypted, err := DecryptClientRandom(priv, got.EncryptedRandom)
	require.NoError(t, err)
	assert.Equal(t, clientRandom, decrypted)
}
