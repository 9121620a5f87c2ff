package security

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// ClientRandomLen is the fixed length of both client and server random
// values, MS-RDPBCGR §2.2.1.3.2/§2.2.1.4.3.
const ClientRandomLen = 32

// GenerateRandom returns a cryptographically random 32-byte value for use
// as either leg's client or server random.
func GenerateRandom() []byte {
	buf := make([]byte, ClientRandomLen)
	core.ThrowError(mustRead(buf))
	return buf
}

func mustRead(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// ClientSecurityExchangePDU carries the client random, RSA-encrypted under
// the server's public key, MS-RDPBCGR §2.2.1.10.
type ClientSecurityExchangePDU struct {
	EncryptedRandom []byte
}

func (p *ClientSecurityExchangePDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, uint32(len(p.EncryptedRandom)+8))
	core.WriteFull(buf, p.EncryptedRandom)
	core.WriteFull(buf, make([]byte, 8)) // 8 zero padding bytes, MS-RDPBCGR 2.2.1.10.1
	return buf.Bytes()
}

func (p *ClientSecurityExchangePDU) Read(r io.Reader) {
	var length uint32
	core.ReadLE(r, &length)
	core.ThrowIf(length < 8, errShortExchange(length))
	p.EncryptedRandom = core.ReadBytes(r, int(length)-8)
	core.ReadBytes(r, 8) // padding
}

type errShortExchange uint32

func (e errShortExchange) Error() string { return "security: client security exchange pdu too short" }

// EncryptClientRandom RSA-encrypts clientRandom for the wire using the
// server's public key, reversing byte order per MS-RDPBCGR's little-endian
// convention for this one field (everything else in the PDU is already
// little-endian; the RSA operation itself works on the big-endian
// mathematical integer so the plaintext bytes are reversed going in and
// the ciphertext reversed coming out).
func EncryptClientRandom(pub *rsa.PublicKey, clientRandom []byte) ([]byte, error) {
	reversed := reverseBytes(clientRandom)
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, reversed)
	if err != nil {
		return nil, err
	}
	return reverseBytes(ciphertext), nil
}

// DecryptClientRandom reverses EncryptClientRandom on the server side.
func DecryptClientRandom(priv *rsa.PrivateKey, encrypted []byte) ([]byte, error) {
	reversed := reverseBytes(encrypted)
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, priv, reversed)
	if err != nil {
		return nil, err
	}
	return reverseBytes(plain), nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
