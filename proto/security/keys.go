// Package security implements RDP's standard (non-TLS) security layer:
// client/server random exchange, the MD5/SHA1 key-derivation ladder, RC4
// session encryption, and the security header framing slow-path PDUs carry
// when native security is in effect, per spec.md §4.5. When the connection
// negotiated TLS instead, this package is not used for encryption — only
// its security-header framing still applies on top of the TLS stream.
package security

import (
	"crypto/md5"
	"crypto/sha1"
)

// EncryptionMethod bits, mirrored from gcc's GCC_CS_SECURITY encoding.
const (
	Method40Bit  uint32 = 0x00000001
	Method128Bit uint32 = 0x00000002
	Method56Bit  uint32 = 0x00000008
	MethodFIPS   uint32 = 0x00000010
)

// KeyLen returns the RC4 key length, in bytes, for method — per
// MS-RDPBCGR §5.3.4, 40-bit and 56-bit still carry a full 16-byte key but
// only the low 5 or 7 bytes are unique, the rest fixed to a published salt.
func KeyLen(method uint32) int {
	switch method {
	case Method40Bit, Method56Bit:
		return 16
	case Method128Bit:
		return 16
	default:
		return 16
	}
}

// exportKeySalt is the fixed padding MS-RDPBCGR defines for 40/56-bit
// "export" strength keys, applied after derivation so only the low 5 or 7
// bytes of the session key carry real entropy.
var exportKeySalt = [16]byte{
	0xd1, 0x26, 0x9e, 0x00, 0x9b, 0x00, 0x7e, 0xc6,
	0x65, 0x32, 0x28, 0x3b, 0x36, 0x2a, 0x82, 0x67,
}

// saltedHash48 implements MS-RDPBCGR's SaltedHash: three rounds of
// SHA1("A"/"BB"/"CCC" + input + salt1 + salt2) fed through MD5(input + .)
// to produce a 48-byte output, used for both MasterSecret and
// SessionKeyBlob derivation.
func saltedHash48(input, salt1, salt2 []byte) []byte {
	out := make([]byte, 0, 48)
	for i := 0; i < 3; i++ {
		prefix := make([]byte, i+1)
		for j := range prefix {
			prefix[j] = byte('A' + i)
		}
		sha := sha1.New()
		sha.Write(prefix)
		sha.Write(input)
		sha.Write(salt1)
		sha.Write(salt2)
		shaSum := sha.Sum(nil)

		md := md5.New()
		md.Write(input)
		md.Write(shaSum)
		out = append(out, md.Sum(nil)...)
	}
	return out
}

// finalHash16 implements MS-RDPBCGR's FinalHash: MD5(key16 + salt1 + salt2)
// -> 16 bytes, used to derive each direction's final session key from the
// shared SessionKeyBlob.
func finalHash16(key16, salt1, salt2 []byte) []byte {
	md := md5.New()
	md.Write(key16)
	md.Write(salt1)
	md.Write(salt2)
	return md.Sum(nil)
}

// SessionKeys holds the derived encrypt/decrypt RC4 keys for one
// connection leg (client random/server random pair) in the direction
// naming of the party that owns them: EncryptKey is used for data this
// party sends, DecryptKey for data it receives.
type SessionKeys struct {
	EncryptKey []byte
	DecryptKey []byte
	MacKey     []byte
}

// DeriveKeys runs the full RDP standard-security key ladder: client and
// server random (32 bytes each) to MasterSecret to SessionKeyBlob to the
// two directional 16-byte session keys and the MAC key, per MS-RDPBCGR
// §5.3.4-5.3.5. isServer selects which half of the SessionKeyBlob becomes
// the encrypt vs decrypt key, since client and server use opposite halves.
func DeriveKeys(clientRandom, serverRandom []byte, method uint32, isServer bool) *SessionKeys {
	preMasterSecret := make([]byte, 0, 48)
	preMasterSecret = append(preMasterSecret, clientRandom[:24]...)
	preMasterSecret = append(preMasterSecret, serverRandom[:24]...)

	masterSecret := saltedHash48(preMasterSecret, clientRandom, serverRandom)
	sessionKeyBlob := saltedHash48(masterSecret, clientRandom, serverRandom)

	macKey := sessionKeyBlob[0:16]
	clientEncryptKey := finalHash16(sessionKeyBlob[16:32], clientRandom, serverRandom)
	serverEncryptKey := finalHash16(sessionKeyBlob[32:48], clientRandom, serverRandom)

	if method == Method40Bit || method == Method56Bit {
		applyExportSalt(clientEncryptKey, method)
		applyExportSalt(serverEncryptKey, method)
	}

	if isServer {
		return &SessionKeys{EncryptKey: serverEncryptKey, DecryptKey: clientEncryptKey, MacKey: macKey}
	}
	return &SessionKeys{EncryptKey: clientEncryptKey, DecryptKey: serverEncryptKey, MacKey: macKey}
}

// applyExportSalt overwrites the high bytes of key with the fixed export
// salt, leaving only the low 5 (40-bit) or 7 (56-bit) bytes derived.
func applyExportSalt(key []byte, method uint32) {
	keepBytes := 5
	if method == Method56Bit {
		keepBytes = 7
	}
	copy(key[keepBytes:], exportKeySalt[keepBytes:])
}
