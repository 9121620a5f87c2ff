package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// Security header flags, MS-RDPBCGR §2.2.8.1.1.2.1.
const (
	SEC_EXCHANGE_PKT   uint16 = 0x0001
	SEC_INFO_PKT       uint16 = 0x0040
	SEC_ENCRYPT        uint16 = 0x0008
	SEC_LICENSE_PKT    uint16 = 0x0080
	SEC_REDIRECTION_PKT uint16 = 0x0400
)

// Header is the security header every slow-path PDU carries once the
// security layer is active: flags, and (when SEC_ENCRYPT is set) an 8-byte
// truncated HMAC-like data signature over the plaintext payload.
type Header struct {
	Flags     uint16
	FlagsHi   uint16
	Signature [8]byte
}

func (h *Header) Read(r io.Reader, encrypted bool) {
	core.ReadLE(r, &h.Flags)
	core.ReadLE(r, &h.FlagsHi)
	if encrypted {
		core.ReadLE(r, &h.Signature)
	}
}

func (h *Header) Write(w io.Writer, encrypted bool) {
	core.WriteLE(w, h.Flags)
	core.WriteLE(w, h.FlagsHi)
	if encrypted {
		core.WriteLE(w, h.Signature)
	}
}

// ComputeMAC implements MS-RDPBCGR's (non-FIPS) data signature: the first 8
// bytes of SHA1(macKey + pad1 + SHA1(macKey + pad2 + data)) fed through
// MD5, truncated to 8 bytes — the "MAC" RDP native security signs each
// encrypted PDU with so the receiver can detect tampering/desync.
func ComputeMAC(macKey, data []byte) [8]byte {
	pad1 := bytes.Repeat([]byte{0x36}, 40)
	pad2 := bytes.Repeat([]byte{0x5c}, 40)

	inner := sha1.New()
	inner.Write(macKey)
	inner.Write(pad2)
	inner.Write(data)
	innerSum := inner.Sum(nil)

	outer := sha1.New()
	outer.Write(macKey)
	outer.Write(pad1)
	outer.Write(innerSum)
	outerSum := outer.Sum(nil)

	md := md5.New()
	md.Write(macKey)
	md.Write(outerSum)

	var sig [8]byte
	copy(sig[:], md.Sum(nil)[:8])
	return sig
}

// VerifyMAC reports whether sig matches the MAC computed over data with
// macKey, in constant time.
func VerifyMAC(macKey, data []byte, sig [8]byte) bool {
	want := ComputeMAC(macKey, data)
	return hmac.Equal(want[:], sig[:])
}
