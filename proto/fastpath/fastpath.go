// Package fastpath implements the compact fast-path PDU framing (MS-RDPBCGR
// 2.2.9) used for the high-frequency output/input PDUs once the slow-path
// connection sequence has completed, per spec.md §4.7.
package fastpath

import (
	"bytes"
	"crypto/rc4"
	"fmt"
	"io"
	"sync"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/layer"
	"github.com/GoFeGroup/rdpmitm/proto/mcs/per"
)

// Header is the 2-or-3-byte fast-path header: encryption flags and event
// count packed into the first octet, followed by a 1-or-2-byte PER length
// determinant.
type Header struct {
	EncryptionFlags uint8
	NumberEvents    uint8
	Length          int
}

func (h *Header) Read(r io.Reader) {
	var b uint8
	core.ReadLE(r, &b)
	h.EncryptionFlags = (b & 0xc0) >> 6
	h.NumberEvents = (b & 0x3c) >> 2
	h.Length = per.ReadLength(r)
	h.Length = core.If(h.Length < 0x80, h.Length-2, h.Length-3)
}

func (h *Header) Write(w io.Writer) {
	b := uint8(h.EncryptionFlags<<6 | h.NumberEvents<<2)
	core.WriteLE(w, b)
	h.Length = core.If(h.Length < 0x80, h.Length+2, h.Length+3)
	per.WriteLength(w, h.Length)
}

// EncryptionFlags bits, MS-RDPBCGR 2.2.9.1.2.1.
const (
	EncryptionFlagEncrypted uint8 = 0x1
	EncryptionFlagSecure    uint8 = 0x2 // FASTPATH_OUTPUT_SECURE_CHECKSUM
)

// FastPathData is one parsed fast-path frame: header plus its (possibly
// still encrypted) payload.
type FastPathData struct {
	Header Header
	Data   []byte
}

// Read reads one complete fast-path frame from r.
func Read(r io.Reader) *FastPathData {
	fp := &FastPathData{}
	fp.Header.Read(r)
	fp.Data = core.ReadBytes(r, fp.Header.Length)
	return fp
}

// Write frames data (already encrypted by the caller if needed) with a
// plain, unencrypted fast-path header and writes it to w.
func Write(w io.Writer, data []byte) {
	(&Header{Length: len(data)}).Write(w)
	core.WriteFull(w, data)
}

// WriteEncrypted frames data behind a fast-path header with the encrypted
// flag set.
func WriteEncrypted(w io.Writer, data []byte) {
	(&Header{EncryptionFlags: EncryptionFlagEncrypted, Length: len(data)}).Write(w)
	core.WriteFull(w, data)
}

// Codec carries one connection leg's pair of RC4 ciphers (encrypt and
// decrypt) for fast-path traffic. The MITM runs one independent codec per
// connection leg — one keyed for victim<->MITM, one for MITM<->target — since each leg completes
// its own security-exchange handshake with its own random values, unlike a
// plain client which only ever needs a single pair of ciphers.
type Codec struct {
	mu      sync.Mutex
	encrypt *rc4.Cipher
	decrypt *rc4.Cipher
}

// NewCodec builds a Codec seeded with the two directional RC4 keys derived
// during the security-exchange handshake (security.DeriveKeys).
func NewCodec(encryptKey, decryptKey []byte) (*Codec, error) {
	enc, err := rc4.NewCipher(encryptKey)
	if err != nil {
		return nil, fmt.Errorf("fastpath: encrypt cipher: %w", err)
	}
	dec, err := rc4.NewCipher(decryptKey)
	if err != nil {
		return nil, fmt.Errorf("fastpath: decrypt cipher: %w", err)
	}
	return &Codec{encrypt: enc, decrypt: dec}, nil
}

// Encrypt XORs data against the outbound RC4 keystream into a new slice and
// returns it; data itself is left unchanged.
func (c *Codec) Encrypt(data []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(data))
	c.encrypt.XORKeyStream(out, data)
	return out
}

// Decrypt XORs data against the inbound RC4 keystream.
func (c *Codec) Decrypt(data []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(data))
	c.decrypt.XORKeyStream(out, data)
	return out
}

// Parser adapts fast-path framing to layer.Parser. When codec is non-nil,
// an encrypted frame is transparently decrypted before being handed to the
// next layer.
type Parser struct {
	Codec *Codec
}

func (p Parser) Parse(data []byte) (layer.PDU, []byte, error) {
	var fp *FastPathData
	err := core.Try(func() {
		fp = Read(bytes.NewReader(data))
	})
	if err != nil {
		return nil, nil, err
	}
	body := fp.Data
	if fp.Header.EncryptionFlags&EncryptionFlagEncrypted != 0 {
		if p.Codec == nil {
			return nil, nil, fmt.Errorf("fastpath: encrypted frame but no codec configured")
		}
		body = p.Codec.Decrypt(body)
	}
	glog.Debugf("fastpath: parsed frame, %d events, %d bytes", fp.Header.NumberEvents, len(body))
	return fp, body, nil
}

func (p Parser) Serialize(pdu layer.PDU) ([]byte, error) {
	body := pdu.([]byte)
	buf := new(bytes.Buffer)
	if p.Codec != nil {
		WriteEncrypted(buf, p.Codec.Encrypt(body))
	} else {
		Write(buf, body)
	}
	return buf.Bytes(), nil
}
