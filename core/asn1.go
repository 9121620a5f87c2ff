package core

import "io"

// Asn1 is a generic ASN.1 BER tag/length/value reader, used by GCC to
// anchor the Conference Create Request/Response's t124Identifier object
// identifier and by the native-security certificate chain.
// https://www.ietf.org/rfc/rfc6025.html
type Asn1 struct {
	Tag    uint8
	Length int
	Value  []byte
	orig   []byte
}

// Serialize returns the original tag+length bytes followed by Value.
func (s *Asn1) Serialize() []byte {
	return append(append([]byte{}, s.orig...), s.Value...)
}

// Read parses one tag/length/value element from r and also returns the
// full serialized bytes for convenience.
func (s *Asn1) Read(r io.Reader) []byte {
	var b byte
	ReadBE(r, &s.Tag)
	ReadBE(r, &b)

	s.orig = append(s.orig, s.Tag, b)
	if b&0x80 != 0 {
		for left := b & 0x7f; left > 0; left-- {
			ReadBE(r, &b)
			s.orig = append(s.orig, b)
			s.Length = s.Length<<8 + int(b)
		}
	} else {
		s.Length = int(b)
	}
	s.Value = make([]byte, s.Length)
	_, err := io.ReadFull(r, s.Value)
	ThrowError(err)
	return s.Serialize()
}

// WriteAsn1 serializes tag/value as a BER element, choosing short or long
// length form as required.
func WriteAsn1(w io.Writer, tag uint8, value []byte) {
	WriteBE(w, tag)
	n := len(value)
	if n < 0x80 {
		WriteBE(w, uint8(n))
	} else {
		var lenBytes []byte
		for n > 0 {
			lenBytes = append([]byte{byte(n & 0xff)}, lenBytes...)
			n >>= 8
		}
		WriteBE(w, uint8(0x80|len(lenBytes)))
		WriteFull(w, lenBytes)
	}
	WriteFull(w, value)
}
