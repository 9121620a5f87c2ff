// Package per implements the subset of ITU-T X.691 Packed Encoding Rules
// (aligned variant) that MCS (T.125) and the fast-path header use: PER
// length determinants, small unconstrained integers, enumerated choices,
// and octet strings, per spec.md §4.3/§4.6.
package per

import (
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// ReadLength reads a PER length determinant: one byte if the value fits in
// 7 bits, otherwise two bytes with the high bit of the first set and the
// remaining 15 bits carrying the value.
func ReadLength(r io.Reader) int {
	var b0 uint8
	core.ReadBE(r, &b0)
	if b0&0x80 == 0 {
		return int(b0)
	}
	var b1 uint8
	core.ReadBE(r, &b1)
	return int(b0&0x7f)<<8 | int(b1)
}

// WriteLength writes n as a PER length determinant.
func WriteLength(w io.Writer, n int) {
	if n < 0x80 {
		core.WriteBE(w, uint8(n))
		return
	}
	core.WriteBE(w, uint8(0x80|(n>>8)&0x7f))
	core.WriteBE(w, uint8(n&0xff))
}

// WriteInteger writes a small PER unconstrained integer using the same
// one-or-two-byte length-prefixed form as WriteLength — MCS uses this for
// the ErectDomainRequest subHeight/subInterval fields, whose value is
// almost always 0.
func WriteInteger(w io.Writer, value int) {
	WriteLength(w, value)
}

// ReadInteger reads a value written by WriteInteger.
func ReadInteger(r io.Reader) int {
	return ReadLength(r)
}

// ReadInteger16 reads a fixed 2-byte PER INTEGER (0..65535, no length
// determinant since the range is fixed) and adds base — MCS channel/user
// IDs are always carried relative to a fixed base.
func ReadInteger16(r io.Reader, base uint16) uint16 {
	var v uint16
	core.ReadBE(r, &v)
	return v + base
}

// WriteInteger16 writes v-base as a fixed 2-byte PER INTEGER.
func WriteInteger16(w io.Writer, v, base uint16) {
	core.WriteBE(w, v-base)
}

// ReadEnumerated reads a single-byte PER ENUMERATED choice index.
func ReadEnumerated(r io.Reader) uint8 {
	var v uint8
	core.ReadBE(r, &v)
	return v
}

// WriteEnumerated writes a single-byte PER ENUMERATED choice index.
func WriteEnumerated(w io.Writer, v uint8) {
	core.WriteBE(w, v)
}

// ReadOctetString reads a length-prefixed octet string whose size is
// constrained to be at least minLen — the length determinant carries only
// the size in excess of minLen, per the PER encoding of constrained strings.
func ReadOctetString(r io.Reader, minLen int) []byte {
	n := ReadLength(r) + minLen
	return core.ReadBytes(r, n)
}

// WriteOctetString writes data's length (minus minLen) followed by data.
func WriteOctetString(w io.Writer, data []byte, minLen int) {
	WriteLength(w, len(data)-minLen)
	core.WriteFull(w, data)
}

// ReadNumberOfSet reads the number-of-set-elements octet a PER SET type
// begins with (always 0 for the fixed top-level MCS SETs this module uses,
// kept distinct from ReadEnumerated for call-site clarity).
func ReadNumberOfSet(r io.Reader) uint8 {
	return ReadEnumerated(r)
}

// WriteChoice writes a PER CHOICE index, identical wire shape to
// WriteEnumerated but named for call sites selecting among GCC/MCS
// alternatives rather than a fixed enumeration.
func WriteChoice(w io.Writer, v uint8) {
	WriteEnumerated(w, v)
}
