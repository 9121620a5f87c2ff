// Package tpkt implements the 4-byte TPKT framing (RFC 1006 / T.123) that
// sits directly under X.224, per spec.md §4.2.
package tpkt

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/layer"
)

const (
	// Version is the only TPKT version RDP uses.
	Version    = 0x03
	HeaderSize = 4
	// MaxLength is the largest value a 16-bit TPKT length field can hold.
	MaxLength = 0xFFFF
)

// Header is the 4-byte TPKT header: version, reserved, length (big-endian).
type Header struct {
	Version  uint8
	Reserved uint8
	Length   int
}

// Read parses a TPKT header from r, panicking (via core.ThrowError) on a
// short read or unexpected version; callers recover that panic with
// core.Try.
func (h *Header) Read(r io.Reader) {
	core.ReadBE(r, &h.Version)
	core.ThrowIf(h.Version != Version, errInvalidVersion(h.Version))
	core.ReadBE(r, &h.Reserved)
	var length uint16
	core.ReadBE(r, &length)
	h.Length = int(length)
}

// Write serializes the header, big-endian.
func (h *Header) Write(w io.Writer) {
	core.WriteBE(w, h.Version)
	core.WriteBE(w, h.Reserved)
	core.WriteBE(w, uint16(h.Length))
}

type errInvalidVersion uint8

func (e errInvalidVersion) Error() string {
	return "tpkt: invalid version byte"
}

// Read reads one complete TPKT frame from r and returns its body (the bytes
// belonging to X.224).
func Read(r io.Reader) []byte {
	h := &Header{}
	h.Read(r)
	core.ThrowIf(h.Length < HeaderSize, tooShort(h.Length))
	return core.ReadBytes(r, h.Length-HeaderSize)
}

type tooShort int

func (t tooShort) Error() string { return "tpkt: length field shorter than header" }

// Write frames data with a TPKT header and writes it to w.
func Write(w io.Writer, data []byte) {
	core.ThrowIf(len(data)+HeaderSize > MaxLength, tooLarge(len(data)))
	h := &Header{Version: Version, Length: len(data) + HeaderSize}
	buf := new(bytes.Buffer)
	h.Write(buf)
	buf.Write(data)
	core.WriteFull(w, buf.Bytes())
}

type tooLarge int

func (t tooLarge) Error() string { return "tpkt: payload too large for a 16-bit length field" }

// Frame is the TPKT PDU observers see: the raw X.224 body carried inside
// this frame.
type Frame struct {
	Body []byte
}

// Parser adapts TPKT framing to the layer.Parser interface for frames that
// are already delineated by segmentation (the full TPKT frame, header
// included, is passed in as data).
type Parser struct{}

func (Parser) Parse(data []byte) (layer.PDU, []byte, error) {
	r := bytes.NewReader(data)
	var pdu *Frame
	err := core.Try(func() {
		body := Read(r)
		pdu = &Frame{Body: body}
	})
	if err != nil {
		return nil, nil, err
	}
	return pdu, pdu.Body, nil
}

func (Parser) Serialize(pdu layer.PDU) ([]byte, error) {
	body := pdu.([]byte)
	buf := new(bytes.Buffer)
	Write(buf, body)
	return buf.Bytes(), nil
}
