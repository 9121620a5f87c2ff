// Package t128 implements the T.128 (MS-RDPBCGR) slow-path share-control
// and share-data PDUs carried over MCS once the connection sequence
// completes: the demand/confirm active capability exchange and the data
// PDUs (synchronize, control, font list/map, save-session-info,
// set-error-info), per spec.md §4.6.
package t128

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// ShareControlHeader PDU types, MS-RDPBCGR §2.2.8.1.1.1.1.
const (
	PDUTYPE_DEMANDACTIVEPDU  uint16 = 0x1
	PDUTYPE_CONFIRMACTIVEPDU uint16 = 0x3
	PDUTYPE_DEACTIVATEALLPDU uint16 = 0x6
	PDUTYPE_DATAPDU          uint16 = 0x7
	PDUTYPE_SERVER_REDIR_PKT uint16 = 0xA
)

// ShareDataHeader PDU2 types, MS-RDPBCGR §2.2.8.1.1.1.2.
const (
	PDUTYPE2_UPDATE                      uint8 = 0x02
	PDUTYPE2_CONTROL                     uint8 = 0x14
	PDUTYPE2_POINTER                     uint8 = 0x1B
	PDUTYPE2_INPUT                       uint8 = 0x1C
	PDUTYPE2_SYNCHRONIZE                 uint8 = 0x1F
	PDUTYPE2_REFRESH_RECT                uint8 = 0x21
	PDUTYPE2_PLAY_SOUND                  uint8 = 0x22
	PDUTYPE2_SUPPRESS_OUTPUT             uint8 = 0x23
	PDUTYPE2_SHUTDOWN_REQUEST            uint8 = 0x24
	PDUTYPE2_SHUTDOWN_DENIED             uint8 = 0x25
	PDUTYPE2_SAVE_SESSION_INFO           uint8 = 0x26
	PDUTYPE2_FONTLIST                    uint8 = 0x27
	PDUTYPE2_FONTMAP                     uint8 = 0x28
	PDUTYPE2_SET_KEYBOARD_INDICATORS     uint8 = 0x29
	PDUTYPE2_BITMAPCACHE_PERSISTENT_LIST uint8 = 0x2B
	PDUTYPE2_SET_ERROR_INFO_PDU          uint8 = 0x2F
	PDUTYPE2_MONITOR_LAYOUT_PDU          uint8 = 0x37
)

// Control actions, MS-RDPBCGR §2.2.1.15.1.
const (
	CTRLACTION_REQUEST_CONTROL uint16 = 0x0001
	CTRLACTION_GRANTED_CONTROL uint16 = 0x0002
	CTRLACTION_DETACH          uint16 = 0x0003
	CTRLACTION_COOPERATE       uint16 = 0x0004
)

// Level-2 compression flags, MS-RDPBCGR §2.2.8.1.1.1.2.
const (
	PACKET_COMPRESSED = 0x20
)

// ShareControlHeader begins every T.128 PDU sent over a joined MCS channel.
type ShareControlHeader struct {
	TotalLength uint16
	PDUType     uint16 // low 4 bits: PDUTYPE_*, high 12 bits: version (always 0x10 << 4)
	PDUSource   uint16
}

func (h *ShareControlHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.TotalLength)
	core.ReadLE(r, &h.PDUType)
	core.ReadLE(r, &h.PDUSource)
}

func (h *ShareControlHeader) Write(w io.Writer) {
	core.WriteLE(w, h.TotalLength)
	core.WriteLE(w, h.PDUType)
	core.WriteLE(w, h.PDUSource)
}

// Type returns the PDUTYPE_* nibble, masking off the protocol version bits.
func (h *ShareControlHeader) Type() uint16 { return h.PDUType & 0xF }

// ShareDataHeader begins the body of every PDUTYPE_DATAPDU share-control
// PDU.
type ShareDataHeader struct {
	ShareId            uint32
	Padding1           uint8
	StreamId           uint8
	UncompressedLength uint16
	PDUType2           uint8
	CompressedType     uint8
	CompressedLength   uint16
}

func (h *ShareDataHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.ShareId)
	core.ReadLE(r, &h.Padding1)
	core.ReadLE(r, &h.StreamId)
	core.ReadLE(r, &h.UncompressedLength)
	core.ReadLE(r, &h.PDUType2)
	core.ReadLE(r, &h.CompressedType)
	core.ReadLE(r, &h.CompressedLength)
}

func (h *ShareDataHeader) Write(w io.Writer) {
	core.WriteLE(w, h.ShareId)
	core.WriteLE(w, h.Padding1)
	core.WriteLE(w, h.StreamId)
	core.WriteLE(w, h.UncompressedLength)
	core.WriteLE(w, h.PDUType2)
	core.WriteLE(w, h.CompressedType)
	core.WriteLE(w, h.CompressedLength)
}

// IsCompressed reports whether CompressedType carries the PACKET_COMPRESSED
// flag — the MITM's compression manager (compression.go) decompresses only
// when this is set.
func (h *ShareDataHeader) IsCompressed() bool { return h.CompressedType&PACKET_COMPRESSED != 0 }

// ReadShareControlPDU reads one complete T.128 PDU from an already
// delineated MCS send-data-indication body (channel data), returning the
// header and the remaining body bytes for the caller to dispatch by type.
func ReadShareControlPDU(body []byte) (*ShareControlHeader, []byte) {
	r := bytes.NewReader(body)
	h := &ShareControlHeader{}
	h.Read(r)
	rest := core.ReadAllRemaining(r)
	return h, rest
}

// ReadDataPDU reads a ShareDataHeader from a PDUTYPE_DATAPDU's body and
// returns it plus the inner PDUType2 payload.
func ReadDataPDU(body []byte) (*ShareDataHeader, []byte) {
	r := bytes.NewReader(body)
	h := &ShareDataHeader{}
	h.Read(r)
	rest := core.ReadAllRemaining(r)
	return h, rest
}
