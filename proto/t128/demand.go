package t128

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// TsDemandActivePduData, MS-RDPBCGR §2.2.1.13.1. The MITM relays the
// capability sets verbatim rather than parsing each of the 20+ capability
// types individually: it never needs to act on an individual capability's
// fields, only forward what the real client/server negotiated between
// themselves, so CapabilitySets is kept as an opaque blob (NumberCapabilities
// + pad2 + raw capability set bytes, exactly as they arrived on the wire).
type TsDemandActivePduData struct {
	ShareId            uint32
	SourceDescriptor    []byte
	NumberCapabilities  uint16
	Pad2                uint16
	CapabilitySets      []byte
	SessionId           uint32
}

func (t *TsDemandActivePduData) iPDU() {}

func (t *TsDemandActivePduData) Read(r io.Reader) PDU {
	core.ReadLE(r, &t.ShareId)
	var lenSrcDesc, lenCombinedCaps uint16
	core.ReadLE(r, &lenSrcDesc)
	core.ReadLE(r, &lenCombinedCaps)
	t.SourceDescriptor = core.ReadBytes(r, int(lenSrcDesc))
	core.ReadLE(r, &t.NumberCapabilities)
	core.ReadLE(r, &t.Pad2)
	// lenCombinedCaps counts NumberCapabilities+pad2+capability data; the
	// 4 bytes already consumed for those two fields are subtracted here.
	capLen := int(lenCombinedCaps) - 4
	if capLen < 0 {
		capLen = 0
	}
	t.CapabilitySets = core.ReadBytes(r, capLen)
	core.ReadLE(r, &t.SessionId)
	return t
}

func (t *TsDemandActivePduData) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.ShareId)
	core.WriteLE(buf, uint16(len(t.SourceDescriptor)))
	core.WriteLE(buf, uint16(len(t.CapabilitySets)+4))
	core.WriteFull(buf, t.SourceDescriptor)
	core.WriteLE(buf, t.NumberCapabilities)
	core.WriteLE(buf, t.Pad2)
	core.WriteFull(buf, t.CapabilitySets)
	core.WriteLE(buf, t.SessionId)
	return buf.Bytes()
}

func (t *TsDemandActivePduData) Type() uint16 { return PDUTYPE_DEMANDACTIVEPDU | 0x10<<4 }

// TsConfirmActivePduData, MS-RDPBCGR §2.2.1.13.2. Same opaque-capability
// treatment as TsDemandActivePduData.
type TsConfirmActivePduData struct {
	ShareId            uint32
	OriginatorId       uint16
	SourceDescriptor   []byte
	NumberCapabilities uint16
	Pad2               uint16
	CapabilitySets     []byte
}

func (t *TsConfirmActivePduData) iPDU() {}

func (t *TsConfirmActivePduData) Read(r io.Reader) PDU {
	core.ReadLE(r, &t.ShareId)
	core.ReadLE(r, &t.OriginatorId)
	var lenSrcDesc, lenCombinedCaps uint16
	core.ReadLE(r, &lenSrcDesc)
	core.ReadLE(r, &lenCombinedCaps)
	t.SourceDescriptor = core.ReadBytes(r, int(lenSrcDesc))
	core.ReadLE(r, &t.NumberCapabilities)
	core.ReadLE(r, &t.Pad2)
	capLen := int(lenCombinedCaps) - 4
	if capLen < 0 {
		capLen = 0
	}
	t.CapabilitySets = core.ReadBytes(r, capLen)
	return t
}

func (t *TsConfirmActivePduData) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.ShareId)
	core.WriteLE(buf, t.OriginatorId)
	core.WriteLE(buf, uint16(len(t.SourceDescriptor)))
	core.WriteLE(buf, uint16(len(t.CapabilitySets)+4))
	core.WriteFull(buf, t.SourceDescriptor)
	core.WriteLE(buf, t.NumberCapabilities)
	core.WriteLE(buf, t.Pad2)
	core.WriteFull(buf, t.CapabilitySets)
	return buf.Bytes()
}

func (t *TsConfirmActivePduData) Type() uint16 { return PDUTYPE_CONFIRMACTIVEPDU | 0x10<<4 }

// TsDataPduData wraps a ShareDataHeader + DataPDU body as a PDUTYPE_DATAPDU
// share-control PDU.
type TsDataPduData struct {
	Header ShareDataHeader
	Pdu    DataPDU
}

func (t *TsDataPduData) iPDU() {}

func (t *TsDataPduData) Read(r io.Reader) PDU {
	t.Header.Read(r)
	body := core.ReadAllRemaining(r)
	t.Pdu = ParseDataPDU(t.Header.PDUType2, body)
	return t
}

func (t *TsDataPduData) Serialize() []byte {
	payload := t.Pdu.Serialize()
	t.Header.UncompressedLength = uint16(len(payload) + 4)
	t.Header.PDUType2 = t.Pdu.Type2()
	buf := new(bytes.Buffer)
	t.Header.Write(buf)
	buf.Write(payload)
	return buf.Bytes()
}

func (t *TsDataPduData) Type() uint16 { return PDUTYPE_DATAPDU | 0x10<<4 }

// NewDataPdu wraps pdu in a TsDataPduData ready for WritePDU.
func NewDataPdu(pdu DataPDU, shareId uint32) *TsDataPduData {
	return &TsDataPduData{Header: ShareDataHeader{ShareId: shareId, StreamId: 1}, Pdu: pdu}
}

var pduPrototypes = map[uint16]func() PDU{
	PDUTYPE_DEMANDACTIVEPDU:  func() PDU { return &TsDemandActivePduData{} },
	PDUTYPE_CONFIRMACTIVEPDU: func() PDU { return &TsConfirmActivePduData{} },
	PDUTYPE_DATAPDU:          func() PDU { return &TsDataPduData{} },
}

// ParsePDU dispatches body (the bytes following a ShareControlHeader) by its
// PDUTYPE_* nibble, returning nil for PDU types the MITM does not need to
// individually model (DEACTIVATEALL, SERVER_REDIR_PKT) — callers forward
// those as raw bytes instead.
func ParsePDU(pduType uint16, body []byte) PDU {
	newFn, ok := pduPrototypes[pduType&0xF]
	if !ok {
		return nil
	}
	return newFn().Read(bytes.NewReader(body))
}
