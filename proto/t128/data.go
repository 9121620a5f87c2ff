package t128

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// PDU is any ShareControlHeader-framed T.128 PDU.
type PDU interface {
	iPDU()
	Read(r io.Reader) PDU
	Serialize() []byte
	Type() uint16
}

// DataPDU is any PDUTYPE2-tagged body carried inside a ShareDataHeader.
type DataPDU interface {
	iDataPDU()
	Read(r io.Reader) DataPDU
	Serialize() []byte
	Type2() uint8
}

// TsSynchronizePduData, MS-RDPBCGR §2.2.1.14.1.
type TsSynchronizePduData struct {
	MessageType uint16 // always 1
	TargetUser  uint16
}

func (t *TsSynchronizePduData) iDataPDU() {}

func (t *TsSynchronizePduData) Read(r io.Reader) DataPDU {
	core.ReadLE(r, &t.MessageType)
	core.ReadLE(r, &t.TargetUser)
	return t
}

func (t *TsSynchronizePduData) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.MessageType)
	core.WriteLE(buf, t.TargetUser)
	return buf.Bytes()
}

func (t *TsSynchronizePduData) Type2() uint8 { return PDUTYPE2_SYNCHRONIZE }

// TsControlPDU carries a CTRLACTION_* request/grant, MS-RDPBCGR §2.2.1.15/16.
type TsControlPDU struct {
	Action    uint16
	GrantId   uint16
	ControlId uint32
}

func (t *TsControlPDU) iDataPDU() {}

func (t *TsControlPDU) Read(r io.Reader) DataPDU {
	core.ReadLE(r, &t.Action)
	core.ReadLE(r, &t.GrantId)
	core.ReadLE(r, &t.ControlId)
	return t
}

func (t *TsControlPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.Action)
	core.WriteLE(buf, t.GrantId)
	core.WriteLE(buf, t.ControlId)
	return buf.Bytes()
}

func (t *TsControlPDU) Type2() uint8 { return PDUTYPE2_CONTROL }

// TsFontListPDU, MS-RDPBCGR §2.2.1.18.1. Values SHOULD always be
// ListFlags=0x0003, EntrySize=0x0032; the MITM preserves whatever the real
// client sent rather than asserting on it.
type TsFontListPDU struct {
	NumberFonts   uint16
	TotalNumFonts uint16
	ListFlags     uint16
	EntrySize     uint16
}

func (t *TsFontListPDU) iDataPDU() {}

func (t *TsFontListPDU) Read(r io.Reader) DataPDU {
	core.ReadLE(r, &t.NumberFonts)
	core.ReadLE(r, &t.TotalNumFonts)
	core.ReadLE(r, &t.ListFlags)
	core.ReadLE(r, &t.EntrySize)
	return t
}

func (t *TsFontListPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.NumberFonts)
	core.WriteLE(buf, t.TotalNumFonts)
	core.WriteLE(buf, t.ListFlags)
	core.WriteLE(buf, t.EntrySize)
	return buf.Bytes()
}

func (t *TsFontListPDU) Type2() uint8 { return PDUTYPE2_FONTLIST }

// TsFontMapPDU, MS-RDPBCGR §2.2.1.22.1.
type TsFontMapPDU struct {
	NumberEntries   uint16
	TotalNumEntries uint16
	MapFlags        uint16
	EntrySize       uint16
}

func (t *TsFontMapPDU) iDataPDU() {}

func (t *TsFontMapPDU) Read(r io.Reader) DataPDU {
	core.ReadLE(r, &t.NumberEntries)
	core.ReadLE(r, &t.TotalNumEntries)
	core.ReadLE(r, &t.MapFlags)
	core.ReadLE(r, &t.EntrySize)
	return t
}

func (t *TsFontMapPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.NumberEntries)
	core.WriteLE(buf, t.TotalNumEntries)
	core.WriteLE(buf, t.MapFlags)
	core.WriteLE(buf, t.EntrySize)
	return buf.Bytes()
}

func (t *TsFontMapPDU) Type2() uint8 { return PDUTYPE2_FONTMAP }

// TsSetErrorInfoPDU, MS-RDPBCGR §2.2.5.1.1 — carries a disconnect reason
// code the MITM logs so operators can see why a leg tore down.
type TsSetErrorInfoPDU struct {
	ErrorInfo uint32
}

func (t *TsSetErrorInfoPDU) iDataPDU() {}

func (t *TsSetErrorInfoPDU) Read(r io.Reader) DataPDU {
	core.ReadLE(r, &t.ErrorInfo)
	return t
}

func (t *TsSetErrorInfoPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.ErrorInfo)
	return buf.Bytes()
}

func (t *TsSetErrorInfoPDU) Type2() uint8 { return PDUTYPE2_SET_ERROR_INFO_PDU }

// TsSaveSessionInfoPDU, MS-RDPBCGR §2.2.10.1 — the MITM treats InfoData as
// an opaque blob (logon info, auto-reconnect cookie, etc.) and passes it
// through unmodified rather than parsing every InfoType variant.
type TsSaveSessionInfoPDU struct {
	InfoType uint32
	InfoData []byte
}

func (t *TsSaveSessionInfoPDU) iDataPDU() {}

func (t *TsSaveSessionInfoPDU) Read(r io.Reader) DataPDU {
	core.ReadLE(r, &t.InfoType)
	t.InfoData = core.ReadAllRemaining(r)
	return t
}

func (t *TsSaveSessionInfoPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, t.InfoType)
	core.WriteFull(buf, t.InfoData)
	return buf.Bytes()
}

func (t *TsSaveSessionInfoPDU) Type2() uint8 { return PDUTYPE2_SAVE_SESSION_INFO }

// OpaqueDataPDU carries any PDUTYPE2 body the MITM does not need to
// interpret (updates, pointer, input, refresh-rect, ...). Its Raw bytes are
// forwarded unmodified.
type OpaqueDataPDU struct {
	PDUType2Value uint8
	Raw           []byte
}

func (t *OpaqueDataPDU) iDataPDU() {}

func (t *OpaqueDataPDU) Read(r io.Reader) DataPDU {
	t.Raw = core.ReadAllRemaining(r)
	return t
}

func (t *OpaqueDataPDU) Serialize() []byte { return t.Raw }
func (t *OpaqueDataPDU) Type2() uint8      { return t.PDUType2Value }

var dataPDUPrototypes = map[uint8]DataPDU{
	PDUTYPE2_SYNCHRONIZE:        &TsSynchronizePduData{},
	PDUTYPE2_CONTROL:            &TsControlPDU{},
	PDUTYPE2_FONTLIST:           &TsFontListPDU{},
	PDUTYPE2_FONTMAP:            &TsFontMapPDU{},
	PDUTYPE2_SET_ERROR_INFO_PDU: &TsSetErrorInfoPDU{},
	PDUTYPE2_SAVE_SESSION_INFO:  &TsSaveSessionInfoPDU{},
}

// ParseDataPDU dispatches body (the bytes following a ShareDataHeader) to
// the concrete DataPDU type registered for type2, falling back to
// OpaqueDataPDU for anything the MITM passes through untouched.
func ParseDataPDU(type2 uint8, body []byte) DataPDU {
	proto, ok := dataPDUPrototypes[type2]
	if !ok {
		return (&OpaqueDataPDU{PDUType2Value: type2}).Read(bytes.NewReader(body))
	}
	fresh := newDataPDU(proto)
	return fresh.Read(bytes.NewReader(body))
}

func newDataPDU(proto DataPDU) DataPDU {
	switch proto.(type) {
	case *TsSynchronizePduData:
		return &TsSynchronizePduData{}
	case *TsControlPDU:
		return &TsControlPDU{}
	case *TsFontListPDU:
		return &TsFontListPDU{}
	case *TsFontMapPDU:
		return &TsFontMapPDU{}
	case *TsSetErrorInfoPDU:
		return &TsSetErrorInfoPDU{}
	case *TsSaveSessionInfoPDU:
		return &TsSaveSessionInfoPDU{}
	default:
		return &OpaqueDataPDU{}
	}
}
