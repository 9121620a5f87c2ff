// Package clipboard implements the CLIPRDR virtual channel (MS-RDPECLIP):
// the clipboard-redirection protocol carried over the "cliprdr" static
// virtual channel, per spec.md §4.6 and its clipboard-stealer design note.
package clipboard

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/GoFeGroup/rdpmitm/core"
)

// ClipboardFormat identifiers, MS-RDPECLIP §2.2.5.1.1.1 and the standard
// Windows clipboard format IDs it aliases.
type ClipboardFormat uint32

const (
	CLIPRDR_FORMAT_TEXT        ClipboardFormat = 0x0001
	CLIPRDR_FORMAT_RAW_BITMAP  ClipboardFormat = 0x0002
	CLIPRDR_FORMAT_PALETTE     ClipboardFormat = 0x0009
	CLIPRDR_FORMAT_METAFILE    ClipboardFormat = 0x0003
	CLIPRDR_FORMAT_SYLK        ClipboardFormat = 0x0004
	CLIPRDR_FORMAT_DIF         ClipboardFormat = 0x0005
	CLIPRDR_FORMAT_TIFF        ClipboardFormat = 0x0006
	CLIPRDR_FORMAT_OEMTEXT     ClipboardFormat = 0x0007
	CLIPRDR_FORMAT_DIB         ClipboardFormat = 0x0008
	CLIPRDR_FORMAT_UNICODETEXT ClipboardFormat = 0x000D
	CLIPRDR_FORMAT_HTML        ClipboardFormat = 0x000F
	CLIPRDR_FORMAT_CSV         ClipboardFormat = 0x0010
	CLIPRDR_FORMAT_BIFF        ClipboardFormat = 0x0011
	CLIPRDR_FORMAT_RTF         ClipboardFormat = 0x0012
	CLIPRDR_FORMAT_PNG        ClipboardFormat = 0x0013
	CLIPRDR_FORMAT_JPEG        ClipboardFormat = 0x0014
	CLIPRDR_FORMAT_GIF         ClipboardFormat = 0x0015
	CLIPRDR_FORMAT_FILE_LIST   ClipboardFormat = 0x0016
)

// Message type codes, MS-RDPECLIP §2.2.2.
const (
	CB_TYPE_CAPABILITIES          uint16 = 0x0001
	CB_TYPE_MONITOR_READY         uint16 = 0x0002
	CB_TYPE_FORMAT_LIST           uint16 = 0x0003
	CB_TYPE_FORMAT_LIST_RESPONSE  uint16 = 0x0004
	CB_TYPE_FORMAT_DATA_REQUEST   uint16 = 0x0005
	CB_TYPE_FORMAT_DATA_RESPONSE  uint16 = 0x0006
	CB_TYPE_TEMP_DIRECTORY        uint16 = 0x0007
	CB_TYPE_CLIP_CAPS             uint16 = 0x0008
	CB_TYPE_FILECONTENTS_REQUEST  uint16 = 0x0009
	CB_TYPE_FILECONTENTS_RESPONSE uint16 = 0x000A
	CB_TYPE_LOCK_CLIPDATA         uint16 = 0x000B
	CB_TYPE_UNLOCK_CLIPDATA       uint16 = 0x000C
)

// Response status flags carried in ClipboardHeader.MsgFlags.
const (
	CB_RESPONSE_OK   uint16 = 0x0001
	CB_RESPONSE_FAIL uint16 = 0x0002
	CB_ASCII_NAMES   uint16 = 0x0004
)

// General capability flags, MS-RDPECLIP §2.2.2.1.1.1.
const CB_USE_LONG_FORMAT_NAMES uint32 = 0x00000002

// ClipboardHeader is the 8-byte header in front of every CLIPRDR PDU.
type ClipboardHeader struct {
	MsgType    uint16
	MsgFlags   uint16
	DataLength uint32
}

func (h *ClipboardHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.MsgType)
	core.ReadLE(r, &h.MsgFlags)
	core.ReadLE(r, &h.DataLength)
}

func (h *ClipboardHeader) Write(w io.Writer) {
	core.WriteLE(w, h.MsgType)
	core.WriteLE(w, h.MsgFlags)
	core.WriteLE(w, h.DataLength)
}

// PDU is one CLIPRDR message body (header stripped).
type PDU interface {
	iPDU()
	Read(r io.Reader)
	Serialize() []byte
	Type() uint16
}

// CapabilitiesPDU carries the general capability set. Only the general set
// is modeled; any additional capability sets a real client might append are
// not interpreted, since the MITM only needs CB_USE_LONG_FORMAT_NAMES to be
// present on both legs, matching what it already forwards.
type CapabilitiesPDU struct {
	CCapabilitiesSets uint16
	Pad1              uint16
	CapabilitySetType uint16
	LengthCapability  uint16
	GeneralFlags      uint32
}

func (*CapabilitiesPDU) iPDU()         {}
func (p *CapabilitiesPDU) Type() uint16 { return CB_TYPE_CAPABILITIES }

func (p *CapabilitiesPDU) Read(r io.Reader) {
	core.ReadLE(r, &p.CCapabilitiesSets)
	core.ReadLE(r, &p.Pad1)
	core.ReadLE(r, &p.CapabilitySetType)
	core.ReadLE(r, &p.LengthCapability)
	core.ReadLE(r, &p.GeneralFlags)
}

func (p *CapabilitiesPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, p.CCapabilitiesSets)
	core.WriteLE(buf, p.Pad1)
	core.WriteLE(buf, p.CapabilitySetType)
	core.WriteLE(buf, p.LengthCapability)
	core.WriteLE(buf, p.GeneralFlags)
	return buf.Bytes()
}

// MonitorReadyPDU has no body.
type MonitorReadyPDU struct{}

func (*MonitorReadyPDU) iPDU()          {}
func (*MonitorReadyPDU) Type() uint16    { return CB_TYPE_MONITOR_READY }
func (*MonitorReadyPDU) Read(io.Reader)  {}
func (*MonitorReadyPDU) Serialize() []byte { return nil }

// FormatListEntry is one (formatId, formatName) pair in the long-format-names
// variant of CLIPRDR_FORMAT_LIST, which this module always uses — it never
// advertises CB_USE_LONG_FORMAT_NAMES=0's fixed-32-byte-name variant.
type FormatListEntry struct {
	FormatID   ClipboardFormat
	FormatName string
}

// FormatListPDU announces the formats available on the sending clipboard.
type FormatListPDU struct {
	Formats []FormatListEntry
}

func (*FormatListPDU) iPDU()          {}
func (*FormatListPDU) Type() uint16    { return CB_TYPE_FORMAT_LIST }

func (p *FormatListPDU) Read(r io.Reader) {
	p.Formats = nil
	br := bytes.NewReader(core.ReadAllRemaining(r))
	for br.Len() > 0 {
		var id uint32
		core.ReadLE(br, &id)
		name := readUTF16NullTerminated(br)
		p.Formats = append(p.Formats, FormatListEntry{FormatID: ClipboardFormat(id), FormatName: name})
	}
}

func (p *FormatListPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	for _, f := range p.Formats {
		core.WriteLE(buf, uint32(f.FormatID))
		writeUTF16NullTerminated(buf, f.FormatName)
	}
	return buf.Bytes()
}

// FormatListResponsePDU acknowledges a FormatListPDU; success/failure lives
// in the enclosing ClipboardHeader.MsgFlags (CB_RESPONSE_OK/FAIL), so the
// body itself is empty.
type FormatListResponsePDU struct{}

func (*FormatListResponsePDU) iPDU()          {}
func (*FormatListResponsePDU) Type() uint16    { return CB_TYPE_FORMAT_LIST_RESPONSE }
func (*FormatListResponsePDU) Read(io.Reader)  {}
func (*FormatListResponsePDU) Serialize() []byte { return nil }

// FormatDataRequestPDU asks the remote clipboard owner to render one format.
type FormatDataRequestPDU struct {
	FormatID ClipboardFormat
}

func (*FormatDataRequestPDU) iPDU()       {}
func (*FormatDataRequestPDU) Type() uint16 { return CB_TYPE_FORMAT_DATA_REQUEST }

func (p *FormatDataRequestPDU) Read(r io.Reader) {
	var id uint32
	core.ReadLE(r, &id)
	p.FormatID = ClipboardFormat(id)
}

func (p *FormatDataRequestPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, uint32(p.FormatID))
	return buf.Bytes()
}

// FormatDataResponsePDU carries the rendered clipboard content for the
// format that was requested — the PDU the active clipboard stealer reads to
// capture cross-session copy/paste text.
type FormatDataResponsePDU struct {
	Data []byte
}

func (*FormatDataResponsePDU) iPDU()       {}
func (*FormatDataResponsePDU) Type() uint16 { return CB_TYPE_FORMAT_DATA_RESPONSE }

func (p *FormatDataResponsePDU) Read(r io.Reader) {
	p.Data = core.ReadAllRemaining(r)
}

func (p *FormatDataResponsePDU) Serialize() []byte {
	return p.Data
}

// TempDirectoryPDU announces the client-side temp directory used for
// file-group-descriptor drag/drop staging. The MITM only forwards it.
type TempDirectoryPDU struct {
	Path string // 520-byte null-terminated UTF-16LE wszTempDir on the wire
}

func (*TempDirectoryPDU) iPDU()       {}
func (*TempDirectoryPDU) Type() uint16 { return CB_TYPE_TEMP_DIRECTORY }

func (p *TempDirectoryPDU) Read(r io.Reader) {
	raw := core.ReadBytes(r, 520)
	p.Path = decodeUTF16LE(raw)
}

func (p *TempDirectoryPDU) Serialize() []byte {
	buf := make([]byte, 520)
	encoded := encodeUTF16LE(p.Path)
	copy(buf, encoded)
	return buf
}

// FileContentsRequestPDU requests a byte range or the size of a file
// previously announced in a CLIPRDR_FILEDESCRIPTOR file-group list.
type FileContentsRequestPDU struct {
	StreamID      uint32
	ListIndex     uint32
	DwFlags       uint32
	PositionLow   uint32
	PositionHigh  uint32
	CbRequested   uint32
	ClipDataID    uint32
	HaveClipDataID bool
}

func (*FileContentsRequestPDU) iPDU()       {}
func (*FileContentsRequestPDU) Type() uint16 { return CB_TYPE_FILECONTENTS_REQUEST }

func (p *FileContentsRequestPDU) Read(r io.Reader) {
	br := bytes.NewReader(core.ReadAllRemaining(r))
	core.ReadLE(br, &p.StreamID)
	core.ReadLE(br, &p.ListIndex)
	core.ReadLE(br, &p.DwFlags)
	core.ReadLE(br, &p.PositionLow)
	core.ReadLE(br, &p.PositionHigh)
	core.ReadLE(br, &p.CbRequested)
	if br.Len() >= 4 {
		core.ReadLE(br, &p.ClipDataID)
		p.HaveClipDataID = true
	}
}

func (p *FileContentsRequestPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, p.StreamID)
	core.WriteLE(buf, p.ListIndex)
	core.WriteLE(buf, p.DwFlags)
	core.WriteLE(buf, p.PositionLow)
	core.WriteLE(buf, p.PositionHigh)
	core.WriteLE(buf, p.CbRequested)
	if p.HaveClipDataID {
		core.WriteLE(buf, p.ClipDataID)
	}
	return buf.Bytes()
}

// FileContentsResponsePDU carries the requested byte range or file size.
type FileContentsResponsePDU struct {
	StreamID uint32
	Data     []byte
}

func (*FileContentsResponsePDU) iPDU()       {}
func (*FileContentsResponsePDU) Type() uint16 { return CB_TYPE_FILECONTENTS_RESPONSE }

func (p *FileContentsResponsePDU) Read(r io.Reader) {
	core.ReadLE(r, &p.StreamID)
	p.Data = core.ReadAllRemaining(r)
}

func (p *FileContentsResponsePDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, p.StreamID)
	buf.Write(p.Data)
	return buf.Bytes()
}

// LockClipDataPDU/UnlockClipDataPDU pin or release a clipboard data object
// that spans multiple file-contents requests.
type LockClipDataPDU struct{ ClipDataID uint32 }

func (*LockClipDataPDU) iPDU()       {}
func (*LockClipDataPDU) Type() uint16 { return CB_TYPE_LOCK_CLIPDATA }
func (p *LockClipDataPDU) Read(r io.Reader)     { core.ReadLE(r, &p.ClipDataID) }
func (p *LockClipDataPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, p.ClipDataID)
	return buf.Bytes()
}

type UnlockClipDataPDU struct{ ClipDataID uint32 }

func (*UnlockClipDataPDU) iPDU()       {}
func (*UnlockClipDataPDU) Type() uint16 { return CB_TYPE_UNLOCK_CLIPDATA }
func (p *UnlockClipDataPDU) Read(r io.Reader)     { core.ReadLE(r, &p.ClipDataID) }
func (p *UnlockClipDataPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, p.ClipDataID)
	return buf.Bytes()
}

// OpaquePDU is the fallback for message types this package does not model
// field-by-field (such as CB_TYPE_CLIP_CAPS, and any newer CLIPRDR
// extension), so they pass through rather than failing the whole channel.
type OpaquePDU struct {
	MsgTypeValue uint16
	Raw          []byte
}

func (p *OpaquePDU) iPDU()        {}
func (p *OpaquePDU) Type() uint16  { return p.MsgTypeValue }
func (p *OpaquePDU) Read(r io.Reader) { p.Raw = core.ReadAllRemaining(r) }
func (p *OpaquePDU) Serialize() []byte { return p.Raw }

var pduPrototypes = map[uint16]func() PDU{
	CB_TYPE_CAPABILITIES:          func() PDU { return &CapabilitiesPDU{} },
	CB_TYPE_MONITOR_READY:         func() PDU { return &MonitorReadyPDU{} },
	CB_TYPE_FORMAT_LIST:           func() PDU { return &FormatListPDU{} },
	CB_TYPE_FORMAT_LIST_RESPONSE:  func() PDU { return &FormatListResponsePDU{} },
	CB_TYPE_FORMAT_DATA_REQUEST:   func() PDU { return &FormatDataRequestPDU{} },
	CB_TYPE_FORMAT_DATA_RESPONSE:  func() PDU { return &FormatDataResponsePDU{} },
	CB_TYPE_TEMP_DIRECTORY:        func() PDU { return &TempDirectoryPDU{} },
	CB_TYPE_FILECONTENTS_REQUEST:  func() PDU { return &FileContentsRequestPDU{} },
	CB_TYPE_FILECONTENTS_RESPONSE: func() PDU { return &FileContentsResponsePDU{} },
	CB_TYPE_LOCK_CLIPDATA:         func() PDU { return &LockClipDataPDU{} },
	CB_TYPE_UNLOCK_CLIPDATA:       func() PDU { return &UnlockClipDataPDU{} },
}

// ParsePDU dispatches body (header already stripped) by msgType.
func ParsePDU(msgType uint16, body []byte) PDU {
	newPDU, ok := pduPrototypes[msgType]
	if !ok {
		p := &OpaquePDU{MsgTypeValue: msgType}
		p.Read(bytes.NewReader(body))
		return p
	}
	p := newPDU()
	p.Read(bytes.NewReader(body))
	return p
}

// ReadMessage reads one complete CLIPRDR message (already reassembled by the
// virtualchannel package) and dispatches it to a concrete PDU.
func ReadMessage(data []byte) (*ClipboardHeader, PDU) {
	r := bytes.NewReader(data)
	h := &ClipboardHeader{}
	h.Read(r)
	return h, ParsePDU(h.MsgType, core.ReadAllRemaining(r))
}

// WriteMessage frames pdu with a ClipboardHeader, ready to hand to
// virtualchannel.WriteChunks.
func WriteMessage(pdu PDU, msgFlags uint16) []byte {
	body := pdu.Serialize()
	h := &ClipboardHeader{MsgType: pdu.Type(), MsgFlags: msgFlags, DataLength: uint32(len(body))}
	buf := new(bytes.Buffer)
	h.Write(buf)
	buf.Write(body)
	return buf.Bytes()
}

func readUTF16NullTerminated(r *bytes.Reader) string {
	var units []uint16
	for r.Len() > 0 {
		var u uint16
		core.ReadLE(r, &u)
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

func writeUTF16NullTerminated(w io.Writer, s string) {
	for _, u := range utf16.Encode([]rune(s)) {
		core.WriteLE(w, u)
	}
	core.WriteLE(w, uint16(0))
}

func decodeUTF16LE(raw []byte) string {
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	s := utf16.Decode(units)
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s)
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := new(bytes.Buffer)
	for _, u := range units {
		core.WriteLE(buf, u)
	}
	return buf.Bytes()
}

// FormatName returns a human-readable name for well-known formats, used in
// logging when the stealer records a captured clipboard transfer.
func FormatName(format ClipboardFormat) string {
	switch format {
	case CLIPRDR_FORMAT_RAW_BITMAP:
		return "CF_BITMAP"
	case CLIPRDR_FORMAT_PALETTE:
		return "CF_PALETTE"
	case CLIPRDR_FORMAT_METAFILE:
		return "CF_METAFILEPICT"
	case CLIPRDR_FORMAT_OEMTEXT:
		return "CF_OEMTEXT"
	case CLIPRDR_FORMAT_DIB:
		return "CF_DIB"
	case CLIPRDR_FORMAT_UNICODETEXT:
		return "CF_UNICODETEXT"
	case CLIPRDR_FORMAT_HTML:
		return "CF_HTML"
	case CLIPRDR_FORMAT_RTF:
		return "CF_RTF"
	case CLIPRDR_FORMAT_FILE_LIST:
		return "CF_HDROP"
	default:
		return fmt.Sprintf("format(0x%08X)", uint32(format))
	}
}
