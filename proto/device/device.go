// Package device implements the RDPDR virtual channel (MS-RDPEFS): device
// redirection, narrowed to the file-system I/O request/response pairs the
// passive file stealer needs to correlate (Create/Read/Close), per spec.md
// §4.6 and its RDPDR-stealer design note. Printer/smart-card/port devices
// are relayed as opaque I/O, not modeled field-by-field.
package device

import (
	"bytes"
	"io"
	"unicode/utf16"

	"github.com/GoFeGroup/rdpmitm/core"
)

// Component and packet IDs, MS-RDPEFS §2.2.1.
type ComponentID uint16

const (
	RDPDR_CTYP_CORE  ComponentID = 0x4472 // "Dr"
	RDPDR_CTYP_PRN   ComponentID = 0x5052 // "Pr"
)

type PacketID uint16

const (
	PAKID_CORE_SERVER_ANNOUNCE    PacketID = 0x496E
	PAKID_CORE_CLIENTID_CONFIRM   PacketID = 0x4343
	PAKID_CORE_CLIENT_NAME        PacketID = 0x434E
	PAKID_CORE_DEVICELIST_ANNOUNCE PacketID = 0x0A
	PAKID_CORE_DEVICE_REPLY       PacketID = 0x0B
	PAKID_CORE_DEVICE_IOREQUEST   PacketID = 0x0008
	PAKID_CORE_DEVICE_IOCOMPLETION PacketID = 0x0009
	PAKID_CORE_SERVER_CAPABILITY  PacketID = 0x5350
	PAKID_CORE_CLIENT_CAPABILITY  PacketID = 0x4350
	PAKID_CORE_DEVICELIST_REMOVE  PacketID = 0x0D
	PAKID_CORE_USER_LOGGEDON      PacketID = 0x554C
)

// DeviceType, MS-RDPEFS §2.2.1.3.
type DeviceType uint32

const (
	RDPDR_DTYP_SERIAL     DeviceType = 0x00000001
	RDPDR_DTYP_PARALLEL   DeviceType = 0x00000002
	RDPDR_DTYP_PRINT      DeviceType = 0x00000004
	RDPDR_DTYP_FILESYSTEM DeviceType = 0x00000008
	RDPDR_DTYP_SMARTCARD  DeviceType = 0x00000020
)

// MajorFunction codes an IOREQUEST dispatches on, MS-RDPEFS §2.2.1.4.5 (a
// subset of NT IRP major function codes).
const (
	IRP_MJ_CREATE                   uint32 = 0x00000000
	IRP_MJ_CLOSE                    uint32 = 0x00000002
	IRP_MJ_READ                     uint32 = 0x00000003
	IRP_MJ_WRITE                    uint32 = 0x00000004
	IRP_MJ_DEVICE_CONTROL           uint32 = 0x0000000E
	IRP_MJ_QUERY_VOLUME_INFORMATION uint32 = 0x0000000A
	IRP_MJ_QUERY_INFORMATION        uint32 = 0x00000005
	IRP_MJ_SET_INFORMATION          uint32 = 0x00000006
	IRP_MJ_DIRECTORY_CONTROL        uint32 = 0x0000000C
	IRP_MJ_LOCK_CONTROL             uint32 = 0x00000011
)

// CreateDisposition / desired access / create options bits the file stealer
// inspects to decide whether a Create is opening a readable regular file,
// MS-SMB2 §2.2.13 semantics reused verbatim by RDPDR.
const (
	GENERIC_READ          uint32 = 0x80000000
	FILE_READ_DATA        uint32 = 0x00000001
	FILE_NON_DIRECTORY_FILE uint32 = 0x00000040
	FILE_DIRECTORY_FILE   uint32 = 0x00000001
)

// NTSTATUS severity, MS-ERREF §2.3: the top two bits of IoStatus classify
// success/information/warning/error.
const STATUS_SEVERITY_ERROR uint32 = 0x3

// Header is the 4-byte {Component, PacketID} pair in front of every RDPDR
// PDU, MS-RDPEFS §2.2.1.
type Header struct {
	Component ComponentID
	Packet    PacketID
}

func (h *Header) Read(r io.Reader) {
	core.ReadLE(r, &h.Component)
	core.ReadLE(r, &h.Packet)
}

func (h *Header) Write(w io.Writer) {
	core.WriteLE(w, h.Component)
	core.WriteLE(w, h.Packet)
}

// DeviceAnnounce is one entry of a PAKID_CORE_DEVICELIST_ANNOUNCE.
type DeviceAnnounce struct {
	DeviceType       DeviceType
	DeviceID         uint32
	PreferredDosName string // 8 bytes, ANSI, null-padded
	DeviceDataLength uint32
	DeviceData       []byte
}

func (d *DeviceAnnounce) Read(r io.Reader) {
	core.ReadLE(r, &d.DeviceType)
	core.ReadLE(r, &d.DeviceID)
	raw := core.ReadBytes(r, 8)
	d.PreferredDosName = trimNulASCII(raw)
	core.ReadLE(r, &d.DeviceDataLength)
	d.DeviceData = core.ReadBytes(r, int(d.DeviceDataLength))
}

func (d *DeviceAnnounce) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, d.DeviceType)
	core.WriteLE(buf, d.DeviceID)
	name := make([]byte, 8)
	copy(name, d.PreferredDosName)
	buf.Write(name)
	core.WriteLE(buf, uint32(len(d.DeviceData)))
	buf.Write(d.DeviceData)
	return buf.Bytes()
}

// DeviceIORequest is the common header every IRP_MJ_* request shares,
// MS-RDPEFS §2.2.1.4.
type DeviceIORequest struct {
	DeviceID      uint32
	FileID        uint32
	CompletionID  uint32
	MajorFunction uint32
	MinorFunction uint32
}

func (req *DeviceIORequest) Read(r io.Reader) {
	core.ReadLE(r, &req.DeviceID)
	core.ReadLE(r, &req.FileID)
	core.ReadLE(r, &req.CompletionID)
	core.ReadLE(r, &req.MajorFunction)
	core.ReadLE(r, &req.MinorFunction)
}

func (req *DeviceIORequest) Write(w io.Writer) {
	core.WriteLE(w, req.DeviceID)
	core.WriteLE(w, req.FileID)
	core.WriteLE(w, req.CompletionID)
	core.WriteLE(w, req.MajorFunction)
	core.WriteLE(w, req.MinorFunction)
}

// DeviceCreateRequest is the IRP_MJ_CREATE body (MS-RDPEFS §2.2.1.4.1):
// the request whose DesiredAccess/CreateOptions the stealer checks before
// deciding a file handle is worth tracking, and whose Path names it.
type DeviceCreateRequest struct {
	DeviceIORequest
	DesiredAccess    uint32
	AllocationSize   uint64
	FileAttributes   uint32
	SharedAccess     uint32
	CreateDisposition uint32
	CreateOptions    uint32
	Path             string // UTF-16LE, not necessarily null-terminated on the wire
}

func (req *DeviceCreateRequest) Read(r io.Reader) {
	core.ReadLE(r, &req.DesiredAccess)
	core.ReadLE(r, &req.AllocationSize)
	core.ReadLE(r, &req.FileAttributes)
	core.ReadLE(r, &req.SharedAccess)
	core.ReadLE(r, &req.CreateDisposition)
	core.ReadLE(r, &req.CreateOptions)
	var pathLength uint32
	core.ReadLE(r, &pathLength)
	req.Path = decodeUTF16LE(core.ReadBytes(r, int(pathLength)))
}

func (req *DeviceCreateRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	req.DeviceIORequest.Write(buf)
	core.WriteLE(buf, req.DesiredAccess)
	core.WriteLE(buf, req.AllocationSize)
	core.WriteLE(buf, req.FileAttributes)
	core.WriteLE(buf, req.SharedAccess)
	core.WriteLE(buf, req.CreateDisposition)
	core.WriteLE(buf, req.CreateOptions)
	encoded := encodeUTF16LE(req.Path)
	core.WriteLE(buf, uint32(len(encoded)))
	buf.Write(encoded)
	return buf.Bytes()
}

// WantsRead reports whether this Create is opening a regular file for
// reading — the condition PassiveFileStealer gates tracking on.
func (req *DeviceCreateRequest) WantsRead() bool {
	return req.DesiredAccess&(GENERIC_READ|FILE_READ_DATA) != 0 &&
		req.CreateOptions&FILE_NON_DIRECTORY_FILE != 0
}

// DeviceCreateResponse is the IRP_MJ_CREATE completion body.
type DeviceCreateResponse struct {
	FileID       uint32
	Information  uint8
}

func (resp *DeviceCreateResponse) Read(r io.Reader) {
	core.ReadLE(r, &resp.FileID)
	core.ReadLE(r, &resp.Information)
}

func (resp *DeviceCreateResponse) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, resp.FileID)
	core.WriteLE(buf, resp.Information)
	return buf.Bytes()
}

// DeviceReadRequest is the IRP_MJ_READ body.
type DeviceReadRequest struct {
	DeviceIORequest
	Length uint32
	Offset uint64
}

func (req *DeviceReadRequest) Read(r io.Reader) {
	core.ReadLE(r, &req.Length)
	core.ReadLE(r, &req.Offset)
	core.ReadBytes(r, 20) // Padding
}

func (req *DeviceReadRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	req.DeviceIORequest.Write(buf)
	core.WriteLE(buf, req.Length)
	core.WriteLE(buf, req.Offset)
	buf.Write(make([]byte, 20))
	return buf.Bytes()
}

// DeviceReadResponse carries the bytes read back, which the stealer appends
// into the reconstructed file at ReadRequest.Offset.
type DeviceReadResponse struct {
	Length   uint32
	ReadData []byte
}

func (resp *DeviceReadResponse) Read(r io.Reader) {
	core.ReadLE(r, &resp.Length)
	resp.ReadData = core.ReadBytes(r, int(resp.Length))
}

func (resp *DeviceReadResponse) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, uint32(len(resp.ReadData)))
	buf.Write(resp.ReadData)
	return buf.Bytes()
}

// DeviceCloseRequest is the IRP_MJ_CLOSE body — empty beyond the common
// header plus 32 reserved bytes.
type DeviceCloseRequest struct {
	DeviceIORequest
}

func (req *DeviceCloseRequest) Read(r io.Reader) {
	core.ReadBytes(r, 32) // Padding
}

func (req *DeviceCloseRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	req.DeviceIORequest.Write(buf)
	buf.Write(make([]byte, 32))
	return buf.Bytes()
}

// DeviceIOCompletion is the common completion header, MS-RDPEFS §2.2.1.5.
type DeviceIOCompletion struct {
	DeviceID     uint32
	CompletionID uint32
	IoStatus     uint32
}

func (c *DeviceIOCompletion) Read(r io.Reader) {
	core.ReadLE(r, &c.DeviceID)
	core.ReadLE(r, &c.CompletionID)
	core.ReadLE(r, &c.IoStatus)
}

func (c *DeviceIOCompletion) Write(w io.Writer) {
	core.WriteLE(w, c.DeviceID)
	core.WriteLE(w, c.CompletionID)
	core.WriteLE(w, c.IoStatus)
}

// IsError reports whether IoStatus carries an NTSTATUS error severity.
func (c *DeviceIOCompletion) IsError() bool {
	return c.IoStatus>>30 == STATUS_SEVERITY_ERROR
}

func trimNulASCII(raw []byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
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
	buf := new(bytes.Buffer)
	for _, u := range utf16.Encode([]rune(s)) {
		core.WriteLE(buf, u)
	}
	return buf.Bytes()
}
