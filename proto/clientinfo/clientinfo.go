// Package clientinfo implements the TS_INFO_PACKET (MS-RDPBCGR §2.2.1.11.1)
// carried as the client's Client Info PDU, the one slow-path PDU the MITM
// orchestrator mutates in place rather than only relaying, per spec.md §4.7
// "Credential capture and replacement". Grounded on the TS_INFO_PACKET
// fields pyrdp's ClientInfoPDU exposes (original_source mitm/client.py).
package clientinfo

import (
	"bytes"
	"io"
	"unicode/utf16"

	"github.com/GoFeGroup/rdpmitm/core"
)

// Flags, MS-RDPBCGR §2.2.1.11.1.1.
const (
	INFO_MOUSE                  uint32 = 0x00000001
	INFO_DISABLECTRLALTDEL      uint32 = 0x00000002
	INFO_AUTOLOGON              uint32 = 0x00000008
	INFO_UNICODE                uint32 = 0x00000010
	INFO_MAXIMIZESHELL          uint32 = 0x00000020
	INFO_LOGONNOTIFY            uint32 = 0x00000040
	INFO_COMPRESSION            uint32 = 0x00000080
	INFO_ENABLEWINDOWSKEY       uint32 = 0x00000100
	INFO_COMPRESSION_TYPE_MASK  uint32 = 0x00001E00
	INFO_PASSWORD_IS_SC_PIN     uint32 = 0x00040000
)

// Packet is the parsed TS_INFO_PACKET. Fields after WorkingDir (the
// TS_EXTENDED_INFO_PACKET, present when the negotiated RDP version allows
// it) are kept as an opaque tail — the MITM only needs Username/Password,
// never the client address/timezone/auto-reconnect blob.
type Packet struct {
	CodePage        uint32
	Flags           uint32
	Domain          string
	Username        string
	Password        string
	AlternateShell  string
	WorkingDir      string
	ExtendedInfo    []byte
}

func (p *Packet) Read(r io.Reader) {
	core.ReadLE(r, &p.CodePage)
	core.ReadLE(r, &p.Flags)

	var cbDomain, cbUserName, cbPassword, cbAlternateShell, cbWorkingDir uint16
	core.ReadLE(r, &cbDomain)
	core.ReadLE(r, &cbUserName)
	core.ReadLE(r, &cbPassword)
	core.ReadLE(r, &cbAlternateShell)
	core.ReadLE(r, &cbWorkingDir)

	p.Domain = readUnicodeField(r, cbDomain)
	p.Username = readUnicodeField(r, cbUserName)
	p.Password = readUnicodeField(r, cbPassword)
	p.AlternateShell = readUnicodeField(r, cbAlternateShell)
	p.WorkingDir = readUnicodeField(r, cbWorkingDir)
	p.ExtendedInfo = core.ReadAllRemaining(r)
}

func (p *Packet) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, p.CodePage)
	core.WriteLE(buf, p.Flags)

	domain := encodeUnicodeField(p.Domain)
	username := encodeUnicodeField(p.Username)
	password := encodeUnicodeField(p.Password)
	shell := encodeUnicodeField(p.AlternateShell)
	workingDir := encodeUnicodeField(p.WorkingDir)

	core.WriteLE(buf, uint16(len(domain)))
	core.WriteLE(buf, uint16(len(username)))
	core.WriteLE(buf, uint16(len(password)))
	core.WriteLE(buf, uint16(len(shell)))
	core.WriteLE(buf, uint16(len(workingDir)))

	buf.Write(domain)
	core.WriteLE(buf, uint16(0))
	buf.Write(username)
	core.WriteLE(buf, uint16(0))
	buf.Write(password)
	core.WriteLE(buf, uint16(0))
	buf.Write(shell)
	core.WriteLE(buf, uint16(0))
	buf.Write(workingDir)
	core.WriteLE(buf, uint16(0))

	buf.Write(p.ExtendedInfo)
	return buf.Bytes()
}

// ApplyReplacement overwrites Username/Password when both are non-empty,
// sets INFO_AUTOLOGON, and always clears INFO_COMPRESSION plus the
// compression-type mask — spec.md §4.7's credential-replacement rule,
// applied unconditionally regardless of whether replacement is configured.
func (p *Packet) ApplyReplacement(username, password string) {
	if username != "" && password != "" {
		p.Username = username
		p.Password = password
		p.Flags |= INFO_AUTOLOGON
	}
	p.Flags &^= INFO_COMPRESSION
	p.Flags &^= INFO_COMPRESSION_TYPE_MASK
}

// cbField byte counts exclude the trailing null terminator; readUnicodeField
// reads cb bytes of UTF-16LE plus the 2-byte terminator that always follows.
func readUnicodeField(r io.Reader, cb uint16) string {
	raw := core.ReadBytes(r, int(cb))
	core.ReadBytes(r, 2) // null terminator
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return string(utf16.Decode(units))
}

func encodeUnicodeField(s string) []byte {
	buf := new(bytes.Buffer)
	for _, u := range utf16.Encode([]rune(s)) {
		core.WriteLE(buf, u)
	}
	return buf.Bytes()
}
