// Package x224 implements the ITU-T X.224 class-0 connection control RDP
// uses on top of TPKT, per spec.md §4.2: ConnectionRequest, ConnectionConfirm,
// DisconnectRequest, and generic Data TPDUs.
package x224

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// TPDU type codes (high nibble of the code octet), ITU-T X.224.
const (
	CR uint8 = 0xE0 // Connection Request
	CC uint8 = 0xD0 // Connection Confirm
	DR uint8 = 0x80 // Disconnect Request
	DT uint8 = 0xF0 // Data
)

const eot uint8 = 0x80

// Header is the fixed part of a CR/CC/DR TPDU.
type Header struct {
	Length  uint8
	PduType uint8
	DstRef  uint16
	SrcRef  uint16
	Flags   uint8
}

// Read parses the fixed header fields in wire order.
func (h *Header) Read(r io.Reader) {
	core.ReadBE(r, &h.Length)
	core.ReadBE(r, &h.PduType)
	core.ReadBE(r, &h.DstRef)
	core.ReadBE(r, &h.SrcRef)
	core.ReadBE(r, &h.Flags)
}

// Write serializes the fixed header fields in wire order.
func (h *Header) Write(w io.Writer) {
	core.WriteBE(w, h.Length)
	core.WriteBE(w, h.PduType)
	core.WriteBE(w, h.DstRef)
	core.WriteBE(w, h.SrcRef)
	core.WriteBE(w, h.Flags)
}

// Negotiation is the RDP Negotiation Request/Response/Failure structure
// carried as X.224 user data on Connection Request/Confirm.
type Negotiation struct {
	Type   uint8
	Flags  uint8
	Length uint16
	Result uint32 // requested/selected protocol bitmask, or a failure code
}

// RDP_NEG_* structure types.
const (
	TypeNegReq     uint8 = 0x01
	TypeNegRsp     uint8 = 0x02
	TypeNegFailure uint8 = 0x03
)

// Protocol bits negotiated in TypeNegReq/TypeNegRsp.
const (
	ProtocolRDP    uint32 = 0x00000000
	ProtocolSSL    uint32 = 0x00000001
	ProtocolHybrid uint32 = 0x00000002 // CredSSP / NLA
)

// Failure codes carried in TypeNegFailure.
const (
	FailureSSLRequiredByServer         uint32 = 0x00000001
	FailureSSLNotAllowedByServer       uint32 = 0x00000002
	FailureSSLCertNotOnServer          uint32 = 0x00000003
	FailureInconsistentFlags           uint32 = 0x00000004
	FailureHybridRequiredByServer      uint32 = 0x00000005
	FailureSSLWithUserAuthRequiredSrv  uint32 = 0x00000006
)

func (n *Negotiation) read(r io.Reader) {
	core.ReadLE(r, &n.Type)
	core.ReadLE(r, &n.Flags)
	core.ReadLE(r, &n.Length)
	core.ReadLE(r, &n.Result)
}

func (n *Negotiation) write(w io.Writer) {
	core.WriteLE(w, n.Type)
	core.WriteLE(w, n.Flags)
	core.WriteLE(w, uint16(8))
	core.WriteLE(w, n.Result)
}

// IsFailure reports whether this is a TYPE_RDP_NEG_FAILURE structure.
func (n *Negotiation) IsFailure() bool { return n.Type == TypeNegFailure }

// IsNLAFailure reports whether the failure is specifically because the
// server demands CredSSP/NLA, which the MITM never implements (spec.md §1).
func (n *Negotiation) IsNLAFailure() bool {
	return n.IsFailure() && n.Result == FailureHybridRequiredByServer
}

// ConnectionRequestPDU is the MITM's outbound ConnectionRequest to the
// target, carrying the negotiation cookie forwarded from the victim.
type ConnectionRequestPDU struct {
	Cookie      string
	Negotiation *Negotiation
}

// ConnectionConfirmPDU is what the target (or the MITM, toward the victim)
// replies with.
type ConnectionConfirmPDU struct {
	Negotiation *Negotiation
}

// DisconnectRequestPDU signals the peer is tearing down the connection.
type DisconnectRequestPDU struct {
	Reason uint8
}

// DataPDU wraps an MCS PDU inside a class-0 Data TPDU.
type DataPDU struct {
	Body []byte
}

// Subtag lets these PDUs plug into a layer.RoutedObserver.
func (p *ConnectionRequestPDU) Subtag() interface{} { return CR }
func (p *ConnectionConfirmPDU) Subtag() interface{} { return CC }
func (p *DisconnectRequestPDU) Subtag() interface{} { return DR }
func (p *DataPDU) Subtag() interface{}              { return DT }

// WriteConnectionRequest serializes and writes a ConnectionRequest TPDU.
func WriteConnectionRequest(w io.Writer, pdu *ConnectionRequestPDU) {
	body := new(bytes.Buffer)
	body.WriteString(pdu.Cookie)
	body.WriteString("\r\n")
	if pdu.Negotiation != nil {
		pdu.Negotiation.write(body)
	}
	writeFixedPlusVariable(w, CR, 0, 0, 0, body.Bytes())
}

// WriteConnectionConfirm serializes and writes a ConnectionConfirm TPDU.
func WriteConnectionConfirm(w io.Writer, pdu *ConnectionConfirmPDU) {
	body := new(bytes.Buffer)
	if pdu.Negotiation != nil {
		pdu.Negotiation.write(body)
	}
	writeFixedPlusVariable(w, CC, 0, 0, 0, body.Bytes())
}

// WriteDisconnectRequest serializes and writes a DisconnectRequest TPDU.
func WriteDisconnectRequest(w io.Writer, reason uint8) {
	writeFixedPlusVariable(w, DR, 0, 0, reason, nil)
}

// fixedPartLength is the LI value for a CR/CC/DR TPDU: the 6 bytes of
// PduType+DstRef+SrcRef+Flags that follow the LI byte itself, not counting
// the variable-length user data (cookie, negotiation blob) appended after.
const fixedPartLength = 6

func writeFixedPlusVariable(w io.Writer, pduType uint8, dst, src uint16, flags uint8, variable []byte) {
	h := &Header{
		Length:  fixedPartLength,
		PduType: pduType,
		DstRef:  dst,
		SrcRef:  src,
		Flags:   flags,
	}
	buf := new(bytes.Buffer)
	h.Write(buf)
	buf.Write(variable)
	core.WriteFull(w, buf.Bytes())
}

// Write wraps data in a class-0 Data TPDU (LI=1, code DT|EOT) and writes it
// to w — the framing that carries every MCS PDU once the connection is up.
func Write(w io.Writer, data []byte) {
	core.WriteBE(w, uint8(1))
	core.WriteBE(w, DT|eot)
	core.WriteFull(w, data)
}

// Read reads one complete X.224 TPDU from r and returns the bytes destined
// for the next layer up: the MCS body for a Data TPDU, or the negotiation
// blob for CR/CC (callers that need the typed PDU should use ReadPDU).
func Read(r io.Reader) []byte {
	var li uint8
	core.ReadBE(r, &li)
	core.ReadBytes(r, int(li)) // fixed part: code byte (+ dst/src/flags for CR/CC/DR)
	return core.ReadAllRemaining(r)
}

// ReadPDU reads one complete TPDU and returns the typed PDU value.
func ReadPDU(r io.Reader) interface{} {
	var li uint8
	core.ReadBE(r, &li)
	code := core.ReadBytes(r, 1)[0]
	switch code & 0xF0 {
	case DT:
		core.ReadBytes(r, int(li)-1) // any padding beyond the code byte, normally none
		return &DataPDU{Body: core.ReadAllRemaining(r)}
	case CR, CC, DR:
		fixed := core.ReadBytes(r, int(li)-1)
		dst := uint16(fixed[0])<<8 | uint16(fixed[1])
		src := uint16(fixed[2])<<8 | uint16(fixed[3])
		flags := fixed[4]
		_ = dst
		_ = src
		variable := core.ReadAllRemaining(r)
		switch code & 0xF0 {
		case CR:
			cookie, neg := splitCookieAndNegotiation(variable)
			return &ConnectionRequestPDU{Cookie: cookie, Negotiation: neg}
		case CC:
			return &ConnectionConfirmPDU{Negotiation: parseNegotiation(variable)}
		default:
			return &DisconnectRequestPDU{Reason: flags}
		}
	default:
		core.ThrowErrorf("x224: unknown tpdu code 0x%02x", code)
		return nil
	}
}

func splitCookieAndNegotiation(variable []byte) (string, *Negotiation) {
	idx := bytes.Index(variable, []byte("\r\n"))
	if idx < 0 {
		return string(variable), nil
	}
	cookie := string(variable[:idx])
	rest := variable[idx+2:]
	return cookie, parseNegotiation(rest)
}

func parseNegotiation(data []byte) *Negotiation {
	if len(data) < 8 {
		return nil
	}
	n := &Negotiation{}
	n.read(bytes.NewReader(data))
	return n
}
