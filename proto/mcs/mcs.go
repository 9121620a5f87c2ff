// Package mcs implements the Multipoint Communication Service (T.125)
// domain established on top of X.224: connect-initial/response, domain
// erection, user attach, channel join, and send-data request/indication,
// per spec.md §4.3.
package mcs

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/layer"
	"github.com/GoFeGroup/rdpmitm/proto/mcs/per"
	"github.com/GoFeGroup/rdpmitm/proto/x224"
)

// DomainMCSPDU choice values, T.125 §7.
const (
	PDUTYPE_ERECT_DOMAIN_REQUEST        uint8 = 1
	PDUTYPE_DISCONNECT_PROVIDER_ULTIMATUM uint8 = 8
	PDUTYPE_ATTACH_USER_REQUEST         uint8 = 10
	PDUTYPE_ATTACH_USER_CONFIRM         uint8 = 11
	PDUTYPE_CHANNEL_JOIN_REQUEST        uint8 = 14
	PDUTYPE_CHANNEL_JOIN_CONFIRM        uint8 = 15
	PDUTYPE_SEND_DATA_REQUEST           uint8 = 25
	PDUTYPE_SEND_DATA_INDICATION        uint8 = 26
)

// Well-known channel/user IDs, MS-RDPBCGR §2.2.1.3 / §3.1.5.1.
const (
	MCS_CHANNEL_USERID_BASE uint16 = 1001
	MCS_CHANNEL_GLOBAL      uint16 = 1003
)

// WriteMcsPduHeader writes a DomainMCSPDU choice byte: the PER choice index
// in the top 6 bits, any per-PDU option bits (e.g. the upward flag on
// ErectDomainRequest) in the bottom 2.
func WriteMcsPduHeader(w io.Writer, pduType uint8, options uint8) {
	core.WriteBE(w, pduType<<2|options&0x03)
}

// ReadMcsPduHeader reads the choice byte and returns the PDU type.
func ReadMcsPduHeader(r io.Reader) uint8 {
	var b uint8
	core.ReadBE(r, &b)
	return b >> 2
}

// ClientErectDomain is the first PDU of the MCS domain, announcing the
// client's (here: the MITM's, on each connection leg) position in the
// (unused, always-flat) MCS domain hierarchy.
type ClientErectDomain struct{}

func (e *ClientErectDomain) Write(w io.Writer) {
	WriteMcsPduHeader(w, PDUTYPE_ERECT_DOMAIN_REQUEST, 0)
	per.WriteInteger(w, 0) // subHeight
	per.WriteInteger(w, 0) // subInterval
}

func (e *ClientErectDomain) Serialize() []byte {
	buf := new(bytes.Buffer)
	e.Write(buf)
	return buf.Bytes()
}

// Read parses an erect-domain-request; the MITM's victim-facing leg plays
// MCS server on that leg, so it must also read what a real client sends.
func (e *ClientErectDomain) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != PDUTYPE_ERECT_DOMAIN_REQUEST, errUnexpectedPDU("erect-domain-request"))
	per.ReadInteger(r)
	per.ReadInteger(r)
}

// ClientAttachUserRequest asks the server to allocate a user ID.
type ClientAttachUserRequest struct{}

func (a *ClientAttachUserRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, PDUTYPE_ATTACH_USER_REQUEST, 0)
	return buf.Bytes()
}

func (a *ClientAttachUserRequest) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != PDUTYPE_ATTACH_USER_REQUEST, errUnexpectedPDU("attach-user-request"))
}

// ServerAttachUserConfirm carries the allocated user ID.
type ServerAttachUserConfirm struct {
	UserId uint16
}

func (c *ServerAttachUserConfirm) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != PDUTYPE_ATTACH_USER_CONFIRM, errUnexpectedPDU("attach-user-confirm"))
	core.ThrowIf(per.ReadEnumerated(r) != 0, errNonzeroResult("attach-user-confirm"))
	c.UserId = per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE)
	glog.Debugf("mcs: attach-user-confirm userId=%d", c.UserId)
}

// Serialize writes an attach-user-confirm; the MITM's victim-facing leg
// plays MCS server and assigns c.UserId itself before calling this.
func (c *ServerAttachUserConfirm) Serialize() []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, PDUTYPE_ATTACH_USER_CONFIRM, 0)
	per.WriteEnumerated(buf, 0)
	per.WriteInteger16(buf, c.UserId, MCS_CHANNEL_USERID_BASE)
	return buf.Bytes()
}

// ClientChannelJoinRequest asks to join a channel on behalf of userId.
type ClientChannelJoinRequest struct {
	UserId    uint16
	ChannelId uint16
}

func (c *ClientChannelJoinRequest) Serialize() []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, PDUTYPE_CHANNEL_JOIN_REQUEST, 0)
	per.WriteInteger16(buf, c.UserId, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(buf, c.ChannelId, 0)
	return buf.Bytes()
}

func (c *ClientChannelJoinRequest) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != PDUTYPE_CHANNEL_JOIN_REQUEST, errUnexpectedPDU("channel-join-request"))
	c.UserId = per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE)
	c.ChannelId = per.ReadInteger16(r, 0)
}

// ServerChannelJoinConfirm is the server's reply; Result is 0 on success.
type ServerChannelJoinConfirm struct {
	Result    uint8
	UserId    uint16
	ChannelId uint16
}

func (c *ServerChannelJoinConfirm) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != PDUTYPE_CHANNEL_JOIN_CONFIRM, errUnexpectedPDU("channel-join-confirm"))
	c.Result = per.ReadEnumerated(r)
	c.UserId = per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE)
	c.ChannelId = per.ReadInteger16(r, 0)
	glog.Debugf("mcs: channel-join-confirm result=%d channel=%d", c.Result, c.ChannelId)
}

// Serialize writes a channel-join-confirm; the MITM's victim-facing leg
// plays MCS server and always confirms the requested channel id (it chose
// every id itself when building the GCC Server Network Data block).
func (c *ServerChannelJoinConfirm) Serialize() []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, PDUTYPE_CHANNEL_JOIN_CONFIRM, 0)
	per.WriteEnumerated(buf, c.Result)
	per.WriteInteger16(buf, c.UserId, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(buf, c.ChannelId, 0)
	return buf.Bytes()
}

// SendDataRequest wraps an upward PDU (security header + app payload) to
// be carried to the server over a joined channel.
type SendDataRequest struct {
	UserId    uint16
	ChannelId uint16
}

func NewSendDataRequest(userId, channelId uint16) *SendDataRequest {
	return &SendDataRequest{UserId: userId, ChannelId: channelId}
}

// Serialize frames data as a complete send-data-request PDU body (the MCS
// header the caller then hands to x224.Write).
func (s *SendDataRequest) Serialize(data []byte) []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, PDUTYPE_SEND_DATA_REQUEST, 0)
	per.WriteInteger16(buf, s.UserId, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(buf, s.ChannelId, 0)
	per.WriteEnumerated(buf, 0x70) // dataPriority(high)+segmentation(begin|end)
	per.WriteOctetString(buf, data, 0)
	return buf.Bytes()
}

// ServerSendDataIndication wraps a downward PDU to be carried to the client
// over a joined channel. Every other server-to-client relay path in this
// MITM forwards the target's raw bytes unchanged, but under native RDP
// security the two legs are encrypted under independent keys, so the
// target's send-data-indication must be unwrapped and a fresh one built for
// the victim leg rather than forwarded byte-for-byte.
type ServerSendDataIndication struct {
	UserId    uint16
	ChannelId uint16
}

func NewServerSendDataIndication(userId, channelId uint16) *ServerSendDataIndication {
	return &ServerSendDataIndication{UserId: userId, ChannelId: channelId}
}

// Serialize frames data as a complete send-data-indication PDU body.
func (s *ServerSendDataIndication) Serialize(data []byte) []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, PDUTYPE_SEND_DATA_INDICATION, 0)
	per.WriteInteger16(buf, s.UserId, MCS_CHANNEL_USERID_BASE)
	per.WriteInteger16(buf, s.ChannelId, 0)
	per.WriteEnumerated(buf, 0x70) // dataPriority(high)+segmentation(begin|end)
	per.WriteOctetString(buf, data, 0)
	return buf.Bytes()
}

// ReceiveDataResponse parses a send-data-indication carried inside an
// X.224 Data TPDU: reads the X.224 framing itself, with no TPKT step (the teacher's own
// convention — this PDU is where the slow-path chain crosses from X.224
// into MCS) and returns which channel the payload arrived on.
type ReceiveDataResponse struct{}

func (res *ReceiveDataResponse) Read(r io.Reader) (channelId uint16, data []byte) {
	body := x224.Read(r)
	r = bytes.NewReader(body)
	pduHeader := ReadMcsPduHeader(r)
	core.ThrowIf(pduHeader != PDUTYPE_SEND_DATA_INDICATION, errUnexpectedPDU("send-data-indication"))
	userId := per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE)
	channelId = per.ReadInteger16(r, 0)
	_ = per.ReadEnumerated(r) // dataPriority+segmentation
	glog.Debugf("mcs: send-data-indication userId=%d channel=%d", userId, channelId)
	return channelId, per.ReadOctetString(r, 0)
}

// ReadSendDataIndicationBody parses an already-extracted X.224 body (used
// when segmentation has already delineated the frame and a layer.Parser
// only ever sees the body, not the raw connection).
func ReadSendDataIndicationBody(body []byte) (channelId uint16, data []byte) {
	r := bytes.NewReader(body)
	pduHeader := ReadMcsPduHeader(r)
	core.ThrowIf(pduHeader != PDUTYPE_SEND_DATA_INDICATION, errUnexpectedPDU("send-data-indication"))
	userId := per.ReadInteger16(r, MCS_CHANNEL_USERID_BASE)
	channelId = per.ReadInteger16(r, 0)
	_ = per.ReadEnumerated(r)
	glog.Debugf("mcs: send-data-indication userId=%d channel=%d", userId, channelId)
	return channelId, per.ReadOctetString(r, 0)
}

// ServerNetworkData is the GCC Server Network Data block (carried inside
// ConnectResponse), listing the MCS channel IDs allocated for each of the
// client's requested virtual channels plus the I/O channel.
type ServerNetworkData struct {
	McsChannelId   uint16
	ChannelCount   uint16
	ChannelIdArray []uint16
}

func (d *ServerNetworkData) Read(r io.Reader) {
	core.ReadLE(r, &d.McsChannelId)
	core.ReadLE(r, &d.ChannelCount)
	d.ChannelIdArray = make([]uint16, d.ChannelCount)
	core.ReadLE(r, d.ChannelIdArray)
	glog.Debugf("mcs: server network data: %+v", d)
}

// gccSCNetBlockType is the GCC block type tag for Server Network Data,
// mirrored here rather than imported from the gcc package.
const gccSCNetBlockType uint16 = 0x0C03

// Serialize writes the SC_NET GCC block, used by the MITM's victim-facing
// leg to hand back its own (locally assigned) channel ids.
func (d *ServerNetworkData) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteLE(body, d.McsChannelId)
	core.WriteLE(body, uint16(len(d.ChannelIdArray)))
	core.WriteLE(body, d.ChannelIdArray)
	if len(d.ChannelIdArray)%2 != 0 {
		core.WriteLE(body, uint16(0)) // pad to even length per MS-RDPBCGR §2.2.1.4.4
	}

	header := new(bytes.Buffer)
	core.WriteLE(header, gccSCNetBlockType)
	core.WriteLE(header, uint16(4+body.Len()))
	header.Write(body.Bytes())
	return header.Bytes()
}

// DisconnectProviderUltimatum signals the domain is tearing down.
type DisconnectProviderUltimatum struct {
	Reason uint8
}

func (d *DisconnectProviderUltimatum) Read(r io.Reader) {
	core.ThrowIf(ReadMcsPduHeader(r) != PDUTYPE_DISCONNECT_PROVIDER_ULTIMATUM, errUnexpectedPDU("disconnect-provider-ultimatum"))
	d.Reason = per.ReadEnumerated(r)
}

func (d *DisconnectProviderUltimatum) Serialize() []byte {
	buf := new(bytes.Buffer)
	WriteMcsPduHeader(buf, PDUTYPE_DISCONNECT_PROVIDER_ULTIMATUM, 0)
	per.WriteEnumerated(buf, d.Reason)
	return buf.Bytes()
}

type errUnexpectedPDU string

func (e errUnexpectedPDU) Error() string { return "mcs: expected " + string(e) + " pdu" }

type errNonzeroResult string

func (e errNonzeroResult) Error() string { return "mcs: non-zero result in " + string(e) }

// Parser adapts the send-data-indication framing to layer.Parser: Parse
// expects the already-delineated X.224 body (segmentation -> tpkt -> x224
// having stripped their own headers) and returns the channel-tagged PDU.
type Parser struct{}

// ChannelPDU is what observers above the MCS layer see: raw bytes tagged
// with the MCS channel they arrived on, for virtualchannel/security to
// route by.
type ChannelPDU struct {
	ChannelId uint16
	Data      []byte
}

func (p Parser) Parse(data []byte) (layer.PDU, []byte, error) {
	var channelId uint16
	var body []byte
	err := core.Try(func() {
		channelId, body = ReadSendDataIndicationBody(data)
	})
	if err != nil {
		return nil, nil, err
	}
	pdu := &ChannelPDU{ChannelId: channelId, Data: body}
	return pdu, body, nil
}

func (p Parser) Serialize(pdu layer.PDU) ([]byte, error) {
	req := pdu.(*ChannelSendRequest)
	return NewSendDataRequest(req.UserId, req.ChannelId).Serialize(req.Data), nil
}

// ChannelSendRequest is what callers hand to Layer.Send to push data
// outbound over a specific joined channel.
type ChannelSendRequest struct {
	UserId    uint16
	ChannelId uint16
	Data      []byte
}
