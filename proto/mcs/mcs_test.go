package mcs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMcsPduHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteMcsPduHeader(&buf, PDUTYPE_CHANNEL_JOIN_REQUEST, 0)
	assert.Equal(t, PDUTYPE_CHANNEL_JOIN_REQUEST, ReadMcsPduHeader(bytes.NewReader(buf.Bytes())))
}

func TestAttachUserConfirmRead(t *testing.T) {
	var buf bytes.Buffer
	WriteMcsPduHeader(&buf, PDUTYPE_ATTACH_USER_CONFIRM, 0)
	buf.WriteByte(0) // result
	var userIdField uint16 = 7
	buf.WriteByte(byte(userIdField >> 8))
	buf.WriteByte(byte(userIdField))

	c := &ServerAttachUserConfirm{}
	c.Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, MCS_CHANNEL_USERID_BASE+7, c.UserId)
}

func TestChannelJoinConfirmRead(t *testing.T) {
	var buf bytes.Buffer
	WriteMcsPduHeader(&buf, PDUTYPE_CHANNEL_JOIN_CONFIRM, 0)
	buf.WriteByte(0) // result ok
	userId := MCS_CHANNEL_USERID_BASE + 7
	buf.WriteByte(byte((userId - MCS_CHANNEL_USERID_BASE) >> 8))
	buf.WriteByte(byte(userId - MCS_CHANNEL_USERID_BASE))
	buf.WriteByte(byte(MCS_CHANNEL_GLOBAL >> 8))
	buf.WriteByte(byte(MCS_CHANNEL_GLOBAL))

	c := &ServerChannelJoinConfirm{}
	c.Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, uint8(0), c.Result)
	assert.Equal(t, userId, c.UserId)
	assert.Equal(t, MCS_CHANNEL_GLOBAL, c.ChannelId)
}

func TestSendDataRequestAndIndicationRoundTrip(t *testing.T) {
	req := NewSendDataRequest(MCS_CHANNEL_USERID_BASE+7, MCS_CHANNEL_GLOBAL)
	body := req.Serialize([]byte("share control header + pdu bytes"))

	channelId, data := ReadSendDataIndicationBody(replaceChoice(body, PDUTYPE_SEND_DATA_INDICATION))
	assert.Equal(t, MCS_CHANNEL_GLOBAL, channelId)
	assert.Equal(t, []byte("share control header + pdu bytes"), data)
}

// replaceChoice swaps the DomainMCSPDU choice byte from send-data-request
// to send-data-indication, modeling what the server sends back — the two
// PDUs share an identical body layout per T.125.
func replaceChoice(data []byte, newType uint8) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	out[0] = newType<<2 | out[0]&0x03
	return out
}

func TestDisconnectProviderUltimatumRoundTrip(t *testing.T) {
	d := &DisconnectProviderUltimatum{Reason: 3}
	serialized := d.Serialize()

	got := &DisconnectProviderUltimatum{}
	got.Read(bytes.NewReader(serialized))
	assert.Equal(t, uint8(3), got.Reason)
}

func TestServerNetworkDataRead(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xE7, 0x03})       // McsChannelId = 999 LE
	buf.Write([]byte{0x02, 0x00})       // ChannelCount = 2
	buf.Write([]byte{0xE8, 0x03})       // channel 1000
	buf.Write([]byte{0xE9, 0x03})       // channel 1001

	d := &ServerNetworkData{}
	d.Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, uint16(999), d.McsChannelId)
	require.Len(t, d.ChannelIdArray, 2)
	assert.Equal(t, uint16(1000), d.ChannelIdArray[0])
	assert.Equal(t, uint16(1001), d.ChannelIdArray[1])
}

func TestParserRoutesChannelPDU(t *testing.T) {
	req := NewSendDataRequest(MCS_CHANNEL_USERID_BASE+1, MCS_CHANNEL_GLOBAL)
	body := req.Serialize([]byte("payload"))
	indication := replaceChoice(body, PDUTYPE_SEND_DATA_INDICATION)

	p := Parser{}
	pdu, remainder, err := p.Parse(indication)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), remainder)
	assert.Equal(t, MCS_CHANNEL_GLOBAL, pdu.(*ChannelPDU).ChannelId)
}
