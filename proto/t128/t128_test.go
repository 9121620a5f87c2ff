package t128

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareControlHeaderRoundTrip(t *testing.T) {
	h := &ShareControlHeader{TotalLength: 42, PDUType: PDUTYPE_DATAPDU | 0x10<<4, PDUSource: 1007}
	var buf bytes.Buffer
	h.Write(&buf)

	got := &ShareControlHeader{}
	got.Read(&buf)
	assert.Equal(t, h.TotalLength, got.TotalLength)
	assert.Equal(t, h.PDUType, got.PDUType)
	assert.Equal(t, PDUTYPE_DATAPDU, got.Type())
}

func TestShareDataHeaderRoundTrip(t *testing.T) {
	h := &ShareDataHeader{ShareId: 0x1000, StreamId: 1, PDUType2: PDUTYPE2_FONTLIST, CompressedType: PACKET_COMPRESSED}
	var buf bytes.Buffer
	h.Write(&buf)

	got := &ShareDataHeader{}
	got.Read(&buf)
	assert.Equal(t, h.ShareId, got.ShareId)
	assert.True(t, got.IsCompressed())
}

func TestCompressionCodecRoundTrip(t *testing.T) {
	cm := NewCompressionCodec()
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 20)

	compressed, err := cm.Compress(data, PACKET_COMPR_TYPE_64K)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	decompressed, err := cm.Decompress(compressed, PACKET_COMPR_TYPE_64K)
	require.NoError(t, err)
	assert.Equal(t, data, decompressed)

	stats := cm.Stats()
	assert.Greater(t, stats.TotalUncompressed, int64(0))
}

func TestDataPDURoundTrip(t *testing.T) {
	fl := &TsFontListPDU{NumberFonts: 0, TotalNumFonts: 0, ListFlags: 0x0003, EntrySize: 0x0032}
	data := NewDataPdu(fl, 0x1000)

	serialized := data.Serialize()
	got := &TsDataPduData{}
	got.Read(bytes.NewReader(serialized))

	gotFl, ok := got.Pdu.(*TsFontListPDU)
	require.True(t, ok)
	assert.Equal(t, fl.ListFlags, gotFl.ListFlags)
	assert.Equal(t, fl.EntrySize, gotFl.EntrySize)
}

func TestParseDataPDUOpaqueFallback(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5}
	pdu := ParseDataPDU(PDUTYPE2_UPDATE, raw)
	opaque, ok := pdu.(*OpaqueDataPDU)
	require.True(t, ok)
	assert.Equal(t, raw, opaque.Raw)
	assert.Equal(t, uint8(PDUTYPE2_UPDATE), opaque.Type2())
}

func TestDemandActivePduRoundTrip(t *testing.T) {
	d := &TsDemandActivePduData{
		ShareId:            0x03ea,
		SourceDescriptor:   []byte("MSTSC"),
		NumberCapabilities: 2,
		CapabilitySets:     []byte{1, 2, 3, 4, 5, 6, 7, 8},
		SessionId:          1,
	}
	serialized := d.Serialize()

	got := &TsDemandActivePduData{}
	got.Read(bytes.NewReader(serialized))
	assert.Equal(t, d.ShareId, got.ShareId)
	assert.Equal(t, d.SourceDescriptor, got.SourceDescriptor)
	assert.Equal(t, d.CapabilitySets, got.CapabilitySets)
	assert.Equal(t, d.SessionId, got.SessionId)
}

func TestConfirmActivePduRoundTrip(t *testing.T) {
	c := &TsConfirmActivePduData{
		ShareId:            0x03ea,
		OriginatorId:       0x03ea,
		SourceDescriptor:   []byte("RDP"),
		NumberCapabilities: 1,
		CapabilitySets:     []byte{9, 9, 9, 9},
	}
	serialized := c.Serialize()

	got := &TsConfirmActivePduData{}
	got.Read(bytes.NewReader(serialized))
	assert.Equal(t, c.OriginatorId, got.OriginatorId)
	assert.Equal(t, c.CapabilitySets, got.CapabilitySets)
}

func TestSetErrorInfoRoundTrip(t *testing.T) {
	e := &TsSetErrorInfoPDU{ErrorInfo: 0x0004} // ERRINFO_RPC_INITIATED_DISCONNECT
	got := &TsSetErrorInfoPDU{}
	got.Read(bytes.NewReader(e.Serialize()))
	assert.Equal(t, e.ErrorInfo, got.ErrorInfo)
}

func TestSaveSessionInfoRoundTrip(t *testing.T) {
	s := &TsSaveSessionInfoPDU{InfoType: 2, InfoData: []byte("logon info blob")}
	got := &TsSaveSessionInfoPDU{}
	got.Read(bytes.NewReader(s.Serialize()))
	assert.Equal(t, s.InfoType, got.InfoType)
	assert.Equal(t, s.InfoData, got.InfoData)
}
