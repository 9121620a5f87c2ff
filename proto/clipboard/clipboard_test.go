package clipboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesRoundTrip(t *testing.T) {
	c := &CapabilitiesPDU{CCapabilitiesSets: 1, CapabilitySetType: 1, LengthCapability: 12, GeneralFlags: CB_USE_LONG_FORMAT_NAMES}
	msg := WriteMessage(c, 0)

	h, pdu := ReadMessage(msg)
	assert.Equal(t, CB_TYPE_CAPABILITIES, h.MsgType)
	got, ok := pdu.(*CapabilitiesPDU)
	require.True(t, ok)
	assert.Equal(t, uint32(CB_USE_LONG_FORMAT_NAMES), got.GeneralFlags)
}

func TestFormatListRoundTrip(t *testing.T) {
	fl := &FormatListPDU{Formats: []FormatListEntry{
		{FormatID: CLIPRDR_FORMAT_UNICODETEXT, FormatName: ""},
		{FormatID: ClipboardFormat(49318), FormatName: "HTML Format"},
	}}
	msg := WriteMessage(fl, 0)

	h, pdu := ReadMessage(msg)
	assert.Equal(t, CB_TYPE_FORMAT_LIST, h.MsgType)
	got, ok := pdu.(*FormatListPDU)
	require.True(t, ok)
	require.Len(t, got.Formats, 2)
	assert.Equal(t, CLIPRDR_FORMAT_UNICODETEXT, got.Formats[0].FormatID)
	assert.Equal(t, "HTML Format", got.Formats[1].FormatName)
}

func TestFormatDataRequestResponseRoundTrip(t *testing.T) {
	req := &FormatDataRequestPDU{FormatID: CLIPRDR_FORMAT_UNICODETEXT}
	msg := WriteMessage(req, 0)
	h, pdu := ReadMessage(msg)
	assert.Equal(t, CB_TYPE_FORMAT_DATA_REQUEST, h.MsgType)
	gotReq, ok := pdu.(*FormatDataRequestPDU)
	require.True(t, ok)
	assert.Equal(t, CLIPRDR_FORMAT_UNICODETEXT, gotReq.FormatID)

	resp := &FormatDataResponsePDU{Data: []byte("stolen clipboard text\x00\x00")}
	msg = WriteMessage(resp, CB_RESPONSE_OK)
	h, pdu = ReadMessage(msg)
	assert.Equal(t, CB_RESPONSE_OK, h.MsgFlags)
	gotResp, ok := pdu.(*FormatDataResponsePDU)
	require.True(t, ok)
	assert.Equal(t, resp.Data, gotResp.Data)
}

func TestFileContentsRequestRoundTripWithAndWithoutClipDataID(t *testing.T) {
	withID := &FileContentsRequestPDU{StreamID: 1, ListIndex: 0, DwFlags: 1, CbRequested: 4096, ClipDataID: 7, HaveClipDataID: true}
	msg := WriteMessage(withID, 0)
	_, pdu := ReadMessage(msg)
	got, ok := pdu.(*FileContentsRequestPDU)
	require.True(t, ok)
	assert.True(t, got.HaveClipDataID)
	assert.Equal(t, uint32(7), got.ClipDataID)

	withoutID := &FileContentsRequestPDU{StreamID: 2, ListIndex: 1, DwFlags: 2, CbRequested: 8192}
	msg = WriteMessage(withoutID, 0)
	_, pdu = ReadMessage(msg)
	got, ok = pdu.(*FileContentsRequestPDU)
	require.True(t, ok)
	assert.False(t, got.HaveClipDataID)
}

func TestFileContentsResponseRoundTrip(t *testing.T) {
	resp := &FileContentsResponsePDU{StreamID: 9, Data: []byte("file bytes")}
	msg := WriteMessage(resp, CB_RESPONSE_OK)
	_, pdu := ReadMessage(msg)
	got, ok := pdu.(*FileContentsResponsePDU)
	require.True(t, ok)
	assert.Equal(t, uint32(9), got.StreamID)
	assert.Equal(t, resp.Data, got.Data)
}

func TestTempDirectoryRoundTrip(t *testing.T) {
	td := &TempDirectoryPDU{Path: `C:\Users\victim\AppData\Local\Temp`}
	msg := WriteMessage(td, 0)
	_, pdu := ReadMessage(msg)
	got, ok := pdu.(*TempDirectoryPDU)
	require.True(t, ok)
	assert.Equal(t, td.Path, got.Path)
}

func TestOpaqueFallback(t *testing.T) {
	raw := []byte{0xAA, 0xBB}
	pdu := ParsePDU(0x00FF, raw)
	got, ok := pdu.(*OpaquePDU)
	require.True(t, ok)
	assert.Equal(t, raw, got.Raw)
	assert.Equal(t, uint16(0x00FF), got.Type())
}

func TestMonitorReadyAndFormatListResponseEmptyBody(t *testing.T) {
	msg := WriteMessage(&MonitorReadyPDU{}, 0)
	h, pdu := ReadMessage(msg)
	assert.Equal(t, CB_TYPE_MONITOR_READY, h.MsgType)
	_, ok := pdu.(*MonitorReadyPDU)
	assert.True(t, ok)

	msg = WriteMessage(&FormatListResponsePDU{}, CB_RESPONSE_OK)
	h, pdu = ReadMessage(msg)
	assert.Equal(t, CB_TYPE_FORMAT_LIST_RESPONSE, h.MsgType)
	_, ok = pdu.(*FormatListResponsePDU)
	assert.True(t, ok)
}
