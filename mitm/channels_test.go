package mitm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoFeGroup/rdpmitm/proto/clipboard"
	"github.com/GoFeGroup/rdpmitm/proto/virtualchannel"
	"github.com/GoFeGroup/rdpmitm/recorder"
)

type testSink struct {
	mu   sync.Mutex
	msgs []*recorder.PlayerMessagePDU
}

func (s *testSink) Write(m *recorder.PlayerMessagePDU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}
func (s *testSink) Close() error { return nil }

func newTestRecorder() (*recorder.Recorder, *testSink) {
	sink := &testSink{}
	rec := recorder.New(func() int64 { return 0 })
	rec.AddSink(sink)
	return rec, sink
}

func chunksFor(t *testing.T, data []byte) [][]byte {
	t.Helper()
	return virtualchannel.WriteChunks(data, false)
}

func TestChannelClipboardCaptureEndToEnd(t *testing.T) {
	rec, sink := newTestRecorder()
	ch := BuildChannel(virtualchannel.ChannelNameCliprdr, 1004, rec, t.TempDir())
	require.Equal(t, ChannelKindClipboard, ch.Kind)

	announce := clipboard.WriteMessage(&clipboard.FormatListPDU{
		Formats: []clipboard.FormatListEntry{{FormatID: clipboard.CLIPRDR_FORMAT_UNICODETEXT}},
	}, 0)
	var inject []byte
	for _, c := range chunksFor(t, announce) {
		if got, ok := ch.OnServerToClientChunk(c); ok {
			inject = got
		}
	}
	require.NotNil(t, inject)
	_, pdu := clipboard.ReadMessage(inject)
	_, isReq := pdu.(*clipboard.FormatDataRequestPDU)
	assert.True(t, isReq)

	dataResp := clipboard.WriteMessage(&clipboard.FormatDataResponsePDU{Data: encodeNullTerminatedUTF16("hello")}, 0)
	for _, c := range chunksFor(t, dataResp) {
		ch.OnServerToClientChunk(c)
	}

	require.Len(t, sink.msgs, 1)
	assert.Equal(t, recorder.CLIPBOARD_DATA, sink.msgs[0].Type)
	assert.Equal(t, "hello", string(sink.msgs[0].Payload))
}

func TestChannelUnknownRecordsRawPDU(t *testing.T) {
	rec, sink := newTestRecorder()
	ch := BuildChannel("rdpsnd", 1005, rec, t.TempDir())
	assert.Equal(t, ChannelKindUnknown, ch.Kind)

	for _, c := range chunksFor(t, []byte("opaque audio data")) {
		ch.OnServerToClientChunk(c)
	}
	require.Len(t, sink.msgs, 1)
	assert.Equal(t, recorder.CHANNEL_DATA, sink.msgs[0].Type)
	assert.Equal(t, []byte("opaque audio data"), sink.msgs[0].Payload)
}

func TestClassifyChannelIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, ChannelKindClipboard, classifyChannel("CLIPRDR"))
	assert.Equal(t, ChannelKindDevice, classifyChannel("Rdpdr"))
	assert.Equal(t, ChannelKindUnknown, classifyChannel("drdynvc"))
}
