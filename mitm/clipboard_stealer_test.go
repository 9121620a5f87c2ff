package mitm

import (
	"sync"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoFeGroup/rdpmitm/proto/clipboard"
	"github.com/GoFeGroup/rdpmitm/proto/virtualchannel"
	"github.com/GoFeGroup/rdpmitm/recorder"
)

func encodeNullTerminatedUTF16(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, (len(units)+1)*2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return append(out, 0, 0)
}

type memSink struct {
	mu   sync.Mutex
	msgs []*recorder.PlayerMessagePDU
}

func (s *memSink) Write(msg *recorder.PlayerMessagePDU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memSink) Close() error { return nil }

func feedChunks(ch *Channel, data []byte, serverToClient bool) (inject []byte, injected bool) {
	for _, chunk := range virtualchannel.WriteChunks(data, false) {
		if serverToClient {
			if out, ok := ch.OnServerToClientChunk(chunk); ok {
				inject, injected = out, true
			}
			continue
		}
		ch.OnClientToServerChunk(chunk)
	}
	return inject, injected
}

// TestClipboardCaptureScenario reproduces spec.md's end-to-end clipboard
// capture trace through the real Channel routing the session uses: the
// server announces CF_UNICODETEXT, the stealer auto-requests it, and the
// server's FormatDataResponsePDU — which, like the announcement, arrives
// server-to-client — is captured and recorded.
func TestClipboardCaptureScenario(t *testing.T) {
	rec := recorder.New(func() int64 { return 0 })
	sink := &memSink{}
	rec.AddSink(sink)
	ch := BuildChannel("cliprdr", 1004, rec, "")

	announce := &clipboard.FormatListPDU{Formats: []clipboard.FormatListEntry{
		{FormatID: clipboard.CLIPRDR_FORMAT_UNICODETEXT, FormatName: ""},
	}}
	inject, ok := feedChunks(ch, clipboard.WriteMessage(announce, 0), true)
	require.True(t, ok)
	require.NotNil(t, inject)

	hdr, pdu := clipboard.ReadMessage(inject)
	require.Equal(t, clipboard.CB_TYPE_FORMAT_DATA_REQUEST, hdr.MsgType)
	reqPDU := pdu.(*clipboard.FormatDataRequestPDU)
	assert.Equal(t, clipboard.CLIPRDR_FORMAT_UNICODETEXT, reqPDU.FormatID)

	// The injected request travels to the target; its response comes back
	// on the same server-to-client direction, not client-to-server.
	resp := &clipboard.FormatDataResponsePDU{Data: encodeNullTerminatedUTF16("hello")}
	_, respInjected := feedChunks(ch, clipboard.WriteMessage(resp, 0), true)
	assert.False(t, respInjected)

	require.Len(t, sink.msgs, 1)
	assert.Equal(t, recorder.CLIPBOARD_DATA, sink.msgs[0].Type)
	assert.Equal(t, "hello", string(sink.msgs[0].Payload))
}

func TestClipboardStealerIgnoresNonTextFormats(t *testing.T) {
	cs := NewClipboardStealer()
	announce := &clipboard.FormatListPDU{Formats: []clipboard.FormatListEntry{
		{FormatID: clipboard.CLIPRDR_FORMAT_PNG},
	}}
	inject, _, hasCaptured := cs.OnServerToClient(announce)
	assert.Nil(t, inject)
	assert.False(t, hasCaptured)
}

func TestClipboardStealerIgnoresResponsesWithoutAPendingRequest(t *testing.T) {
	cs := NewClipboardStealer()
	inject, _, hasCaptured := cs.OnServerToClient(&clipboard.FormatDataResponsePDU{Data: []byte("unsolicited")})
	assert.Nil(t, inject)
	assert.False(t, hasCaptured)
}

// TestClipboardClientToServerNeverCapturesStealerResponse guards against
// regressing to the old wiring: even if a FormatDataResponsePDU happens to
// travel client-to-server, the stealer must not capture it there, and the
// channel must not record it as clipboard data.
func TestClipboardClientToServerNeverCapturesStealerResponse(t *testing.T) {
	rec := recorder.New(func() int64 { return 0 })
	sink := &memSink{}
	rec.AddSink(sink)
	ch := BuildChannel("cliprdr", 1004, rec, "")

	announce := &clipboard.FormatListPDU{Formats: []clipboard.FormatListEntry{
		{FormatID: clipboard.CLIPRDR_FORMAT_UNICODETEXT, FormatName: ""},
	}}
	_, ok := feedChunks(ch, clipboard.WriteMessage(announce, 0), true)
	require.True(t, ok)

	resp := &clipboard.FormatDataResponsePDU{Data: encodeNullTerminatedUTF16("hello")}
	feedChunks(ch, clipboard.WriteMessage(resp, 0), false)

	assert.Empty(t, sink.msgs)
}
