// Package virtualchannel implements the generic MCS virtual-channel framing
// (MS-RDPBCGR §2.2.6.1): an 8-byte header (total length + flags) in front of
// each chunk, with FIRST/LAST flags marking multi-chunk reassembly, per
// spec.md §4.6.
package virtualchannel

import (
	"bytes"
	"fmt"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/layer"
)

// Chunk flags, MS-RDPBCGR §2.2.6.1.
const (
	CHANNEL_FLAG_FIRST         uint32 = 0x00000001
	CHANNEL_FLAG_LAST          uint32 = 0x00000002
	CHANNEL_FLAG_SHOW_PROTOCOL uint32 = 0x00000010
	CHANNEL_FLAG_SUSPEND       uint32 = 0x00000020
	CHANNEL_FLAG_RESUME        uint32 = 0x00000040
	CHANNEL_PACKET_COMPRESSED  uint32 = 0x00200000
	CHANNEL_PACKET_AT_FRONT    uint32 = 0x00400000
	CHANNEL_PACKET_FLUSHED     uint32 = 0x00800000

	ChunkMaxLength = 1600 // CHANNEL_CHUNK_LENGTH, MS-RDPBCGR §3.1.5.2.1
)

// Well-known channel names, matched case-insensitively against the GCC
// ClientNetworkData channel definitions to decide which application stack
// buildChannel wires up.
const (
	ChannelNameCliprdr = "cliprdr"
	ChannelNameRdpdr   = "rdpdr"
	ChannelNameRdpsnd  = "rdpsnd"
	ChannelNameDrdynvc = "drdynvc"
)

// ChunkHeader is the 8 bytes in front of every virtual channel PDU chunk.
type ChunkHeader struct {
	Length uint32 // total length of the reassembled PDU, not this chunk
	Flags  uint32
}

func (h *ChunkHeader) Read(r io.Reader) {
	core.ReadLE(r, &h.Length)
	core.ReadLE(r, &h.Flags)
}

func (h *ChunkHeader) Write(w io.Writer) {
	core.WriteLE(w, h.Length)
	core.WriteLE(w, h.Flags)
}

// Reassembler accumulates chunks until CHANNEL_FLAG_LAST, handing the
// caller the complete PDU bytes. One Reassembler serves one direction of
// one channel; it is not safe for concurrent use.
type Reassembler struct {
	buf bytes.Buffer
}

// Feed processes one chunk (header already stripped, data is the raw body
// following it) and returns the reassembled PDU once flags carries
// CHANNEL_FLAG_LAST, or (nil, false) while more chunks are expected.
func (r *Reassembler) Feed(header *ChunkHeader, data []byte) ([]byte, bool) {
	if header.Flags&CHANNEL_FLAG_FIRST != 0 {
		r.buf.Reset()
	}
	r.buf.Write(data)
	if header.Flags&CHANNEL_FLAG_LAST == 0 {
		return nil, false
	}
	out := make([]byte, r.buf.Len())
	copy(out, r.buf.Bytes())
	r.buf.Reset()
	return out, true
}

// ReadChunk reads one ChunkHeader plus its data from r. Unlike most other
// layers in this module, the channel chunk's own Length field does not
// bound how many bytes follow on the wire for this chunk specifically (that
// is capped at ChunkMaxLength by the sender and delineated by the MCS
// send-data PDU it travels inside) — callers pass exactly one MCS send-data
// body per call.
func ReadChunk(body []byte) (*ChunkHeader, []byte) {
	r := bytes.NewReader(body)
	h := &ChunkHeader{}
	h.Read(r)
	return h, core.ReadAllRemaining(r)
}

// WriteChunks splits data into ChunkMaxLength-sized chunks, each framed with
// a ChunkHeader whose Length is always the total reassembled length, and
// returns the serialized chunks ready to be sent as individual MCS
// send-data PDUs.
func WriteChunks(data []byte, showProtocol bool) [][]byte {
	if len(data) == 0 {
		data = []byte{}
	}
	var chunks [][]byte
	for offset := 0; offset == 0 || offset < len(data); offset += ChunkMaxLength {
		end := offset + ChunkMaxLength
		if end > len(data) {
			end = len(data)
		}
		flags := uint32(0)
		if offset == 0 {
			flags |= CHANNEL_FLAG_FIRST
		}
		if end == len(data) {
			flags |= CHANNEL_FLAG_LAST
		}
		if showProtocol {
			flags |= CHANNEL_FLAG_SHOW_PROTOCOL
		}
		h := &ChunkHeader{Length: uint32(len(data)), Flags: flags}
		buf := new(bytes.Buffer)
		h.Write(buf)
		buf.Write(data[offset:end])
		chunks = append(chunks, buf.Bytes())
		if len(data) == 0 {
			break
		}
	}
	return chunks
}

// Parser adapts chunk framing + reassembly to layer.Parser: Parse consumes
// one chunk and returns a complete reassembled PDU (as layer.PDU carrying
// []byte) only once CHANNEL_FLAG_LAST arrives, and (nil, nil, nil) while
// more chunks are needed.
type Parser struct {
	reassembler *Reassembler
}

// NewParser returns a Parser with its own per-direction reassembly state.
func NewParser() *Parser { return &Parser{reassembler: &Reassembler{}} }

func (p *Parser) Parse(data []byte) (layer.PDU, []byte, error) {
	h, body := ReadChunk(data)
	complete, ok := p.reassembler.Feed(h, body)
	if !ok {
		return nil, nil, nil
	}
	glog.Debugf("virtualchannel: reassembled %d bytes", len(complete))
	return complete, nil, nil
}

func (p *Parser) Serialize(pdu layer.PDU) ([]byte, error) {
	data, ok := pdu.([]byte)
	if !ok {
		return nil, fmt.Errorf("virtualchannel: serialize expects []byte, got %T", pdu)
	}
	chunks := WriteChunks(data, false)
	buf := new(bytes.Buffer)
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}
