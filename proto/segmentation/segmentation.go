// Package segmentation implements the discriminator that sits directly on
// top of the transport, per spec.md §4.1/§4.2: peek the leading byte of the
// next frame and route it to either the TPKT/X.224 slow-path chain or the
// fast-path chain, since both framings can appear on the same TCP stream
// once the connection is established.
package segmentation

import (
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/proto/tpkt"
)

// Peeker is the narrow capability segmentation needs of the transport: look
// at the next byte without consuming it. core.Stream implements this.
type Peeker interface {
	io.Reader
	Peek(n int) []byte
}

// Demux reads exactly one complete frame from s and reports which framing
// it used. Slow-path frames are returned whole (TPKT header included, so
// the tpkt layer downstream still gets to parse its own header); fast-path
// frames are likewise returned whole, header included.
func Demux(s Peeker) (frame []byte, isFastPath bool) {
	lead := s.Peek(1)
	isFastPath = lead[0] != tpkt.Version
	if isFastPath {
		return readFastPathFrame(s), true
	}
	return readSlowPathFrame(s), false
}

// readSlowPathFrame reads a complete TPKT frame (header + body) by peeking
// the 4-byte header to learn its length, then consuming exactly that many
// bytes — segmentation owns frame delineation so every layer above it can
// assume Recv is called with one complete frame at a time.
func readSlowPathFrame(s Peeker) []byte {
	hdr := s.Peek(tpkt.HeaderSize)
	length := int(hdr[2])<<8 | int(hdr[3])
	core.ThrowIf(length < tpkt.HeaderSize, errShortTPKTLength(length))
	return core.ReadBytes(s, length)
}

// readFastPathFrame reads a complete fast-path frame by peeking its 2-or-3
// byte header to learn the payload length.
func readFastPathFrame(s Peeker) []byte {
	lead := s.Peek(2)
	var headerLen, payloadLen int
	if lead[1]&0x80 == 0 {
		headerLen = 2
		payloadLen = int(lead[1]) - 2
	} else {
		lead = s.Peek(3)
		headerLen = 3
		payloadLen = (int(lead[1]&0x7f)<<8 | int(lead[2])) - 3
	}
	core.ThrowIf(payloadLen < 0, errShortFastPathLength(payloadLen))
	return core.ReadBytes(s, headerLen+payloadLen)
}

type errShortTPKTLength int

func (e errShortTPKTLength) Error() string { return "segmentation: tpkt length field too short" }

type errShortFastPathLength int

func (e errShortFastPathLength) Error() string {
	return "segmentation: fast-path length field too short"
}

// OnUnknownHeader is a callback type for a leading byte that matches
// neither TPKT nor a plausible fast-path action code. Neither Demux nor Run
// calls one: Demux treats every lead byte other than the TPKT version as
// fast-path.
type OnUnknownHeader func(leadByte uint8)

// Run reads frames from s in a loop, handing slow-path frames to
// onSlowPath and fast-path frames to onFastPath, until s returns an error
// (typically io.EOF on disconnect). It is the driving loop for one
// direction of one connection leg.
func Run(s Peeker, onSlowPath, onFastPath func(frame []byte)) error {
	for {
		var frame []byte
		var isFastPath bool
		err := core.Try(func() {
			frame, isFastPath = Demux(s)
		})
		if err != nil {
			return err
		}
		if isFastPath {
			onFastPath(frame)
		} else {
			onSlowPath(frame)
		}
	}
}
