// Package recorder implements the session recording sink described in
// spec.md §4.8 and §6: every interesting event (slow-path PDU, fast-path
// input/output, clipboard data, the ClientInfo PDU, connection close) is
// framed as messageType:u8‖timestamp_ms:u64LE‖payload and broadcast to every
// attached sink — a file sink for offline playback, and an optional
// websocket sink for a live viewer — grounded on pyrdp's
// PlayerMessageLayer/PlayerMessagePDU framing (original_source
// layer/recording.py) and reworked into this module's layer.Parser idiom.
package recorder

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/layer"
)

// MessageType tags the payload of a recorded message, matching the set
// spec.md §6 names as the recording file's external interface.
type MessageType uint8

const (
	CONNECTION_CLOSE MessageType = 0
	CLIENT_INFO      MessageType = 1
	SLOW_PATH_PDU    MessageType = 2
	FAST_PATH_INPUT  MessageType = 3
	FAST_PATH_OUTPUT MessageType = 4
	CLIPBOARD_DATA   MessageType = 5
	CLIENT_DATA      MessageType = 6
	CHANNEL_DATA     MessageType = 7
)

// PlayerMessagePDU is one framed recording event.
type PlayerMessagePDU struct {
	Type      MessageType
	Timestamp int64 // milliseconds, core.NowMillis()
	Payload   []byte
}

// Subtag implements layer.Subtagged so a RoutedObserver can dispatch
// recorded events to per-type hooks (used by offline analysis/player code,
// not by the recorder itself, which just writes frames).
func (p *PlayerMessagePDU) Subtag() interface{} { return p.Type }

// Parser implements layer.Parser for the recording frame format. Recv is not
// meaningful for a write-only sink, but Parse is kept symmetric so a replay
// tool can read a recording file through the same Layer machinery it was
// written with.
type Parser struct{}

func (Parser) Parse(data []byte) (layer.PDU, []byte, error) {
	if len(data) < 9 {
		return nil, nil, nil
	}
	r := bytes.NewReader(data)
	var typ uint8
	var ts uint64
	core.ReadLE(r, &typ)
	core.ReadLE(r, &ts)
	payload := core.ReadAllRemaining(r)
	return &PlayerMessagePDU{Type: MessageType(typ), Timestamp: int64(ts), Payload: payload}, nil, nil
}

func (Parser) Serialize(pdu layer.PDU) ([]byte, error) {
	msg, ok := pdu.(*PlayerMessagePDU)
	if !ok {
		return nil, fmt.Errorf("recorder: serialize expects *PlayerMessagePDU, got %T", pdu)
	}
	buf := new(bytes.Buffer)
	core.WriteLE(buf, uint8(msg.Type))
	core.WriteLE(buf, uint64(msg.Timestamp))
	buf.Write(msg.Payload)
	return buf.Bytes(), nil
}

// Sink receives every recorded frame. Implementations must not block the
// session goroutine for long — spec.md §5 forbids anything in the hot path
// that could stall a single-goroutine-per-session design.
type Sink interface {
	Write(msg *PlayerMessagePDU) error
	Close() error
}

// FileSink appends frames to a recording file opened at session start, one
// per session per spec.md §9 ("the recorder is a per-session object, not a
// shared global").
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	parser Parser
}

// NewFileSink creates (or truncates) path and returns a Sink writing to it.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", path, err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(msg *PlayerMessagePDU) error {
	data, err := s.parser.Serialize(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(data)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// WriterSink adapts any io.WriteCloser (used by tests, and by callers who
// already have an open file/pipe) to Sink.
type WriterSink struct {
	mu     sync.Mutex
	w      io.WriteCloser
	parser Parser
}

func NewWriterSink(w io.WriteCloser) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Write(msg *PlayerMessagePDU) error {
	data, err := s.parser.Serialize(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(data)
	return err
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}

// Recorder fans every recorded event out to all attached sinks. One
// Recorder is constructed per session by the MITM orchestrator; it holds no
// package-level state, per spec.md §9.
type Recorder struct {
	mu    sync.Mutex
	sinks []Sink
	now   func() int64
}

// New returns a Recorder with no sinks attached; call AddSink before use.
// now supplies the monotonic millisecond clock (core.NowMillis in
// production, an injectable stub in tests since recorded timestamps must
// not depend on wall-clock time during replay-equality assertions).
func New(now func() int64) *Recorder {
	return &Recorder{now: now}
}

// AddSink registers a sink; safe to call while the recorder is in use.
func (r *Recorder) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// record builds a PlayerMessagePDU with the current timestamp and writes it
// to every sink, logging (not failing the session) on a sink write error —
// a disconnected live viewer must never tear down the proxied connection.
func (r *Recorder) record(typ MessageType, payload []byte) {
	msg := &PlayerMessagePDU{Type: typ, Timestamp: r.now(), Payload: payload}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		if err := s.Write(msg); err != nil {
			glog.Warnf("recorder: sink write failed: %v", err)
		}
	}
}

func (r *Recorder) RecordConnectionClose()            { r.record(CONNECTION_CLOSE, nil) }
func (r *Recorder) RecordClientInfo(payload []byte)   { r.record(CLIENT_INFO, payload) }
func (r *Recorder) RecordSlowPathPDU(payload []byte)  { r.record(SLOW_PATH_PDU, payload) }
func (r *Recorder) RecordFastPathInput(payload []byte)  { r.record(FAST_PATH_INPUT, payload) }
func (r *Recorder) RecordFastPathOutput(payload []byte) { r.record(FAST_PATH_OUTPUT, payload) }
func (r *Recorder) RecordClipboardData(payload []byte)  { r.record(CLIPBOARD_DATA, payload) }
func (r *Recorder) RecordClientData(payload []byte)     { r.record(CLIENT_DATA, payload) }

// RecordChannelData records raw passthrough bytes from a static virtual
// channel this MITM has no dedicated stealer for (anything but CLIPRDR and
// RDPDR). Kept distinct from CLIENT_DATA so a replay tool keyed by the
// message_type→parser table doesn't try to run the GCC ClientData parser
// over an unrelated channel's bytes.
func (r *Recorder) RecordChannelData(payload []byte) { r.record(CHANNEL_DATA, payload) }

// Close closes every attached sink, returning the first error encountered
// but still attempting to close the rest.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
