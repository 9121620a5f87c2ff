package recorder

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/GoFeGroup/rdpmitm/glog"
)

// socketSinkWriteBufferDepth bounds how many frames may queue for a slow or
// stalled live viewer before the sink starts dropping them — a live player
// is a convenience, not a record of truth, so it is never allowed to apply
// backpressure onto the proxied session (spec.md §5).
const socketSinkWriteBufferDepth = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SocketSink streams recorded frames to a single connected live-player
// websocket client. Writes happen on a dedicated goroutine so a slow
// network peer never blocks the session goroutine that calls Recorder.record.
type SocketSink struct {
	conn   *websocket.Conn
	parser Parser
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewSocketSink upgrades r/w to a websocket connection and returns a Sink
// writing framed recording messages to it.
func NewSocketSink(w http.ResponseWriter, r *http.Request) (*SocketSink, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("recorder: websocket upgrade: %w", err)
	}
	s := &SocketSink{
		conn:  conn,
		queue: make(chan []byte, socketSinkWriteBufferDepth),
		done:  make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

func (s *SocketSink) pump() {
	for {
		select {
		case data, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				glog.Warnf("recorder: live player write failed, dropping connection: %v", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *SocketSink) Write(msg *PlayerMessagePDU) error {
	data, err := s.parser.Serialize(msg)
	if err != nil {
		return err
	}
	select {
	case s.queue <- data:
	default:
		glog.Warnf("recorder: live player queue full, dropping frame")
	}
	return nil
}

func (s *SocketSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.conn.Close()
}
