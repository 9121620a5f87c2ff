package core

import (
	"bufio"
	"crypto/rsa"
	"crypto/tls"
	"net"
	"time"

	"github.com/huin/asn1ber"
)

// Stream wraps a net.Conn with a peekable, bufio-backed reader so the
// segmentation layer can look at the leading header byte without consuming
// it, and supports upgrading in place to TLS once X.224 negotiation selects
// it — on both the victim-facing (server) side and the target-facing
// (client) side of the MITM.
type Stream struct {
	c net.Conn
	b *bufio.ReadWriter

	r func([]byte) (int, error)
	w func([]byte) (int, error)
}

func newStream(c net.Conn) *Stream {
	s := &Stream{c: c}
	s.r = c.Read
	s.w = c.Write
	return s
}

// DialStream opens the MITM's outbound (target-facing) connection.
func DialStream(addr string, timeout time.Duration) (*Stream, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return newStream(conn), nil
}

// AcceptStream wraps an already-accepted inbound (victim-facing) connection.
func AcceptStream(conn net.Conn) *Stream {
	return newStream(conn)
}

func (s *Stream) Read(b []byte) (int, error)  { return s.r(b) }
func (s *Stream) Write(b []byte) (int, error) { return s.w(b) }

// Peek returns the next n bytes without consuming them.
func (s *Stream) Peek(n int) []byte {
	s.ensureBuffered()
	d, err := s.b.Peek(n)
	ThrowError(err)
	return d
}

func (s *Stream) ensureBuffered() {
	if s.b == nil {
		s.b = bufio.NewReadWriter(bufio.NewReader(s.c), bufio.NewWriter(s.c))
		s.r = s.b.Read
		s.w = func(b []byte) (int, error) {
			n, err := s.b.Write(b)
			if err == nil {
				err = s.b.Flush()
			}
			return n, err
		}
	}
}

// StartClientTLS upgrades the outbound (target-facing) connection to TLS,
// acting as the TLS client. serverName is left empty and verification
// disabled: the MITM must connect to whatever certificate the target
// presents, it is not in a position to validate it on the victim's behalf.
func (s *Stream) StartClientTLS() error {
	conf := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // MITM must accept whatever cert the target presents
		MinVersion:         tls.VersionTLS10,
		MaxVersion:         tls.VersionTLS13,
	}
	tlsConn := tls.Client(s.c, conf)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	s.c = tlsConn
	s.b = nil
	s.r = tlsConn.Read
	s.w = tlsConn.Write
	return nil
}

// StartServerTLS upgrades the inbound (victim-facing) connection to TLS,
// acting as the TLS server, terminating the victim's TLS handshake with
// the configured certificate/key so the MITM can read their plaintext.
func (s *Stream) StartServerTLS(cert tls.Certificate) error {
	conf := &tls.Config{Certificates: []tls.Certificate{cert}}
	tlsConn := tls.Server(s.c, conf)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	s.c = tlsConn
	s.b = nil
	s.r = tlsConn.Read
	s.w = tlsConn.Write
	return nil
}

// PeerCertificatePublicKeyBER BER-encodes the RSA public key of the first
// certificate the peer presented during TLS. Nothing in this module calls
// it; the native-security path reads the server key from the SC_SECURITY
// certificate chain instead (mitm/native_security.go).
func (s *Stream) PeerCertificatePublicKeyBER() ([]byte, error) {
	tlsConn, ok := s.c.(*tls.Conn)
	if !ok {
		return nil, errNotTLS{}
	}
	pub := tlsConn.ConnectionState().PeerCertificates[0].PublicKey.(*rsa.PublicKey)
	return asn1ber.Marshal(*pub)
}

type errNotTLS struct{}

func (errNotTLS) Error() string { return "core: stream is not running over tls" }

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.c.Close() }

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

// processStart anchors NowMillis: its wall-clock reading gives the epoch
// offset and its monotonic reading the elapsed time.
var processStart = time.Now()

// NowMillis returns a monotonic wall-clock timestamp in milliseconds,
// the unit the recorder frames every event with.
func NowMillis() int64 {
	return processStart.UnixMilli() + time.Since(processStart).Milliseconds()
}
