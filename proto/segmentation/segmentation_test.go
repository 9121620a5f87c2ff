package segmentation

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/GoFeGroup/rdpmitm/proto/fastpath"
	"github.com/GoFeGroup/rdpmitm/proto/tpkt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufPeeker adapts a bufio.Reader to the Peeker interface for tests, the
// same shape core.Stream provides over a real net.Conn.
type bufPeeker struct{ r *bufio.Reader }

func newBufPeeker(data []byte) *bufPeeker { return &bufPeeker{r: bufio.NewReader(bytes.NewReader(data))} }

func (p *bufPeeker) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *bufPeeker) Peek(n int) []byte {
	b, err := p.r.Peek(n)
	if err != nil {
		panic(err)
	}
	return b
}

func TestDemuxSlowPathFrame(t *testing.T) {
	var buf bytes.Buffer
	tpkt.Write(&buf, []byte("x224 connection request"))

	frame, isFastPath := Demux(newBufPeeker(buf.Bytes()))
	assert.False(t, isFastPath)
	assert.Equal(t, buf.Bytes(), frame)
}

func TestDemuxFastPathFrame(t *testing.T) {
	var buf bytes.Buffer
	fastpath.Write(&buf, []byte("pointer move event"))

	frame, isFastPath := Demux(newBufPeeker(buf.Bytes()))
	assert.True(t, isFastPath)
	assert.Equal(t, buf.Bytes(), frame)
}

func TestDemuxFastPathLongFrame(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	var buf bytes.Buffer
	fastpath.Write(&buf, payload)

	frame, isFastPath := Demux(newBufPeeker(buf.Bytes()))
	assert.True(t, isFastPath)
	assert.Equal(t, buf.Bytes(), frame)
}

func TestRunDispatchesBothFramingsUntilEOF(t *testing.T) {
	var buf bytes.Buffer
	tpkt.Write(&buf, []byte("slow one"))
	fastpath.Write(&buf, []byte("fast one"))

	var slow, fast [][]byte
	err := Run(newBufPeeker(buf.Bytes()),
		func(frame []byte) { slow = append(slow, frame) },
		func(frame []byte) { fast = append(fast, frame) },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, slow, 1)
	require.Len(t, fast, 1)
}
