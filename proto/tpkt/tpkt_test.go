package tpkt

import (
	"bytes"
	"testing"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/stretchr/testify/assert"
)

func TestReadTPKTHeader(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected *Header
		wantErr  bool
	}{
		{
			name: "valid header",
			data: []byte{0x03, 0x00, 0x00, 0x08},
			expected: &Header{
				Version:  3,
				Reserved: 0,
				Length:   8,
			},
		},
		{
			name:    "invalid version",
			data:    []byte{0x02, 0x00, 0x00, 0x08},
			wantErr: true,
		},
		{
			name:    "incomplete header",
			data:    []byte{0x03, 0x00, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := bytes.NewReader(tt.data)
			header := &Header{}

			var err error
			core.TryCatch(func() {
				header.Read(reader)
			}, func(e any) {
				err = e.(error)
			})

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected.Version, header.Version)
				assert.Equal(t, tt.expected.Length, header.Length)
			}
		})
	}
}

func TestWriteTPKTHeader(t *testing.T) {
	header := &Header{Version: 3, Reserved: 0, Length: 8}
	var buf bytes.Buffer
	header.Write(&buf)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x08}, buf.Bytes())
}

func TestReadTPKTPacket(t *testing.T) {
	packetData := []byte{0x03, 0x00, 0x00, 0x0A, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	data := Read(bytes.NewReader(packetData))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, data)
}

func TestWriteThenReadTPKTPacket(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	var buf bytes.Buffer
	Write(&buf, data)
	readData := Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, data, readData)
}

func TestTPKTPacketLargeData(t *testing.T) {
	largeData := make([]byte, 8192)
	for i := range largeData {
		largeData[i] = byte(i % 256)
	}
	var buf bytes.Buffer
	Write(&buf, largeData)
	readData := Read(bytes.NewReader(buf.Bytes()))
	assert.Equal(t, largeData, readData)
}

func TestTPKTPacketInvalidLengthPanics(t *testing.T) {
	invalidPacket := []byte{0x03, 0x00, 0x00, 0x05}
	assert.Panics(t, func() {
		Read(bytes.NewReader(invalidPacket))
	})
}

func TestTPKTPacketEOFPanics(t *testing.T) {
	assert.Panics(t, func() {
		Read(bytes.NewReader([]byte{}))
	})
}

func TestWriteTPKTPacketTooLargePanics(t *testing.T) {
	largeData := make([]byte, MaxLength)
	var buf bytes.Buffer
	assert.Panics(t, func() {
		Write(&buf, largeData)
	})
}

func TestParserRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, []byte("x224 body"))

	p := Parser{}
	pdu, remainder, err := p.Parse(buf.Bytes())
	assert.NoError(t, err)
	assert.Equal(t, []byte("x224 body"), remainder)
	assert.Equal(t, []byte("x224 body"), pdu.(*Frame).Body)

	out, err := p.Serialize([]byte("x224 body"))
	assert.NoError(t, err)
	assert.Equal(t, buf.Bytes(), out)
}
