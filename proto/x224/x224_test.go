package x224

import (
	"bytes"
	"testing"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadX224Header(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected *Header
		wantErr  bool
	}{
		{
			name: "valid header",
			data: []byte{0x02, 0xf0, 0x80, 0x7f, 0x65, 0x82, 0x01, 0x94},
			expected: &Header{
				Length:  0x02,
				PduType: 0xf0,
				DstRef:  0x807f,
				SrcRef:  0x6582,
				Flags:   0x01,
			},
		},
		{
			name:    "incomplete header",
			data:    []byte{0x02, 0xf0, 0x80},
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
				assert.Equal(t, tt.expected.PduType, header.PduType)
				assert.Equal(t, tt.expected.Length, header.Length)
				assert.Equal(t, tt.expected.DstRef, header.DstRef)
				assert.Equal(t, tt.expected.SrcRef, header.SrcRef)
				assert.Equal(t, tt.expected.Flags, header.Flags)
			}
		})
	}
}

func TestWriteX224Header(t *testing.T) {
	header := &Header{
		Length:  0x02,
		PduType: 0xf0,
		DstRef:  0x807f,
		SrcRef:  0x6582,
		Flags:   0x01,
	}

	var buf bytes.Buffer
	header.Write(&buf)
	assert.Equal(t, []byte{0x02, 0xf0, 0x80, 0x7f, 0x65, 0x82, 0x01}, buf.Bytes())
}

func TestConnectionRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteConnectionRequest(&buf, &ConnectionRequestPDU{
		Cookie:      "Cookie: mstshash=victim",
		Negotiation: &Negotiation{Type: TypeNegReq, Result: ProtocolSSL | ProtocolHybrid},
	})

	pdu := ReadPDU(bytes.NewReader(buf.Bytes()))
	cr, ok := pdu.(*ConnectionRequestPDU)
	require.True(t, ok)
	assert.Equal(t, "Cookie: mstshash=victim", cr.Cookie)
	require.NotNil(t, cr.Negotiation)
	assert.Equal(t, TypeNegReq, cr.Negotiation.Type)
	assert.Equal(t, ProtocolSSL|ProtocolHybrid, cr.Negotiation.Result)
}

func TestConnectionConfirmRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteConnectionConfirm(&buf, &ConnectionConfirmPDU{
		Negotiation: &Negotiation{Type: TypeNegRsp, Result: ProtocolSSL},
	})

	pdu := ReadPDU(bytes.NewReader(buf.Bytes()))
	cc, ok := pdu.(*ConnectionConfirmPDU)
	require.True(t, ok)
	require.NotNil(t, cc.Negotiation)
	assert.Equal(t, ProtocolSSL, cc.Negotiation.Result)
}

func TestNegotiationFailureIsNLAFailure(t *testing.T) {
	n := &Negotiation{Type: TypeNegFailure, Result: FailureHybridRequiredByServer}
	assert.True(t, n.IsFailure())
	assert.True(t, n.IsNLAFailure())

	other := &Negotiation{Type: TypeNegFailure, Result: FailureSSLRequiredByServer}
	assert.True(t, other.IsFailure())
	assert.False(t, other.IsNLAFailure())
}

func TestDataTPDURoundTrip(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, []byte("mcs connect-initial body"))

	pdu := ReadPDU(bytes.NewReader(buf.Bytes()))
	dt, ok := pdu.(*DataPDU)
	require.True(t, ok)
	assert.Equal(t, []byte("mcs connect-initial body"), dt.Body)
}

func TestReadReturnsDataBodyForDataTPDU(t *testing.T) {
	var buf bytes.Buffer
	Write(&buf, []byte("payload"))
	assert.Equal(t, []byte("payload"), Read(bytes.NewReader(buf.Bytes())))
}

func TestDisconnectRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteDisconnectRequest(&buf, 0x05)

	pdu := ReadPDU(bytes.NewReader(buf.Bytes()))
	dr, ok := pdu.(*DisconnectRequestPDU)
	require.True(t, ok)
	assert.Equal(t, uint8(0x05), dr.Reason)
}
