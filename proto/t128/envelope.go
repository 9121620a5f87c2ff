package t128

import (
	"bytes"
	"fmt"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/proto/mcs"
	"github.com/GoFeGroup/rdpmitm/proto/x224"
)

func readMcsSendDataIndication(r io.Reader) []byte {
	var res mcs.ReceiveDataResponse
	channelId, data := res.Read(r)
	glog.Debugf("t128: read pdu from channel %d, %d bytes", channelId, len(data))
	return data
}

// ReadPDU reads one complete slow-path PDU off r: an X.224 data TPDU
// carrying an MCS send-data-indication carrying a ShareControlHeader-framed
// PDU. Returns nil for PDU types this package does not model individually
// (see ParsePDU).
func ReadPDU(r io.Reader) PDU {
	body := bytes.NewReader(readMcsSendDataIndication(r))
	header := &ShareControlHeader{}
	header.Read(body)
	rest := core.ReadAllRemaining(body)
	return ParsePDU(header.PDUType, rest)
}

// ReadExpectedPDU reads one PDU and throws if its type does not match typ
// (masked to the PDUTYPE_* nibble).
func ReadExpectedPDU(r io.Reader, typ uint16) PDU {
	body := bytes.NewReader(readMcsSendDataIndication(r))
	header := &ShareControlHeader{}
	header.Read(body)
	core.ThrowIf(header.Type() != typ&0xF, fmt.Errorf("t128: expected pdu type %d, got %d", typ&0xF, header.Type()))
	rest := core.ReadAllRemaining(body)
	return ParsePDU(header.PDUType, rest)
}

// WritePDU wraps pdu in an X.224 data TPDU carrying an MCS send-data-request
// over the global channel, and writes it to w.
func WritePDU(w io.Writer, userId uint16, pdu PDU) {
	data := pdu.Serialize()
	header := &ShareControlHeader{
		PDUType:     pdu.Type(),
		PDUSource:   userId,
		TotalLength: uint16(len(data) + 6),
	}
	buf := new(bytes.Buffer)
	header.Write(buf)
	buf.Write(data)

	req := mcs.NewSendDataRequest(userId, mcs.MCS_CHANNEL_GLOBAL)
	x224.Write(w, req.Serialize(buf.Bytes()))
}

// ReadExpectedDataPDU reads a PDUTYPE_DATAPDU PDU and throws if its inner
// PDUType2 does not match type2.
func ReadExpectedDataPDU(r io.Reader, type2 uint8) DataPDU {
	pdu, ok := ReadExpectedPDU(r, PDUTYPE_DATAPDU).(*TsDataPduData)
	core.ThrowIf(!ok, fmt.Errorf("t128: expected data pdu"))
	core.ThrowIf(pdu.Pdu.Type2() != type2, fmt.Errorf("t128: expected pdu2 type %d, got %d", type2, pdu.Pdu.Type2()))
	return pdu.Pdu
}

// WriteDataPdu wraps pdu in a ShareDataHeader and writes it as a
// PDUTYPE_DATAPDU share-control PDU.
func WriteDataPdu(w io.Writer, userId uint16, shareId uint32, pdu DataPDU) {
	WritePDU(w, userId, NewDataPdu(pdu, shareId))
}
