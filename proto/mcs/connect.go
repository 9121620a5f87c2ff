package mcs

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
)

// BER tags for the Connect-GCC-PDU T.125 application-class wrappers that
// Connect Initial/Response are carried as, per MS-RDPBCGR §2.2.1.3/§2.2.1.4.
// Both use the BER high-tag-number form (tag > 30), so core.Asn1 (whose Tag
// field is a single byte) can't express them directly; everything nested
// inside the wrapper uses core.Asn1/core.WriteAsn1 as-is.
//
// The GCC ConferenceCreateRequest/Response's own PER header (conference
// name, H.221 non-standard key, flags) is not reproduced: this module's
// gcc package already treats the CS_*/SC_* blocks as the direct user data
// payload (see gcc.ClientData.Serialize), so userData below carries those
// blocks unwrapped rather than nested inside a second PER-encoded layer.
var (
	berTagConnectInitial  = []byte{0x7f, 0x65} // APPLICATION 101, constructed
	berTagConnectResponse = []byte{0x7f, 0x66} // APPLICATION 102, constructed
)

const (
	berTagSequence    uint8 = 0x30
	berTagInteger     uint8 = 0x02
	berTagOctetString uint8 = 0x04
	berTagBoolean     uint8 = 0x01
	berTagResult      uint8 = 0x0a // ENUMERATED
)

// DomainParameters is T.125's DomainParameters SEQUENCE, negotiated three
// times (target/minimum/maximum) in every Connect Initial, and once more
// (the server's chosen values) in Connect Response, MS-RDPBCGR §2.2.1.3.1.
type DomainParameters struct {
	MaxChannelIds   int
	MaxUserIds      int
	MaxTokenIds     int
	NumPriorities   int
	MinThroughput   int
	MaxHeight       int
	MaxMCSPDUsize   int
	ProtocolVersion int
}

// Standard target/minimum/maximum DomainParameters triples every RDP
// client sends, MS-RDPBCGR §2.2.1.3.1 and T.125 Annex A's worked example.
var (
	TargetDomainParameters  = DomainParameters{34, 2, 0, 1, 0, 1, 0xffff, 2}
	MinimumDomainParameters = DomainParameters{1, 1, 1, 0, 0, 1, 0x420, 2}
	MaximumDomainParameters = DomainParameters{0xffff, 0xfc17, 0xffff, 1, 0, 1, 0xffff, 2}
)

func (d DomainParameters) write(w io.Writer) {
	body := new(bytes.Buffer)
	writeBERInt(body, d.MaxChannelIds)
	writeBERInt(body, d.MaxUserIds)
	writeBERInt(body, d.MaxTokenIds)
	writeBERInt(body, d.NumPriorities)
	writeBERInt(body, d.MinThroughput)
	writeBERInt(body, d.MaxHeight)
	writeBERInt(body, d.MaxMCSPDUsize)
	writeBERInt(body, d.ProtocolVersion)
	core.WriteAsn1(w, berTagSequence, body.Bytes())
}

func readDomainParameters(r io.Reader) DomainParameters {
	body := readBERElement(r, berTagSequence)
	br := bytes.NewReader(body)
	return DomainParameters{
		MaxChannelIds:   readBERInt(br),
		MaxUserIds:      readBERInt(br),
		MaxTokenIds:     readBERInt(br),
		NumPriorities:   readBERInt(br),
		MinThroughput:   readBERInt(br),
		MaxHeight:       readBERInt(br),
		MaxMCSPDUsize:   readBERInt(br),
		ProtocolVersion: readBERInt(br),
	}
}

// ConnectInitial is the first PDU of the MCS domain: the client's three
// DomainParameters proposals plus the GCC user data blocks, carried as an
// X.224 Data TPDU body on each connection leg.
type ConnectInitial struct {
	CallingDomainSelector byte
	CalledDomainSelector  byte
	UpwardFlag            bool
	Target                DomainParameters
	Minimum               DomainParameters
	Maximum               DomainParameters
	UserData              []byte // gcc.ClientData.Serialize() output
}

// NewConnectInitial builds a ConnectInitial with the standard domain
// selectors/flag and the conventional target/minimum/maximum parameters,
// carrying userData (the client's GCC blocks).
func NewConnectInitial(userData []byte) *ConnectInitial {
	return &ConnectInitial{
		CallingDomainSelector: 1,
		CalledDomainSelector:  1,
		UpwardFlag:            true,
		Target:                TargetDomainParameters,
		Minimum:               MinimumDomainParameters,
		Maximum:               MaximumDomainParameters,
		UserData:              userData,
	}
}

func (c *ConnectInitial) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteAsn1(body, berTagOctetString, []byte{c.CallingDomainSelector})
	core.WriteAsn1(body, berTagOctetString, []byte{c.CalledDomainSelector})
	writeBERBool(body, c.UpwardFlag)
	c.Target.write(body)
	c.Minimum.write(body)
	c.Maximum.write(body)
	core.WriteAsn1(body, berTagOctetString, c.UserData)

	buf := new(bytes.Buffer)
	writeBERAppTagged(buf, berTagConnectInitial, body.Bytes())
	return buf.Bytes()
}

// ReadConnectInitial parses a ConnectInitial PDU body (the X.224 Data TPDU
// payload, already delineated by the caller).
func ReadConnectInitial(data []byte) *ConnectInitial {
	r := bytes.NewReader(data)
	body := readBERAppTagged(r, berTagConnectInitial)
	br := bytes.NewReader(body)

	callingSel := readBERElement(br, berTagOctetString)
	calledSel := readBERElement(br, berTagOctetString)
	upward := readBERBool(br)
	target := readDomainParameters(br)
	minimum := readDomainParameters(br)
	maximum := readDomainParameters(br)
	userData := readBERElement(br, berTagOctetString)

	ci := &ConnectInitial{UpwardFlag: upward, Target: target, Minimum: minimum, Maximum: maximum, UserData: userData}
	if len(callingSel) > 0 {
		ci.CallingDomainSelector = callingSel[0]
	}
	if len(calledSel) > 0 {
		ci.CalledDomainSelector = calledSel[0]
	}
	glog.Debugf("mcs: connect-initial userData=%d bytes", len(userData))
	return ci
}

// Connect Response result codes, T.125 §7 Result.
const ResultSuccess uint8 = 0

// ConnectResponse is the server's reply to ConnectInitial, carrying the
// negotiated DomainParameters and the GCC server data blocks.
type ConnectResponse struct {
	Result          uint8
	CalledConnectId int
	Params          DomainParameters
	UserData        []byte // gcc SC_CORE/SC_SECURITY/SC_NET blocks, concatenated
}

func NewConnectResponse(userData []byte) *ConnectResponse {
	return &ConnectResponse{Result: ResultSuccess, CalledConnectId: 0, Params: TargetDomainParameters, UserData: userData}
}

func (c *ConnectResponse) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteAsn1(body, berTagResult, []byte{c.Result})
	writeBERInt(body, c.CalledConnectId)
	c.Params.write(body)
	core.WriteAsn1(body, berTagOctetString, c.UserData)

	buf := new(bytes.Buffer)
	writeBERAppTagged(buf, berTagConnectResponse, body.Bytes())
	return buf.Bytes()
}

// ReadConnectResponse parses a ConnectResponse PDU body.
func ReadConnectResponse(data []byte) *ConnectResponse {
	r := bytes.NewReader(data)
	body := readBERAppTagged(r, berTagConnectResponse)
	br := bytes.NewReader(body)

	resultBytes := readBERElement(br, berTagResult)
	core.ThrowIf(len(resultBytes) == 0, errEmptyResult{})
	result := resultBytes[len(resultBytes)-1]
	connectId := readBERInt(br)
	params := readDomainParameters(br)
	userData := readBERElement(br, berTagOctetString)

	glog.Debugf("mcs: connect-response result=%d userData=%d bytes", result, len(userData))
	return &ConnectResponse{Result: result, CalledConnectId: connectId, Params: params, UserData: userData}
}

type errEmptyResult struct{}

func (errEmptyResult) Error() string { return "mcs: empty connect-response result" }

// --- BER helpers built on core.Asn1/core.WriteAsn1 ---

func writeBERBool(w io.Writer, v bool) {
	b := byte(0x00)
	if v {
		b = 0xff
	}
	core.WriteAsn1(w, berTagBoolean, []byte{b})
}

func readBERBool(r io.Reader) bool {
	body := readBERElement(r, berTagBoolean)
	return len(body) > 0 && body[0] != 0
}

// writeBERInt writes v as a minimal big-endian two's-complement BER
// INTEGER, prefixing a zero byte when the high bit would otherwise flip
// the sign of an intended-non-negative value.
func writeBERInt(w io.Writer, v int) {
	core.WriteAsn1(w, berTagInteger, berIntegerBytes(v))
}

func readBERInt(r io.Reader) int {
	body := readBERElement(r, berTagInteger)
	v := 0
	for _, b := range body {
		v = v<<8 | int(b)
	}
	return v
}

func berIntegerBytes(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var b []byte
	x := uint64(v)
	for x > 0 {
		b = append([]byte{byte(x & 0xff)}, b...)
		x >>= 8
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

// readBERElement reads one core.Asn1 element and asserts its tag.
func readBERElement(r io.Reader, wantTag uint8) []byte {
	a := &core.Asn1{}
	a.Read(r)
	core.ThrowIf(a.Tag != wantTag, errUnexpectedBERTag{wantTag})
	return a.Value
}

type errUnexpectedBERTag struct{ tag uint8 }

func (e errUnexpectedBERTag) Error() string { return "mcs: unexpected ber tag" }

// writeBERAppTagged writes appTag (a 2-byte BER high-tag-number identifier,
// e.g. berTagConnectInitial) followed by body's BER length and bytes.
func writeBERAppTagged(w io.Writer, appTag []byte, body []byte) {
	core.WriteFull(w, appTag)
	n := len(body)
	if n < 0x80 {
		core.WriteBE(w, uint8(n))
	} else {
		var lenBytes []byte
		for n > 0 {
			lenBytes = append([]byte{byte(n & 0xff)}, lenBytes...)
			n >>= 8
		}
		core.WriteBE(w, uint8(0x80|len(lenBytes)))
		core.WriteFull(w, lenBytes)
	}
	core.WriteFull(w, body)
}

// readBERAppTagged reads a 2-byte high-tag-number identifier, asserts it
// matches wantTag, and returns the length-delimited body.
func readBERAppTagged(r io.Reader, wantTag []byte) []byte {
	got := core.ReadBytes(r, len(wantTag))
	core.ThrowIf(!bytes.Equal(got, wantTag), errUnexpectedAppTag(got))
	length := readBERLengthOnly(r)
	return core.ReadBytes(r, length)
}

func readBERLengthOnly(r io.Reader) int {
	var b0 uint8
	core.ReadBE(r, &b0)
	if b0&0x80 == 0 {
		return int(b0)
	}
	n := int(b0 & 0x7f)
	buf := core.ReadBytes(r, n)
	v := 0
	for _, b := range buf {
		v = v<<8 | int(b)
	}
	return v
}

type errUnexpectedAppTag []byte

func (e errUnexpectedAppTag) Error() string { return "mcs: unexpected ber application tag" }
