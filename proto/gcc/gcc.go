// Package gcc implements the Generic Conference Control (T.124) user data
// blocks carried inside MCS's Connect Initial/Connect Response: the client
// and server Core/Security/Network/Cluster data, per spec.md §4.4.
package gcc

import (
	"bytes"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
)

// User data block types, MS-RDPBCGR §2.2.1.3/§2.2.1.4.
const (
	CS_CORE    uint16 = 0xC001
	CS_SECURITY uint16 = 0xC002
	CS_NET     uint16 = 0xC003
	CS_CLUSTER uint16 = 0xC004

	SC_CORE     uint16 = 0x0C01
	SC_SECURITY uint16 = 0x0C02
	SC_NET      uint16 = 0x0C03
)

// blockHeader is the 4-byte {type, length} header every GCC user data
// block begins with; length includes these 4 bytes.
type blockHeader struct {
	Type   uint16
	Length uint16
}

func (h *blockHeader) read(r io.Reader) {
	core.ReadLE(r, &h.Type)
	core.ReadLE(r, &h.Length)
}

func (h *blockHeader) write(w io.Writer) {
	core.WriteLE(w, h.Type)
	core.WriteLE(w, h.Length)
}

// Want32BppSession is RNS_UD_CS_WANT_32BPP_SESSION, one bit of
// ClientCoreData.EarlyCapabilityFlags, MS-RDPBCGR §2.2.1.3.2.
const Want32BppSession uint16 = 0x0002

// ClientCoreData is CS_CORE: the client's requested desktop/color settings
// and RDP version, MS-RDPBCGR §2.2.1.3.2.
type ClientCoreData struct {
	Version              uint32
	DesktopWidth          uint16
	DesktopHeight         uint16
	ColorDepth            uint16
	SASSequence           uint16
	KeyboardLayout        uint32
	ClientBuild           uint32
	ClientName            [32]byte
	KeyboardType          uint32
	KeyboardSubType       uint32
	KeyboardFunctionKeys  uint32
	ImeFileName           [64]byte

	// EarlyCapabilityFlags sits 12 bytes into the optional tail MS-RDPBCGR
	// defines past ImeFileName (postBeta2ColorDepth, clientProductId,
	// serialNumber, highColorDepth, supportedColorDepths); it's the one
	// optional field this MITM inspects and mutates (ClearWant32Bpp), so
	// it's pulled out of the opaque tail instead of folded into it.
	// HasEarlyCapabilityFlags reports whether the client sent enough of
	// the optional block to reach it. TailPrefix/TailSuffix bracket it and
	// are forwarded unmodified regardless of content.
	HasEarlyCapabilityFlags bool
	TailPrefix              []byte
	EarlyCapabilityFlags    uint16
	TailSuffix              []byte
}

// ClearWant32Bpp unsets RNS_UD_CS_WANT_32BPP_SESSION when the client sent
// EarlyCapabilityFlags, so every forwarded/recorded session reports the
// same reduced capability regardless of what the victim actually requested.
func (c *ClientCoreData) ClearWant32Bpp() {
	if c.HasEarlyCapabilityFlags {
		c.EarlyCapabilityFlags &^= Want32BppSession
	}
}

func (c *ClientCoreData) Read(r io.Reader, blockLength int) {
	core.ReadLE(r, &c.Version)
	core.ReadLE(r, &c.DesktopWidth)
	core.ReadLE(r, &c.DesktopHeight)
	core.ReadLE(r, &c.ColorDepth)
	core.ReadLE(r, &c.SASSequence)
	core.ReadLE(r, &c.KeyboardLayout)
	core.ReadLE(r, &c.ClientBuild)
	core.ReadLE(r, &c.ClientName)
	core.ReadLE(r, &c.KeyboardType)
	core.ReadLE(r, &c.KeyboardSubType)
	core.ReadLE(r, &c.KeyboardFunctionKeys)
	core.ReadLE(r, &c.ImeFileName)
	const fixedLen = 4 + 2 + 2 + 2 + 2 + 4 + 4 + 32 + 4 + 4 + 4 + 64
	tailLen := blockLength - 4 - fixedLen
	const earlyCapsOffset = 12
	switch {
	case tailLen >= earlyCapsOffset+2:
		c.HasEarlyCapabilityFlags = true
		c.TailPrefix = core.ReadBytes(r, earlyCapsOffset)
		core.ReadLE(r, &c.EarlyCapabilityFlags)
		c.TailSuffix = core.ReadBytes(r, tailLen-earlyCapsOffset-2)
	case tailLen > 0:
		c.TailPrefix = core.ReadBytes(r, tailLen)
	}
}

func (c *ClientCoreData) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteLE(body, c.Version)
	core.WriteLE(body, c.DesktopWidth)
	core.WriteLE(body, c.DesktopHeight)
	core.WriteLE(body, c.ColorDepth)
	core.WriteLE(body, c.SASSequence)
	core.WriteLE(body, c.KeyboardLayout)
	core.WriteLE(body, c.ClientBuild)
	core.WriteLE(body, c.ClientName)
	core.WriteLE(body, c.KeyboardType)
	core.WriteLE(body, c.KeyboardSubType)
	core.WriteLE(body, c.KeyboardFunctionKeys)
	core.WriteLE(body, c.ImeFileName)
	body.Write(c.TailPrefix)
	if c.HasEarlyCapabilityFlags {
		core.WriteLE(body, c.EarlyCapabilityFlags)
	}
	body.Write(c.TailSuffix)
	return wrapBlock(CS_CORE, body.Bytes())
}

// RDP security method bits, MS-RDPBCGR §2.2.1.4.3.
const (
	ENCRYPTION_40BIT  uint32 = 0x00000001
	ENCRYPTION_128BIT uint32 = 0x00000002
	ENCRYPTION_56BIT  uint32 = 0x00000008
	ENCRYPTION_FIPS   uint32 = 0x00000010
)

// ClientSecurityData is CS_SECURITY: the client's supported encryption
// methods and extended encryption methods.
type ClientSecurityData struct {
	EncryptionMethods uint32
	ExtEncryptionMethods uint32
}

func (c *ClientSecurityData) Read(r io.Reader) {
	core.ReadLE(r, &c.EncryptionMethods)
	core.ReadLE(r, &c.ExtEncryptionMethods)
}

func (c *ClientSecurityData) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteLE(body, c.EncryptionMethods)
	core.WriteLE(body, c.ExtEncryptionMethods)
	return wrapBlock(CS_SECURITY, body.Bytes())
}

// ChannelDef names one requested static virtual channel, MS-RDPBCGR
// §2.2.1.3.4.1.
type ChannelDef struct {
	Name    [8]byte
	Options uint32
}

// Channel option flags.
const (
	CHANNEL_OPTION_INITIALIZED uint32 = 0x80000000
	CHANNEL_OPTION_COMPRESS    uint32 = 0x00400000
)

// ClientNetworkData is CS_NET: the list of static virtual channels the
// client is requesting (clipboard, device redirection, drdynvc, ...).
type ClientNetworkData struct {
	Channels []ChannelDef
}

func (c *ClientNetworkData) Read(r io.Reader) {
	var count uint32
	core.ReadLE(r, &count)
	c.Channels = make([]ChannelDef, count)
	for i := range c.Channels {
		core.ReadLE(r, &c.Channels[i].Name)
		core.ReadLE(r, &c.Channels[i].Options)
	}
}

func (c *ClientNetworkData) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteLE(body, uint32(len(c.Channels)))
	for _, ch := range c.Channels {
		core.WriteLE(body, ch.Name)
		core.WriteLE(body, ch.Options)
	}
	return wrapBlock(CS_NET, body.Bytes())
}

// ChannelName returns def.Name as a trimmed Go string.
func ChannelName(def ChannelDef) string {
	n := bytes.IndexByte(def.Name[:], 0)
	if n < 0 {
		n = len(def.Name)
	}
	return string(def.Name[:n])
}

// ClientClusterData is CS_CLUSTER, used for session-broker redirection.
// The MITM neither load-balances nor redirects sessions, so this block is
// parsed only so it can be forwarded byte-for-byte; see spec.md's
// Non-goals around load-balanced/broker deployments.
type ClientClusterData struct {
	Flags       uint32
	RedirectedSessionID uint32
}

func (c *ClientClusterData) Read(r io.Reader) {
	core.ReadLE(r, &c.Flags)
	core.ReadLE(r, &c.RedirectedSessionID)
}

func (c *ClientClusterData) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteLE(body, c.Flags)
	core.WriteLE(body, c.RedirectedSessionID)
	return wrapBlock(CS_CLUSTER, body.Bytes())
}

// ServerCoreData is SC_CORE: the server's chosen RDP version.
type ServerCoreData struct {
	Version           uint32
	ClientRequestedProtocols uint32
}

func (s *ServerCoreData) Read(r io.Reader, blockLength int) {
	core.ReadLE(r, &s.Version)
	if blockLength >= 12 {
		core.ReadLE(r, &s.ClientRequestedProtocols)
	}
}

// Serialize writes SC_CORE back out, used by the MITM's victim-facing leg
// when it plays the server role in basic settings exchange.
func (s *ServerCoreData) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteLE(body, s.Version)
	core.WriteLE(body, s.ClientRequestedProtocols)
	return wrapBlock(SC_CORE, body.Bytes())
}

// ServerSecurityData is SC_SECURITY: the chosen encryption method/level and,
// on the native-security path, the server's random and certificate chain.
type ServerSecurityData struct {
	EncryptionMethod uint32
	EncryptionLevel  uint32
	ServerRandomLen  uint32
	ServerCertLen    uint32
	ServerRandom     []byte
	ServerCertData   []byte
}

func (s *ServerSecurityData) Read(r io.Reader) {
	core.ReadLE(r, &s.EncryptionMethod)
	core.ReadLE(r, &s.EncryptionLevel)
	if s.EncryptionMethod == 0 && s.EncryptionLevel == 0 {
		return // server selected TLS/CredSSP security; no random/cert follows
	}
	core.ReadLE(r, &s.ServerRandomLen)
	core.ReadLE(r, &s.ServerCertLen)
	s.ServerRandom = core.ReadBytes(r, int(s.ServerRandomLen))
	s.ServerCertData = core.ReadBytes(r, int(s.ServerCertLen))
}

// Serialize writes SC_SECURITY back out. When EncryptionMethod and
// EncryptionLevel are both zero (TLS/CredSSP selected) the random/cert
// fields are omitted, matching Read's early return.
func (s *ServerSecurityData) Serialize() []byte {
	body := new(bytes.Buffer)
	core.WriteLE(body, s.EncryptionMethod)
	core.WriteLE(body, s.EncryptionLevel)
	if s.EncryptionMethod == 0 && s.EncryptionLevel == 0 {
		return wrapBlock(SC_SECURITY, body.Bytes())
	}
	core.WriteLE(body, uint32(len(s.ServerRandom)))
	core.WriteLE(body, uint32(len(s.ServerCertData)))
	body.Write(s.ServerRandom)
	body.Write(s.ServerCertData)
	return wrapBlock(SC_SECURITY, body.Bytes())
}

func wrapBlock(typ uint16, body []byte) []byte {
	buf := new(bytes.Buffer)
	(&blockHeader{Type: typ, Length: uint16(4 + len(body))}).write(buf)
	buf.Write(body)
	return buf.Bytes()
}

// ClientData is the full set of user data blocks a Connect Initial PDU
// carries, in the order MS-RDPBCGR requires.
type ClientData struct {
	Core     *ClientCoreData
	Security *ClientSecurityData
	Network  *ClientNetworkData
	Cluster  *ClientClusterData
}

// Serialize concatenates every present block; MCS's ConnectInitial wraps
// the result as the GCC ConferenceCreateRequest's userData octet string.
func (c *ClientData) Serialize() []byte {
	buf := new(bytes.Buffer)
	if c.Core != nil {
		buf.Write(c.Core.Serialize())
	}
	if c.Security != nil {
		buf.Write(c.Security.Serialize())
	}
	if c.Network != nil {
		buf.Write(c.Network.Serialize())
	}
	if c.Cluster != nil {
		buf.Write(c.Cluster.Serialize())
	}
	return buf.Bytes()
}

// ParseClientData walks a concatenated user-data blob and dispatches each
// block by its type tag, tolerating unknown/vendor blocks by skipping them.
func ParseClientData(data []byte) *ClientData {
	out := &ClientData{}
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		h := &blockHeader{}
		h.read(r)
		blockBody := core.ReadBytes(r, int(h.Length)-4)
		br := bytes.NewReader(blockBody)
		switch h.Type {
		case CS_CORE:
			cd := &ClientCoreData{}
			cd.Read(br, int(h.Length))
			out.Core = cd
		case CS_SECURITY:
			sd := &ClientSecurityData{}
			sd.Read(br)
			out.Security = sd
		case CS_NET:
			nd := &ClientNetworkData{}
			nd.Read(br)
			out.Network = nd
		case CS_CLUSTER:
			cld := &ClientClusterData{}
			cld.Read(br)
			out.Cluster = cld
		default:
			glog.Debugf("gcc: skipping unknown client data block type 0x%04x", h.Type)
		}
	}
	return out
}

// ParseServerData is ParseClientData's server-side counterpart.
func ParseServerData(data []byte) (core_ *ServerCoreData, security *ServerSecurityData, network []uint16) {
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		h := &blockHeader{}
		h.read(r)
		blockBody := core.ReadBytes(r, int(h.Length)-4)
		br := bytes.NewReader(blockBody)
		switch h.Type {
		case SC_CORE:
			cd := &ServerCoreData{}
			cd.Read(br, int(h.Length))
			core_ = cd
		case SC_SECURITY:
			sd := &ServerSecurityData{}
			sd.Read(br)
			security = sd
		case SC_NET:
			var mcsChannelId, channelCount uint16
			core.ReadLE(br, &mcsChannelId)
			core.ReadLE(br, &channelCount)
			network = make([]uint16, channelCount)
			core.ReadLE(br, network)
		default:
			glog.Debugf("gcc: skipping unknown server data block type 0x%04x", h.Type)
		}
	}
	return
}
