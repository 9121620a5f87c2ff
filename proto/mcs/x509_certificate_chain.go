package mcs

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"

	"github.com/GoFeGroup/rdpmitm/core"
)

// CertBlob is a single DER-encoded certificate in an X509CertificateChain.
// https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-rdpele/ad3d569f-9f38-4a33-ae41-071b55885376
type CertBlob struct {
	CbCert uint32
	AbCert []byte
}

// X509CertificateChain is the GCC Server Security Data's certificate chain
// (MS-RDPELE §2.2.1.4.3.1.1), used when the server's security layer is
// native RDP rather than TLS.
type X509CertificateChain struct {
	NumCertBlobs  uint32
	CertBlobArray []CertBlob
	Padding       []byte
}

func (p *X509CertificateChain) GetPublicKey() (uint32, []byte) {
	if len(p.CertBlobArray) == 0 {
		return 0, nil
	}
	cert, err := x509.ParseCertificate(p.CertBlobArray[0].AbCert)
	if err != nil {
		return 0, nil
	}
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return 0, nil
	}
	return uint32(len(pubKeyBytes)), pubKeyBytes
}

// PublicKey returns the leaf certificate's RSA public key, used by the
// MITM's victim-facing leg to encrypt the client random it makes up on the
// target's behalf, and by a peer parsing this MITM's own generated chain to
// do the same toward the victim.
func (p *X509CertificateChain) PublicKey() (*rsa.PublicKey, error) {
	if len(p.CertBlobArray) == 0 {
		return nil, fmt.Errorf("mcs: certificate chain has no blobs")
	}
	cert, err := x509.ParseCertificate(p.CertBlobArray[0].AbCert)
	if err != nil {
		return nil, fmt.Errorf("mcs: parse leaf certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("mcs: leaf certificate key is %T, not RSA", cert.PublicKey)
	}
	return pub, nil
}

// Serialize writes the chain back out in the same count + length-prefixed
// DER blobs + trailing padding layout Read expects, so the MITM can hand a
// self-signed chain it generated to the victim leg.
func (p *X509CertificateChain) Serialize() []byte {
	buf := new(bytes.Buffer)
	core.WriteLE(buf, p.NumCertBlobs)
	for _, blob := range p.CertBlobArray {
		core.WriteLE(buf, uint32(len(blob.AbCert)))
		buf.Write(blob.AbCert)
	}
	padding := p.Padding
	if padding == nil {
		padding = make([]byte, 8+4*p.NumCertBlobs)
	}
	buf.Write(padding)
	return buf.Bytes()
}

func (p *X509CertificateChain) Verify() bool {
	if len(p.CertBlobArray) < 2 {
		return false
	}
	roots := x509.NewCertPool()
	for i, blob := range p.CertBlobArray {
		cert, err := x509.ParseCertificate(blob.AbCert)
		if err != nil {
			return false
		}
		if i == len(p.CertBlobArray)-1 {
			roots.AddCert(cert)
		}
	}
	leaf, err := x509.ParseCertificate(p.CertBlobArray[0].AbCert)
	if err != nil {
		return false
	}
	_, err = leaf.Verify(x509.VerifyOptions{Roots: roots})
	return err == nil
}

// Read parses the chain: a count, that many (length, DER bytes) blobs, and
// a trailing padding block sized 8 + 4*NumCertBlobs bytes (MS-RDPELE leaves
// its contents unspecified; it is skipped, not validated).
func (p *X509CertificateChain) Read(r io.Reader) {
	core.ReadLE(r, &p.NumCertBlobs)
	core.ThrowIf(p.NumCertBlobs < 2 || p.NumCertBlobs > 200, errCertBlobCount(p.NumCertBlobs))
	p.CertBlobArray = make([]CertBlob, p.NumCertBlobs)
	for i := range p.CertBlobArray {
		var cbCert uint32
		core.ReadLE(r, &cbCert)
		p.CertBlobArray[i] = CertBlob{
			CbCert: cbCert,
			AbCert: core.ReadBytes(r, int(cbCert)),
		}
	}
	p.Padding = core.ReadBytes(r, int(8+4*p.NumCertBlobs))
}

type errCertBlobCount uint32

func (e errCertBlobCount) Error() string { return "mcs: certificate chain blob count out of range" }
