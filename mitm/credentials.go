package mitm

import (
	"bytes"

	"github.com/GoFeGroup/rdpmitm/config"
	"github.com/GoFeGroup/rdpmitm/proto/clientinfo"
)

// InterceptClientInfo parses the client's ClientInfo PDU, applies the
// configured credential replacement (a no-op beyond clearing compression
// flags when no replacement is configured), and returns the PDU to forward
// to the target along with the captured original username/password for
// recording — spec.md §4.7: "record it, then overwrite before forwarding".
func InterceptClientInfo(raw []byte, creds config.CredentialConfig) (forward []byte, capturedUsername, capturedPassword string) {
	pkt := &clientinfo.Packet{}
	pkt.Read(bytes.NewReader(raw))
	capturedUsername, capturedPassword = pkt.Username, pkt.Password

	pkt.ApplyReplacement(creds.ReplacementUsername, creds.ReplacementPassword)
	return pkt.Serialize(), capturedUsername, capturedPassword
}
