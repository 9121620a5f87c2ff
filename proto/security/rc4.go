package security

import (
	"crypto/rc4"
	"fmt"
	"sync"
)

// crypterState models the lifecycle of a single RC4 cipher slot: it starts
// Empty before any key material exists, becomes HalfKeyed once this leg's
// own random has been generated but the peer's hasn't arrived yet (the MITM
// must send its own random before it can derive keys, since derivation
// needs both), and Keyed once both randoms are known and DeriveKeys has
// run. Calling Encrypt/Decrypt before Keyed is a programming error.
type crypterState int

const (
	StateEmpty crypterState = iota
	StateHalfKeyed
	StateKeyed
)

// RC4CrypterProxy wraps the two directional RC4 ciphers for one connection
// leg behind the state machine above, so the orchestrator can construct it
// early (at security-exchange start) and only call SetKeys once both
// randoms are available, without the rest of the code needing to know
// whether that has happened yet.
type RC4CrypterProxy struct {
	mu    sync.Mutex
	state crypterState

	encryptKey, decryptKey []byte
	encryptCipher          *rc4.Cipher
	decryptCipher          *rc4.Cipher
}

// NewRC4CrypterProxy returns a proxy in StateEmpty.
func NewRC4CrypterProxy() *RC4CrypterProxy {
	return &RC4CrypterProxy{}
}

// MarkHalfKeyed records that this leg's own random has been generated and
// sent, ahead of key derivation.
func (p *RC4CrypterProxy) MarkHalfKeyed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateEmpty {
		p.state = StateHalfKeyed
	}
}

// SetKeys installs both directional ciphers from already-derived keys
// (see DeriveKeys), transitioning to
// StateKeyed.
func (p *RC4CrypterProxy) SetKeys(keys *SessionKeys) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	enc, err := rc4.NewCipher(keys.EncryptKey)
	if err != nil {
		return fmt.Errorf("security: encrypt cipher: %w", err)
	}
	dec, err := rc4.NewCipher(keys.DecryptKey)
	if err != nil {
		return fmt.Errorf("security: decrypt cipher: %w", err)
	}
	p.encryptKey, p.decryptKey = keys.EncryptKey, keys.DecryptKey
	p.encryptCipher, p.decryptCipher = enc, dec
	p.state = StateKeyed
	return nil
}

// State reports the current lifecycle state.
func (p *RC4CrypterProxy) State() crypterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Encrypt XORs data against the outbound RC4 keystream. Panics if not yet
// Keyed — a protocol-sequencing bug, not a recoverable per-packet error.
func (p *RC4CrypterProxy) Encrypt(data []byte) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateKeyed {
		panic("security: Encrypt called before RC4CrypterProxy is keyed")
	}
	out := make([]byte, len(data))
	p.encryptCipher.XORKeyStream(out, data)
	return out
}

// Decrypt XORs data against the inbound RC4 keystream.
func (p *RC4CrypterProxy) Decrypt(data []byte) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateKeyed {
		panic("security: Decrypt called before RC4CrypterProxy is keyed")
	}
	out := make([]byte, len(data))
	p.decryptCipher.XORKeyStream(out, data)
	return out
}
