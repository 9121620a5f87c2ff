package clientinfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	p := &Packet{
		CodePage: 0x0409,
		Flags:    INFO_MOUSE | INFO_UNICODE | INFO_COMPRESSION | 0x00000200,
		Domain:   "CORP",
		Username: "victim",
		Password: "hunter2",
		WorkingDir: `C:\`,
	}
	got := &Packet{}
	got.Read(bytes.NewReader(p.Serialize()))

	assert.Equal(t, p.Domain, got.Domain)
	assert.Equal(t, p.Username, got.Username)
	assert.Equal(t, p.Password, got.Password)
	assert.Equal(t, p.WorkingDir, got.WorkingDir)
	assert.Equal(t, p.Flags, got.Flags)
}

func TestApplyReplacementSetsAutologonAndClearsCompression(t *testing.T) {
	p := &Packet{Username: "alice", Password: "secret", Flags: INFO_COMPRESSION | 0x00000200}
	p.ApplyReplacement("trap", "honeypot")

	assert.Equal(t, "trap", p.Username)
	assert.Equal(t, "honeypot", p.Password)
	assert.NotZero(t, p.Flags&INFO_AUTOLOGON)
	assert.Zero(t, p.Flags&INFO_COMPRESSION)
	assert.Zero(t, p.Flags&INFO_COMPRESSION_TYPE_MASK)
}

func TestApplyReplacementNoopWhenNotConfiguredButClearsCompression(t *testing.T) {
	p := &Packet{Username: "alice", Password: "secret", Flags: INFO_COMPRESSION}
	p.ApplyReplacement("", "")

	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "secret", p.Password)
	assert.Zero(t, p.Flags&INFO_AUTOLOGON)
	assert.Zero(t, p.Flags&INFO_COMPRESSION)
}

func TestExtendedInfoTailPreserved(t *testing.T) {
	p := &Packet{Username: "bob", ExtendedInfo: []byte{1, 2, 3, 4}}
	got := &Packet{}
	got.Read(bytes.NewReader(p.Serialize()))
	assert.Equal(t, p.ExtendedInfo, got.ExtendedInfo)
}
