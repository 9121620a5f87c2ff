package gcc

import (
	"bytes"
	"testing"

	"github.com/GoFeGroup/rdpmitm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDataRoundTrip(t *testing.T) {
	cd := &ClientData{
		Core: &ClientCoreData{
			Version:       0x00080004,
			DesktopWidth:  1920,
			DesktopHeight: 1080,
			ColorDepth:    0xCA01,
			ClientBuild:   19041,
		},
		Security: &ClientSecurityData{EncryptionMethods: ENCRYPTION_128BIT},
		Network: &ClientNetworkData{Channels: []ChannelDef{
			{Name: nameOf("cliprdr"), Options: CHANNEL_OPTION_INITIALIZED},
			{Name: nameOf("rdpdr"), Options: CHANNEL_OPTION_INITIALIZED},
		}},
		Cluster: &ClientClusterData{Flags: 0x09},
	}

	data := cd.Serialize()
	parsed := ParseClientData(data)

	require.NotNil(t, parsed.Core)
	assert.Equal(t, uint16(1920), parsed.Core.DesktopWidth)
	assert.Equal(t, uint16(1080), parsed.Core.DesktopHeight)

	require.NotNil(t, parsed.Security)
	assert.Equal(t, ENCRYPTION_128BIT, parsed.Security.EncryptionMethods)

	require.NotNil(t, parsed.Network)
	require.Len(t, parsed.Network.Channels, 2)
	assert.Equal(t, "cliprdr", ChannelName(parsed.Network.Channels[0]))
	assert.Equal(t, "rdpdr", ChannelName(parsed.Network.Channels[1]))

	require.NotNil(t, parsed.Cluster)
	assert.Equal(t, uint32(0x09), parsed.Cluster.Flags)
}

func TestParseServerDataTLSSecurity(t *testing.T) {
	body := new(bytes.Buffer)
	core.WriteLE(body, uint32(0x00080004))
	block := wrapBlock(SC_CORE, body.Bytes())

	parsedCore, parsedSecurity, _ := ParseServerData(block)
	require.NotNil(t, parsedCore)
	assert.Equal(t, uint32(0x00080004), parsedCore.Version)
	assert.Nil(t, parsedSecurity)
}

func TestClientCoreDataEarlyCapabilityFlagsRoundTrip(t *testing.T) {
	cd := &ClientCoreData{
		Version:                 0x00080004,
		DesktopWidth:            1920,
		DesktopHeight:           1080,
		ColorDepth:              0xCA01,
		ClientBuild:             19041,
		HasEarlyCapabilityFlags: true,
		TailPrefix:              make([]byte, 12),
		EarlyCapabilityFlags:    Want32BppSession | 0x0001,
		TailSuffix:              []byte{0xAA, 0xBB},
	}

	data := cd.Serialize()
	parsed := ParseClientData(data)

	require.NotNil(t, parsed.Core)
	require.True(t, parsed.Core.HasEarlyCapabilityFlags)
	assert.Equal(t, Want32BppSession|0x0001, parsed.Core.EarlyCapabilityFlags)
	assert.Equal(t, []byte{0xAA, 0xBB}, parsed.Core.TailSuffix)
}

func TestClearWant32BppClearsOnlyThatBit(t *testing.T) {
	cd := &ClientCoreData{
		HasEarlyCapabilityFlags: true,
		EarlyCapabilityFlags:    Want32BppSession | 0x0001,
	}

	cd.ClearWant32Bpp()

	assert.Equal(t, uint16(0x0001), cd.EarlyCapabilityFlags)
	assert.Zero(t, cd.EarlyCapabilityFlags&Want32BppSession)
}

func TestClearWant32BppNoopWithoutEarlyCapabilityFlags(t *testing.T) {
	cd := &ClientCoreData{HasEarlyCapabilityFlags: false}

	cd.ClearWant32Bpp()

	assert.False(t, cd.HasEarlyCapabilityFlags)
	assert.Zero(t, cd.EarlyCapabilityFlags)
}

func nameOf(s string) [8]byte {
	var out [8]byte
	copy(out[:], s)
	return out
}
