package device

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{Component: RDPDR_CTYP_CORE, Packet: PAKID_CORE_DEVICE_IOREQUEST}
	var buf bytes.Buffer
	h.Write(&buf)

	got := &Header{}
	got.Read(&buf)
	assert.Equal(t, h.Component, got.Component)
	assert.Equal(t, h.Packet, got.Packet)
}

func TestDeviceAnnounceRoundTrip(t *testing.T) {
	d := &DeviceAnnounce{
		DeviceType:       RDPDR_DTYP_FILESYSTEM,
		DeviceID:         1,
		PreferredDosName: "DISK1",
		DeviceData:       []byte("extra"),
	}
	var buf bytes.Buffer
	buf.Write(d.Serialize())

	got := &DeviceAnnounce{}
	got.Read(&buf)
	assert.Equal(t, d.DeviceType, got.DeviceType)
	assert.Equal(t, d.PreferredDosName, got.PreferredDosName)
	assert.Equal(t, d.DeviceData, got.DeviceData)
}

func TestDeviceCreateRequestRoundTripAndWantsRead(t *testing.T) {
	req := &DeviceCreateRequest{
		DeviceIORequest: DeviceIORequest{DeviceID: 1, FileID: 0, CompletionID: 42, MajorFunction: IRP_MJ_CREATE},
		DesiredAccess:   GENERIC_READ,
		CreateOptions:   FILE_NON_DIRECTORY_FILE,
		Path:            `\secrets\passwords.txt`,
	}
	var buf bytes.Buffer
	buf.Write(req.Serialize())

	got := &DeviceCreateRequest{}
	got.DeviceIORequest.Read(&buf)
	got.Read(&buf)
	assert.Equal(t, req.Path, got.Path)
	assert.Equal(t, uint32(42), got.CompletionID)
	assert.True(t, got.WantsRead())
}

func TestDeviceCreateRequestDirectoryDoesNotWantRead(t *testing.T) {
	req := &DeviceCreateRequest{
		DesiredAccess: GENERIC_READ,
		CreateOptions: FILE_DIRECTORY_FILE,
		Path:          `\secrets`,
	}
	assert.False(t, req.WantsRead())
}

func TestDeviceReadResponseRoundTrip(t *testing.T) {
	resp := &DeviceReadResponse{ReadData: []byte("contents of the file")}
	var buf bytes.Buffer
	buf.Write(resp.Serialize())

	got := &DeviceReadResponse{}
	got.Read(&buf)
	assert.Equal(t, resp.ReadData, got.ReadData)
}

func TestDeviceIOCompletionIsError(t *testing.T) {
	ok := &DeviceIOCompletion{IoStatus: 0x00000000}
	assert.False(t, ok.IsError())

	errStatus := &DeviceIOCompletion{IoStatus: 0xC0000034} // STATUS_OBJECT_NAME_NOT_FOUND
	assert.True(t, errStatus.IsError())
}

func TestDeviceCloseRequestRoundTrip(t *testing.T) {
	req := &DeviceCloseRequest{DeviceIORequest: DeviceIORequest{DeviceID: 1, FileID: 3, CompletionID: 5, MajorFunction: IRP_MJ_CLOSE}}
	var buf bytes.Buffer
	buf.Write(req.Serialize())

	var hdr DeviceIORequest
	hdr.Read(&buf)
	got := &DeviceCloseRequest{}
	got.Read(&buf)
	assert.Equal(t, uint32(3), hdr.FileID)
	require.Equal(t, uint32(5), hdr.CompletionID)
}
