// Package filemgmt implements the File Management state machine: chunked,
// integrity-verified upload of a file from the platform to the device, plus
// URL-initiated download, listing, deletion and purging. It is the largest
// single component of the connector core (spec §2).
//
// The engine never touches the network or the outbound queue directly --
// every state transition returns the protocol.OutboundMessage values it
// produced, which the caller (package dispatch) pushes onto the queue. This
// is the "cyclic ownership -> event channel" substitution named in spec §9:
// no back-reference to a connector context is needed.
package filemgmt

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"net/url"

	log "github.com/sirupsen/logrus"

	"github.com/fieldlink-iot/connect/protocol"
	"github.com/fieldlink-iot/connect/protocol/chunk"
)

// State is one of the four states of the File Management engine (spec §3).
type State int

const (
	Idle State = iota
	PacketTransfer
	URLDownload
	FileObtained
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case PacketTransfer:
		return "PACKET_TRANSFER"
	case URLDownload:
		return "URL_DOWNLOAD"
	case FileObtained:
		return "FILE_OBTAINED"
	default:
		return "UNKNOWN"
	}
}

// Host is the capability set a host application must provide for the
// engine to run. Per spec §9's "callback pointers vs. polymorphic
// interface" note, these are grouped into one interface rather than
// individually-nullable function pointers: a host is either fully present
// (New was given a non-nil Host) or fully absent, in which case every
// inbound request is answered with TRANSFER_PROTOCOL_DISABLED.
type Host interface {
	// Start prepares the host to receive a file named name of the given
	// size, returning false if it cannot.
	Start(name string, size int64) bool
	// WriteChunk appends data to the file under construction.
	WriteChunk(data []byte) bool
	// ReadChunk returns the bytes previously written for the chunk at
	// index, for post-transfer hash verification.
	ReadChunk(index int) ([]byte, bool)
	// Abort discards any in-progress transfer and its partial data.
	Abort()
	// Finalize completes a successful transfer (e.g. renaming a temp file
	// into place). It does not delete anything.
	Finalize()
	// StartURLDownload begins downloading url in the background, returning
	// false if the host could not even begin.
	StartURLDownload(url string) bool
	// IsURLDownloadDone polls an in-progress URL download.
	IsURLDownloadDone() (done, success bool, downloadedName string)
	// FileList returns the host's current file inventory.
	FileList() []protocol.FileListEntry
	// RemoveFile deletes a single named file.
	RemoveFile(name string) bool
	// PurgeFiles deletes every file known to the host.
	PurgeFiles() bool
}

// verificationChunkSize bounds how much of the reassembled file is hashed
// per read, matching the original implementation's streaming MD5 window.
const verificationChunkSize = 1024

// Engine is the File Management state machine for a single device. Only one
// transfer is ever in flight (spec §3, "single-track").
type Engine struct {
	deviceKey   string
	host        Host
	maxFileSize int64
	chunkSize   int

	state              State
	fileName           string
	fileSize           int64
	fileHash           string
	fileURL            string
	nextChunkIndex     int
	expectedChunks     int
	previousPacketHash []byte
	retryCount         int
}

// Option configures a new Engine.
type Option func(*Engine)

// WithMaxFileSize overrides the maximum file size the engine will accept
// for a chunked upload. The default is 16 MiB.
func WithMaxFileSize(n int64) Option {
	return func(e *Engine) { e.maxFileSize = n }
}

// WithChunkSize overrides the requested per-packet payload size, which is
// still capped at PayloadSize-4*HashSize per spec §4.4's chunk-size policy.
func WithChunkSize(n int) Option {
	return func(e *Engine) { e.chunkSize = n }
}

const defaultMaxFileSize = 16 << 20

// New returns an Engine in the Idle state. A nil host is accepted and
// causes every subsequent call to report TRANSFER_PROTOCOL_DISABLED, per
// spec §4.4.
func New(deviceKey string, host Host, opts ...Option) *Engine {
	e := &Engine{
		deviceKey:   deviceKey,
		host:        host,
		maxFileSize: defaultMaxFileSize,
		chunkSize:   protocol.PayloadSize - 4*protocol.HashSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.chunkSize > protocol.PayloadSize-4*protocol.HashSize {
		e.chunkSize = protocol.PayloadSize - 4*protocol.HashSize
	}
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

func (e *Engine) disabled() bool { return e.host == nil }

func (e *Engine) reset() {
	e.state = Idle
	e.fileName = ""
	e.fileSize = 0
	e.fileHash = ""
	e.fileURL = ""
	e.nextChunkIndex = 0
	e.expectedChunks = 0
	e.previousPacketHash = nil
	e.retryCount = 0
}

func (e *Engine) uploadStatus(status protocol.FileTransferStatus, fileErr protocol.FileTransferError) protocol.OutboundMessage {
	msg, err := protocol.MarshalFileUploadStatus(e.deviceKey, e.fileName, status, fileErr)
	if err != nil {
		log.WithError(err).Warn("filemgmt: marshal upload status")
	}
	return msg
}

func (e *Engine) urlStatus(status protocol.FileTransferStatus, fileErr protocol.FileTransferError) protocol.OutboundMessage {
	msg, err := protocol.MarshalFileURLDownloadStatus(e.deviceKey, e.fileName, status, fileErr)
	if err != nil {
		log.WithError(err).Warn("filemgmt: marshal url download status")
	}
	return msg
}

func (e *Engine) packetRequest(index int) protocol.OutboundMessage {
	msg, err := protocol.MarshalFileBinaryRequest(e.deviceKey, e.fileName, index)
	if err != nil {
		log.WithError(err).Warn("filemgmt: marshal file binary request")
	}
	return msg
}

func (e *Engine) fileListMessage() protocol.OutboundMessage {
	msg, err := protocol.MarshalFileList(e.deviceKey, e.host.FileList())
	if err != nil {
		log.WithError(err).Warn("filemgmt: marshal file list")
	}
	return msg
}

func (e *Engine) disabledResponse(name string) []protocol.OutboundMessage {
	return []protocol.OutboundMessage{e.statusFor(name, protocol.FileStatusError, protocol.FileErrorTransferProtocolDisabled)}
}

func (e *Engine) statusFor(name string, status protocol.FileTransferStatus, fileErr protocol.FileTransferError) protocol.OutboundMessage {
	msg, err := protocol.MarshalFileUploadStatus(e.deviceKey, name, status, fileErr)
	if err != nil {
		log.WithError(err).Warn("filemgmt: marshal status")
	}
	return msg
}

// HandleInitUpload processes an inbound file_upload_initiate request,
// implementing the IDLE row of spec §4.4's transition table.
func (e *Engine) HandleInitUpload(name string, size int64, fileHash string) []protocol.OutboundMessage {
	if e.disabled() {
		return e.disabledResponse(name)
	}
	if e.state != Idle {
		return nil
	}
	if name == "" {
		return []protocol.OutboundMessage{e.statusFor(name, protocol.FileStatusError, protocol.FileErrorUnknown)}
	}
	if size > e.maxFileSize {
		return []protocol.OutboundMessage{e.statusFor(name, protocol.FileStatusError, protocol.FileErrorUnsupportedFileSize)}
	}

	perChunkPayload := e.chunkSize - 2*protocol.HashSize
	expected := int((size + int64(perChunkPayload) - 1) / int64(perChunkPayload))
	if expected < 1 {
		expected = 1
	}

	if !e.host.Start(name, size) {
		return []protocol.OutboundMessage{e.statusFor(name, protocol.FileStatusError, protocol.FileErrorFileSystem)}
	}

	e.state = PacketTransfer
	e.fileName = name
	e.fileSize = size
	e.fileHash = fileHash
	e.expectedChunks = expected
	e.nextChunkIndex = 0
	e.previousPacketHash = chunk.ZeroHash()
	e.retryCount = 0

	return []protocol.OutboundMessage{
		e.uploadStatus(protocol.FileStatusFileTransfer, protocol.FileErrorNone),
		e.packetRequest(0),
	}
}

// HandleURLDownload processes an inbound file_url_download_initiate
// request.
func (e *Engine) HandleURLDownload(rawURL string) []protocol.OutboundMessage {
	if e.disabled() {
		return e.disabledResponse("")
	}
	if e.state != Idle {
		return nil
	}
	if !isValidURL(rawURL) {
		return []protocol.OutboundMessage{e.urlStatus(protocol.FileStatusError, protocol.FileErrorMalformedURL)}
	}
	e.state = URLDownload
	e.fileURL = rawURL
	return []protocol.OutboundMessage{e.urlStatus(protocol.FileStatusFileTransfer, protocol.FileErrorNone)}
}

func isValidURL(raw string) bool {
	if raw == "" || len(raw) > protocol.URLSize {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return true
}

// HandleChunk processes one inbound file_binary_response packet, applying
// the PACKET_TRANSFER rows of spec §4.4's transition table.
func (e *Engine) HandleChunk(packet []byte) []protocol.OutboundMessage {
	if e.disabled() {
		return e.disabledResponse(e.fileName)
	}
	if e.state != PacketTransfer {
		return nil
	}

	valid := chunk.IsValid(packet) && bytes.Equal(chunk.PreviousHash(packet), e.previousPacketHash)
	if !valid {
		e.retryCount++
		if e.retryCount >= protocol.MaxRetries {
			e.host.Abort()
			name := e.fileName
			e.reset()
			return []protocol.OutboundMessage{e.statusFor(name, protocol.FileStatusError, protocol.FileErrorRetryCountExceeded)}
		}
		return []protocol.OutboundMessage{e.packetRequest(e.nextChunkIndex)}
	}

	data := chunk.Data(packet)
	if !e.host.WriteChunk(data) {
		name := e.fileName
		e.host.Abort()
		e.reset()
		return []protocol.OutboundMessage{e.statusFor(name, protocol.FileStatusError, protocol.FileErrorFileSystem)}
	}

	e.previousPacketHash = append([]byte(nil), chunk.CurrentHash(packet)...)
	e.retryCount = 0

	if e.nextChunkIndex < e.expectedChunks-1 {
		e.nextChunkIndex++
		return []protocol.OutboundMessage{e.packetRequest(e.nextChunkIndex)}
	}

	// Last chunk: verify the reassembled file's MD5 against file_hash.
	if e.verifyFileHash() {
		e.host.Finalize()
		msgs := []protocol.OutboundMessage{
			e.uploadStatus(protocol.FileStatusFileReady, protocol.FileErrorNone),
			e.fileListMessage(),
		}
		e.reset()
		return msgs
	}

	e.host.Abort()
	name := e.fileName
	e.reset()
	return []protocol.OutboundMessage{e.statusFor(name, protocol.FileStatusError, protocol.FileErrorFileHashMismatch)}
}

// verifyFileHash streams every written chunk back through the host's
// ReadChunk, hashing verificationChunkSize bytes at a time, and compares the
// lowercase hex-encoded MD5 digest against the file_hash given at
// init-upload time (hex casing confirmed against original_source's
// is_file_valid, which formats with "%02x").
func (e *Engine) verifyFileHash() bool {
	h := md5.New()
	for i := 0; i < e.expectedChunks; i++ {
		data, ok := e.host.ReadChunk(i)
		if !ok {
			return false
		}
		for len(data) > 0 {
			n := len(data)
			if n > verificationChunkSize {
				n = verificationChunkSize
			}
			h.Write(data[:n])
			data = data[n:]
		}
	}
	return hex.EncodeToString(h.Sum(nil)) == e.fileHash
}

// HandleAbort processes an inbound abort request (file_upload_abort or
// file_url_download_abort; isURL selects which status topic the response
// is published under). It implements the "any non-IDLE" rows of spec
// §4.4's transition table.
func (e *Engine) HandleAbort(name string, isURL bool) []protocol.OutboundMessage {
	if e.disabled() {
		return e.disabledResponse(name)
	}
	if e.state == Idle {
		return nil
	}
	statusFn := e.uploadStatus
	if isURL {
		statusFn = e.urlStatus
	}
	if name != e.fileName {
		return []protocol.OutboundMessage{statusFn(protocol.FileStatusError, protocol.FileErrorUnknown), e.fileListMessage()}
	}
	e.host.Abort()
	e.reset()
	return []protocol.OutboundMessage{statusFn(protocol.FileStatusAborted, protocol.FileErrorNone), e.fileListMessage()}
}

// HandleFileList processes an inbound file_list request.
func (e *Engine) HandleFileList() []protocol.OutboundMessage {
	if e.disabled() {
		return e.disabledResponse("")
	}
	return []protocol.OutboundMessage{e.fileListMessage()}
}

// HandleDelete processes an inbound file_delete request.
func (e *Engine) HandleDelete(names []string) []protocol.OutboundMessage {
	if e.disabled() {
		return e.disabledResponse("")
	}
	for _, n := range names {
		e.host.RemoveFile(n)
	}
	return []protocol.OutboundMessage{e.fileListMessage()}
}

// HandlePurge processes an inbound file_purge request.
func (e *Engine) HandlePurge() []protocol.OutboundMessage {
	if e.disabled() {
		return e.disabledResponse("")
	}
	e.host.PurgeFiles()
	return []protocol.OutboundMessage{e.fileListMessage()}
}

// Process advances the URL-download sub-state-machine by one tick,
// implementing the URL_DOWNLOAD and FILE_OBTAINED rows of spec §4.4's
// transition table. It is called once per connector Process invocation
// regardless of whether an inbound message was also dispatched this tick.
func (e *Engine) Process() []protocol.OutboundMessage {
	if e.disabled() {
		return nil
	}
	switch e.state {
	case URLDownload:
		e.host.StartURLDownload(e.fileURL)
		e.state = FileObtained
		return []protocol.OutboundMessage{e.urlStatus(protocol.FileStatusFileTransfer, protocol.FileErrorNone)}

	case FileObtained:
		done, success, downloaded := e.host.IsURLDownloadDone()
		if !done {
			return nil
		}
		if downloaded != "" {
			e.fileName = downloaded
		}
		if success {
			msgs := []protocol.OutboundMessage{
				e.urlStatus(protocol.FileStatusFileReady, protocol.FileErrorNone),
				e.fileListMessage(),
			}
			e.reset()
			return msgs
		}
		msg := e.urlStatus(protocol.FileStatusError, protocol.FileErrorUnknown)
		e.reset()
		return []protocol.OutboundMessage{msg}

	default:
		return nil
	}
}
