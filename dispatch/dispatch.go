// Package dispatch is the connector's single entry point for inbound MQTT
// PUBLISH frames and its periodic tick loop. It does not parse topics
// structurally (spec §4.6): it scans for a message-type substring drawn
// from a fixed, non-overlapping set and routes by first match, forwarding
// the decoded payload to whichever engine or user-supplied handler owns
// that message type.
package dispatch

import (
	log "github.com/sirupsen/logrus"

	"github.com/fieldlink-iot/connect/firmware"
	"github.com/fieldlink-iot/connect/protocol"
)

// FeedHandler receives platform-pushed feed values (e.g. actuation-style
// writes to a device-owned feed).
type FeedHandler func(feeds []protocol.Feed)

// ParameterHandler receives platform-pushed parameter updates.
type ParameterHandler func(params []protocol.Parameter)

// DetailsSyncHandler receives an inbound details_synchronization payload
// verbatim; its grammar is left to the caller (spec §1 Non-goals).
type DetailsSyncHandler func(payload []byte)

// ErrorHandler receives an inbound platform-reported error payload
// verbatim.
type ErrorHandler func(payload []byte)

// TimeHandler receives a platform-pushed UTC time value, in milliseconds.
type TimeHandler func(utcMillis int64)

// FileEngine is the subset of filemgmt.Engine the Dispatcher drives. It is
// expressed as an interface so dispatch does not import filemgmt directly
// for anything beyond this contract, matching the "engines don't know
// about their caller" design note (spec §9).
type FileEngine interface {
	HandleInitUpload(name string, size int64, fileHash string) []protocol.OutboundMessage
	HandleChunk(packet []byte) []protocol.OutboundMessage
	HandleAbort(name string, isURL bool) []protocol.OutboundMessage
	HandleURLDownload(url string) []protocol.OutboundMessage
	HandleFileList() []protocol.OutboundMessage
	HandleDelete(names []string) []protocol.OutboundMessage
	HandlePurge() []protocol.OutboundMessage
	Process() []protocol.OutboundMessage
}

// FirmwareEngine is the subset of firmware.Engine the Dispatcher drives.
type FirmwareEngine interface {
	HandleInstall(name string) []protocol.OutboundMessage
	HandleAbort() []protocol.OutboundMessage
	Process() []protocol.OutboundMessage
}

var _ FirmwareEngine = (*firmware.Engine)(nil)

// Handlers bundles the optional user-supplied callbacks. A nil handler
// means inbound messages of that kind are silently dropped.
type Handlers struct {
	Feed        FeedHandler
	Parameter   ParameterHandler
	DetailsSync DetailsSyncHandler
	Error       ErrorHandler
	Time        TimeHandler
}

// Dispatcher routes inbound payloads by topic substring to the File
// Management engine, the Firmware Update engine, or a user-supplied
// handler (spec §4.6).
type Dispatcher struct {
	file     FileEngine
	firmware FirmwareEngine
	handlers Handlers
}

// New returns a Dispatcher wired to the given engines and handlers. Either
// engine may be nil if that subsystem is not in use.
func New(file FileEngine, fw FirmwareEngine, handlers Handlers) *Dispatcher {
	return &Dispatcher{file: file, firmware: fw, handlers: handlers}
}

// Dispatch decodes and routes one inbound PUBLISH's payload according to
// the message type matched in topic, returning any outbound messages the
// routed handler produced.
func (d *Dispatcher) Dispatch(topic string, payload []byte) []protocol.OutboundMessage {
	kind, ok := protocol.MatchInbound(topic)
	if !ok {
		log.WithField("topic", topic).Debug("dispatch: no recognized message type in topic")
		return nil
	}

	switch kind {
	case protocol.FeedValues:
		feeds, err := protocol.UnmarshalFeedValues(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal feed values")
			return nil
		}
		if d.handlers.Feed != nil {
			d.handlers.Feed(feeds)
		}
		return nil

	case protocol.Parameters:
		params, err := protocol.UnmarshalParameters(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal parameters")
			return nil
		}
		if d.handlers.Parameter != nil {
			d.handlers.Parameter(params)
		}
		return nil

	case protocol.Time:
		ms, err := protocol.UnmarshalTime(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal time")
			return nil
		}
		if d.handlers.Time != nil {
			d.handlers.Time(ms)
		}
		return nil

	case protocol.Error:
		if d.handlers.Error != nil {
			d.handlers.Error(payload)
		}
		return nil

	case protocol.DetailsSynchronization:
		if d.handlers.DetailsSync != nil {
			d.handlers.DetailsSync(payload)
		}
		return nil

	case protocol.FileUploadInitiate:
		if d.file == nil {
			return nil
		}
		req, err := protocol.UnmarshalFileUploadInitiate(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal file upload initiate")
			return nil
		}
		return d.file.HandleInitUpload(req.Name, req.Size, req.Hash)

	case protocol.FileBinaryResponse:
		if d.file == nil {
			return nil
		}
		return d.file.HandleChunk(payload)

	case protocol.FileUploadAbort:
		if d.file == nil {
			return nil
		}
		req, err := protocol.UnmarshalFileName(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal file upload abort")
			return nil
		}
		return d.file.HandleAbort(req.Name, false)

	case protocol.FileURLDownloadInitiate:
		if d.file == nil {
			return nil
		}
		req, err := protocol.UnmarshalFileURL(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal file url download initiate")
			return nil
		}
		return d.file.HandleURLDownload(req.URL)

	case protocol.FileURLDownloadAbort:
		if d.file == nil {
			return nil
		}
		req, err := protocol.UnmarshalFileName(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal file url download abort")
			return nil
		}
		return d.file.HandleAbort(req.Name, true)

	case protocol.FileList:
		if d.file == nil {
			return nil
		}
		return d.file.HandleFileList()

	case protocol.FileDelete:
		if d.file == nil {
			return nil
		}
		req, err := protocol.UnmarshalFileNames(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal file delete")
			return nil
		}
		return d.file.HandleDelete(req.Names)

	case protocol.FilePurge:
		if d.file == nil {
			return nil
		}
		return d.file.HandlePurge()

	case protocol.FirmwareUpdateInstall:
		if d.firmware == nil {
			return nil
		}
		req, err := protocol.UnmarshalFileName(payload)
		if err != nil {
			log.WithError(err).Warn("dispatch: unmarshal firmware update install")
			return nil
		}
		return d.firmware.HandleInstall(req.Name)

	case protocol.FirmwareUpdateAbort:
		if d.firmware == nil {
			return nil
		}
		return d.firmware.HandleAbort()

	default:
		log.WithField("messageType", kind).Debug("dispatch: matched message type has no route")
		return nil
	}
}
