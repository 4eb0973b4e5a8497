package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// OutboundMessage is a (topic, payload) pair ready to be handed to the
// outbound queue. Payload is bounded by PayloadSize and Topic by TopicSize;
// both are checked by the Marshal* functions below before an
// OutboundMessage is ever constructed.
type OutboundMessage struct {
	Topic   string
	Payload string
}

func newOutboundMessage(dir Direction, deviceKey string, kind MessageType, payload []byte) (OutboundMessage, error) {
	if len(payload) > PayloadSize {
		return OutboundMessage{}, errors.Errorf("protocol: %s payload of %d bytes exceeds %d", kind, len(payload), PayloadSize)
	}
	topic, err := Topic(dir, deviceKey, kind)
	if err != nil {
		return OutboundMessage{}, err
	}
	return OutboundMessage{Topic: topic, Payload: string(payload)}, nil
}

// --- Feed values -------------------------------------------------------

// formatFeedValue renders a Feed's Data according to its Type, following
// the original implementation's formatting rules: Numeric uses fixed
// decimal "%f" formatting (unquoted on the wire), String/Boolean are
// quoted, and Vector joins all elements with commas into a single quoted
// value.
func formatFeedValue(f Feed) (interface{}, error) {
	switch f.Type {
	case Numeric:
		if len(f.Data) != 1 {
			return nil, errors.Errorf("protocol: numeric feed %q must carry exactly one value", f.Reference)
		}
		v, err := strconv.ParseFloat(f.Data[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "protocol: feed %q value %q is not numeric", f.Reference, f.Data[0])
		}
		return json.Number(strconv.FormatFloat(v, 'f', 6, 64)), nil
	case String, Boolean:
		if len(f.Data) != 1 {
			return nil, errors.Errorf("protocol: feed %q must carry exactly one value", f.Reference)
		}
		return f.Data[0], nil
	case Vector:
		return strings.Join(f.Data, ","), nil
	default:
		return nil, errors.Errorf("protocol: feed %q has unknown type %d", f.Reference, f.Type)
	}
}

// MarshalFeedValues builds the feed_values outbound message: a JSON array
// with one object per Feed, each keyed by its reference plus an optional
// "timestamp". It enforces the batching rule of spec §4.2 via
// ValidateFeedBatch before encoding anything.
func MarshalFeedValues(deviceKey string, feeds []Feed) (OutboundMessage, error) {
	if err := ValidateFeedBatch(feeds); err != nil {
		return OutboundMessage{}, err
	}
	entries := make([]map[string]interface{}, 0, len(feeds))
	for _, f := range feeds {
		value, err := formatFeedValue(f)
		if err != nil {
			return OutboundMessage{}, err
		}
		entry := map[string]interface{}{f.Reference: value}
		if f.UTCMillis != 0 {
			entry["timestamp"] = f.UTCMillis
		}
		entries = append(entries, entry)
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return OutboundMessage{}, errors.Wrap(err, "protocol: marshal feed values")
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, FeedValues, payload)
}

// UnmarshalFeedValues decodes an inbound feed_values payload (platform
// pushing new readings to the device, e.g. actuation-style feeds) into
// Feeds. Value JSON-kind determines FeedType: a JSON string becomes String,
// true/false becomes Boolean, and a JSON number becomes Numeric.
func UnmarshalFeedValues(payload []byte) ([]Feed, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Wrap(err, "protocol: unmarshal feed values")
	}
	feeds := make([]Feed, 0, len(raw))
	for _, obj := range raw {
		var f Feed
		if ts, ok := obj["timestamp"]; ok {
			if err := json.Unmarshal(ts, &f.UTCMillis); err != nil {
				return nil, errors.Wrap(err, "protocol: feed timestamp")
			}
		}
		for k, v := range obj {
			if k == "timestamp" {
				continue
			}
			f.Reference = k
			switch {
			case string(v) == "true" || string(v) == "false":
				f.Type = Boolean
				f.Data = []string{string(v)}
			case len(v) > 0 && v[0] == '"':
				var s string
				if err := json.Unmarshal(v, &s); err != nil {
					return nil, errors.Wrap(err, "protocol: feed value")
				}
				f.Type = String
				f.Data = []string{s}
			default:
				f.Type = Numeric
				f.Data = []string{string(v)}
			}
		}
		if f.Reference == "" {
			return nil, errors.New("protocol: feed entry missing reference key")
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// --- Attributes & parameters --------------------------------------------

type attributeWire struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Value    string `json:"value"`
}

// MarshalAttributeRegistration builds the attribute_registration message.
func MarshalAttributeRegistration(deviceKey string, attrs []Attribute) (OutboundMessage, error) {
	wire := make([]attributeWire, len(attrs))
	for i, a := range attrs {
		wire[i] = attributeWire{Name: a.Name, DataType: a.DataType, Value: a.Value}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return OutboundMessage{}, errors.Wrap(err, "protocol: marshal attribute registration")
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, AttributeRegistration, payload)
}

// MarshalParameters builds the device-reported parameters message: a flat
// JSON object of name -> value.
func MarshalParameters(deviceKey string, params []Parameter) (OutboundMessage, error) {
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[p.Name] = p.Value
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return OutboundMessage{}, errors.Wrap(err, "protocol: marshal parameters")
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, Parameters, payload)
}

// UnmarshalParameters decodes an inbound parameters payload (the platform
// pushing updated values) into Parameters.
func UnmarshalParameters(payload []byte) ([]Parameter, error) {
	var m map[string]string
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, errors.Wrap(err, "protocol: unmarshal parameters")
	}
	out := make([]Parameter, 0, len(m))
	for name, value := range m {
		out = append(out, Parameter{Name: name, Value: value})
	}
	return out, nil
}

// MarshalPullParameters and MarshalSynchronizeParameters both carry a list
// of parameter names the device wants the platform to act on; they differ
// only in topic.
func MarshalPullParameters(deviceKey string, names []string) (OutboundMessage, error) {
	return marshalNameList(deviceKey, PullParameters, names)
}

func MarshalSynchronizeParameters(deviceKey string, names []string) (OutboundMessage, error) {
	return marshalNameList(deviceKey, SynchronizeParameters, names)
}

func marshalNameList(deviceKey string, kind MessageType, names []string) (OutboundMessage, error) {
	payload, err := json.Marshal(names)
	if err != nil {
		return OutboundMessage{}, errors.Wrapf(err, "protocol: marshal %s", kind)
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, kind, payload)
}

// --- File management ------------------------------------------------------

type fileStatusWire struct {
	Name   string             `json:"name"`
	Error  FileTransferError  `json:"error,omitempty"`
	Status FileTransferStatus `json:"status"`
}

// MarshalFileUploadStatus builds the file_upload_status message.
func MarshalFileUploadStatus(deviceKey, name string, status FileTransferStatus, fileErr FileTransferError) (OutboundMessage, error) {
	return marshalFileStatus(deviceKey, FileUploadStatus, name, status, fileErr)
}

// MarshalFileURLDownloadStatus builds the file_url_download_status message.
func MarshalFileURLDownloadStatus(deviceKey, name string, status FileTransferStatus, fileErr FileTransferError) (OutboundMessage, error) {
	return marshalFileStatus(deviceKey, FileURLDownloadStatus, name, status, fileErr)
}

func marshalFileStatus(deviceKey string, kind MessageType, name string, status FileTransferStatus, fileErr FileTransferError) (OutboundMessage, error) {
	wire := fileStatusWire{Name: name, Status: status}
	if fileErr != "" && fileErr != FileErrorNone {
		wire.Error = fileErr
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return OutboundMessage{}, errors.Wrapf(err, "protocol: marshal %s", kind)
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, kind, payload)
}

type fileBinaryRequestWire struct {
	Name       string `json:"name"`
	ChunkIndex int    `json:"chunkIndex"`
}

// MarshalFileBinaryRequest builds the file_binary_request message asking the
// platform for the next chunk of a file transfer.
func MarshalFileBinaryRequest(deviceKey, name string, chunkIndex int) (OutboundMessage, error) {
	payload, err := json.Marshal(fileBinaryRequestWire{Name: name, ChunkIndex: chunkIndex})
	if err != nil {
		return OutboundMessage{}, errors.Wrap(err, "protocol: marshal file binary request")
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, FileBinaryRequest, payload)
}

// MarshalFileList builds the file_list message from the host's current
// listing. An empty or nil list is encoded as "[]".
func MarshalFileList(deviceKey string, files []FileListEntry) (OutboundMessage, error) {
	if files == nil {
		files = []FileListEntry{}
	}
	payload, err := json.Marshal(files)
	if err != nil {
		return OutboundMessage{}, errors.Wrap(err, "protocol: marshal file list")
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, FileList, payload)
}

// FileUploadInitiateRequest is the inbound payload naming a file to be
// transferred chunk-by-chunk.
type FileUploadInitiateRequest struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// UnmarshalFileUploadInitiate decodes a file_upload_initiate payload.
func UnmarshalFileUploadInitiate(payload []byte) (FileUploadInitiateRequest, error) {
	var req FileUploadInitiateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, errors.Wrap(err, "protocol: unmarshal file upload initiate")
	}
	return req, nil
}

// FileNameRequest is the inbound payload naming a single file, used by
// file_upload_abort, file_url_download_abort and firmware_update_install. An
// empty payload unmarshals to an empty Name.
type FileNameRequest struct {
	Name string `json:"name"`
}

// UnmarshalFileName decodes any of the "{name: ...}" shaped inbound
// payloads.
func UnmarshalFileName(payload []byte) (FileNameRequest, error) {
	var req FileNameRequest
	if len(payload) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, errors.Wrap(err, "protocol: unmarshal file name request")
	}
	return req, nil
}

// FileURLRequest is the inbound payload for file_url_download_initiate.
type FileURLRequest struct {
	URL string `json:"url"`
}

// UnmarshalFileURL decodes a file_url_download_initiate payload.
func UnmarshalFileURL(payload []byte) (FileURLRequest, error) {
	var req FileURLRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, errors.Wrap(err, "protocol: unmarshal file url request")
	}
	return req, nil
}

// FileNamesRequest is the inbound payload for file_delete, which may name
// more than one file.
type FileNamesRequest struct {
	Names []string `json:"names"`
}

// UnmarshalFileNames decodes a file_delete payload.
func UnmarshalFileNames(payload []byte) (FileNamesRequest, error) {
	var req FileNamesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, errors.Wrap(err, "protocol: unmarshal file names request")
	}
	return req, nil
}

// --- Firmware update -------------------------------------------------------

type firmwareStatusWire struct {
	Status FirmwareStatus      `json:"status"`
	Error  FirmwareUpdateError `json:"error,omitempty"`
}

// MarshalFirmwareUpdateStatus builds the firmware_update_status message.
func MarshalFirmwareUpdateStatus(deviceKey string, status FirmwareStatus, fwErr FirmwareUpdateError) (OutboundMessage, error) {
	wire := firmwareStatusWire{Status: status}
	if fwErr != "" && fwErr != FirmwareErrorNone {
		wire.Error = fwErr
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return OutboundMessage{}, errors.Wrap(err, "protocol: marshal firmware update status")
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, FirmwareUpdateStatus, payload)
}

// --- Time & opaque pass-through -------------------------------------------

type timeWire struct {
	Value int64 `json:"value"`
}

// MarshalTime builds the device's time report / request.
func MarshalTime(deviceKey string, utcMillis int64) (OutboundMessage, error) {
	payload, err := json.Marshal(timeWire{Value: utcMillis})
	if err != nil {
		return OutboundMessage{}, errors.Wrap(err, "protocol: marshal time")
	}
	return newOutboundMessage(DeviceToPlatform, deviceKey, Time, payload)
}

// UnmarshalTime decodes an inbound time payload.
func UnmarshalTime(payload []byte) (int64, error) {
	var wire timeWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return 0, errors.Wrap(err, "protocol: unmarshal time")
	}
	return wire.Value, nil
}

// MarshalDetailsSynchronization reports the device's current feed/attribute
// manifest. Its exact grammar is left to the caller (spec's Non-goals
// explicitly exclude specifying the JSON grammar beyond wire compatibility);
// the codec only wraps whatever payload bytes the caller already produced.
func MarshalDetailsSynchronization(deviceKey string, payload []byte) (OutboundMessage, error) {
	return newOutboundMessage(DeviceToPlatform, deviceKey, DetailsSynchronization, payload)
}
