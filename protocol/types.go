package protocol

import "github.com/pkg/errors"

// FeedType distinguishes how a Feed's data values are encoded on the wire.
type FeedType int

const (
	Numeric FeedType = iota
	String
	Boolean
	Vector
)

// Feed is a named, time-stamped measurement. Data holds one element for
// Numeric/String/Boolean feeds and N elements for a Vector feed -- all
// sharing the single Reference and UTCMillis.
//
// If UTCMillis is non-zero it must already be millisecond-precision Unix
// time; Validate rejects a non-zero value that looks second-precision.
type Feed struct {
	Reference string
	Data      []string
	UTCMillis int64
	Type      FeedType
}

// Validate enforces the bounded-field and timestamp-precision rules of
// spec §3. It does not enforce cross-feed batching rules -- see
// ValidateFeedBatch for that.
func (f Feed) Validate() error {
	if f.Reference == "" {
		return errors.New("feed: reference must not be empty")
	}
	if len(f.Reference) > FeedElementSize {
		return errors.Errorf("feed: reference %q exceeds %d bytes", f.Reference, FeedElementSize)
	}
	if len(f.Data) == 0 {
		return errors.New("feed: data must not be empty")
	}
	for _, v := range f.Data {
		if len(v) > FeedElementSize {
			return errors.Errorf("feed: value %q exceeds %d bytes", v, FeedElementSize)
		}
	}
	if f.UTCMillis != 0 && f.UTCMillis < 1e12 {
		return errors.Errorf("feed: utc_ms %d is non-zero but not millisecond-precision", f.UTCMillis)
	}
	return nil
}

// ValidateFeedBatch enforces the rule that multiple Feeds sharing a
// Reference may only be emitted together when every one of them carries a
// distinct, non-zero timestamp.
func ValidateFeedBatch(feeds []Feed) error {
	if len(feeds) > MaxFeedsPerBatch {
		return errors.Errorf("feed batch: %d feeds exceeds maximum of %d", len(feeds), MaxFeedsPerBatch)
	}
	byRef := make(map[string][]Feed, len(feeds))
	for _, f := range feeds {
		if err := f.Validate(); err != nil {
			return err
		}
		byRef[f.Reference] = append(byRef[f.Reference], f)
	}
	for ref, group := range byRef {
		if len(group) == 1 {
			continue
		}
		seen := make(map[int64]bool, len(group))
		for _, f := range group {
			if f.UTCMillis == 0 {
				return errors.Errorf("feed batch: reference %q batches %d entries but entry lacks a timestamp", ref, len(group))
			}
			if seen[f.UTCMillis] {
				return errors.Errorf("feed batch: reference %q has duplicate timestamp %d", ref, f.UTCMillis)
			}
			seen[f.UTCMillis] = true
		}
	}
	return nil
}

// Parameter is a named, read-write configuration knob. Well-known names
// follow the platform's predefined set (connectivity mode, retention time,
// maximum message size, firmware update flags, ...); the codec does not
// enforce a closed name set since the platform may introduce new ones.
type Parameter struct {
	Name  string
	Value string
}

// Attribute is a named, read-only device descriptor. Re-registering an
// Attribute with a name already known to an AttributeSet updates its value
// in place, matching the original implementation's update-in-place list
// semantics.
type Attribute struct {
	Name     string
	DataType string
	Value    string
}

// AttributeSet tracks registered Attributes, deduplicating by Name.
type AttributeSet struct {
	byName map[string]int
	attrs  []Attribute
}

// NewAttributeSet returns an empty AttributeSet.
func NewAttributeSet() *AttributeSet {
	return &AttributeSet{byName: make(map[string]int)}
}

// Register adds a, or updates the value/type of an already-registered
// Attribute sharing its Name.
func (s *AttributeSet) Register(a Attribute) {
	if i, ok := s.byName[a.Name]; ok {
		s.attrs[i] = a
		return
	}
	s.byName[a.Name] = len(s.attrs)
	s.attrs = append(s.attrs, a)
}

// All returns the registered Attributes in registration order.
func (s *AttributeSet) All() []Attribute {
	out := make([]Attribute, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// FileTransferStatus is the wire-visible status of a File Management
// transfer operation.
type FileTransferStatus string

const (
	FileStatusFileTransfer FileTransferStatus = "FILE_TRANSFER"
	FileStatusFileReady    FileTransferStatus = "FILE_READY"
	FileStatusError        FileTransferStatus = "ERROR"
	FileStatusAborted      FileTransferStatus = "ABORTED"
)

// FileTransferError is the wire-visible error enum for File Management.
type FileTransferError string

const (
	FileErrorNone                     FileTransferError = "NONE"
	FileErrorUnknown                  FileTransferError = "UNKNOWN"
	FileErrorTransferProtocolDisabled FileTransferError = "TRANSFER_PROTOCOL_DISABLED"
	FileErrorUnsupportedFileSize      FileTransferError = "UNSUPPORTED_FILE_SIZE"
	FileErrorMalformedURL             FileTransferError = "MALFORMED_URL"
	FileErrorFileHashMismatch         FileTransferError = "FILE_HASH_MISMATCH"
	FileErrorFileSystem               FileTransferError = "FILE_SYSTEM"
	FileErrorRetryCountExceeded       FileTransferError = "RETRY_COUNT_EXCEEDED"
)

// FirmwareStatus is the wire-visible status of a Firmware Update operation.
type FirmwareStatus string

const (
	FirmwareAwaitingDevice FirmwareStatus = "AWAITING_DEVICE"
	FirmwareInstalling     FirmwareStatus = "INSTALLING"
	FirmwareSuccess        FirmwareStatus = "SUCCESS"
	FirmwareError          FirmwareStatus = "ERROR"
	FirmwareAborted        FirmwareStatus = "ABORTED"
	FirmwareUnknown        FirmwareStatus = "UNKNOWN"
)

// FirmwareUpdateError is the wire-visible error enum for Firmware Update.
type FirmwareUpdateError string

const (
	FirmwareErrorNone                FirmwareUpdateError = "NONE"
	FirmwareErrorUnknown             FirmwareUpdateError = "UNKNOWN"
	FirmwareErrorUnknownFile         FirmwareUpdateError = "UNKNOWN_FILE"
	FirmwareErrorInstallationFailed  FirmwareUpdateError = "INSTALLATION_FAILED"
)

// FileListEntry describes one file known to the device's storage, as
// reported on the file_list topic.
type FileListEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}
