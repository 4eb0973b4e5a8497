// Package protocol implements the wire-level concerns of the connector: the
// JSON payload shapes exchanged with the platform, topic construction, and
// the bounded-size rules that keep every field usable on a constrained
// device. It does not know about MQTT framing (package transport) or about
// any particular state machine (packages filemgmt, firmware) -- it only
// encodes and decodes the messages those layers pass through it.
package protocol

// Size ceilings from spec §6. Where the connector checks one of these, a
// value that exceeds it is rejected rather than silently truncated.
// FileNameSize and FileHashSize are declared but not checked anywhere in
// this module: file names and hashes of any length are accepted.
const (
	DeviceKeySize      = 64
	DevicePasswordSize = 64
	TopicDirectionSize = 16
	TopicMessageSize   = 32
	TopicSize          = DeviceKeySize + TopicDirectionSize + TopicMessageSize
	PayloadSize        = 2048
	FileNameSize       = 64
	FileHashSize       = 32
	URLSize            = 64
	FeedElementSize    = 64
	MaxFeedsPerBatch   = 32

	// HashSize is the length, in bytes, of a packet chunk hash (SHA-256)
	// and of the reassembled-file verification digest.
	HashSize = 32

	MaxRetries       = 3
	PublishBatchSize = 50

	KeepaliveIntervalSeconds = 60
)

// Direction tags the device/platform relationship encoded into every topic.
type Direction string

const (
	DeviceToPlatform Direction = "d2p"
	PlatformToDevice Direction = "p2d"
)
