package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MessageType names one of the fixed inbound/outbound message kinds listed
// in spec §6. The dispatcher recognizes inbound ones by substring match
// against an inbound topic, so no two inbound MessageType values may be a
// substring of one another -- see inboundMessageTypes, which is checked in
// codec_test.go.
type MessageType string

const (
	FeedRegistration        MessageType = "feed_registration"
	FeedRemoval             MessageType = "feed_removal"
	FeedValues              MessageType = "feed_values"
	PullFeedValues          MessageType = "pull_feed_values"
	AttributeRegistration   MessageType = "attribute_registration"
	Parameters              MessageType = "parameters"
	PullParameters          MessageType = "pull_parameters"
	SynchronizeParameters   MessageType = "synchronize_parameters"
	Time                    MessageType = "time"
	DetailsSynchronization  MessageType = "details_synchronization"
	FileUploadStatus        MessageType = "file_upload_status"
	FileBinaryRequest       MessageType = "file_binary_request"
	FileURLDownloadStatus   MessageType = "file_url_download_status"
	FileList                MessageType = "file_list"
	FirmwareUpdateStatus    MessageType = "firmware_update_status"

	FileUploadInitiate      MessageType = "file_upload_initiate"
	FileBinaryResponse      MessageType = "file_binary_response"
	FileUploadAbort         MessageType = "file_upload_abort"
	FileURLDownloadInitiate MessageType = "file_url_download_initiate"
	FileURLDownloadAbort    MessageType = "file_url_download_abort"
	FileDelete              MessageType = "file_delete"
	FilePurge               MessageType = "file_purge"
	FirmwareUpdateInstall   MessageType = "firmware_update_install"
	FirmwareUpdateAbort     MessageType = "firmware_update_abort"
	Error                   MessageType = "error"
)

// Topic builds the fixed "{direction}/{device_key}/{message_type}" template
// named in spec §4.2, enforcing TopicSize.
func Topic(dir Direction, deviceKey string, kind MessageType) (string, error) {
	t := fmt.Sprintf("%s/%s/%s", dir, deviceKey, kind)
	if len(t) > TopicSize {
		return "", errors.Errorf("protocol: topic %q exceeds %d bytes", t, TopicSize)
	}
	return t, nil
}

// inboundMessageTypes is the fixed, non-overlapping set the dispatcher scans
// for, in priority order (first match wins). It covers every
// platform-to-device message type in spec §6.
var inboundMessageTypes = []MessageType{
	FeedValues,
	Parameters,
	Time,
	Error,
	DetailsSynchronization,
	FileUploadInitiate,
	FileBinaryResponse,
	FileUploadAbort,
	FileURLDownloadInitiate,
	FileURLDownloadAbort,
	FileList,
	FileDelete,
	FilePurge,
	FirmwareUpdateInstall,
	FirmwareUpdateAbort,
}

// MatchInbound scans topic for the first MessageType substring present,
// honoring the declaration order of InboundMessageTypes. It returns false if
// none match.
func MatchInbound(topic string) (MessageType, bool) {
	for _, mt := range InboundMessageTypes() {
		if strings.Contains(topic, string(mt)) {
			return mt, true
		}
	}
	return "", false
}

// InboundMessageTypes returns the ordered set of platform-to-device message
// types the dispatcher recognizes.
func InboundMessageTypes() []MessageType {
	return inboundMessageTypes
}
