package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalFeedValues_Numeric(t *testing.T) {
	msg, err := MarshalFeedValues("DEV", []Feed{
		{Reference: "T", Data: []string{"23.5"}, Type: Numeric},
	})
	require.NoError(t, err)
	assert.Equal(t, "d2p/DEV/feed_values", msg.Topic)
	assert.Equal(t, `[{"T":23.500000}]`, msg.Payload)
}

func TestMarshalFeedValues_VectorAndTimestamp(t *testing.T) {
	msg, err := MarshalFeedValues("DEV", []Feed{
		{Reference: "ACC", Data: []string{"1", "2", "3"}, Type: Vector, UTCMillis: 1_700_000_000_000},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"ACC":"1,2,3","timestamp":1700000000000}]`, msg.Payload)
}

func TestMarshalFeedValues_BatchRequiresTimestamps(t *testing.T) {
	_, err := MarshalFeedValues("DEV", []Feed{
		{Reference: "T", Data: []string{"1"}, Type: Numeric, UTCMillis: 1_700_000_000_000},
		{Reference: "T", Data: []string{"2"}, Type: Numeric},
	})
	assert.Error(t, err)
}

func TestMarshalFeedValues_RejectsSecondPrecisionTimestamp(t *testing.T) {
	_, err := MarshalFeedValues("DEV", []Feed{
		{Reference: "T", Data: []string{"1"}, Type: Numeric, UTCMillis: 1_700_000_000},
	})
	assert.Error(t, err)
}

func TestUnmarshalFeedValues_RoundTripsTypes(t *testing.T) {
	feeds, err := UnmarshalFeedValues([]byte(`[{"SW":true,"timestamp":5},{"NAME":"hello"},{"T":12.3}]`))
	require.NoError(t, err)
	require.Len(t, feeds, 3)
	assert.Equal(t, Boolean, feeds[0].Type)
	assert.Equal(t, String, feeds[1].Type)
	assert.Equal(t, Numeric, feeds[2].Type)
}

func TestAttributeSet_UpdatesInPlace(t *testing.T) {
	s := NewAttributeSet()
	s.Register(Attribute{Name: "fw", DataType: "STRING", Value: "1.0"})
	s.Register(Attribute{Name: "fw", DataType: "STRING", Value: "1.1"})
	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "1.1", all[0].Value)
}

func TestMarshalFileUploadStatus(t *testing.T) {
	msg, err := MarshalFileUploadStatus("DEV", "fw.bin", FileStatusFileReady, FileErrorNone)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"fw.bin","status":"FILE_READY"}`, msg.Payload)
}

func TestMarshalFileUploadStatus_IncludesErrorWhenSet(t *testing.T) {
	msg, err := MarshalFileUploadStatus("DEV", "fw.bin", FileStatusError, FileErrorFileHashMismatch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"fw.bin","status":"ERROR","error":"FILE_HASH_MISMATCH"}`, msg.Payload)
}

func TestMarshalFileList_EmptyEncodesAsEmptyArray(t *testing.T) {
	msg, err := MarshalFileList("DEV", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", msg.Payload)
}

func TestMarshalFirmwareUpdateStatus(t *testing.T) {
	msg, err := MarshalFirmwareUpdateStatus("DEV", FirmwareInstalling, FirmwareErrorNone)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"INSTALLING"}`, msg.Payload)
}

func TestTopic_EnforcesSizeLimit(t *testing.T) {
	_, err := Topic(DeviceToPlatform, strings.Repeat("x", TopicSize), FeedValues)
	assert.Error(t, err)
}

func TestMatchInbound_FirstMatchWins(t *testing.T) {
	mt, ok := MatchInbound("p2d/DEV123/firmware_update_install")
	require.True(t, ok)
	assert.Equal(t, FirmwareUpdateInstall, mt)

	mt, ok = MatchInbound("p2d/DEV123/file_binary_response")
	require.True(t, ok)
	assert.Equal(t, FileBinaryResponse, mt)
}

func TestInboundMessageTypes_NoneIsSubstringOfAnother(t *testing.T) {
	all := InboundMessageTypes()
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			if strings.Contains(string(a), string(b)) {
				t.Fatalf("message type %q contains %q; dispatcher routing would be ambiguous", a, b)
			}
		}
	}
}
