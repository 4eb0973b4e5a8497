package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlink-iot/connect/protocol"
	"github.com/fieldlink-iot/connect/transport"
)

type loopbackSocket struct {
	sent [][]byte
}

func (s *loopbackSocket) send(b []byte) int {
	s.sent = append(s.sent, append([]byte(nil), b...))
	return len(b)
}

func (s *loopbackSocket) recv(max int) ([]byte, error) { return nil, nil }

func newTestSocket() (transport.Socket, *loopbackSocket) {
	lb := &loopbackSocket{}
	return transport.Socket{Send: lb.send, Recv: lb.recv}, lb
}

func TestNew_RejectsOversizeDeviceKey(t *testing.T) {
	sock, _ := newTestSocket()
	big := make([]byte, protocol.DeviceKeySize+1)
	_, err := New(string(big), "pw", sock)
	assert.Error(t, err)
}

func TestConnect_SendsConnectAndSubscribe(t *testing.T) {
	sock, lb := newTestSocket()
	c, err := New("DEV1", "secret", sock)
	require.NoError(t, err)

	require.NoError(t, c.Connect())
	require.Len(t, lb.sent, 2)
	assert.Contains(t, string(lb.sent[0]), "lastwill/DEV1")
	assert.Contains(t, string(lb.sent[1]), "p2d/DEV1/#")
}

func TestAddFeed_EnqueuesAndPublishes(t *testing.T) {
	sock, lb := newTestSocket()
	c, err := New("DEV1", "secret", sock)
	require.NoError(t, err)

	ok := c.AddFeed(protocol.Feed{Reference: "temperature", Data: []string{"21.5"}, Type: protocol.Numeric})
	require.True(t, ok)

	require.NoError(t, c.Publish())
	require.Len(t, lb.sent, 1)
	assert.Contains(t, string(lb.sent[0]), "d2p/DEV1/feed_values")
	assert.Contains(t, string(lb.sent[0]), "21.5")
}

func TestRegisterAttribute_PublishesFullSetOnEachUpdate(t *testing.T) {
	sock, lb := newTestSocket()
	c, err := New("DEV1", "secret", sock)
	require.NoError(t, err)

	require.True(t, c.RegisterAttribute(protocol.Attribute{Name: "model", DataType: "STRING", Value: "v1"}))
	require.True(t, c.RegisterAttribute(protocol.Attribute{Name: "model", DataType: "STRING", Value: "v2"}))

	require.NoError(t, c.Publish())
	require.Len(t, lb.sent, 2)
	assert.Contains(t, string(lb.sent[1]), `"value":"v2"`)
}

func TestProcess_AdvancesLoopWithoutError(t *testing.T) {
	sock, _ := newTestSocket()
	c, err := New("DEV1", "secret", sock)
	require.NoError(t, err)
	assert.NoError(t, c.Process(100))
}

// TestFileUploadDisabledByDefault verifies that without WithFileHost, an
// inbound file_upload_initiate is answered with TRANSFER_PROTOCOL_DISABLED
// rather than silently ignored.
func TestFileUploadDisabledByDefault(t *testing.T) {
	sock, _ := newTestSocket()
	c, err := New("DEV1", "secret", sock)
	require.NoError(t, err)

	msgs := c.dispatcher.Dispatch("p2d/DEV1/file_upload_initiate", []byte(`{"name":"f.bin","size":4,"hash":"abc"}`))
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Payload, "TRANSFER_PROTOCOL_DISABLED")
}
