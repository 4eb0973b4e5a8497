package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlink-iot/connect/protocol"
	"github.com/fieldlink-iot/connect/queue"
	"github.com/fieldlink-iot/connect/transport"
)

type recordingFileEngine struct {
	chunks [][]byte
}

func (f *recordingFileEngine) HandleInitUpload(name string, size int64, fileHash string) []protocol.OutboundMessage {
	return nil
}
func (f *recordingFileEngine) HandleChunk(packet []byte) []protocol.OutboundMessage {
	f.chunks = append(f.chunks, packet)
	return nil
}
func (f *recordingFileEngine) HandleAbort(name string, isURL bool) []protocol.OutboundMessage {
	return nil
}
func (f *recordingFileEngine) HandleURLDownload(url string) []protocol.OutboundMessage { return nil }
func (f *recordingFileEngine) HandleFileList() []protocol.OutboundMessage              { return nil }
func (f *recordingFileEngine) HandleDelete(names []string) []protocol.OutboundMessage  { return nil }
func (f *recordingFileEngine) HandlePurge() []protocol.OutboundMessage                 { return nil }
func (f *recordingFileEngine) Process() []protocol.OutboundMessage                     { return nil }

type recordingFirmwareEngine struct {
	installed string
	aborted   bool
}

func (fw *recordingFirmwareEngine) HandleInstall(name string) []protocol.OutboundMessage {
	fw.installed = name
	return nil
}
func (fw *recordingFirmwareEngine) HandleAbort() []protocol.OutboundMessage {
	fw.aborted = true
	return nil
}
func (fw *recordingFirmwareEngine) Process() []protocol.OutboundMessage { return nil }

// TestDispatch_RoutesFirmwareInstallByTopic verifies an inbound PUBLISH is
// routed to the correct engine purely by topic substring.
func TestDispatch_RoutesFirmwareInstallByTopic(t *testing.T) {
	file := &recordingFileEngine{}
	fw := &recordingFirmwareEngine{}
	d := New(file, fw, Handlers{})

	d.Dispatch("p2d/DEV/firmware_update_install", []byte(`{"name":"fw.bin"}`))
	assert.Equal(t, "fw.bin", fw.installed)

	d.Dispatch("p2d/DEV/file_binary_response", []byte("rawchunk"))
	require.Len(t, file.chunks, 1)
	assert.Equal(t, []byte("rawchunk"), file.chunks[0])
}

func TestDispatch_FeedValuesInvokesFeedHandler(t *testing.T) {
	var got []protocol.Feed
	d := New(nil, nil, Handlers{Feed: func(feeds []protocol.Feed) { got = feeds }})

	d.Dispatch("p2d/DEV/feed_values", []byte(`[{"temperature": 21.5}]`))
	require.Len(t, got, 1)
	assert.Equal(t, "temperature", got[0].Reference)
}

func TestDispatch_UnrecognizedTopicIsIgnored(t *testing.T) {
	d := New(nil, nil, Handlers{})
	msgs := d.Dispatch("p2d/DEV/not_a_real_message_type", []byte("x"))
	assert.Nil(t, msgs)
}

// loopbackSocket buffers whatever is Send() to it; Recv always reports no
// data available, which is all the keepalive/publish-batch scenarios need.
type loopbackSocket struct {
	sent [][]byte
}

func (s *loopbackSocket) send(b []byte) int {
	s.sent = append(s.sent, append([]byte(nil), b...))
	return len(b)
}

func (s *loopbackSocket) recv(max int) ([]byte, error) { return nil, nil }

// TestLoop_KeepaliveFiresOnSixtiethTick verifies that with a 60s keepalive
// interval, 59 one-second ticks produce no PINGREQ and the 60th produces
// exactly one.
func TestLoop_KeepaliveFiresOnSixtiethTick(t *testing.T) {
	sock := &loopbackSocket{}
	conn := transport.NewConn(transport.Socket{Send: sock.send, Recv: sock.recv})
	q := queue.New(queue.NewRingBuffer(4096, true))
	d := New(nil, nil, Handlers{})
	loop := NewLoop(conn, q, d, nil, nil, 0)

	for i := 0; i < 59; i++ {
		require.NoError(t, loop.Process(1000))
	}
	assert.Empty(t, sock.sent, "no PINGREQ expected before the keepalive interval elapses")

	require.NoError(t, loop.Process(1000))
	require.Len(t, sock.sent, 1)
	assert.Equal(t, byte(12<<4), sock.sent[0][0], "expected a PINGREQ fixed header")
}

// TestLoop_PublishDrainsExactlyOneBatch verifies that Publish() drains at
// most protocol.PublishBatchSize (50) messages per call.
func TestLoop_PublishDrainsExactlyOneBatch(t *testing.T) {
	sock := &loopbackSocket{}
	conn := transport.NewConn(transport.Socket{Send: sock.send, Recv: sock.recv})
	backend := queue.NewRingBuffer(1<<20, true)
	q := queue.New(backend)
	d := New(nil, nil, Handlers{})
	loop := NewLoop(conn, q, d, nil, nil, 0)

	for i := 0; i < 120; i++ {
		require.True(t, q.PushOutbound(protocol.OutboundMessage{
			Topic:   "d2p/DEV/feed_values",
			Payload: fmt.Sprintf(`[{"n":%d}]`, i),
		}))
	}

	require.NoError(t, loop.Publish())
	assert.Len(t, sock.sent, 50)

	remaining := 0
	for !q.IsEmpty() {
		q.Pop()
		remaining++
	}
	assert.Equal(t, 70, remaining)
}
