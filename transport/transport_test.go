package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackSocket buffers whatever is Send() to it and returns it again from
// Recv(), optionally split across several calls to exercise partial-frame
// reassembly.
type loopbackSocket struct {
	chunks [][]byte
}

func (s *loopbackSocket) send(b []byte) int {
	cp := append([]byte(nil), b...)
	s.chunks = append(s.chunks, cp)
	return len(b)
}

func (s *loopbackSocket) recv(max int) ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, nil
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	if len(chunk) > max {
		s.chunks = append([][]byte{chunk[max:]}, s.chunks...)
		return chunk[:max], nil
	}
	return chunk, nil
}

func newLoopback() *loopbackSocket { return &loopbackSocket{} }

func TestConn_PublishRoundTrip(t *testing.T) {
	lb := newLoopback()
	a := NewConn(Socket{Send: lb.send, Recv: lb.recv})
	b := NewConn(Socket{Send: lb.send, Recv: lb.recv})

	require.NoError(t, a.Publish("d2p/DEV/feed_values", `[{"T":1}]`))

	frame, ok, err := b.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, frame.IsPublish())
	assert.Equal(t, "d2p/DEV/feed_values", frame.Topic)
	assert.Equal(t, `[{"T":1}]`, string(frame.Payload))
}

func TestConn_ReceiveHandlesSplitFrames(t *testing.T) {
	full := EncodePublish("p2d/DEV/time", `{"value":1}`)

	lb := &loopbackSocket{chunks: [][]byte{full[:3], full[3:]}}
	c := NewConn(Socket{Send: lb.send, Recv: lb.recv})

	frame, ok, err := c.Receive()
	require.NoError(t, err)
	assert.False(t, ok)

	frame, ok, err = c.Receive()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p2d/DEV/time", frame.Topic)
}

func TestConn_ReceiveNoDataIsNotAnError(t *testing.T) {
	lb := newLoopback()
	c := NewConn(Socket{Send: lb.send, Recv: lb.recv})

	_, ok, err := c.Receive()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEncodeRemainingLength_Varint(t *testing.T) {
	assert.Equal(t, []byte{0x00}, encodeRemainingLength(0))
	assert.Equal(t, []byte{0x7f}, encodeRemainingLength(127))
	assert.Equal(t, []byte{0x80, 0x01}, encodeRemainingLength(128))
}

func TestEncodeConnect_CarriesLastWill(t *testing.T) {
	pkt := EncodeConnect(ConnectOptions{
		ClientID:      "DEV",
		KeepAliveSecs: 60,
		WillTopic:     "lastwill/DEV",
		WillMessage:   "Gone offline",
		CleanSession:  true,
	})
	assert.Equal(t, byte(ptCONNECT<<4), pkt[0])
	assert.Contains(t, string(pkt), "lastwill/DEV")
	assert.Contains(t, string(pkt), "Gone offline")
}
