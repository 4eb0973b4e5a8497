package rocksqueue

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlink-iot/connect/queue"
)

func newTestBackend(t *testing.T, maxLen int, wrap bool) (*Backend, func()) {
	dir, err := ioutil.TempDir("", "rocksqueue-test")
	require.NoError(t, err)

	b, err := Open(dir, maxLen, wrap)
	require.NoError(t, err)

	return b, func() {
		b.Close()
		assert.NoError(t, os.RemoveAll(dir))
	}
}

func TestRocksqueue_FIFOOrder(t *testing.T) {
	b, cleanup := newTestBackend(t, 10, false)
	defer cleanup()

	require.True(t, b.Push(queue.Message{Topic: "t", Payload: "m0"}))
	require.True(t, b.Push(queue.Message{Topic: "t", Payload: "m1"}))

	head, ok := b.Peek()
	require.True(t, ok)
	assert.Equal(t, "m0", head.Payload)

	popped, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, "m0", popped.Payload)

	head, ok = b.Peek()
	require.True(t, ok)
	assert.Equal(t, "m1", head.Payload)
}

func TestRocksqueue_NoWrapFailsOnOverflow(t *testing.T) {
	b, cleanup := newTestBackend(t, 1, false)
	defer cleanup()

	require.True(t, b.Push(queue.Message{Topic: "t", Payload: "m0"}))
	assert.False(t, b.Push(queue.Message{Topic: "t", Payload: "m1"}))
}

func TestRocksqueue_WrapEvictsOldest(t *testing.T) {
	b, cleanup := newTestBackend(t, 2, true)
	defer cleanup()

	require.True(t, b.Push(queue.Message{Topic: "t", Payload: "m0"}))
	require.True(t, b.Push(queue.Message{Topic: "t", Payload: "m1"}))
	require.True(t, b.Push(queue.Message{Topic: "t", Payload: "m2"}))

	head, ok := b.Peek()
	require.True(t, ok)
	assert.Equal(t, "m1", head.Payload)
}

func TestRocksqueue_SurvivesReopen(t *testing.T) {
	dir, err := ioutil.TempDir("", "rocksqueue-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	b, err := Open(dir, 10, false)
	require.NoError(t, err)
	require.True(t, b.Push(queue.Message{Topic: "t", Payload: "persisted"}))
	b.Close()

	b2, err := Open(dir, 10, false)
	require.NoError(t, err)
	defer b2.Close()

	head, ok := b2.Peek()
	require.True(t, ok)
	assert.Equal(t, "persisted", head.Payload)
}
