package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_FIFOOrder(t *testing.T) {
	rb := NewRingBuffer(4096, false)
	for i := 0; i < 5; i++ {
		require.True(t, rb.Push(Message{Topic: "t", Payload: fmt.Sprintf("m%d", i)}))
	}
	for i := 0; i < 5; i++ {
		head, ok := rb.Peek()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("m%d", i), head.Payload)

		popped, ok := rb.Pop()
		require.True(t, ok)
		assert.Equal(t, head, popped)
	}
	assert.True(t, rb.IsEmpty())
}

func TestRingBuffer_PopOnEmptyIsNoOp(t *testing.T) {
	rb := NewRingBuffer(64, false)
	_, ok := rb.Pop()
	assert.False(t, ok)
	assert.True(t, rb.IsEmpty())
}

func TestRingBuffer_NoWrapFailsOnOverflow(t *testing.T) {
	rb := NewRingBuffer(encodedSize("t", "12345"), false)
	require.True(t, rb.Push(Message{Topic: "t", Payload: "12345"}))

	ok := rb.Push(Message{Topic: "t", Payload: "6"})
	assert.False(t, ok)

	head, _ := rb.Peek()
	assert.Equal(t, "12345", head.Payload)
}

func TestRingBuffer_WrapEvictsOldest(t *testing.T) {
	size := encodedSize("t", "aaaa") * 3
	rb := NewRingBuffer(size, true)
	require.True(t, rb.Push(Message{Topic: "t", Payload: "aaaa"}))
	require.True(t, rb.Push(Message{Topic: "t", Payload: "bbbb"}))
	require.True(t, rb.Push(Message{Topic: "t", Payload: "cccc"}))

	// Queue is full; pushing a 4th message must evict "aaaa".
	require.True(t, rb.Push(Message{Topic: "t", Payload: "dddd"}))

	head, _ := rb.Pop()
	assert.Equal(t, "bbbb", head.Payload)
}

func TestRingBuffer_PushFailsWhenRecordExceedsCapacity(t *testing.T) {
	rb := NewRingBuffer(8, true)
	assert.False(t, rb.Push(Message{Topic: "topic-too-long", Payload: "payload"}))
}

func encodedSize(topic, payload string) int {
	return len(encodeRecord(Message{Topic: topic, Payload: payload}))
}
