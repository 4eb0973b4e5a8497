package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndValidateRoundTrip(t *testing.T) {
	data := []byte("some chunk of file data")
	packet, err := Build(ZeroHash(), data)
	require.NoError(t, err)

	require.True(t, IsValid(packet))
	assert.Equal(t, data, Data(packet))
	assert.Equal(t, ZeroHash(), PreviousHash(packet))
}

func TestIsValid_RejectsShortPacket(t *testing.T) {
	assert.False(t, IsValid(make([]byte, 2*HashSize)))
}

func TestIsValid_RejectsHashMismatch(t *testing.T) {
	packet, err := Build(ZeroHash(), []byte("payload"))
	require.NoError(t, err)
	packet[len(packet)-1] ^= 0xFF // corrupt the trailing hash
	assert.False(t, IsValid(packet))
}

func TestHashChain(t *testing.T) {
	first, err := Build(ZeroHash(), []byte("chunk-0"))
	require.NoError(t, err)

	second, err := Build(CurrentHash(first), []byte("chunk-1"))
	require.NoError(t, err)

	assert.True(t, bytes.Equal(CurrentHash(first), PreviousHash(second)))
}
