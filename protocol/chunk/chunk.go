// Package chunk validates and slices the file-transfer packet framing used
// by the File Management engine: prev_hash ‖ data ‖ curr_hash, each hash
// field exactly HashSize bytes.
package chunk

import (
	"crypto/sha256"

	"github.com/pkg/errors"

	"github.com/fieldlink-iot/connect/protocol"
)

// HashSize is the length, in bytes, of each hash field framing a packet.
const HashSize = protocol.HashSize

// ErrTooShort is returned by IsValid (via its error form, Check) when a
// packet is not long enough to hold both framing hashes plus at least one
// byte of data.
var ErrTooShort = errors.New("chunk: packet too short to hold framing hashes")

// ErrHashMismatch indicates the packet's trailing hash does not match
// SHA-256 of its data segment.
var ErrHashMismatch = errors.New("chunk: current hash does not match packet data")

// IsValid reports whether packet has valid chunk framing: its size exceeds
// 2*HashSize and its trailing hash equals SHA256(data).
func IsValid(packet []byte) bool {
	return Check(packet) == nil
}

// Check is the error-returning form of IsValid, useful when the caller wants
// to distinguish "too short" from "hash mismatch".
func Check(packet []byte) error {
	if len(packet) <= 2*HashSize {
		return ErrTooShort
	}
	sum := sha256.Sum256(Data(packet))
	if !equal(sum[:], CurrentHash(packet)) {
		return ErrHashMismatch
	}
	return nil
}

// PreviousHash returns the leading HashSize-byte hash field.
func PreviousHash(packet []byte) []byte {
	return packet[0:HashSize]
}

// Data returns the payload segment between the two framing hashes. The
// caller must have already established len(packet) > 2*HashSize.
func Data(packet []byte) []byte {
	return packet[HashSize : len(packet)-HashSize]
}

// CurrentHash returns the trailing HashSize-byte hash field.
func CurrentHash(packet []byte) []byte {
	return packet[len(packet)-HashSize:]
}

// Build frames data into a packet: prev ‖ data ‖ SHA256(data). prev must be
// exactly HashSize bytes (the all-zero value is used for the first chunk of
// a transfer).
func Build(prev, data []byte) ([]byte, error) {
	if len(prev) != HashSize {
		return nil, errors.Errorf("chunk: previous hash must be %d bytes, got %d", HashSize, len(prev))
	}
	sum := sha256.Sum256(data)
	out := make([]byte, 0, HashSize+len(data)+HashSize)
	out = append(out, prev...)
	out = append(out, data...)
	out = append(out, sum[:]...)
	return out, nil
}

// ZeroHash is the all-zero HashSize-byte value that seeds previous_packet_hash
// before the first chunk of a transfer is received.
func ZeroHash() []byte {
	return make([]byte, HashSize)
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
