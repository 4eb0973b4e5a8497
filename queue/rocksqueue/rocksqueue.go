// Package rocksqueue provides a durable queue.Backend backed by an embedded
// RocksDB instance, for hosts that want the outbound queue to survive a
// process restart. It implements the same four-operation Backend interface
// as queue.RingBuffer -- the connector core never distinguishes between the
// two.
package rocksqueue

import (
	"encoding/binary"

	"github.com/pkg/errors"
	rocks "github.com/tecbot/gorocksdb"

	"github.com/fieldlink-iot/connect/queue"
)

// Backend stores queued messages as RocksDB key/value pairs keyed by a
// monotonically increasing sequence number, so iteration order is FIFO.
// Unlike RingBuffer it has no fixed byte capacity -- maxLen bounds the
// number of records instead, and wrap controls whether Push evicts the
// oldest record or fails outright once that bound is reached.
type Backend struct {
	db     *rocks.DB
	ro     *rocks.ReadOptions
	wo     *rocks.WriteOptions
	maxLen int
	wrap   bool

	head uint64 // sequence number of the oldest live record
	tail uint64 // sequence number of the next record to be written
}

// Open creates or opens a RocksDB database at dir and returns a Backend
// bounded to at most maxLen records.
func Open(dir string, maxLen int, wrap bool) (*Backend, error) {
	opts := rocks.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	db, err := rocks.OpenDb(opts, dir)
	if err != nil {
		return nil, errors.Wrap(err, "rocksqueue: open database")
	}

	b := &Backend{
		db:     db,
		ro:     rocks.NewDefaultReadOptions(),
		wo:     rocks.NewDefaultWriteOptions(),
		maxLen: maxLen,
		wrap:   wrap,
	}
	if err := b.recoverBounds(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// recoverBounds scans existing keys on open so a restarted connector resumes
// the same FIFO window it left off with.
func (b *Backend) recoverBounds() error {
	it := b.db.NewIterator(b.ro)
	defer it.Close()

	first := true
	for it.SeekToFirst(); it.Valid(); it.Next() {
		seq := decodeKey(it.Key().Data())
		if first {
			b.head = seq
			first = false
		}
		b.tail = seq + 1
	}
	return it.Err()
}

func encodeKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func decodeKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

func encodeValue(msg queue.Message) []byte {
	buf := make([]byte, 4+len(msg.Topic)+len(msg.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(msg.Topic)))
	copy(buf[4:], msg.Topic)
	copy(buf[4+len(msg.Topic):], msg.Payload)
	return buf
}

func decodeValue(buf []byte) queue.Message {
	topicLen := binary.BigEndian.Uint32(buf[0:4])
	topic := string(buf[4 : 4+topicLen])
	payload := string(buf[4+topicLen:])
	return queue.Message{Topic: topic, Payload: payload}
}

// Push implements queue.Backend.
func (b *Backend) Push(msg queue.Message) bool {
	for int(b.tail-b.head) >= b.maxLen {
		if !b.wrap {
			return false
		}
		if !b.evictHead() {
			return false
		}
	}
	if err := b.db.Put(b.wo, encodeKey(b.tail), encodeValue(msg)); err != nil {
		return false
	}
	b.tail++
	return true
}

func (b *Backend) evictHead() bool {
	if b.head >= b.tail {
		return false
	}
	if err := b.db.Delete(b.wo, encodeKey(b.head)); err != nil {
		return false
	}
	b.head++
	return true
}

// Peek implements queue.Backend.
func (b *Backend) Peek() (queue.Message, bool) {
	if b.IsEmpty() {
		return queue.Message{}, false
	}
	value, err := b.db.Get(b.ro, encodeKey(b.head))
	if err != nil {
		return queue.Message{}, false
	}
	defer value.Free()
	if !value.Exists() {
		return queue.Message{}, false
	}
	return decodeValue(value.Data()), true
}

// Pop implements queue.Backend.
func (b *Backend) Pop() (queue.Message, bool) {
	msg, ok := b.Peek()
	if !ok {
		return queue.Message{}, false
	}
	if err := b.db.Delete(b.wo, encodeKey(b.head)); err != nil {
		return queue.Message{}, false
	}
	b.head++
	return msg, true
}

// IsEmpty implements queue.Backend.
func (b *Backend) IsEmpty() bool {
	return b.head >= b.tail
}

// Close releases the underlying RocksDB handles.
func (b *Backend) Close() {
	b.db.Close()
	b.ro.Destroy()
	b.wo.Destroy()
}

var _ queue.Backend = (*Backend)(nil)
