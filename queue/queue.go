// Package queue implements the connector's outbound message queue: a
// bounded, FIFO store of (topic, payload) pairs awaiting publication over
// the MQTT transport.
//
// A message is never removed on a bare send attempt -- callers must Peek
// the head, attempt to publish it, and only then Pop. This lets a failed
// publish leave the message in place for the next retry, which is the
// queue's at-least-once guarantee (spec §4.1 and §7).
package queue

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/fieldlink-iot/connect/protocol"
)

// Message is the unit the queue stores: an already-serialized
// (topic, payload) pair.
type Message struct {
	Topic   string
	Payload string
}

// Backend is the capability a queue implementation must provide. The
// in-memory RingBuffer below is the default; durable alternatives (e.g.
// rocksqueue.Backend) implement the same four operations so the rest of the
// connector never has to know which is in use -- the "callback pointers vs.
// polymorphic interface" design note (spec §9) applied to persistence.
type Backend interface {
	// Push enqueues msg. It returns false if the queue is full and its wrap
	// policy forbids eviction, or if msg alone exceeds total capacity.
	Push(msg Message) bool
	// Peek returns the head message without removing it, and a bool
	// reporting whether the queue held one.
	Peek() (Message, bool)
	// Pop removes and returns the head message.
	Pop() (Message, bool)
	// IsEmpty reports whether the queue holds no messages.
	IsEmpty() bool
}

// record is the length-prefixed on-wire form of a Message within
// RingBuffer's backing array: a 4-byte topic length, topic bytes, a 4-byte
// payload length, and payload bytes.
func encodeRecord(msg Message) []byte {
	buf := make([]byte, 4+len(msg.Topic)+4+len(msg.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(msg.Topic)))
	copy(buf[4:], msg.Topic)
	off := 4 + len(msg.Topic)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(msg.Payload)))
	copy(buf[off+4:], msg.Payload)
	return buf
}

func decodeRecord(buf []byte) (Message, int, error) {
	if len(buf) < 4 {
		return Message{}, 0, errors.New("queue: truncated record header")
	}
	topicLen := int(binary.BigEndian.Uint32(buf[0:4]))
	if len(buf) < 4+topicLen+4 {
		return Message{}, 0, errors.New("queue: truncated topic")
	}
	topic := string(buf[4 : 4+topicLen])
	off := 4 + topicLen
	payloadLen := int(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	if len(buf) < off+payloadLen {
		return Message{}, 0, errors.New("queue: truncated payload")
	}
	payload := string(buf[off : off+payloadLen])
	return Message{Topic: topic, Payload: payload}, off + payloadLen, nil
}

// RingBuffer is the in-memory Backend built over a contiguous byte slice of
// fixed capacity, as required by spec §4.1. Records are stored back-to-back
// starting at index 0; head and len(buf) bound the logical FIFO window within
// that region. It is not safe for concurrent use -- per spec §5, the queue has a
// single owner and is driven only from the caller's thread.
type RingBuffer struct {
	buf  []byte // backing storage, capacity bytes
	head int    // byte offset of the oldest record
	tail int    // not maintained; len(buf) is the offset one past the newest record
	wrap bool   // eviction policy on overflow
}

// NewRingBuffer returns a RingBuffer with the given backing capacity (in
// bytes) and overflow policy: wrap=true evicts the oldest record(s) to make
// room; wrap=false fails the push instead.
func NewRingBuffer(capacity int, wrap bool) *RingBuffer {
	return &RingBuffer{buf: make([]byte, 0, capacity), wrap: wrap}
}

// Push implements Backend.
func (r *RingBuffer) Push(msg Message) bool {
	record := encodeRecord(msg)
	if len(record) > cap(r.buf) {
		return false
	}
	for len(r.buf)-r.head+len(record) > cap(r.buf) {
		if !r.wrap || r.IsEmpty() {
			return false
		}
		r.evictHead()
	}
	if len(r.buf)+len(record) > cap(r.buf) {
		// Enough live room, but not after the current tail: slide the live
		// window back to offset 0 first.
		n := copy(r.buf, r.buf[r.head:])
		r.buf = r.buf[:n]
		r.head = 0
	}
	r.buf = append(r.buf, record...)
	return true
}

// Peek implements Backend.
func (r *RingBuffer) Peek() (Message, bool) {
	if r.IsEmpty() {
		return Message{}, false
	}
	msg, _, err := decodeRecord(r.buf[r.head:])
	if err != nil {
		return Message{}, false
	}
	return msg, true
}

// Pop implements Backend.
func (r *RingBuffer) Pop() (Message, bool) {
	if r.IsEmpty() {
		return Message{}, false
	}
	msg, n, err := decodeRecord(r.buf[r.head:])
	if err != nil {
		return Message{}, false
	}
	r.head += n
	r.compact()
	return msg, true
}

// IsEmpty implements Backend.
func (r *RingBuffer) IsEmpty() bool {
	return r.head >= len(r.buf)
}

func (r *RingBuffer) evictHead() {
	if r.IsEmpty() {
		return
	}
	_, n, err := decodeRecord(r.buf[r.head:])
	if err != nil {
		// Corrupt head record: drop the whole buffer rather than loop forever.
		r.head, r.buf = 0, r.buf[:0]
		return
	}
	r.head += n
	r.compact()
}

// compact slides the live window back to offset 0 once the head has
// advanced far enough that doing so is worthwhile. This keeps the backing
// slice's length from growing unboundedly across many pop/evict cycles.
func (r *RingBuffer) compact() {
	if r.head == 0 {
		return
	}
	if r.head >= len(r.buf) {
		r.buf = r.buf[:0]
		r.head = 0
		return
	}
	if r.head*2 < cap(r.buf) {
		return
	}
	n := copy(r.buf[:len(r.buf)-r.head], r.buf[r.head:])
	r.buf = r.buf[:n]
	r.head = 0
}

// Queue is the connector-facing wrapper around a Backend, providing
// protocol-aware helpers on top of the raw Push/Peek/Pop primitives.
type Queue struct {
	backend Backend
}

// New returns a Queue driven by the given Backend.
func New(backend Backend) *Queue {
	return &Queue{backend: backend}
}

// PushOutbound enqueues a protocol.OutboundMessage. It does no size check of
// its own (the protocol Marshal* functions check TopicSize/PayloadSize when
// they build a message); it fails only if the backend refuses the message.
func (q *Queue) PushOutbound(msg protocol.OutboundMessage) bool {
	return q.backend.Push(Message{Topic: msg.Topic, Payload: msg.Payload})
}

func (q *Queue) Peek() (Message, bool) { return q.backend.Peek() }
func (q *Queue) Pop() (Message, bool)  { return q.backend.Pop() }
func (q *Queue) IsEmpty() bool         { return q.backend.IsEmpty() }
