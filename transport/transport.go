// Package transport implements the connector's MQTT 3.1.1 framing (CONNECT,
// SUBSCRIBE, PUBLISH, PINGREQ, DISCONNECT) atop a caller-supplied
// non-blocking byte-stream socket. Per spec §1 and §6, the socket itself --
// TLS setup, DNS, the actual network syscalls -- is an external collaborator
// injected as a pair of function values; this package never dials anything.
package transport

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Socket is the externally supplied non-blocking byte-stream transport
// named in spec §6. The C-style "send(bytes, n) -> int / recv(bytes, max)
// -> int, negative on error" pair is expressed here as Go function values:
// Send returns a negative count on error, otherwise the number of bytes
// accepted; Recv returns the bytes currently available (possibly none) and
// a non-nil error only on a genuine transport failure -- an empty slice
// with a nil error means "nothing to read yet", since the connector never
// blocks waiting on the wire.
type Socket struct {
	Send func(b []byte) int
	Recv func(max int) ([]byte, error)
}

// recvBufferSize is the largest chunk requested from Socket.Recv per
// attempt; it comfortably covers PayloadSize plus MQTT framing overhead.
const recvBufferSize = 4096

// Conn wraps a Socket with MQTT framing state: an accumulation buffer for
// partially-received control packets, since a single Socket.Recv call may
// return less than one complete frame.
//
// Conn is single-owner, like every other piece of the connector core (spec
// §5): all methods must be called from the same goroutine that drives
// Process/Publish.
type Conn struct {
	sock Socket
	buf  []byte
}

// NewConn wraps sock for MQTT framing.
func NewConn(sock Socket) *Conn {
	return &Conn{sock: sock}
}

// send writes b to the socket in full, reporting an error if the transport
// only accepted part of it or failed outright. MQTT framing assumes a
// reliable, ordered byte stream (TCP or TLS-over-TCP); a partial write here
// means the stream is broken and any further traffic on it is unreliable.
func (c *Conn) send(b []byte) error {
	n := c.sock.Send(b)
	if n < 0 {
		return errors.New("transport: send failed")
	}
	if n != len(b) {
		return errors.Errorf("transport: short send (%d of %d bytes)", n, len(b))
	}
	return nil
}

// Connect sends an MQTT CONNECT packet. willTopic/willMessage implement the
// Last Will named in spec §6 ("Gone offline" on "lastwill/{device_key}");
// pass willTopic="" to omit a Will entirely.
func (c *Conn) Connect(clientID, username, password, willTopic, willMessage string, keepaliveSecs uint16) error {
	pkt := EncodeConnect(ConnectOptions{
		ClientID:      clientID,
		Username:      username,
		Password:      password,
		KeepAliveSecs: keepaliveSecs,
		WillTopic:     willTopic,
		WillMessage:   willMessage,
		CleanSession:  true,
	})
	return c.send(pkt)
}

// Subscribe sends a QoS-0 SUBSCRIBE for topicFilter.
func (c *Conn) Subscribe(packetID uint16, topicFilter string) error {
	return c.send(EncodeSubscribe(packetID, topicFilter))
}

// Publish sends a QoS-0 PUBLISH carrying topic/payload.
func (c *Conn) Publish(topic, payload string) error {
	return c.send(EncodePublish(topic, payload))
}

// Ping sends a PINGREQ to keep the session alive.
func (c *Conn) Ping() error {
	return c.send(EncodePingReq())
}

// Disconnect sends a DISCONNECT packet. Per spec §5, Disconnect does not
// flush the outbound queue or abort in-flight transfers -- it only tears
// down the MQTT session.
func (c *Conn) Disconnect() error {
	return c.send(EncodeDisconnect())
}

// Receive performs one non-blocking read attempt and, if a complete control
// packet has now accumulated, returns it. It returns (Frame{}, false, nil)
// both when no bytes were available and when bytes arrived but did not yet
// complete a frame -- the caller's periodic Process loop simply tries again
// next tick.
func (c *Conn) Receive() (Frame, bool, error) {
	chunk, err := c.sock.Recv(recvBufferSize)
	if err != nil {
		return Frame{}, false, errors.Wrap(err, "transport: recv failed")
	}
	if len(chunk) > 0 {
		c.buf = append(c.buf, chunk...)
	}

	frame, consumed, ok, err := decodeFrame(c.buf)
	if err != nil {
		log.WithError(err).Warn("transport: dropping unparseable frame")
		c.buf = c.buf[:0]
		return Frame{}, false, err
	}
	if !ok {
		return Frame{}, false, nil
	}
	c.buf = c.buf[consumed:]
	return frame, true, nil
}
