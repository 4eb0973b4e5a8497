package dispatch

import (
	log "github.com/sirupsen/logrus"

	"github.com/fieldlink-iot/connect/protocol"
	"github.com/fieldlink-iot/connect/queue"
	"github.com/fieldlink-iot/connect/transport"
)

// Loop drives the connector's periodic work: MQTT keepalive, non-blocking
// receive-and-dispatch, and advancing both engines' tick-driven
// sub-state-machines (spec §4.7). It owns no goroutines -- every method
// must be called from the single thread that owns the connector (spec §5).
type Loop struct {
	conn       *transport.Conn
	queue      *queue.Queue
	dispatcher *Dispatcher
	file       FileEngine
	firmware   FirmwareEngine

	keepaliveIntervalMs int64
	keepaliveAccumMs    int64
}

// NewLoop returns a Loop. Either file or fw may be nil if that engine is
// not in use; keepaliveIntervalMs defaults to
// protocol.KeepaliveIntervalSeconds*1000 when 0 is given.
func NewLoop(conn *transport.Conn, q *queue.Queue, dispatcher *Dispatcher, file FileEngine, fw FirmwareEngine, keepaliveIntervalMs int64) *Loop {
	if keepaliveIntervalMs <= 0 {
		keepaliveIntervalMs = int64(protocol.KeepaliveIntervalSeconds) * 1000
	}
	return &Loop{
		conn:                conn,
		queue:               q,
		dispatcher:          dispatcher,
		file:                file,
		firmware:            fw,
		keepaliveIntervalMs: keepaliveIntervalMs,
	}
}

// Process performs one tick of spec §4.7's periodic loop: keepalive
// accounting, one non-blocking receive-and-dispatch, and advancing the
// File Management and Firmware Update engines' tick-driven transitions.
// Every protocol.OutboundMessage produced along the way is pushed onto the
// outbound queue before Process returns.
func (l *Loop) Process(tickMs int64) error {
	if err := l.tickKeepalive(tickMs); err != nil {
		return err
	}

	if err := l.receiveAndDispatch(); err != nil {
		return err
	}

	if l.file != nil {
		l.enqueueAll(l.file.Process())
	}
	if l.firmware != nil {
		l.enqueueAll(l.firmware.Process())
	}
	return nil
}

func (l *Loop) tickKeepalive(tickMs int64) error {
	l.keepaliveAccumMs += tickMs
	if l.keepaliveAccumMs < l.keepaliveIntervalMs {
		return nil
	}
	l.keepaliveAccumMs = 0
	return l.conn.Ping()
}

func (l *Loop) receiveAndDispatch() error {
	frame, ok, err := l.conn.Receive()
	if err != nil {
		return err
	}
	if !ok || !frame.IsPublish() {
		return nil
	}
	l.enqueueAll(l.dispatcher.Dispatch(frame.Topic, frame.Payload))
	return nil
}

func (l *Loop) enqueueAll(msgs []protocol.OutboundMessage) {
	for _, msg := range msgs {
		if msg.Topic == "" {
			continue
		}
		if !l.queue.PushOutbound(msg) {
			log.WithField("topic", msg.Topic).Warn("dispatch: outbound queue full, dropping message")
		}
	}
}

// Publish drains the outbound queue in batches of up to
// protocol.PublishBatchSize, peeking, sending, and popping each message
// only on send success -- on the first failure the head message is left in
// place for the next Publish call (spec §4.7).
func (l *Loop) Publish() error {
	for i := 0; i < protocol.PublishBatchSize; i++ {
		msg, ok := l.queue.Peek()
		if !ok {
			return nil
		}
		if err := l.conn.Publish(msg.Topic, msg.Payload); err != nil {
			return err
		}
		l.queue.Pop()
	}
	return nil
}
