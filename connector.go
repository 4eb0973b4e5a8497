// Package connector is the public façade of the device-side IoT connector:
// init/connect/disconnect/process/publish plus feed, parameter, and
// attribute publishing. It wires together protocol, transport, queue,
// filemgmt, firmware and dispatch into the single connector context named
// in spec §3's Lifecycle section -- created once, owned by one caller, and
// never shared between concurrent goroutines.
package connector

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/fieldlink-iot/connect/dispatch"
	"github.com/fieldlink-iot/connect/filemgmt"
	"github.com/fieldlink-iot/connect/firmware"
	"github.com/fieldlink-iot/connect/protocol"
	"github.com/fieldlink-iot/connect/queue"
	"github.com/fieldlink-iot/connect/transport"
)

// defaultQueueCapacity is the backing size, in bytes, of the default
// in-memory outbound queue when the caller does not supply one.
const defaultQueueCapacity = 256 * 1024

// willTopicPrefix and willMessage implement spec §6's fixed Last Will:
// "Gone offline" on "lastwill/{device_key}".
const willTopicPrefix = "lastwill/"
const willMessage = "Gone offline"

// Connector is the single owner of a device's connection state: its
// identity, the MQTT transport, the outbound queue, and the File
// Management / Firmware Update engines. All methods must be called from
// one goroutine (spec §5).
type Connector struct {
	deviceKey      string
	devicePassword string

	conn  *transport.Conn
	queue *queue.Queue

	file     *filemgmt.Engine
	firmware *firmware.Engine
	attrs    *protocol.AttributeSet

	dispatcher *dispatch.Dispatcher
	loop       *dispatch.Loop
}

// New constructs a Connector for the given device identity and socket. The
// device key and password are validated against protocol.DeviceKeySize and
// protocol.DevicePasswordSize; everything else is configured via Option.
func New(deviceKey, devicePassword string, sock transport.Socket, opts ...Option) (*Connector, error) {
	if deviceKey == "" || len(deviceKey) > protocol.DeviceKeySize {
		return nil, errors.Errorf("connector: device key must be 1..%d bytes", protocol.DeviceKeySize)
	}
	if len(devicePassword) > protocol.DevicePasswordSize {
		return nil, errors.Errorf("connector: device password exceeds %d bytes", protocol.DevicePasswordSize)
	}

	cfg := config{
		queueBackend:        queue.NewRingBuffer(defaultQueueCapacity, true),
		keepaliveIntervalMs: int64(protocol.KeepaliveIntervalSeconds) * 1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Connector{
		deviceKey:      deviceKey,
		devicePassword: devicePassword,
		conn:           transport.NewConn(sock),
		queue:          queue.New(cfg.queueBackend),
		attrs:          protocol.NewAttributeSet(),
	}

	// The File Management engine is always constructed, even with a nil
	// Host: spec §4.4 requires it to report TRANSFER_PROTOCOL_DISABLED on
	// every inbound request rather than simply not existing. The Firmware
	// Update engine has no such degraded mode (spec §4.5: every Host
	// operation is mandatory), so it is only wired up when a Host is given.
	c.file = filemgmt.New(deviceKey, cfg.fileHost, cfg.fileEngineOpts...)
	var fileEngine dispatch.FileEngine = c.file

	var firmwareEngine dispatch.FirmwareEngine
	if cfg.firmwareHost != nil {
		c.firmware = firmware.New(deviceKey, cfg.firmwareHost)
		firmwareEngine = c.firmware
	}

	c.dispatcher = dispatch.New(fileEngine, firmwareEngine, dispatch.Handlers{
		Feed:        cfg.feedHandler,
		Parameter:   cfg.parameterHandler,
		DetailsSync: cfg.detailsSyncHandler,
		Error:       cfg.errorHandler,
		Time:        cfg.timeHandler,
	})
	c.loop = dispatch.NewLoop(c.conn, c.queue, c.dispatcher, fileEngine, firmwareEngine, cfg.keepaliveIntervalMs)

	return c, nil
}

// Connect sends the MQTT CONNECT packet (with the standard lastwill/"Gone
// offline" Last Will) and subscribes to every platform-to-device topic for
// this device.
func (c *Connector) Connect() error {
	if err := c.conn.Connect(c.deviceKey, c.deviceKey, c.devicePassword, willTopicPrefix+c.deviceKey, willMessage, protocol.KeepaliveIntervalSeconds); err != nil {
		return errors.Wrap(err, "connector: connect")
	}
	topicFilter := string(protocol.PlatformToDevice) + "/" + c.deviceKey + "/#"
	if err := c.conn.Subscribe(1, topicFilter); err != nil {
		return errors.Wrap(err, "connector: subscribe")
	}
	return nil
}

// Disconnect sends the MQTT DISCONNECT packet. Per spec §5 it flushes no
// queued data and aborts no in-flight transfer.
func (c *Connector) Disconnect() error {
	return errors.Wrap(c.conn.Disconnect(), "connector: disconnect")
}

// Process runs one tick of the periodic loop: spec §4.7's keepalive
// accounting, a single non-blocking receive-and-dispatch, and advancing
// both engines' tick-driven transitions.
func (c *Connector) Process(tickMs int64) error {
	return c.loop.Process(tickMs)
}

// Publish drains the outbound queue in batches of up to
// protocol.PublishBatchSize, per spec §4.7.
func (c *Connector) Publish() error {
	return c.loop.Publish()
}

// AddFeed enqueues a single Feed's current value.
func (c *Connector) AddFeed(f protocol.Feed) bool {
	return c.AddFeeds([]protocol.Feed{f})
}

// AddFeeds enqueues a batch of Feeds sharing a single feed_values message.
// It fails if protocol.ValidateFeedBatch rejects the batch (e.g. same
// reference without distinct timestamps) or if the outbound queue is full.
func (c *Connector) AddFeeds(feeds []protocol.Feed) bool {
	msg, err := protocol.MarshalFeedValues(c.deviceKey, feeds)
	if err != nil {
		log.WithError(err).Warn("connector: marshal feed values")
		return false
	}
	return c.queue.PushOutbound(msg)
}

// AddParameters reports the device's current parameter values.
func (c *Connector) AddParameters(params []protocol.Parameter) bool {
	msg, err := protocol.MarshalParameters(c.deviceKey, params)
	if err != nil {
		log.WithError(err).Warn("connector: marshal parameters")
		return false
	}
	return c.queue.PushOutbound(msg)
}

// PullParameters asks the platform to push the named parameters' current
// values back to the device.
func (c *Connector) PullParameters(names []string) bool {
	msg, err := protocol.MarshalPullParameters(c.deviceKey, names)
	if err != nil {
		log.WithError(err).Warn("connector: marshal pull parameters")
		return false
	}
	return c.queue.PushOutbound(msg)
}

// SynchronizeParameters asks the platform to reconcile the named
// parameters against the device's values.
func (c *Connector) SynchronizeParameters(names []string) bool {
	msg, err := protocol.MarshalSynchronizeParameters(c.deviceKey, names)
	if err != nil {
		log.WithError(err).Warn("connector: marshal synchronize parameters")
		return false
	}
	return c.queue.PushOutbound(msg)
}

// RegisterAttribute registers or updates-in-place a read-only device
// attribute, then re-publishes the full attribute set.
func (c *Connector) RegisterAttribute(a protocol.Attribute) bool {
	c.attrs.Register(a)
	msg, err := protocol.MarshalAttributeRegistration(c.deviceKey, c.attrs.All())
	if err != nil {
		log.WithError(err).Warn("connector: marshal attribute registration")
		return false
	}
	return c.queue.PushOutbound(msg)
}

// PublishTime reports the device's current UTC time, in milliseconds.
func (c *Connector) PublishTime(utcMillis int64) bool {
	msg, err := protocol.MarshalTime(c.deviceKey, utcMillis)
	if err != nil {
		log.WithError(err).Warn("connector: marshal time")
		return false
	}
	return c.queue.PushOutbound(msg)
}

// PublishDetailsSynchronization reports the device's current feed/attribute
// manifest. Its grammar is left to the caller (spec §1 Non-goals).
func (c *Connector) PublishDetailsSynchronization(payload []byte) bool {
	msg, err := protocol.MarshalDetailsSynchronization(c.deviceKey, payload)
	if err != nil {
		log.WithError(err).Warn("connector: marshal details synchronization")
		return false
	}
	return c.queue.PushOutbound(msg)
}

// InitiateFileUpload starts a chunked file transfer from the device side,
// as if the platform had sent a file_upload_initiate request. This is a
// device-initiated test/dev hook (spec §4.9): the production flow has the
// platform initiate every transfer, but a device may want to kick one off
// itself (e.g. for local testing against a host Host). The File Management
// engine always exists, so it returns true; with no file Host configured
// the queued response is a TRANSFER_PROTOCOL_DISABLED error status.
func (c *Connector) InitiateFileUpload(name string, size int64, fileHash string) bool {
	if c.file == nil {
		return false
	}
	c.enqueueAll(c.file.HandleInitUpload(name, size, fileHash))
	return true
}

// InitiateURLDownload starts a URL-based file download from the device
// side, as if the platform had sent a file_url_download_initiate request.
// Like InitiateFileUpload it returns true; with no file Host configured the
// queued response is a TRANSFER_PROTOCOL_DISABLED error status.
func (c *Connector) InitiateURLDownload(url string) bool {
	if c.file == nil {
		return false
	}
	c.enqueueAll(c.file.HandleURLDownload(url))
	return true
}

// InitiateFirmwareInstallation starts installing the named file, as if the
// platform had sent a firmware_update_install request. It returns false if
// no firmware Host is configured.
func (c *Connector) InitiateFirmwareInstallation(name string) bool {
	if c.firmware == nil {
		return false
	}
	c.enqueueAll(c.firmware.HandleInstall(name))
	return true
}

// enqueueAll pushes every message an engine handler produced onto the
// outbound queue, matching dispatch.Loop's own enqueue-on-emit behavior.
func (c *Connector) enqueueAll(msgs []protocol.OutboundMessage) {
	for _, msg := range msgs {
		if msg.Topic == "" {
			continue
		}
		if !c.queue.PushOutbound(msg) {
			log.WithField("topic", msg.Topic).Warn("connector: outbound queue full, dropping message")
		}
	}
}
