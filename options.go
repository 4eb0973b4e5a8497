package connector

import (
	"github.com/fieldlink-iot/connect/dispatch"
	"github.com/fieldlink-iot/connect/filemgmt"
	"github.com/fieldlink-iot/connect/firmware"
	"github.com/fieldlink-iot/connect/queue"
)

// config accumulates Option values before New builds the Connector's
// internal components.
type config struct {
	queueBackend        queue.Backend
	keepaliveIntervalMs int64

	fileHost       filemgmt.Host
	fileEngineOpts []filemgmt.Option
	firmwareHost   firmware.Host

	feedHandler        dispatch.FeedHandler
	parameterHandler   dispatch.ParameterHandler
	detailsSyncHandler dispatch.DetailsSyncHandler
	errorHandler       dispatch.ErrorHandler
	timeHandler        dispatch.TimeHandler
}

// Option configures a Connector at construction time.
type Option func(*config)

// WithQueueBackend overrides the default in-memory outbound queue (e.g.
// with a rocksqueue.Backend for durability across restarts).
func WithQueueBackend(backend queue.Backend) Option {
	return func(c *config) { c.queueBackend = backend }
}

// WithKeepaliveInterval overrides the default 60s MQTT keepalive interval.
func WithKeepaliveInterval(ms int64) Option {
	return func(c *config) { c.keepaliveIntervalMs = ms }
}

// WithFileHost supplies the File Management engine's Host. Omitting this
// option leaves the engine in its degraded TRANSFER_PROTOCOL_DISABLED mode.
func WithFileHost(host filemgmt.Host, opts ...filemgmt.Option) Option {
	return func(c *config) {
		c.fileHost = host
		c.fileEngineOpts = opts
	}
}

// WithFirmwareHost supplies the Firmware Update engine's Host. Omitting
// this option disables firmware update handling entirely: inbound
// firmware_update_install/abort messages are dropped.
func WithFirmwareHost(host firmware.Host) Option {
	return func(c *config) { c.firmwareHost = host }
}

// WithFeedHandler registers the callback invoked when the platform pushes
// feed values to the device.
func WithFeedHandler(h dispatch.FeedHandler) Option {
	return func(c *config) { c.feedHandler = h }
}

// WithParameterHandler registers the callback invoked when the platform
// pushes parameter updates to the device.
func WithParameterHandler(h dispatch.ParameterHandler) Option {
	return func(c *config) { c.parameterHandler = h }
}

// WithDetailsSyncHandler registers the callback invoked on an inbound
// details_synchronization message.
func WithDetailsSyncHandler(h dispatch.DetailsSyncHandler) Option {
	return func(c *config) { c.detailsSyncHandler = h }
}

// WithErrorHandler registers the callback invoked on an inbound
// platform-reported error message.
func WithErrorHandler(h dispatch.ErrorHandler) Option {
	return func(c *config) { c.errorHandler = h }
}

// WithTimeHandler registers the callback invoked on an inbound time push.
func WithTimeHandler(h dispatch.TimeHandler) Option {
	return func(c *config) { c.timeHandler = h }
}
