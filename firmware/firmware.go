// Package firmware implements the Firmware Update state machine: install a
// previously transferred file, survive the reboot a successful swap causes,
// and report the outcome back to the platform.
//
// Unlike filemgmt, every Host operation here is mandatory (spec §4.5): a
// firmware swap has no degraded mode, since there is no useful way to run a
// connector that cannot report install status at all.
package firmware

import (
	log "github.com/sirupsen/logrus"

	"github.com/fieldlink-iot/connect/protocol"
)

// State is one of the four states of the Firmware Update engine.
type State int

const (
	Idle State = iota
	Installation
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Installation:
		return "INSTALLATION"
	case Completed:
		return "COMPLETED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Checkpoint is the persisted state code surviving a reboot, per spec §6:
// "IDLE = 1, INSTALLATION = 2". The representation is host-defined; the
// engine only ever stores and compares these two values.
type Checkpoint int

const (
	CheckpointIdle         Checkpoint = 1
	CheckpointInstallation Checkpoint = 2
)

// Host is the capability set a host application must provide. All five
// operations are mandatory; there is no disabled mode.
type Host interface {
	// StartInstallation begins installing the named file.
	StartInstallation(name string) bool
	// IsInstallationCompleted polls an in-progress installation.
	IsInstallationCompleted() (done, success bool)
	// VerificationStore persists the checkpoint so it can be read back
	// after the installation has rebooted the process.
	VerificationStore(c Checkpoint) bool
	// VerificationRead reads back the last-persisted checkpoint.
	VerificationRead() Checkpoint
	// AbortInstallation cancels an in-progress installation.
	AbortInstallation() bool
}

// Engine is the Firmware Update state machine for a single device.
type Engine struct {
	deviceKey string
	host      Host

	state    State
	fileName string
	fwErr    protocol.FirmwareUpdateError
}

// New returns an Engine, resuming in the Installation state if the host's
// persisted checkpoint says so -- the mechanism by which a firmware swap
// that replaced the running binary is detected across the reboot it caused
// (spec §4.5).
func New(deviceKey string, host Host) *Engine {
	e := &Engine{deviceKey: deviceKey, host: host}
	if host != nil && host.VerificationRead() == CheckpointInstallation {
		log.Info("firmware: resuming INSTALLATION state from persisted checkpoint")
		e.state = Installation
	}
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

func (e *Engine) status(status protocol.FirmwareStatus, fwErr protocol.FirmwareUpdateError) protocol.OutboundMessage {
	msg, err := protocol.MarshalFirmwareUpdateStatus(e.deviceKey, status, fwErr)
	if err != nil {
		log.WithError(err).Warn("firmware: marshal update status")
	}
	return msg
}

// HandleInstall processes an inbound firmware_update_install request.
func (e *Engine) HandleInstall(name string) []protocol.OutboundMessage {
	if e.state != Idle {
		return nil
	}
	if !e.host.VerificationStore(CheckpointInstallation) {
		return []protocol.OutboundMessage{e.status(protocol.FirmwareError, protocol.FirmwareErrorUnknownFile)}
	}
	if !e.host.StartInstallation(name) {
		e.host.VerificationStore(CheckpointIdle)
		return []protocol.OutboundMessage{e.status(protocol.FirmwareError, protocol.FirmwareErrorUnknown)}
	}
	e.state = Installation
	e.fileName = name
	return []protocol.OutboundMessage{e.status(protocol.FirmwareInstalling, protocol.FirmwareErrorNone)}
}

// HandleAbort processes an inbound firmware_update_abort request.
func (e *Engine) HandleAbort() []protocol.OutboundMessage {
	if e.state == Idle {
		return nil
	}
	if e.host.AbortInstallation() {
		e.host.VerificationStore(CheckpointIdle)
		e.state = Idle
		e.fileName = ""
		return []protocol.OutboundMessage{e.status(protocol.FirmwareAborted, protocol.FirmwareErrorNone)}
	}
	return []protocol.OutboundMessage{e.status(protocol.FirmwareError, protocol.FirmwareErrorUnknown)}
}

// Process advances the state machine by one tick, implementing spec
// §4.5's transition table for INSTALLATION/COMPLETED/ERROR.
func (e *Engine) Process() []protocol.OutboundMessage {
	switch e.state {
	case Installation:
		done, success := e.host.IsInstallationCompleted()
		if !done {
			return nil
		}
		if success {
			e.state = Completed
		} else {
			e.state = Error
			e.fwErr = protocol.FirmwareErrorInstallationFailed
		}
		return nil

	case Completed:
		e.host.VerificationStore(CheckpointIdle)
		e.state = Idle
		e.fileName = ""
		return []protocol.OutboundMessage{e.status(protocol.FirmwareSuccess, protocol.FirmwareErrorNone)}

	case Error:
		e.host.VerificationStore(CheckpointIdle)
		fwErr := e.fwErr
		e.state = Idle
		e.fileName = ""
		e.fwErr = ""
		return []protocol.OutboundMessage{e.status(protocol.FirmwareError, fwErr)}

	default:
		return nil
	}
}
