// Command device-sim is a minimal example device: it connects to an MQTT
// broker, publishes one simulated numeric reading per tick, and drains the
// outbound queue and inbound dispatch on the same loop. It plays the role
// of the original implementation's examples/simple -- a single TCP socket,
// a single feed, SIGINT to disconnect cleanly -- rewired onto the
// go-flags/logrus CLI conventions used elsewhere in this module's corpus.
package main

import (
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	connector "github.com/fieldlink-iot/connect"
	"github.com/fieldlink-iot/connect/protocol"
	"github.com/fieldlink-iot/connect/transport"
)

func feedReading(reference string, value float64) protocol.Feed {
	return protocol.Feed{
		Reference: reference,
		Data:      []string{strconv.FormatFloat(value, 'f', -1, 64)},
		Type:      protocol.Numeric,
	}
}

type config struct {
	Device struct {
		Key      string `long:"key" env:"DEVICE_KEY" description:"device key" required:"true"`
		Password string `long:"password" env:"DEVICE_PASSWORD" description:"device password"`
	} `group:"Device" namespace:"device" env-namespace:"DEVICE"`

	Broker struct {
		Address string `long:"address" env:"BROKER_ADDRESS" default:"localhost:1883" description:"MQTT broker host:port"`
	} `group:"Broker" namespace:"broker" env-namespace:"BROKER"`

	Log struct {
		Level string `long:"level" env:"LOG_LEVEL" default:"info" description:"logging level"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`

	TickSeconds int `long:"tick-seconds" default:"5" description:"seconds between process/publish ticks"`

	DataDir string `long:"data-dir" default:"./files" description:"directory backing the simulated File Management / Firmware Update hosts"`
}

// dialSocket opens a TCP connection to address and adapts it to
// transport.Socket. Reads use a short deadline so Recv never blocks the
// caller's tick loop -- a timeout is reported as "no data yet", matching
// the non-blocking contract transport.Socket documents.
func dialSocket(address string) (transport.Socket, net.Conn, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return transport.Socket{}, nil, err
	}
	recvBuf := make([]byte, 4096)
	sock := transport.Socket{
		Send: func(b []byte) int {
			n, err := conn.Write(b)
			if err != nil {
				return -1
			}
			return n
		},
		Recv: func(max int) ([]byte, error) {
			if max > len(recvBuf) {
				max = len(recvBuf)
			}
			conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			n, err := conn.Read(recvBuf[:max])
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					return nil, nil
				}
				return nil, err
			}
			return recvBuf[:n], nil
		},
	}
	return sock, conn, nil
}

func main() {
	var cfg config
	if _, err := flags.Parse(&cfg); err != nil {
		os.Exit(1)
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.WithError(err).Fatal("device-sim: invalid log level")
	}
	log.SetLevel(level)

	log.WithField("address", cfg.Broker.Address).Info("device-sim: connecting to broker")
	sock, conn, err := dialSocket(cfg.Broker.Address)
	if err != nil {
		log.WithError(err).Fatal("device-sim: dial broker")
	}
	defer conn.Close()

	fileHost := newFSFileHost(cfg.DataDir)
	firmwareHost := newFSFirmwareHost(cfg.DataDir)

	c, err := connector.New(cfg.Device.Key, cfg.Device.Password, sock,
		connector.WithFileHost(fileHost),
		connector.WithFirmwareHost(firmwareHost),
	)
	if err != nil {
		log.WithError(err).Fatal("device-sim: construct connector")
	}

	if err := c.Connect(); err != nil {
		log.WithError(err).Fatal("device-sim: connect")
	}
	log.Info("device-sim: connected")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	tick := time.Duration(cfg.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("device-sim: disconnecting")
			if err := c.Disconnect(); err != nil {
				log.WithError(err).Warn("device-sim: disconnect")
			}
			return

		case <-ticker.C:
			reading := float64(rand.Intn(120) - 20)
			c.AddFeed(feedReading("T", reading))

			if err := c.Publish(); err != nil {
				log.WithError(err).Warn("device-sim: publish")
			}
			if err := c.Process(tick.Milliseconds()); err != nil {
				log.WithError(err).Warn("device-sim: process")
			}
		}
	}
}
