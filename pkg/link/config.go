package link

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tellolink/pkg/protocol"
	"tellolink/pkg/transport"
)

// Config holds everything the link needs from its owner.
type Config struct {
	ResponseAddr  string // local bind for acks; commands leave from this socket too
	TelemetryAddr string // local bind for state datagrams
	VehicleAddr   string

	InitAttempts     int
	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration
	CycleInterval    time.Duration

	// MaxCommandAttempts caps how many timed-out cycles a non-land request
	// survives. Zero means retry until the caller gives up.
	MaxCommandAttempts int

	ReadBufferSize int
}

func DefaultConfig() Config {
	return Config{
		ResponseAddr:     "0.0.0.0:8889",
		TelemetryAddr:    "0.0.0.0:8890",
		VehicleAddr:      "192.168.10.1:8889",
		InitAttempts:     5,
		HandshakeTimeout: 3 * time.Second,
		CommandTimeout:   7 * time.Second,
		CycleInterval:    100 * time.Millisecond,
		ReadBufferSize:   transport.DefaultBufferSize,
	}
}

func (c Config) Validate() error {
	if c.ResponseAddr == "" {
		return fmt.Errorf("link: response address is empty")
	}
	if c.TelemetryAddr == "" {
		return fmt.Errorf("link: telemetry address is empty")
	}
	if c.VehicleAddr == "" {
		return fmt.Errorf("link: vehicle address is empty")
	}
	if c.InitAttempts <= 0 {
		return fmt.Errorf("link: init attempts must be positive, got %d", c.InitAttempts)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("link: handshake timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("link: command timeout must be positive, got %s", c.CommandTimeout)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("link: cycle interval must be positive, got %s", c.CycleInterval)
	}
	if c.MaxCommandAttempts < 0 {
		return fmt.Errorf("link: max command attempts must not be negative, got %d", c.MaxCommandAttempts)
	}
	return nil
}

type Option func(*Link)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Link) {
		if logger != nil {
			l.log = logger
		}
	}
}

// WithObserver receives every command sent and every ack and snapshot
// received. It runs on the link's goroutines and must not block. Sent
// commands are observed with the link locked, so fn must not call the Link.
func WithObserver(fn func(protocol.Packet)) Option {
	return func(l *Link) {
		if fn != nil {
			l.observer = fn
		}
	}
}

func WithEventBuffer(size int) Option {
	return func(l *Link) {
		if size > 0 {
			l.events = make(chan Event, size)
		}
	}
}
