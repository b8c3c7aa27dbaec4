// Package sim is a stand-in vehicle that speaks the text protocol over UDP.
// It backs the mock subcommand and the link tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tellolink/pkg/protocol"
	"tellolink/pkg/transport"
)

const (
	rollAmplitudeDeg  = 35.0
	pitchAmplitudeDeg = 25.0
	yawAmplitudeDeg   = 170.0

	rollFreqHz  = 0.23
	pitchFreqHz = 0.31
	yawFreqHz   = 0.05

	pitchPhaseRad = math.Pi / 3.0
	yawPhaseRad   = 2.0 * math.Pi / 3.0

	cruiseHeightCm = 80
)

// Responder decides the reply to a command. n counts how many times cmd has
// been received, starting at 1. Returning send=false drops the command.
type Responder func(cmd string, n int) (reply string, send bool)

// DefaultResponder accepts every command the link sends.
func DefaultResponder(cmd string, _ int) (string, bool) {
	switch cmd {
	case protocol.CommandToken, protocol.EmergencyToken,
		protocol.Takeoff.String(), protocol.Land.String(),
		protocol.StreamOn.String(), protocol.StreamOff.String():
		return protocol.AckOK, true
	default:
		return "error", true
	}
}

// Vehicle answers commands on one socket and streams state from another.
type Vehicle struct {
	conn      *net.UDPConn
	telemConn *net.UDPConn
	log       *zap.Logger
	responder Responder

	telemetryTarget string
	telemetryAddr   *net.UDPAddr
	telemetryHz     int

	mu        sync.Mutex
	peer      net.Addr
	commands  []string
	counts    map[string]int
	control   protocol.ControlVector
	flying    bool
	streaming bool

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

type Option func(*Vehicle)

func WithResponder(fn Responder) Option {
	return func(v *Vehicle) {
		if fn != nil {
			v.responder = fn
		}
	}
}

// WithTelemetry streams state datagrams to addr at hz while running.
func WithTelemetry(addr string, hz int) Option {
	return func(v *Vehicle) {
		v.telemetryTarget = addr
		v.telemetryHz = hz
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Vehicle) {
		if logger != nil {
			v.log = logger
		}
	}
}

// Listen binds the command socket on addr, e.g. "127.0.0.1:0".
func Listen(addr string, opts ...Option) (*Vehicle, error) {
	v := &Vehicle{
		log:       zap.NewNop(),
		responder: DefaultResponder,
		counts:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.Named("sim")

	if v.telemetryTarget != "" {
		if v.telemetryHz <= 0 {
			v.telemetryHz = 10
		}
		target, err := net.ResolveUDPAddr("udp", v.telemetryTarget)
		if err != nil {
			return nil, fmt.Errorf("sim: resolve telemetry target: %w", err)
		}
		v.telemetryAddr = target
	}

	conn, err := transport.Bind(addr)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	telemConn, err := transport.Bind(ephemeral(conn.LocalAddr()))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sim: %w", err)
	}
	v.conn = conn
	v.telemConn = telemConn
	return v, nil
}

func ephemeral(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok && udp.IP != nil {
		return net.JoinHostPort(udp.IP.String(), "0")
	}
	return ":0"
}

// Addr is where the vehicle accepts commands.
func (v *Vehicle) Addr() net.Addr {
	return v.conn.LocalAddr()
}

// Run serves commands until ctx is done or Close is called.
func (v *Vehicle) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = v.Close() })
	defer stop()

	if v.telemetryAddr != nil {
		v.wg.Add(1)
		go v.streamTelemetry(ctx)
	}

	err := transport.NewReceiver(v.conn, v.handle).Run()
	_ = v.Close()
	v.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close releases both sockets. Only the first call reports errors.
func (v *Vehicle) Close() error {
	v.closeOnce.Do(func() {
		v.closeErr = multierr.Combine(v.conn.Close(), v.telemConn.Close())
	})
	return v.closeErr
}

func (v *Vehicle) handle(payload []byte, from net.Addr) {
	cmd := protocol.ParseText(payload)

	v.mu.Lock()
	v.peer = from
	v.commands = append(v.commands, cmd)
	if protocol.IsControl(cmd) {
		if vec, err := protocol.ParseControl(cmd); err == nil {
			v.control = vec
		}
		v.mu.Unlock()
		return
	}
	v.counts[cmd]++
	n := v.counts[cmd]
	v.mu.Unlock()

	reply, send := v.responder(cmd, n)
	if !send {
		v.log.Debug("dropping command", zap.String("cmd", cmd), zap.Int("n", n))
		return
	}
	if reply == protocol.AckOK {
		v.apply(cmd)
	}
	if _, err := v.conn.WriteTo([]byte(reply), from); err != nil {
		v.log.Warn("reply failed", zap.String("cmd", cmd), zap.Error(err))
	}
}

// Notify sends text to whoever sent the last command, outside any exchange.
func (v *Vehicle) Notify(text string) error {
	v.mu.Lock()
	peer := v.peer
	v.mu.Unlock()
	if peer == nil {
		return errors.New("sim: no peer yet")
	}
	_, err := v.conn.WriteTo([]byte(text), peer)
	return err
}

func (v *Vehicle) apply(cmd string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch cmd {
	case protocol.Takeoff.String():
		v.flying = true
	case protocol.Land.String(), protocol.EmergencyToken:
		v.flying = false
		v.control = protocol.Neutral
	case protocol.StreamOn.String():
		v.streaming = true
	case protocol.StreamOff.String():
		v.streaming = false
	}
}

func (v *Vehicle) streamTelemetry(ctx context.Context) {
	defer v.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(v.telemetryHz))
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := v.Snapshot(time.Since(start))
			if _, err := v.telemConn.WriteTo(protocol.EncodeTelemetry(snap), v.telemetryAddr); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				v.log.Debug("telemetry write failed", zap.Error(err))
			}
		}
	}
}

// Snapshot is the state reported elapsed after start.
func (v *Vehicle) Snapshot(elapsed time.Duration) protocol.TelemetrySnapshot {
	t := elapsed.Seconds()
	v.mu.Lock()
	flying := v.flying
	control := v.control
	v.mu.Unlock()

	snap := protocol.TelemetrySnapshot{
		Yaw:       int(yawAmplitudeDeg * math.Sin(2.0*math.Pi*yawFreqHz*t+yawPhaseRad)),
		TempLow:   60,
		TempHigh:  62,
		Battery:   max(0, 100-int(t/30)),
		Barometer: 1013.25,
		Uptime:    int(t),
		AccelZ:    -1000,
	}
	if flying {
		snap.Roll = int(rollAmplitudeDeg * math.Sin(2.0*math.Pi*rollFreqHz*t))
		snap.Pitch = int(pitchAmplitudeDeg * math.Sin(2.0*math.Pi*pitchFreqHz*t+pitchPhaseRad))
		snap.VGX = control.ForwardBack / 10
		snap.VGY = control.LeftRight / 10
		snap.VGZ = -control.UpDown / 10
		snap.Height = cruiseHeightCm
		snap.TimeOfFlight = cruiseHeightCm + 10
		snap.Barometer -= 0.01 * cruiseHeightCm
	}
	return snap
}

// Commands returns every command received, in order.
func (v *Vehicle) Commands() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.commands...)
}

// Count returns how often a non-rc command was received.
func (v *Vehicle) Count(cmd string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts[cmd]
}

// LastControl is the most recent rc vector.
func (v *Vehicle) LastControl() protocol.ControlVector {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.control
}

func (v *Vehicle) Flying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flying
}

func (v *Vehicle) Streaming() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.streaming
}
