// Package link manages the UDP session with a text-protocol quadcopter: the
// handshake, the ack and telemetry listeners, and the dispatcher that streams
// the control vector and serializes one-shot requests.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tellolink/pkg/protocol"
	"tellolink/pkg/transport"
)

const requestKinds = len(protocol.Priority)

// Link is one session with one vehicle. A closed Link cannot be reopened;
// construct a new one instead.
type Link struct {
	id       uuid.UUID
	cfg      Config
	log      *zap.Logger
	observer func(protocol.Packet)
	events   chan Event

	acks      AckTracker
	control   atomic.Pointer[protocol.ControlVector]
	telemetry atomic.Pointer[protocol.TelemetrySnapshot]
	landed    atomic.Bool
	streaming atomic.Bool

	mu        sync.Mutex
	state     State
	pending   [requestKinds]bool
	attempts  [requestKinds]int
	respConn  *net.UDPConn
	telemConn *net.UDPConn
	vehicle   *net.UDPAddr
	cause     error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, opts ...Option) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = transport.DefaultBufferSize
	}

	l := &Link{
		id:     uuid.Must(uuid.NewV7()),
		cfg:    cfg,
		log:    zap.NewNop(),
		events: make(chan Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("link").With(zap.Stringer("session", l.id))
	l.ctx, l.cancel = context.WithCancel(context.Background())

	neutral := protocol.Neutral
	l.control.Store(&neutral)
	l.landed.Store(true)
	return l, nil
}

// Initialize binds both local sockets, performs the handshake and starts the
// telemetry listener and dispatcher. On failure no goroutine is left running
// and the link may be initialized again.
func (l *Link) Initialize(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case Unconnected:
	case Closed:
		l.mu.Unlock()
		return ErrClosed
	default:
		l.mu.Unlock()
		return ErrNotUnconnected
	}

	vehicle, err := net.ResolveUDPAddr("udp", l.cfg.VehicleAddr)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("link: resolve vehicle %s: %w", l.cfg.VehicleAddr, err)
	}
	respConn, err := transport.Bind(l.cfg.ResponseAddr)
	if err != nil {
		l.mu.Unlock()
		return &BindError{Addr: l.cfg.ResponseAddr, Err: err}
	}
	telemConn, err := transport.Bind(l.cfg.TelemetryAddr)
	if err != nil {
		l.mu.Unlock()
		_ = respConn.Close()
		return &BindError{Addr: l.cfg.TelemetryAddr, Err: err}
	}

	l.vehicle = vehicle
	l.respConn = respConn
	l.telemConn = telemConn
	l.state = Handshaking
	l.wg.Add(1)
	l.mu.Unlock()

	l.log.Info("sockets bound",
		zap.Stringer("response", respConn.LocalAddr()),
		zap.Stringer("telemetry", telemConn.LocalAddr()),
		zap.Stringer("vehicle", vehicle))

	l.startListener(protocol.StreamAck, respConn, l.handleAck)

	if err := l.handshake(ctx); err != nil {
		if l.abortHandshake() {
			return err
		}
		return l.closedErr()
	}

	l.mu.Lock()
	if l.state != Handshaking {
		l.mu.Unlock()
		return l.closedErr()
	}
	l.state = Connected
	// Counted before unlocking so a concurrent Close waits for both.
	l.wg.Add(2)
	l.mu.Unlock()

	l.startListener(protocol.StreamTelemetry, telemConn, l.handleTelemetry)
	go l.dispatch()

	l.log.Info("link connected")
	return nil
}

func (l *Link) handshake(ctx context.Context) error {
	hsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	for attempt := 1; attempt <= l.cfg.InitAttempts; attempt++ {
		w := l.acks.Arm()
		if err := l.send(protocol.CommandToken); err != nil {
			l.log.Warn("handshake send failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		rec, err := w.Wait(hsCtx, l.cfg.HandshakeTimeout)
		switch {
		case errors.Is(err, ErrAckTimeout):
			l.log.Warn("handshake unanswered", zap.Int("attempt", attempt), zap.Int("of", l.cfg.InitAttempts))
		case err != nil:
			return err
		case protocol.ClassifyAck(rec.Payload) == protocol.AckSuccess:
			l.log.Info("handshake acknowledged", zap.Int("attempt", attempt))
			return nil
		default:
			l.log.Warn("handshake rejected", zap.Int("attempt", attempt), zap.String("payload", rec.Payload))
		}
	}
	return ErrHandshakeTimeout
}

// abortHandshake releases the sockets of a failed handshake, waits for the
// ack listener and only then returns the link to Unconnected. It reports
// false if the link was closed meanwhile.
func (l *Link) abortHandshake() bool {
	l.mu.Lock()
	if l.state != Handshaking {
		l.mu.Unlock()
		l.wg.Wait()
		return false
	}
	err := l.releaseSockets()
	l.mu.Unlock()

	l.wg.Wait()
	if err != nil {
		l.log.Warn("releasing sockets", zap.Error(err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Handshaking {
		return false
	}
	l.state = Unconnected
	l.log.Info("handshake failed, link unconnected")
	return true
}

func (l *Link) releaseSockets() error {
	var err error
	if l.respConn != nil {
		err = multierr.Append(err, l.respConn.Close())
		l.respConn = nil
	}
	if l.telemConn != nil {
		err = multierr.Append(err, l.telemConn.Close())
		l.telemConn = nil
	}
	return err
}

func (l *Link) closedErr() error {
	if err := l.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// send writes one command from the response socket so that the vehicle
// replies to it.
func (l *Link) send(cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendLocked(cmd)
}

// sendLocked writes and observes cmd while l.mu is held, so a command read
// from link state is never sent after that state changed.
func (l *Link) sendLocked(cmd string) error {
	if l.respConn == nil {
		return ErrClosed
	}
	payload := []byte(cmd)
	if _, err := l.respConn.WriteTo(payload, l.vehicle); err != nil {
		return err
	}
	l.observe(protocol.StreamCommand, payload, cmd)
	return nil
}

func (l *Link) observe(stream protocol.Stream, payload []byte, data any) {
	if l.observer == nil {
		return
	}
	l.observer(protocol.Packet{
		Stream:    stream,
		Timestamp: time.Now(),
		Payload:   payload,
		Data:      data,
	})
}

// SendControl replaces the streamed control vector. It is accepted only while
// connected.
func (l *Link) SendControl(v protocol.ControlVector) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connected {
		return false
	}
	l.control.Store(&v)
	return true
}

// Control returns the vector the dispatcher is currently streaming.
func (l *Link) Control() protocol.ControlVector {
	return *l.control.Load()
}

// RequestTakeoff queues a takeoff. It reports false unless connected.
func (l *Link) RequestTakeoff() bool { return l.request(protocol.Takeoff) }

// RequestLand queues a landing. It reports false unless connected.
func (l *Link) RequestLand() bool { return l.request(protocol.Land) }

// RequestStream queues streamon or streamoff. It reports false unless connected.
func (l *Link) RequestStream(on bool) bool {
	if on {
		return l.request(protocol.StreamOn)
	}
	return l.request(protocol.StreamOff)
}

// request marks req pending. Repeating a pending request is a no-op.
func (l *Link) request(req protocol.Request) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Connected {
		return false
	}
	if !l.pending[req] {
		l.pending[req] = true
		l.attempts[req] = 0
	}
	return true
}

// Halt neutralizes the control vector, drops every queued request except
// land and forces a landing. The link closes once land is acknowledged; an
// error ack for land also closes it, with the ProtocolError as Err.
func (l *Link) Halt() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case Halting:
		return true
	case Connected:
	default:
		return false
	}

	neutral := protocol.Neutral
	l.control.Store(&neutral)
	l.pending = [requestKinds]bool{}
	l.pending[protocol.Land] = true
	l.attempts[protocol.Land] = 0
	l.state = Halting

	l.log.Warn("halt requested, landing")
	return true
}

// Emergency sends the motor-stop command at once, bypassing the request
// queue, and neutralizes the control vector. It is allowed while connected or
// halting and reports whether the command was sent. Its reply is recorded as
// an ordinary ack and does not change the landed flag.
func (l *Link) Emergency() bool {
	l.mu.Lock()
	if !l.state.running() {
		l.mu.Unlock()
		return false
	}
	neutral := protocol.Neutral
	l.control.Store(&neutral)
	l.mu.Unlock()

	if err := l.send(protocol.EmergencyToken); err != nil {
		l.log.Error("emergency send failed", zap.Error(err))
		return false
	}
	l.log.Warn("emergency stop sent")
	return true
}

// Close releases both sockets and waits for every goroutine to exit. Calling
// it again is a no-op. Close must not be called from an observer callback.
func (l *Link) Close() error {
	err := l.teardown(nil)
	l.wg.Wait()
	return err
}

// teardown moves the link to Closed without waiting, so listeners and the
// dispatcher may call it on themselves.
func (l *Link) teardown(cause error) error {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return nil
	}
	prev := l.state
	l.state = Closed
	l.cause = cause
	l.pending = [requestKinds]bool{}
	err := l.releaseSockets()
	l.mu.Unlock()

	l.cancel()
	close(l.done)

	if cause != nil {
		l.log.Warn("link closed", zap.Stringer("from", prev), zap.Error(cause))
	} else {
		l.log.Info("link closed", zap.Stringer("from", prev))
	}
	l.emit(EventClosed, 0, cause)
	return err
}

// ID identifies this session in logs and bridged messages.
func (l *Link) ID() uuid.UUID { return l.id }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsIdle reports whether no request is pending.
func (l *Link) IsIdle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.pending {
		if p {
			return false
		}
	}
	return true
}

// Pending reports whether req is waiting to be acknowledged.
func (l *Link) Pending(req protocol.Request) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[req]
}

// Landed reports whether the last acknowledged takeoff or land left the vehicle on the ground.
func (l *Link) Landed() bool { return l.landed.Load() }

// Streaming reports whether the vehicle acknowledged streamon more recently than streamoff.
func (l *Link) Streaming() bool { return l.streaming.Load() }

// Telemetry returns the latest decoded snapshot.
func (l *Link) Telemetry() (protocol.TelemetrySnapshot, bool) {
	snap := l.telemetry.Load()
	if snap == nil {
		return protocol.TelemetrySnapshot{}, false
	}
	return *snap, true
}

// LastAck returns the newest reply on the response socket, recognized or not.
func (l *Link) LastAck() (AckRecord, bool) {
	return l.acks.Last()
}

// Events delivers advisory events. Slow readers miss events rather than
// stalling the link.
func (l *Link) Events() <-chan Event {
	return l.events
}

// Done is closed when the link reaches Closed.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns why the link closed, or nil for an orderly close.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}
