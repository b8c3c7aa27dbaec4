package link

import (
	"net"

	"go.uber.org/zap"

	"tellolink/pkg/protocol"
	"tellolink/pkg/transport"
)

// startListener runs a receiver on conn. The caller has already counted it
// in l.wg.
func (l *Link) startListener(stream protocol.Stream, conn *net.UDPConn, handle func([]byte)) {
	rx := transport.NewReceiver(conn,
		func(payload []byte, _ net.Addr) { handle(payload) },
		transport.WithBufferSize(l.cfg.ReadBufferSize),
		transport.WithErrorHandler(func(err error) { l.fail(stream, conn, err) }),
	)

	go func() {
		defer l.wg.Done()
		_ = rx.Run()
		l.log.Debug("listener stopped", zap.Stringer("stream", stream))
	}()
}

// handleAck records every datagram on the response socket. The payload is
// opaque text; only the dispatcher interprets it.
func (l *Link) handleAck(payload []byte) {
	text := protocol.ParseText(payload)
	l.acks.Submit(text)
	l.log.Debug("ack received", zap.String("payload", text))
	l.observe(protocol.StreamAck, payload, text)
}

// handleTelemetry replaces the snapshot wholesale. Malformed datagrams are
// dropped and the previous snapshot stays current.
func (l *Link) handleTelemetry(payload []byte) {
	snap, err := protocol.DecodeTelemetry(payload)
	if err != nil {
		l.log.Debug("telemetry dropped", zap.Error(err), zap.ByteString("payload", payload))
		l.emit(EventDecodeError, 0, err)
		return
	}
	l.telemetry.Store(&snap)
	l.observe(protocol.StreamTelemetry, payload, snap)
}

// fail closes the link on a read error, unless the socket was closed on
// purpose or belongs to an earlier handshake.
func (l *Link) fail(stream protocol.Stream, conn *net.UDPConn, err error) {
	l.mu.Lock()
	var current bool
	switch stream {
	case protocol.StreamAck:
		current = conn == l.respConn
	case protocol.StreamTelemetry:
		current = conn == l.telemConn
	}
	live := l.state == Handshaking || l.state.running()
	l.mu.Unlock()
	if !current || !live {
		return
	}

	terr := &TransportError{Stream: stream, Err: err}
	l.log.Error("transport failure", zap.Error(terr))
	_ = l.teardown(terr)
}
