package transport

import (
	"fmt"
	"net"
)

// DefaultBufferSize fits any datagram the vehicle sends on a standard MTU.
const DefaultBufferSize = 1518

// Receiver runs a blocking read loop over a datagram socket.
type Receiver struct {
	conn         net.PacketConn
	handler      func(payload []byte, from net.Addr)
	bufSize      int
	errorHandler func(error)
}

type Option func(*Receiver)

func WithBufferSize(n int) Option {
	return func(r *Receiver) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(r *Receiver) {
		if fn != nil {
			r.errorHandler = fn
		}
	}
}

func NewReceiver(conn net.PacketConn, handler func([]byte, net.Addr), opts ...Option) *Receiver {
	r := &Receiver{
		conn:    conn,
		handler: handler,
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads until the socket fails. The failure is reported to the error
// handler once and returned; it is never retried. Closing the socket is the
// only way to stop a running receiver.
func (r *Receiver) Run() error {
	buf := make([]byte, r.bufSize)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			r.handleError(err)
			return err
		}
		if n == 0 || r.handler == nil {
			continue
		}
		payload := append([]byte(nil), buf[:n]...)
		r.handler(payload, from)
	}
}

func (r *Receiver) handleError(err error) {
	if r.errorHandler != nil {
		r.errorHandler(err)
	}
}

// Bind opens a UDP socket on a local address such as "0.0.0.0:8889".
func Bind(addr string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
