package link

import (
	"errors"
	"fmt"

	"tellolink/pkg/protocol"
)

var (
	ErrHandshakeTimeout = errors.New("link: vehicle did not acknowledge handshake")
	ErrAckTimeout       = errors.New("link: timed out waiting for ack")
	ErrNotUnconnected   = errors.New("link: initialize called outside unconnected state")
	ErrClosed           = errors.New("link: closed")
)

// BindError means a local socket could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("link: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// CommandTimeoutError reports a discrete request that went unanswered.
type CommandTimeoutError struct {
	Request   protocol.Request
	Attempts  int
	Abandoned bool
}

func (e *CommandTimeoutError) Error() string {
	if e.Abandoned {
		return fmt.Sprintf("link: %s abandoned after %d unanswered attempts", e.Request, e.Attempts)
	}
	return fmt.Sprintf("link: %s unanswered (attempt %d)", e.Request, e.Attempts)
}

func (e *CommandTimeoutError) Unwrap() error { return ErrAckTimeout }

// ProtocolError carries an error-bearing ack from the vehicle.
type ProtocolError struct {
	Request protocol.Request
	Payload string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("link: vehicle rejected %s: %q", e.Request, e.Payload)
}

// TransportError is a failed socket read. It always closes the link.
type TransportError struct {
	Stream protocol.Stream
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: %s socket: %v", e.Stream, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
