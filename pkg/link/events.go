package link

import (
	"time"

	"go.uber.org/zap"

	"tellolink/pkg/protocol"
)

type EventKind uint8

const (
	EventProtocolError EventKind = iota + 1
	EventCommandTimeout
	EventDecodeError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventProtocolError:
		return "protocol_error"
	case EventCommandTimeout:
		return "command_timeout"
	case EventDecodeError:
		return "decode_error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is an advisory notice from the link. Only EventClosed is terminal;
// its Err is nil for an orderly close.
type Event struct {
	Kind    EventKind
	Request protocol.Request
	Err     error
	Time    time.Time
}

const defaultEventBuffer = 64

// emit never blocks; events are dropped when nobody drains the channel.
func (l *Link) emit(kind EventKind, req protocol.Request, err error) {
	ev := Event{Kind: kind, Request: req, Err: err, Time: time.Now()}
	select {
	case l.events <- ev:
	default:
		l.log.Debug("event dropped", zapEvent(ev)...)
	}
}

func zapEvent(ev Event) []zap.Field {
	fields := []zap.Field{zap.Stringer("kind", ev.Kind)}
	if ev.Kind == EventProtocolError || ev.Kind == EventCommandTimeout {
		fields = append(fields, zap.Stringer("request", ev.Request))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	return fields
}
