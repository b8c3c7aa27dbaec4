package protocol

import "time"

// Stream identifies which socket a packet travelled on.
type Stream uint8

const (
	StreamCommand Stream = iota
	StreamAck
	StreamTelemetry
)

func (s Stream) String() string {
	switch s {
	case StreamCommand:
		return "command"
	case StreamAck:
		return "ack"
	case StreamTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Packet is the normalized record flowing to observers.
// Data holds a string for commands and acks and a TelemetrySnapshot for telemetry.
type Packet struct {
	Stream    Stream
	Timestamp time.Time
	Payload   []byte
	Data      any
}
