package protocol

import (
	"bytes"
	"strings"
)

const (
	// AckOK is the literal success reply.
	AckOK = "ok"

	ackErrorToken = "error"
)

// AckKind classifies a reply from the vehicle.
type AckKind uint8

const (
	AckUnknown AckKind = iota
	AckSuccess
	AckError
)

func (k AckKind) String() string {
	switch k {
	case AckSuccess:
		return "success"
	case AckError:
		return "error"
	default:
		return "unknown"
	}
}

// ClassifyAck maps a decoded reply onto its meaning for the state machine.
func ClassifyAck(payload string) AckKind {
	switch {
	case payload == AckOK:
		return AckSuccess
	case strings.Contains(payload, ackErrorToken):
		return AckError
	default:
		return AckUnknown
	}
}

// ParseText converts a datagram into a Go string, dropping trailing NULs and
// surrounding whitespace.
func ParseText(payload []byte) string {
	if idx := bytes.IndexByte(payload, 0x00); idx >= 0 {
		payload = payload[:idx]
	}
	return strings.TrimSpace(string(payload))
}
