package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

// TelemetryFieldCount is the number of numeric fields in one state datagram.
const TelemetryFieldCount = 16

// TelemetrySnapshot is one decoded state report. Values are never partially
// populated: a snapshot exists only if all fields parsed.
type TelemetrySnapshot struct {
	Pitch        int     `json:"pitch"`
	Roll         int     `json:"roll"`
	Yaw          int     `json:"yaw"`
	VGX          int     `json:"vgx"`
	VGY          int     `json:"vgy"`
	VGZ          int     `json:"vgz"`
	TempLow      int     `json:"templ"`
	TempHigh     int     `json:"temph"`
	TimeOfFlight int     `json:"tof"`
	Height       int     `json:"h"`
	Battery      int     `json:"bat"`
	Barometer    float64 `json:"baro"`
	Uptime       int     `json:"time"`
	AccelX       float64 `json:"agx"`
	AccelY       float64 `json:"agy"`
	AccelZ       float64 `json:"agz"`
}

type fieldKind uint8

const (
	kindInt fieldKind = iota
	kindFloat
)

type fieldDef struct {
	Name     string
	Kind     fieldKind
	intRef   func(*TelemetrySnapshot) *int
	floatRef func(*TelemetrySnapshot) *float64
}

func intField(name string, ref func(*TelemetrySnapshot) *int) fieldDef {
	return fieldDef{Name: name, Kind: kindInt, intRef: ref}
}

func floatField(name string, ref func(*TelemetrySnapshot) *float64) fieldDef {
	return fieldDef{Name: name, Kind: kindFloat, floatRef: ref}
}

// telemetryFields is the wire order of the state report.
var telemetryFields = [TelemetryFieldCount]fieldDef{
	intField("pitch", func(s *TelemetrySnapshot) *int { return &s.Pitch }),
	intField("roll", func(s *TelemetrySnapshot) *int { return &s.Roll }),
	intField("yaw", func(s *TelemetrySnapshot) *int { return &s.Yaw }),
	intField("vgx", func(s *TelemetrySnapshot) *int { return &s.VGX }),
	intField("vgy", func(s *TelemetrySnapshot) *int { return &s.VGY }),
	intField("vgz", func(s *TelemetrySnapshot) *int { return &s.VGZ }),
	intField("templ", func(s *TelemetrySnapshot) *int { return &s.TempLow }),
	intField("temph", func(s *TelemetrySnapshot) *int { return &s.TempHigh }),
	intField("tof", func(s *TelemetrySnapshot) *int { return &s.TimeOfFlight }),
	intField("h", func(s *TelemetrySnapshot) *int { return &s.Height }),
	intField("bat", func(s *TelemetrySnapshot) *int { return &s.Battery }),
	floatField("baro", func(s *TelemetrySnapshot) *float64 { return &s.Barometer }),
	intField("time", func(s *TelemetrySnapshot) *int { return &s.Uptime }),
	floatField("agx", func(s *TelemetrySnapshot) *float64 { return &s.AccelX }),
	floatField("agy", func(s *TelemetrySnapshot) *float64 { return &s.AccelY }),
	floatField("agz", func(s *TelemetrySnapshot) *float64 { return &s.AccelZ }),
}

// TelemetryFieldNames returns the wire keys in decode order.
func TelemetryFieldNames() []string {
	names := make([]string, 0, TelemetryFieldCount)
	for _, f := range telemetryFields {
		names = append(names, f.Name)
	}
	return names
}

// DecodeReason tells why a telemetry datagram was rejected.
type DecodeReason uint8

const (
	FieldCountMismatch DecodeReason = iota + 1
	MalformedNumber
)

var (
	ErrFieldCountMismatch = errors.New("telemetry field count mismatch")
	ErrMalformedNumber    = errors.New("telemetry malformed number")
)

func (r DecodeReason) sentinel() error {
	switch r {
	case FieldCountMismatch:
		return ErrFieldCountMismatch
	case MalformedNumber:
		return ErrMalformedNumber
	default:
		return nil
	}
}

// DecodeError is returned for any telemetry datagram that cannot become a snapshot.
type DecodeError struct {
	Reason DecodeReason
	Count  int    // tokens found, for FieldCountMismatch
	Field  string // offending field, for MalformedNumber
	Token  string
	Err    error
}

func (e *DecodeError) Error() string {
	switch e.Reason {
	case FieldCountMismatch:
		return fmt.Sprintf("%v: got %d numeric tokens, want %d", ErrFieldCountMismatch, e.Count, TelemetryFieldCount)
	case MalformedNumber:
		return fmt.Sprintf("%v: field %s token %q: %v", ErrMalformedNumber, e.Field, e.Token, e.Err)
	default:
		return "telemetry decode error"
	}
}

func (e *DecodeError) Is(target error) bool {
	return target != nil && target == e.Reason.sentinel()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeTelemetry extracts the first TelemetryFieldCount numeric tokens from
// raw and builds a snapshot from them. Keys and delimiters are ignored.
func DecodeTelemetry(raw []byte) (TelemetrySnapshot, error) {
	tokens := numericTokens(raw)
	if len(tokens) < TelemetryFieldCount {
		return TelemetrySnapshot{}, &DecodeError{Reason: FieldCountMismatch, Count: len(tokens)}
	}
	return NewTelemetrySnapshot(tokens[:TelemetryFieldCount])
}

// NewTelemetrySnapshot builds a snapshot from exactly TelemetryFieldCount
// tokens in wire order.
func NewTelemetrySnapshot(tokens []string) (TelemetrySnapshot, error) {
	if len(tokens) != TelemetryFieldCount {
		return TelemetrySnapshot{}, &DecodeError{Reason: FieldCountMismatch, Count: len(tokens)}
	}

	var snap TelemetrySnapshot
	for i, field := range telemetryFields {
		tok := tokens[i]
		switch field.Kind {
		case kindInt:
			n, err := strconv.Atoi(tok)
			if err != nil {
				return TelemetrySnapshot{}, &DecodeError{Reason: MalformedNumber, Field: field.Name, Token: tok, Err: err}
			}
			*field.intRef(&snap) = n
		case kindFloat:
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return TelemetrySnapshot{}, &DecodeError{Reason: MalformedNumber, Field: field.Name, Token: tok, Err: err}
			}
			*field.floatRef(&snap) = f
		}
	}
	return snap, nil
}

// EncodeTelemetry renders s in the vehicle's "key:value;" state format.
func EncodeTelemetry(s TelemetrySnapshot) []byte {
	var buf []byte
	for _, field := range telemetryFields {
		buf = append(buf, field.Name...)
		buf = append(buf, ':')
		switch field.Kind {
		case kindInt:
			buf = strconv.AppendInt(buf, int64(*field.intRef(&s)), 10)
		case kindFloat:
			buf = strconv.AppendFloat(buf, *field.floatRef(&s), 'f', 2, 64)
		}
		buf = append(buf, ';')
	}
	return append(buf, '\r', '\n')
}

// numericTokens splits raw into tokens made of an optional sign, digits and at
// most one decimal point. Every other byte is a separator; a second decimal
// point ends the current token.
func numericTokens(raw []byte) []string {
	tokens := make([]string, 0, TelemetryFieldCount)
	for i := 0; i < len(raw); {
		start := i
		if raw[i] == '-' || raw[i] == '+' {
			i++
		}
		digits, dot := 0, false
		for i < len(raw) {
			c := raw[i]
			if c >= '0' && c <= '9' {
				digits++
			} else if c == '.' && !dot {
				dot = true
			} else {
				break
			}
			i++
		}
		if digits == 0 {
			i = start + 1
			continue
		}
		tokens = append(tokens, string(raw[start:i]))
	}
	return tokens
}
