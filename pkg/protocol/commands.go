package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// CommandToken puts the vehicle into SDK mode.
	CommandToken = "command"
	// EmergencyToken stops the motors immediately.
	EmergencyToken = "emergency"

	controlPrefix = "rc"

	AxisMin = -100
	AxisMax = 100
)

// ControlVector is the four-axis stick command streamed every cycle.
type ControlVector struct {
	LeftRight   int `json:"lr" toml:"lr"`
	ForwardBack int `json:"fb" toml:"fb"`
	UpDown      int `json:"ud" toml:"ud"`
	Yaw         int `json:"yaw" toml:"yaw"`
}

// Neutral is the hover vector.
var Neutral = ControlVector{}

// Valid reports whether every component lies in [AxisMin, AxisMax].
func (v ControlVector) Valid() bool {
	for _, c := range v.axes() {
		if c < AxisMin || c > AxisMax {
			return false
		}
	}
	return true
}

// Clamp returns a copy with every component limited to [AxisMin, AxisMax].
func (v ControlVector) Clamp() ControlVector {
	return ControlVector{
		LeftRight:   clampAxis(v.LeftRight),
		ForwardBack: clampAxis(v.ForwardBack),
		UpDown:      clampAxis(v.UpDown),
		Yaw:         clampAxis(v.Yaw),
	}
}

func (v ControlVector) axes() [4]int {
	return [4]int{v.LeftRight, v.ForwardBack, v.UpDown, v.Yaw}
}

func clampAxis(n int) int {
	return max(AxisMin, min(AxisMax, n))
}

// Request is a one-shot action that the vehicle must acknowledge.
type Request uint8

const (
	Takeoff Request = iota
	Land
	StreamOn
	StreamOff
)

// Priority lists requests in dispatch order. Land comes first so that it can
// always preempt a queued takeoff.
var Priority = [...]Request{Land, Takeoff, StreamOn, StreamOff}

var requestTokens = map[Request]string{
	Takeoff:   "takeoff",
	Land:      "land",
	StreamOn:  "streamon",
	StreamOff: "streamoff",
}

func (r Request) String() string {
	if tok, ok := requestTokens[r]; ok {
		return tok
	}
	return fmt.Sprintf("request(%d)", uint8(r))
}

// EncodeControl renders v as an rc command. Range checking is the caller's job.
func EncodeControl(v ControlVector) string {
	return fmt.Sprintf("%s %d %d %d %d", controlPrefix, v.LeftRight, v.ForwardBack, v.UpDown, v.Yaw)
}

// EncodeRequest returns the literal token for r.
func EncodeRequest(r Request) string {
	return r.String()
}

// ParseControl is the inverse of EncodeControl.
func ParseControl(cmd string) (ControlVector, error) {
	fields := strings.Fields(cmd)
	if len(fields) != 5 || fields[0] != controlPrefix {
		return ControlVector{}, fmt.Errorf("not an rc command: %q", cmd)
	}
	var vals [4]int
	for i, f := range fields[1:] {
		n, err := strconv.Atoi(f)
		if err != nil {
			return ControlVector{}, fmt.Errorf("rc axis %d: %w", i, err)
		}
		vals[i] = n
	}
	return ControlVector{LeftRight: vals[0], ForwardBack: vals[1], UpDown: vals[2], Yaw: vals[3]}, nil
}

// IsControl reports whether cmd is an rc command.
func IsControl(cmd string) bool {
	return strings.HasPrefix(cmd, controlPrefix+" ")
}
