package protocol_test

import (
	"testing"

	"tellolink/pkg/protocol"
)

func TestEncodeControl(t *testing.T) {
	got := protocol.EncodeControl(protocol.ControlVector{LeftRight: -100, ForwardBack: 20, UpDown: 0, Yaw: 100})
	if got != "rc -100 20 0 100" {
		t.Fatalf("unexpected command: %q", got)
	}
	if got := protocol.EncodeControl(protocol.Neutral); got != "rc 0 0 0 0" {
		t.Fatalf("unexpected neutral command: %q", got)
	}
}

func TestControlRoundTrip(t *testing.T) {
	for lr := protocol.AxisMin; lr <= protocol.AxisMax; lr += 7 {
		for yaw := protocol.AxisMin; yaw <= protocol.AxisMax; yaw += 11 {
			v := protocol.ControlVector{LeftRight: lr, ForwardBack: -lr, UpDown: yaw / 2, Yaw: yaw}
			got, err := protocol.ParseControl(protocol.EncodeControl(v))
			if err != nil {
				t.Fatalf("parse %+v: %v", v, err)
			}
			if got != v {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, v)
			}
		}
	}
	edges := []protocol.ControlVector{
		{LeftRight: protocol.AxisMax, ForwardBack: protocol.AxisMax, UpDown: protocol.AxisMax, Yaw: protocol.AxisMax},
		{LeftRight: protocol.AxisMin, ForwardBack: protocol.AxisMin, UpDown: protocol.AxisMin, Yaw: protocol.AxisMin},
	}
	for _, v := range edges {
		got, err := protocol.ParseControl(protocol.EncodeControl(v))
		if err != nil || got != v {
			t.Fatalf("edge round trip failed for %+v: %+v, %v", v, got, err)
		}
	}
}

func TestParseControlRejectsOtherCommands(t *testing.T) {
	for _, cmd := range []string{"takeoff", "rc 1 2 3", "rc a b c d", ""} {
		if _, err := protocol.ParseControl(cmd); err == nil {
			t.Fatalf("expected error for %q", cmd)
		}
	}
}

func TestEncodeRequest(t *testing.T) {
	cases := map[protocol.Request]string{
		protocol.Takeoff:   "takeoff",
		protocol.Land:      "land",
		protocol.StreamOn:  "streamon",
		protocol.StreamOff: "streamoff",
	}
	for req, want := range cases {
		if got := protocol.EncodeRequest(req); got != want {
			t.Fatalf("unexpected token for %d: %q", req, got)
		}
	}
	if protocol.CommandToken != "command" {
		t.Fatalf("unexpected handshake token: %q", protocol.CommandToken)
	}
}

func TestPriorityLandFirst(t *testing.T) {
	if protocol.Priority[0] != protocol.Land || protocol.Priority[1] != protocol.Takeoff {
		t.Fatalf("unexpected priority order: %v", protocol.Priority)
	}
}

func TestControlVectorValidAndClamp(t *testing.T) {
	v := protocol.ControlVector{LeftRight: 150, ForwardBack: -101, UpDown: 5, Yaw: 100}
	if v.Valid() {
		t.Fatalf("expected out-of-range vector to be invalid")
	}
	c := v.Clamp()
	if !c.Valid() || c.LeftRight != 100 || c.ForwardBack != -100 || c.UpDown != 5 {
		t.Fatalf("unexpected clamp result: %+v", c)
	}
}

func TestClassifyAck(t *testing.T) {
	cases := map[string]protocol.AckKind{
		"ok":                 protocol.AckSuccess,
		"error":              protocol.AckError,
		"error Not joystick": protocol.AckError,
		"out of range":       protocol.AckUnknown,
		"100":                protocol.AckUnknown,
		"ok ":                protocol.AckUnknown,
	}
	for payload, want := range cases {
		if got := protocol.ClassifyAck(payload); got != want {
			t.Fatalf("ClassifyAck(%q) = %v, want %v", payload, got, want)
		}
	}
}

func TestParseText(t *testing.T) {
	if got := protocol.ParseText([]byte("ok\r\n")); got != "ok" {
		t.Fatalf("unexpected text: %q", got)
	}
	if got := protocol.ParseText([]byte{'o', 'k', 0x00, 'x'}); got != "ok" {
		t.Fatalf("unexpected text: %q", got)
	}
}
