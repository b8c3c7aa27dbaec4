package protocol_test

import (
	"bytes"
	"errors"
	"strconv"
	"testing"

	"tellolink/pkg/protocol"
)

const sampleState = "pitch:0;roll:1;yaw:2;vgx:3;vgy:4;vgz:5;templ:6;temph:7;tof:8;h:9;bat:10;baro:11.5;time:12;agx:13.1;agy:14.2;agz:15.3"

func TestDecodeTelemetrySample(t *testing.T) {
	snap, err := protocol.DecodeTelemetry([]byte(sampleState))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	want := protocol.TelemetrySnapshot{
		Pitch: 0, Roll: 1, Yaw: 2,
		VGX: 3, VGY: 4, VGZ: 5,
		TempLow: 6, TempHigh: 7,
		TimeOfFlight: 8, Height: 9, Battery: 10,
		Barometer: 11.5, Uptime: 12,
		AccelX: 13.1, AccelY: 14.2, AccelZ: 15.3,
	}
	if snap != want {
		t.Fatalf("unexpected snapshot:\n got %+v\nwant %+v", snap, want)
	}
}

func TestDecodeTelemetryRealisticPayload(t *testing.T) {
	raw := []byte("pitch:-2;roll:3;yaw:-178;vgx:0;vgy:0;vgz:0;templ:83;temph:86;tof:10;h:0;bat:87;baro:-52.46;time:0;agx:-3.00;agy:-7.00;agz:-999.00;\r\n")
	snap, err := protocol.DecodeTelemetry(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.Pitch != -2 || snap.Yaw != -178 || snap.Battery != 87 {
		t.Fatalf("unexpected integer fields: %+v", snap)
	}
	if snap.Barometer != -52.46 || snap.AccelZ != -999 {
		t.Fatalf("unexpected float fields: %+v", snap)
	}
}

func TestDecodeTelemetryIgnoresExtraTokens(t *testing.T) {
	snap, err := protocol.DecodeTelemetry([]byte(sampleState + ";extra:99;more:100"))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.AccelZ != 15.3 {
		t.Fatalf("unexpected agz: %v", snap.AccelZ)
	}
}

func TestDecodeTelemetryTooFewFields(t *testing.T) {
	_, err := protocol.DecodeTelemetry([]byte("pitch:0;roll:1;yaw:2"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, protocol.ErrFieldCountMismatch) {
		t.Fatalf("expected field count mismatch, got %v", err)
	}
	var decErr *protocol.DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if decErr.Count != 3 {
		t.Fatalf("unexpected token count: %d", decErr.Count)
	}
}

func TestDecodeTelemetryEmpty(t *testing.T) {
	_, err := protocol.DecodeTelemetry(nil)
	if !errors.Is(err, protocol.ErrFieldCountMismatch) {
		t.Fatalf("expected field count mismatch, got %v", err)
	}
}

func TestDecodeTelemetryFloatInIntegerSlot(t *testing.T) {
	raw := []byte("pitch:0.5;roll:1;yaw:2;vgx:3;vgy:4;vgz:5;templ:6;temph:7;tof:8;h:9;bat:10;baro:11.5;time:12;agx:13.1;agy:14.2;agz:15.3")
	_, err := protocol.DecodeTelemetry(raw)
	if !errors.Is(err, protocol.ErrMalformedNumber) {
		t.Fatalf("expected malformed number, got %v", err)
	}
	var decErr *protocol.DecodeError
	if !errors.As(err, &decErr) || decErr.Field != "pitch" {
		t.Fatalf("expected pitch to be reported, got %v", err)
	}
}

func TestDecodeTelemetryIntegerOverflow(t *testing.T) {
	raw := []byte("pitch:99999999999999999999;roll:1;yaw:2;vgx:3;vgy:4;vgz:5;templ:6;temph:7;tof:8;h:9;bat:10;baro:11.5;time:12;agx:13.1;agy:14.2;agz:15.3")
	_, err := protocol.DecodeTelemetry(raw)
	if !errors.Is(err, protocol.ErrMalformedNumber) {
		t.Fatalf("expected malformed number, got %v", err)
	}
	if !errors.Is(err, strconv.ErrRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	var decErr *protocol.DecodeError
	if !errors.As(err, &decErr) || decErr.Field != "pitch" || decErr.Token != "99999999999999999999" {
		t.Fatalf("expected pitch overflow to be reported, got %+v", decErr)
	}
}

func TestNewTelemetrySnapshotArity(t *testing.T) {
	_, err := protocol.NewTelemetrySnapshot(make([]string, 15))
	if !errors.Is(err, protocol.ErrFieldCountMismatch) {
		t.Fatalf("expected field count mismatch, got %v", err)
	}
}

func TestTelemetryFieldNamesOrder(t *testing.T) {
	names := protocol.TelemetryFieldNames()
	if len(names) != protocol.TelemetryFieldCount {
		t.Fatalf("unexpected field count: %d", len(names))
	}
	if names[0] != "pitch" || names[11] != "baro" || names[15] != "agz" {
		t.Fatalf("unexpected field order: %v", names)
	}
}

func TestEncodeTelemetryDecodes(t *testing.T) {
	want := protocol.TelemetrySnapshot{
		Pitch: -3, Roll: 2, Yaw: -170, VGX: 1, VGY: 0, VGZ: -1,
		TempLow: 61, TempHigh: 63, TimeOfFlight: 30, Height: 120, Battery: 87,
		Barometer: 1013.25, Uptime: 42, AccelX: -7.5, AccelY: 0.25, AccelZ: -1000,
	}
	raw := protocol.EncodeTelemetry(want)
	if !bytes.HasPrefix(raw, []byte("pitch:-3;roll:2;")) {
		t.Fatalf("unexpected encoding: %q", raw)
	}
	got, err := protocol.DecodeTelemetry(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}
