package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tellolink/pkg/protocol"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		" WARN": zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "link.log")

	log, closeFn, err := New(Options{Level: "info", File: path, Console: &console})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("hidden")
	log.Info("link connected", zap.Int("attempt", 2))
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "link connected") || strings.Contains(console.String(), "hidden") {
		t.Fatalf("console output %q", console.String())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), raw)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("file line is not JSON: %v", err)
	}
	if rec["msg"] != "link connected" || rec["attempt"] != float64(2) {
		t.Fatalf("record %v", rec)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTapRecordsTraffic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tap := NewTap(zap.New(core))

	in := make(chan protocol.Packet, 4)
	in <- protocol.Packet{Stream: protocol.StreamCommand, Timestamp: time.Now(), Data: "rc 0 0 0 0"}
	in <- protocol.Packet{Stream: protocol.StreamCommand, Timestamp: time.Now(), Data: "takeoff"}
	in <- protocol.Packet{Stream: protocol.StreamAck, Timestamp: time.Now(), Payload: []byte("ok"), Data: "ok"}
	in <- protocol.Packet{Stream: protocol.StreamTelemetry, Timestamp: time.Now(), Data: protocol.TelemetrySnapshot{Battery: 80}}
	close(in)

	tap.Consume(context.Background(), in)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries without the rc stream, got %d", len(entries))
	}
	if text := entries[0].ContextMap()["text"]; text != "takeoff" {
		t.Fatalf("first entry text %v", text)
	}
	if entries[2].ContextMap()["stream"] != "telemetry" {
		t.Fatalf("last entry %v", entries[2].ContextMap())
	}
}

func TestTapWithControl(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tap := NewTap(zap.New(core), WithControl(true))

	in := make(chan protocol.Packet, 1)
	in <- protocol.Packet{Stream: protocol.StreamCommand, Data: "rc 1 2 3 4"}
	close(in)
	tap.Consume(context.Background(), in)

	if logs.Len() != 1 {
		t.Fatalf("rc command not recorded")
	}
}

func TestTapStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewTap(nil).Consume(ctx, make(chan protocol.Packet))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("tap did not stop")
	}
}
