package sim

import (
	"context"
	"net"
	"testing"
	"time"

	"tellolink/pkg/protocol"
)

func startVehicle(t *testing.T, opts ...Option) (*Vehicle, *net.UDPConn) {
	t.Helper()
	v, err := Listen("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("vehicle did not stop")
		}
	})

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return v, client
}

func exchange(t *testing.T, client *net.UDPConn, to net.Addr, cmd string) (string, bool) {
	t.Helper()
	if _, err := client.WriteTo([]byte(cmd), to); err != nil {
		t.Fatalf("write %q: %v", cmd, err)
	}
	_ = client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 64)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		return "", false
	}
	return string(buf[:n]), true
}

func TestVehicleAcknowledgesKnownCommands(t *testing.T) {
	v, client := startVehicle(t)

	for _, cmd := range []string{"command", "takeoff", "streamon"} {
		reply, ok := exchange(t, client, v.Addr(), cmd)
		if !ok || reply != "ok" {
			t.Fatalf("%s: got %q (ok=%v)", cmd, reply, ok)
		}
	}
	if !v.Flying() || !v.Streaming() {
		t.Fatalf("expected flying and streaming, got %v %v", v.Flying(), v.Streaming())
	}

	reply, ok := exchange(t, client, v.Addr(), "flip x")
	if !ok || reply != "error" {
		t.Fatalf("unknown command: got %q", reply)
	}
}

func TestVehicleSwallowsControl(t *testing.T) {
	v, client := startVehicle(t)

	if reply, ok := exchange(t, client, v.Addr(), "rc 10 -20 30 -40"); ok {
		t.Fatalf("rc should not be answered, got %q", reply)
	}
	want := protocol.ControlVector{LeftRight: 10, ForwardBack: -20, UpDown: 30, Yaw: -40}
	if got := v.LastControl(); got != want {
		t.Fatalf("last control %+v want %+v", got, want)
	}
	if v.Count("rc 10 -20 30 -40") != 0 {
		t.Fatalf("rc commands must not be counted")
	}
	if cmds := v.Commands(); len(cmds) != 1 || cmds[0] != "rc 10 -20 30 -40" {
		t.Fatalf("commands %v", cmds)
	}
}

func TestVehicleResponderSeesAttemptNumber(t *testing.T) {
	v, client := startVehicle(t, WithResponder(func(cmd string, n int) (string, bool) {
		if n < 3 {
			return "", false
		}
		return "ok", true
	}))

	for i := 1; i <= 2; i++ {
		if reply, ok := exchange(t, client, v.Addr(), "command"); ok {
			t.Fatalf("attempt %d answered with %q", i, reply)
		}
	}
	if reply, ok := exchange(t, client, v.Addr(), "command"); !ok || reply != "ok" {
		t.Fatalf("third attempt: got %q (ok=%v)", reply, ok)
	}
	if v.Count("command") != 3 {
		t.Fatalf("count %d", v.Count("command"))
	}
}

func TestVehicleStreamsTelemetry(t *testing.T) {
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	defer sink.Close()

	startVehicle(t, WithTelemetry(sink.LocalAddr().String(), 50))

	_ = sink.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, _, err := sink.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no telemetry: %v", err)
	}
	snap, err := protocol.DecodeTelemetry(buf[:n])
	if err != nil {
		t.Fatalf("decode %q: %v", buf[:n], err)
	}
	if snap.Battery <= 0 || snap.Height != 0 {
		t.Fatalf("unexpected grounded snapshot %+v", snap)
	}
}

func TestSnapshotReflectsFlight(t *testing.T) {
	v, client := startVehicle(t)
	if reply, ok := exchange(t, client, v.Addr(), "takeoff"); !ok || reply != "ok" {
		t.Fatalf("takeoff: %q", reply)
	}
	snap := v.Snapshot(3 * time.Second)
	if snap.Height != cruiseHeightCm {
		t.Fatalf("height %d", snap.Height)
	}
	if snap.Uptime != 3 {
		t.Fatalf("uptime %d", snap.Uptime)
	}
}

func TestVehicleNotifiesLastPeer(t *testing.T) {
	v, client := startVehicle(t)
	if err := v.Notify("ok"); err == nil {
		t.Fatalf("notify without a peer should fail")
	}

	if reply, ok := exchange(t, client, v.Addr(), "streamon"); !ok || reply != "ok" {
		t.Fatalf("streamon: got %q", reply)
	}
	if err := v.Notify("out of range"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 64)
	n, _, err := client.ReadFrom(buf)
	if err != nil || string(buf[:n]) != "out of range" {
		t.Fatalf("unsolicited reply %q, %v", buf[:n], err)
	}
	if v.Count("out of range") != 0 {
		t.Fatalf("notify counted as a command")
	}
}
