package link

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAckTrackerEmpty(t *testing.T) {
	var tr AckTracker
	if _, ok := tr.Last(); ok {
		t.Fatalf("fresh tracker reports an ack")
	}
}

func TestAckWaiterTimesOutNotEarly(t *testing.T) {
	var tr AckTracker
	timeout := 80 * time.Millisecond

	start := time.Now()
	_, err := tr.WaitNext(context.Background(), timeout)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Fatalf("returned after %s, before the %s timeout", elapsed, timeout)
	}
}

func TestAckWaiterIgnoresStaleAck(t *testing.T) {
	var tr AckTracker
	tr.Submit("ok")

	w := tr.Arm()
	if _, ok := w.Record(); ok {
		t.Fatalf("ack submitted before Arm must not count")
	}
	select {
	case <-w.Ready():
		t.Fatalf("waiter ready without a new ack")
	default:
	}

	tr.Submit("error")
	rec, err := w.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if rec.Payload != "error" {
		t.Fatalf("payload %q", rec.Payload)
	}
	if last, _ := tr.Last(); last.Payload != "error" || last.ReceivedAt.IsZero() {
		t.Fatalf("last %+v", last)
	}
}

func TestAckArmedBeforeSubmitIsNotMissed(t *testing.T) {
	var tr AckTracker
	w := tr.Arm()
	// The ack lands before anyone waits on it.
	tr.Submit("ok")

	rec, err := w.Wait(context.Background(), 10*time.Millisecond)
	if err != nil || rec.Payload != "ok" {
		t.Fatalf("got %+v, %v", rec, err)
	}
}

func TestAckWaiterHonoursContext(t *testing.T) {
	var tr AckTracker
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := tr.WaitNext(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAckWaiterTakeRearmsAfterRecord(t *testing.T) {
	var tr AckTracker
	w := tr.Arm()
	tr.Submit("busy")

	<-w.Ready()
	rec, next := w.Take()
	if rec.Payload != "busy" {
		t.Fatalf("payload %q", rec.Payload)
	}
	select {
	case <-next.Ready():
		t.Fatalf("rearmed waiter ready without a new ack")
	default:
	}

	tr.Submit("ok")
	rec, err := next.Wait(context.Background(), time.Second)
	if err != nil || rec.Payload != "ok" {
		t.Fatalf("next ack %+v, %v", rec, err)
	}
}
