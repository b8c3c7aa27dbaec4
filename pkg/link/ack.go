package link

import (
	"context"
	"sync"
	"time"
)

// AckRecord is the most recent reply from the vehicle.
type AckRecord struct {
	Payload    string
	ReceivedAt time.Time
}

// AckTracker holds the latest ack and wakes waiters when a new one lands.
// The zero value is ready to use.
type AckTracker struct {
	mu     sync.Mutex
	last   AckRecord
	seq    uint64
	notify chan struct{}
}

func (t *AckTracker) signal() chan struct{} {
	if t.notify == nil {
		t.notify = make(chan struct{})
	}
	return t.notify
}

// Submit stores payload and releases every armed waiter.
func (t *AckTracker) Submit(payload string) {
	t.mu.Lock()
	t.last = AckRecord{Payload: payload, ReceivedAt: time.Now()}
	t.seq++
	close(t.signal())
	t.notify = make(chan struct{})
	t.mu.Unlock()
}

// Last returns the newest ack, if any has arrived.
func (t *AckTracker) Last() (AckRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.seq > 0
}

// Arm captures the current position so that only later acks count. Arm
// before sending the command the ack is expected for.
func (t *AckTracker) Arm() AckWaiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return AckWaiter{tracker: t, seq: t.seq, ready: t.signal()}
}

// WaitNext blocks until an ack newer than the call arrives or timeout elapses.
func (t *AckTracker) WaitNext(ctx context.Context, timeout time.Duration) (AckRecord, error) {
	return t.Arm().Wait(ctx, timeout)
}

// AckWaiter is a one-shot subscription to the next ack.
type AckWaiter struct {
	tracker *AckTracker
	seq     uint64
	ready   <-chan struct{}
}

// Ready is closed once an ack newer than the waiter exists.
func (w AckWaiter) Ready() <-chan struct{} {
	return w.ready
}

// Record returns the newest ack submitted after Arm.
func (w AckWaiter) Record() (AckRecord, bool) {
	w.tracker.mu.Lock()
	defer w.tracker.mu.Unlock()
	if w.tracker.seq == w.seq {
		return AckRecord{}, false
	}
	return w.tracker.last, true
}

// Take returns the newest ack and a waiter armed right after it, so no ack
// slips between reading one record and waiting for the next.
func (w AckWaiter) Take() (AckRecord, AckWaiter) {
	t := w.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, AckWaiter{tracker: t, seq: t.seq, ready: t.signal()}
}

func (w AckWaiter) Wait(ctx context.Context, timeout time.Duration) (AckRecord, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		rec, _ := w.Record()
		return rec, nil
	case <-timer.C:
		return AckRecord{}, ErrAckTimeout
	case <-ctx.Done():
		return AckRecord{}, ctx.Err()
	}
}
