package link

import (
	"time"

	"go.uber.org/zap"

	"tellolink/pkg/protocol"
)

// dispatch streams the control vector once per cycle and advances at most one
// request per cycle. The control stream keeps running while a request waits
// for its ack.
func (l *Link) dispatch() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if !l.cycle(ticker.C) {
			return
		}
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle reports whether the dispatcher should keep going.
func (l *Link) cycle(tick <-chan time.Time) bool {
	if !l.State().running() {
		return false
	}
	l.sendControl()

	req, ok := l.nextRequest()
	if !ok {
		return true
	}
	return l.advance(req, tick)
}

func (l *Link) sendControl() {
	l.mu.Lock()
	err := l.sendLocked(protocol.EncodeControl(*l.control.Load()))
	l.mu.Unlock()
	if err != nil {
		l.log.Debug("control send failed", zap.Error(err))
	}
}

func (l *Link) nextRequest() (protocol.Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, req := range protocol.Priority {
		if l.pending[req] {
			return req, true
		}
	}
	return 0, false
}

// advance sends req and waits for a success or error ack, streaming control
// on every tick meanwhile. Unrecognized acks are recorded but do not end the
// wait; only the timeout leads to a resend.
func (l *Link) advance(req protocol.Request, tick <-chan time.Time) bool {
	w := l.acks.Arm()
	if err := l.send(protocol.EncodeRequest(req)); err != nil {
		l.log.Warn("request send failed", zap.Stringer("request", req), zap.Error(err))
		return true
	}
	l.log.Info("request sent", zap.Stringer("request", req))

	timer := time.NewTimer(l.cfg.CommandTimeout)
	defer timer.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return false
		case <-tick:
			l.sendControl()
		case <-timer.C:
			l.timedOut(req)
			return true
		case <-w.Ready():
			var rec AckRecord
			rec, w = w.Take()
			if protocol.ClassifyAck(rec.Payload) == protocol.AckUnknown {
				l.log.Warn("unrecognized ack ignored",
					zap.Stringer("request", req), zap.String("payload", rec.Payload))
				continue
			}
			return l.settle(req, rec.Payload)
		}
	}
}

// settle applies a success or error ack to req.
func (l *Link) settle(req protocol.Request, payload string) bool {
	kind := protocol.ClassifyAck(payload)

	l.mu.Lock()
	l.pending[req] = false
	l.attempts[req] = 0
	halting := l.state == Halting
	l.mu.Unlock()

	var perr error
	if kind == protocol.AckSuccess {
		l.applyMode(req)
		l.log.Info("request acknowledged", zap.Stringer("request", req))
	} else {
		perr = &ProtocolError{Request: req, Payload: payload}
		l.log.Warn("request rejected", zap.Error(perr))
		l.emit(EventProtocolError, req, perr)
	}

	// Halting ends with the land outcome whichever way it went.
	if req == protocol.Land && halting {
		_ = l.teardown(perr)
		return false
	}
	return true
}

func (l *Link) timedOut(req protocol.Request) {
	l.mu.Lock()
	l.attempts[req]++
	n := l.attempts[req]
	abandon := req != protocol.Land &&
		l.cfg.MaxCommandAttempts > 0 &&
		n >= l.cfg.MaxCommandAttempts &&
		l.pending[req]
	if abandon {
		l.pending[req] = false
		l.attempts[req] = 0
	}
	l.mu.Unlock()

	err := &CommandTimeoutError{Request: req, Attempts: n, Abandoned: abandon}
	l.log.Warn("request timed out", zap.Error(err))
	l.emit(EventCommandTimeout, req, err)
}

func (l *Link) applyMode(req protocol.Request) {
	switch req {
	case protocol.Takeoff:
		l.landed.Store(false)
	case protocol.Land:
		l.landed.Store(true)
	case protocol.StreamOn:
		l.streaming.Store(true)
	case protocol.StreamOff:
		l.streaming.Store(false)
	}
}
