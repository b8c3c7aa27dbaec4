package logger

import (
	"context"
	"encoding/hex"

	"go.uber.org/zap"

	"tellolink/pkg/protocol"
)

// Tap writes link traffic to a logger at debug level.
type Tap struct {
	log     *zap.Logger
	control bool
}

type TapOption func(*Tap)

// WithControl includes the rc stream, which is sent every cycle.
func WithControl(enabled bool) TapOption {
	return func(t *Tap) {
		t.control = enabled
	}
}

func NewTap(log *zap.Logger, opts ...TapOption) *Tap {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tap{log: log.Named("traffic")}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Consume logs packets until ctx is done or in is closed.
func (t *Tap) Consume(ctx context.Context, in <-chan protocol.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			t.record(pkt)
		}
	}
}

func (t *Tap) record(pkt protocol.Packet) {
	if !t.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	fields := []zap.Field{
		zap.Stringer("stream", pkt.Stream),
		zap.Time("at", pkt.Timestamp),
	}
	switch data := pkt.Data.(type) {
	case string:
		if !t.control && pkt.Stream == protocol.StreamCommand && protocol.IsControl(data) {
			return
		}
		fields = append(fields, zap.String("text", data))
	case protocol.TelemetrySnapshot:
		fields = append(fields, zap.Any("snapshot", data))
	default:
		fields = append(fields, zap.String("payload_hex", hex.EncodeToString(pkt.Payload)))
	}
	t.log.Debug("packet", fields...)
}
