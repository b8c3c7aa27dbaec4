// Package foxglove exposes link traffic to Foxglove Studio over the
// foxglove.websocket.v1 protocol.
package foxglove

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tellolink/pkg/engine"
	"tellolink/pkg/protocol"
)

const subprotocol = "foxglove.websocket.v1"

// TelemetryMessage is a snapshot stamped with its receive time.
type TelemetryMessage struct {
	Timestamp Time `json:"timestamp"`
	protocol.TelemetrySnapshot
}

// CommandMessage is one outbound command. Control is set for rc commands.
type CommandMessage struct {
	Timestamp Time                    `json:"timestamp"`
	Text      string                  `json:"text"`
	Control   *protocol.ControlVector `json:"control,omitempty"`
}

type Server struct {
	cfg     Config
	hub     *engine.Hub
	log     *zap.Logger
	clients map[*client]struct{}
	mu      sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func NewServer(cfg Config, hub *engine.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg.withDefaults(),
		hub:     hub,
		log:     zap.NewNop(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("foxglove")
	return s
}

// Run serves websocket clients on cfg.WSAddr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		return fmt.Errorf("foxglove: listen %s: %w", s.cfg.WSAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	s.log.Info("bridge listening", zap.Stringer("addr", ln.Addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeClients()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	s.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		c.close()
		s.removeClient(c)
		s.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
	}()

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		return
	}

	go c.writeLoop()
	c.readLoop(s.supportedChannels())
}

func (s *Server) channels() []ChannelConfig {
	return []ChannelConfig{s.cfg.Telemetry, s.cfg.Ack, s.cfg.Command}
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	out := make(map[uint64]struct{}, 3)
	for _, ch := range s.channels() {
		out[ch.ID] = struct{}{}
	}
	return out
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		SessionID:          fmt.Sprintf("%d", time.Now().UTC().UnixNano()),
	}
}

func (s *Server) advertise() AdvertiseMsg {
	configs := s.channels()
	channels := make([]Channel, 0, len(configs))
	for _, ch := range configs {
		channels = append(channels, Channel{
			ID:             ch.ID,
			Topic:          ch.Topic,
			Encoding:       ch.Encoding,
			SchemaName:     ch.SchemaName,
			SchemaEncoding: ch.SchemaEncoding,
			Schema:         ch.Schema,
		})
	}
	return AdvertiseMsg{Op: OpAdvertise, Channels: channels}
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan protocol.Packet) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-sub:
			if !ok {
				return
			}
			s.broadcastPacket(pkt)
		}
	}
}

func (s *Server) broadcastPacket(pkt protocol.Packet) {
	ts := pkt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch pkt.Stream {
	case protocol.StreamTelemetry:
		if msg, ok := telemetryFromPacket(pkt, ts); ok {
			s.publishJSONToChannel(s.cfg.Telemetry.ID, ts, msg)
		}
	case protocol.StreamAck:
		s.publishJSONToChannel(s.cfg.Ack.ID, ts, s.logFromAck(pkt, ts))
	case protocol.StreamCommand:
		s.publishJSONToChannel(s.cfg.Command.ID, ts, commandFromPacket(pkt, ts))
	}
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Warn("marshal message", zap.Uint64("channel", channelID), zap.Error(err))
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func stamp(ts time.Time) Time {
	return Time{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())}
}

func telemetryFromPacket(pkt protocol.Packet, ts time.Time) (TelemetryMessage, bool) {
	snap, ok := pkt.Data.(protocol.TelemetrySnapshot)
	if !ok {
		decoded, err := protocol.DecodeTelemetry(pkt.Payload)
		if err != nil {
			return TelemetryMessage{}, false
		}
		snap = decoded
	}
	return TelemetryMessage{Timestamp: stamp(ts), TelemetrySnapshot: snap}, true
}

func packetText(pkt protocol.Packet) string {
	if text, ok := pkt.Data.(string); ok {
		return text
	}
	return protocol.ParseText(pkt.Payload)
}

// logFromAck maps the ack class onto a log level so rejections stand out.
func (s *Server) logFromAck(pkt protocol.Packet, ts time.Time) LogMessage {
	text := packetText(pkt)
	level := LogLevelWarning
	switch protocol.ClassifyAck(text) {
	case protocol.AckSuccess:
		level = LogLevelInfo
	case protocol.AckError:
		level = LogLevelError
	}
	return LogMessage{
		Timestamp: stamp(ts),
		Level:     level,
		Message:   text,
		Name:      s.cfg.LogName,
	}
}

func commandFromPacket(pkt protocol.Packet, ts time.Time) CommandMessage {
	text := packetText(pkt)
	msg := CommandMessage{Timestamp: stamp(ts), Text: text}
	if protocol.IsControl(text) {
		if v, err := protocol.ParseControl(text); err == nil {
			msg.Control = &v
		}
	}
	return msg
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supportedChannels map[uint64]struct{}) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpSubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, sub := range msg.Subscriptions {
				if _, ok := supportedChannels[sub.ChannelID]; ok {
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case OpUnsubscribe:
			var msg UnsubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops the frame when the client is slow or already closed.
func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
