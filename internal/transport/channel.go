package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// channel is one websocket connection. Its read loop is the only reader.
type channel struct {
	id    string
	conn  *websocket.Conn
	token string

	writeMu sync.Mutex
	// closing is set when the session closes the channel itself, so the
	// read loop reports a close rather than a failure.
	closing atomic.Bool
	// established is touched only by the read loop after it starts.
	established bool
	done        chan struct{}
}

func (c *channel) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// shutdown sends a normal close frame and waits for the read loop to
// exit. The connection is dropped if the server does not answer in time.
func (c *channel) shutdown(reason string) {
	c.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.conn.Close()
	}
	select {
	case <-c.done:
	case <-time.After(closeTimeout):
		c.conn.Close()
		<-c.done
	}
}

type loginFrame struct {
	MsgType string `json:"msg_type"`
	Token   string `json:"token"`
	FCM     string `json:"fcm,omitempty"`
}

// Connect opens the duplex channel with token, which may be empty in
// anonymous mode. A channel that is already open is closed gracefully
// first, and its ConnectionClosed is queued before anything from the new
// channel. A pending reconnect is cancelled. Dial failures are transport
// failures: they are reported through ConnectionFailed and schedule a
// reconnect.
func (s *Session) Connect(ctx context.Context, token string) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.ErrSessionClosed
	}
	s.cancelReconnectLocked()
	s.userClosed = false
	old := s.ch
	s.ch = nil
	s.token = token
	s.gen++
	gen := s.gen
	s.setStateLocked(Connecting)
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("closing channel before reconnect", "channel_id", old.id)
		old.shutdown("reconnecting")
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		err = fmt.Errorf("connect %s: %w: %v", s.wsURL, types.ErrTransport, err)
		s.mu.Lock()
		if s.gen == gen {
			s.setStateLocked(Disconnected)
			s.failLocked(err)
		}
		s.mu.Unlock()
		return err
	}

	conn.SetReadLimit(s.maxFrame)
	ch := &channel{
		id:    uuid.Must(uuid.NewV7()).String(),
		conn:  conn,
		token: token,
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: connect superseded", types.ErrNotConnected)
	}
	s.ch = ch
	if !s.hasUsers {
		ch.established = true
		s.setStateLocked(Connected)
		s.post(func(l types.ConnectionListener) { l.ConnectionEstablished() })
	}
	s.mu.Unlock()

	s.logger.Info("channel opened", "channel_id", ch.id, "url", s.wsURL, "authenticated", s.hasUsers)
	go s.readLoop(ch)
	if s.hasUsers {
		go s.sendLogin(ch)
	}
	return nil
}

// sendLogin sends the login frame, attaching a push token when one is
// available.
func (s *Session) sendLogin(ch *channel) {
	frame := loginFrame{MsgType: types.MsgLogin, Token: ch.token}
	if s.pushTokens != nil {
		ctx, cancel := context.WithTimeout(context.Background(), pushTokenTimeout)
		fcm, err := s.pushTokens(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("push token unavailable", "channel_id", ch.id, "error", err)
		} else {
			frame.FCM = fcm
		}
	}
	if err := ch.writeJSON(frame); err != nil {
		s.logger.Warn("send login frame", "channel_id", ch.id, "error", err)
		ch.conn.Close()
	}
}

func (s *Session) readLoop(ch *channel) {
	defer close(ch.done)
	for {
		_, frame, err := ch.conn.ReadMessage()
		if err != nil {
			s.channelEnded(ch, err)
			return
		}
		msg, err := types.ParseMessage(frame)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "channel_id", ch.id, "error", err)
			s.metrics.messageRejected()
			s.post(func(l types.ConnectionListener) { l.MessageRejected(err) })
			continue
		}
		s.metrics.messageReceived(msg.Kind)

		if msg.Kind == types.MsgLogin {
			s.loginAcknowledged(ch)
			continue
		}
		s.post(func(l types.ConnectionListener) { l.MessageReceived(msg) })
	}
}

func (s *Session) loginAcknowledged(ch *channel) {
	if ch.established {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != ch {
		return
	}
	ch.established = true
	s.setStateLocked(Connected)
	s.logger.Info("session established", "channel_id", ch.id)
	s.post(func(l types.ConnectionListener) { l.ConnectionEstablished() })
}

// channelEnded runs on the read loop once the connection is gone.
func (s *Session) channelEnded(ch *channel, readErr error) {
	ch.conn.Close()
	normal := ch.closing.Load() ||
		websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == ch {
		s.ch = nil
		s.gen++
		s.setStateLocked(Disconnected)
	}
	if normal {
		s.logger.Info("channel closed", "channel_id", ch.id)
		s.post(func(l types.ConnectionListener) { l.ConnectionClosed() })
		return
	}
	s.failLocked(fmt.Errorf("channel %s: %w: %v", ch.id, types.ErrTransport, readErr))
}

// failLocked reports a transport failure and schedules a reconnect unless
// the user disconnected. s.mu must be held.
func (s *Session) failLocked(err error) {
	s.logger.Warn("transport failure", "error", err)
	s.post(func(l types.ConnectionListener) { l.ConnectionFailed(err) })
	if s.userClosed || s.closed {
		return
	}
	s.cancelReconnectLocked()
	s.reconnectSeq++
	seq := s.reconnectSeq
	s.logger.Info("reconnect scheduled", "delay", s.delay.String())
	s.reconnect = s.clock.AfterFunc(s.delay, func() { s.reconnectNow(seq) })
}

func (s *Session) reconnectNow(seq uint64) {
	s.mu.Lock()
	if s.reconnect == nil || s.reconnectSeq != seq || s.userClosed || s.closed {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	token := s.token
	s.mu.Unlock()

	s.metrics.reconnectAttempt()
	s.logger.Info("reconnecting")
	// A failed attempt reports itself and schedules the next one.
	_ = s.Connect(context.Background(), token)
}

// cancelReconnectLocked stops the pending reconnect. s.mu must be held.
func (s *Session) cancelReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// ReconnectPending reports whether a reconnect is scheduled.
func (s *Session) ReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnect != nil
}

// Send writes v as a JSON frame on the live channel.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return types.ErrNotConnected
	}
	if err := ch.writeJSON(v); err != nil {
		return fmt.Errorf("send: %w: %v", types.ErrTransport, err)
	}
	return nil
}

// Disconnect closes the channel, cancels any scheduled reconnect and
// suppresses reconnects until the next Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.userClosed = true
	s.cancelReconnectLocked()
	ch := s.ch
	s.ch = nil
	s.gen++
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	if ch != nil {
		s.logger.Info("disconnecting", "channel_id", ch.id)
		ch.shutdown("disconnect")
	}
}

// Close disconnects and stops event delivery once queued events have
// been delivered. The Session cannot be reused.
func (s *Session) Close() error {
	s.Disconnect()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.events.Close()
	return nil
}
