package bus

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSubscriber adapts one upgraded WebSocket connection to Subscriber.
// Writes are serialized through an internal channel because
// *websocket.Conn forbids concurrent writers.
type wsSubscriber struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	sendCh chan Signal
	ctx    context.Context
	cancel context.CancelFunc
}

func newWSSubscriber(id string, conn *websocket.Conn, logger *slog.Logger) *wsSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSubscriber{
		id:     id,
		conn:   conn,
		logger: logger,
		sendCh: make(chan Signal, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.writePump()
	go s.readPump()
	return s
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Context() context.Context { return s.ctx }

func (s *wsSubscriber) Send(signal Signal) error {
	select {
	case s.sendCh <- signal:
		return nil
	case <-s.ctx.Done():
		return ErrSubscriberClosed
	default:
		return ErrSignalChannelFull
	}
}

func (s *wsSubscriber) Close() error {
	s.cancel()
	return s.conn.Close()
}

// writePump drains sendCh to the socket and keeps the connection alive
// with periodic pings, mirroring the teacher's silence broadcast pump.
func (s *wsSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case signal := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(signal); err != nil {
				s.logger.Debug("ws write failed, closing subscriber", "subscriber_id", s.id, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to process pongs/close frames; clients never send
// payloads over this connection.
func (s *wsSubscriber) readPump() {
	defer s.cancel()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
