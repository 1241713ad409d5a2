package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var (
	ErrBufferFull = errors.New("session send buffer full")
	ErrClosed     = errors.New("session closed")
)

// Inbound is a client message on the websocket, in the same envelope as outbound events.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Session is the live websocket handle of one actor. Send never blocks: frames
// queue on a bounded buffer drained by a single writer goroutine.
type Session struct {
	ActorID string

	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func NewSession(conn *websocket.Conn, actorID string, buffer int, logger *slog.Logger) *Session {
	s := newSession(conn, actorID, buffer, logger)
	go s.writeLoop()
	return s
}

func newSession(conn *websocket.Conn, actorID string, buffer int, logger *slog.Logger) *Session {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ActorID: actorID,
		conn:    conn,
		out:     make(chan []byte, buffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

func (s *Session) Send(ev events.Event) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	b, err := events.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case s.out <- b:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.Close()
	}()
	for {
		select {
		case b := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.logger.Debug("ws write failed", "actor_id", s.ActorID, "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// ReadLoop consumes client messages until the connection fails or the session closes.
// Malformed frames are logged and skipped.
func (s *Session) ReadLoop(handle func(Inbound)) {
	defer s.Close()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("ws closed unexpectedly", "actor_id", s.ActorID, "error", err)
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(msg, &in); err != nil || in.Event == "" {
			s.logger.Warn("ignoring malformed ws message", "actor_id", s.ActorID)
			continue
		}
		if handle != nil {
			handle(in)
		}
	}
}
