package net

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/l1jgo/networld/internal/action"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SessionOptions sizes a session's queues and limits.
type SessionOptions struct {
	InQueueSize    int
	OutQueueSize   int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	// Limiter caps inbound messages; nil disables rate limiting.
	Limiter *rate.Limiter
}

// Session is one websocket connection. Network I/O runs in dedicated
// goroutines; everything else is accessed only from the game loop.
type Session struct {
	id   string
	conn *websocket.Conn

	UserID action.UserID
	Name   string
	IP     string

	InQueue  chan []byte // game loop reads messages from here
	OutQueue chan []byte // writer goroutine reads from here

	outBuf [][]byte // buffered messages, flushed once per step (game loop only)

	opts      SessionOptions
	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(conn *websocket.Conn, id string, opts SessionOptions, log *zap.Logger) *Session {
	s := &Session{
		id:       id,
		conn:     conn,
		InQueue:  make(chan []byte, opts.InQueueSize),
		OutQueue: make(chan []byte, opts.OutQueueSize),
		IP:       conn.RemoteAddr().String(),
		opts:     opts,
		closeCh:  make(chan struct{}),
		log:      log.With(zap.String("session", id)),
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	if s.opts.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})
	go s.readLoop()
	go s.writeLoop()
}

func (s *Session) extendReadDeadline() {
	if s.opts.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	}
}

// Send buffers a message. Nothing reaches the socket until FlushOutput.
// Game loop only.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// SendEnvelope encodes and buffers one envelope.
func (s *Session) SendEnvelope(typ string, payload any) {
	data, err := EncodeEnvelope(typ, payload)
	if err != nil {
		s.log.Error("encode envelope", zap.String("type", typ), zap.Error(err))
		return
	}
	s.Send(data)
}

// FlushOutput drains the output buffer to OutQueue for the writer goroutine.
// A full OutQueue disconnects the session (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("output queue full, disconnecting slow client")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close asks the writer to send a close frame and drop the connection.
// Safe to call repeatedly.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
	})
	return nil
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop pushes every text message onto InQueue for the game loop.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		typ, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		s.extendReadDeadline()

		if s.opts.Limiter != nil && !s.opts.Limiter.Allow() {
			s.log.Warn("message rate exceeded, disconnecting")
			return
		}

		// Block until InQueue has space or the session closes; dropping
		// messages would desync the client.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop writes queued messages and keeps the connection alive with pings.
func (s *Session) writeLoop() {
	defer s.conn.Close()
	defer s.Close()

	var ping <-chan time.Time
	if s.opts.ReadTimeout > 0 {
		t := time.NewTicker(s.opts.ReadTimeout * 9 / 10)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case data := <-s.OutQueue:
			if !s.write(websocket.TextMessage, data) {
				return
			}
		case <-ping:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
		case <-s.closeCh:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Session) write(typ int, data []byte) bool {
	if s.opts.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if err := s.conn.WriteMessage(typ, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
