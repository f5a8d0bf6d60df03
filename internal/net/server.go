package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/l1jgo/networld/internal/action"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerOptions configures the websocket listener.
type ServerOptions struct {
	Path    string
	Session SessionOptions
	// MessagesPerSecond and Burst size each session's limiter; zero disables it.
	MessagesPerSecond float64
	Burst             int
}

// Server upgrades HTTP requests to websocket sessions. New sessions are
// handed to the game loop through a channel.
type Server struct {
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	newConns chan *Session
	opts     ServerOptions
	log      *zap.Logger
	closeCh  chan struct{}
}

func NewServer(bindAddr string, opts ServerOptions, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bindAddr, err)
	}
	s := NewDetached(opts, log)
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// NewDetached builds a server without a listener; mount Handler yourself.
func NewDetached(opts ServerOptions, log *zap.Logger) *Server {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		newConns: make(chan *Session, 64),
		opts:     opts,
		log:      log,
		closeCh:  make(chan struct{}),
	}
}

// Handler exposes the websocket endpoint, for mounting on another mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.serveWS)
	return mux
}

// Serve runs the HTTP server until Shutdown. Run it in its own goroutine.
func (s *Server) Serve() error {
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	opts := s.opts.Session
	if s.opts.MessagesPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), max(s.opts.Burst, 1))
	}
	sess := NewSession(conn, uuid.NewString(), opts, s.log)
	sess.UserID = action.UserID(userID)
	sess.Name = q.Get("name")
	if sess.Name == "" {
		sess.Name = userID
	}
	sess.Start()

	s.log.Info("client connected",
		zap.String("session", sess.ID()),
		zap.String("user", userID),
		zap.String("ip", sess.IP),
	)

	select {
	case s.newConns <- sess:
	case <-s.closeCh:
		sess.Close()
	default:
		s.log.Warn("session queue full, refusing connection", zap.String("user", userID))
		sess.Close()
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// Shutdown stops accepting connections and waits for in-flight upgrades.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.closeCh:
		return nil
	default:
		close(s.closeCh)
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
