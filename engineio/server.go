package engineio

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
	ErrRateLimited   = errors.New("message rate exceeded")
)

// Config holds Engine.IO server configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int64 // bytes
	// MessageRate caps inbound messages per second per session. Zero disables the limit.
	MessageRate  float64
	MessageBurst int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin       func(r *http.Request) bool
	EnableCompression bool
}

// DefaultConfig returns default Engine.IO configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1e6, // 1MB
	}
}

// Server represents an Engine.IO server
type Server struct {
	config    *Config
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	sessions  sync.Map
	onConnect func(*Session)
}

// NewServer creates a new Engine.IO server
func NewServer(config *Config, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:       checkOrigin,
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: config.EnableCompression,
		},
	}
}

// ServeHTTP handles HTTP requests and upgrades to WebSocket
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only handle WebSocket upgrade
	if r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "Only WebSocket transport is supported", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sid := uuid.NewString()
	session := NewSession(sid, conn, s.config, NewRequest(r), s.logger)

	// Send handshake
	handshake, err := openFrame(sid, s.config)
	if err != nil {
		conn.Close()
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		conn.Close()
		return
	}

	s.sessions.Store(sid, session)
	session.OnClose(func(reason string) {
		s.sessions.Delete(sid)
	})

	// Listeners must be in place before the read loop delivers anything.
	if s.onConnect != nil {
		s.onConnect(session)
	}

	session.Start()
}

// OnConnect sets the connection handler
func (s *Server) OnConnect(fn func(*Session)) {
	s.onConnect = fn
}

// GetSession retrieves a session by ID
func (s *Server) GetSession(sid string) (*Session, bool) {
	val, ok := s.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Close closes all sessions
func (s *Server) Close() {
	s.sessions.Range(func(key, value any) bool {
		session := value.(*Session)
		session.Close("server shutdown")
		return true
	})
}
