package engineio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const outgoingBuffer = 256

type outgoing struct {
	kind     frameType
	payload  []byte
	compress bool
}

// Session represents an Engine.IO session
type Session struct {
	id          string
	conn        *websocket.Conn
	config      *Config
	request     *Request
	logger      *slog.Logger
	limiter     *rate.Limiter
	outgoing    chan outgoing
	pingTimer   *time.Timer
	pingTimeout *time.Timer
	state       atomic.Int32
	closeOnce   sync.Once
	closed      chan struct{}
	mu          sync.RWMutex
	onMessage   func([]byte)
	onError     func(error)
	onClose     []func(string)
}

// NewSession creates a new Engine.IO session
func NewSession(id string, conn *websocket.Conn, config *Config, request *Request, logger *slog.Logger) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:       id,
		conn:     conn,
		config:   config,
		request:  request,
		logger:   logger.With("session_id", id),
		outgoing: make(chan outgoing, outgoingBuffer),
		closed:   make(chan struct{}),
	}

	if config.MessageRate > 0 {
		burst := config.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.MessageRate), burst)
	}

	if config.MaxPayload > 0 {
		conn.SetReadLimit(config.MaxPayload)
	}

	return s
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Request returns the handshake request metadata.
func (s *Session) Request() *Request {
	return s.request
}

// ReadyState returns the current lifecycle state.
func (s *Session) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

// Writable reports whether a write would be queued without blocking.
func (s *Session) Writable() bool {
	return s.ReadyState() == StateOpen && len(s.outgoing) < cap(s.outgoing)
}

// Start starts the session loops
func (s *Session) Start() {
	go s.writeLoop()
	go s.readLoop()
	s.schedulePing()
}

// Write queues data as an Engine.IO message.
func (s *Session) Write(data []byte, opts WriteOptions) error {
	return s.send(outgoing{
		kind:     frameMessage,
		payload:  data,
		compress: opts.Compress,
	})
}

func (s *Session) sendControl(kind frameType) error {
	return s.send(outgoing{kind: kind})
}

func (s *Session) send(out outgoing) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- out:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		// Channel full, connection might be slow
		return ErrSlowClient
	}
}

// Close closes the session
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.closed)

		s.mu.Lock()
		if s.pingTimer != nil {
			s.pingTimer.Stop()
		}
		if s.pingTimeout != nil {
			s.pingTimeout.Stop()
		}
		handlers := s.onClose
		s.mu.Unlock()

		// WriteControl is safe to call alongside the write loop.
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		s.conn.Close()
		s.state.Store(int32(StateClosed))

		s.logger.Debug("session closed", "reason", reason)

		for _, handler := range handlers {
			handler(reason)
		}
	})
}

// OnMessage sets the message handler
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnError sets the error handler. It runs before the session closes.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// OnClose adds a close handler
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	defer s.Close("transport close")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.fail(err)
			}
			return
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.fail(ErrRateLimited)
			return
		}

		kind, payload, err := parseFrame(data)
		if err != nil {
			s.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		s.handleFrame(kind, payload)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case out := <-s.outgoing:
			s.conn.EnableWriteCompression(out.compress)
			if err := s.conn.WriteMessage(websocket.TextMessage, appendFrame(nil, out.kind, out.payload)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.fail(err)
				}
				s.Close("transport error")
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) fail(err error) {
	s.mu.RLock()
	handler := s.onError
	s.mu.RUnlock()

	if handler != nil {
		handler(err)
	}
}

func (s *Session) handleFrame(kind frameType, payload []byte) {
	switch kind {
	case framePing:
		_ = s.sendControl(framePong)
	case framePong:
		s.handlePong()
	case frameMessage:
		s.handleMessage(payload)
	case frameClose:
		s.Close("transport close")
	default:
		s.logger.Debug("ignoring frame", "frame_type", kind.String())
	}
}

func (s *Session) handlePong() {
	s.mu.Lock()
	if s.pingTimeout != nil {
		s.pingTimeout.Stop()
	}
	s.mu.Unlock()
	s.schedulePing()
}

func (s *Session) handleMessage(data []byte) {
	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(data)
	}
}

func (s *Session) schedulePing() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pingTimer = time.AfterFunc(s.config.PingInterval, func() {
		if s.sendControl(framePing) == nil {
			s.schedulePingTimeout()
		}
	})
}

func (s *Session) schedulePingTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pingTimeout = time.AfterFunc(s.config.PingTimeout, func() {
		s.Close("ping timeout")
	})
}
