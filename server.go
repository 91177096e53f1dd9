package kissio

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/parser"
)

// Server is the registry of namespaces. It binds every accepted transport
// connection to a Client.
type Server struct {
	config *Config
	logger *slog.Logger
	parser parser.Parser
	eio    *engineio.Server

	nsMu       sync.RWMutex
	namespaces map[string]*Namespace

	clientsMu sync.Mutex
	clients   map[string]*Client
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Namespaces and clients derive theirs from it.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithParser replaces the default text codec.
func WithParser(p parser.Parser) Option {
	return func(s *Server) {
		if p != nil {
			s.parser = p
		}
	}
}

// NewServer creates a new Socket.IO server with the default namespace mounted.
func NewServer(config *Config, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/socket.io/"
	}

	server := &Server{
		config:     config,
		logger:     slog.Default(),
		parser:     parser.TextParser{},
		namespaces: make(map[string]*Namespace),
		clients:    make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(server)
	}

	server.eio = engineio.NewServer(config.engineio(), server.logger)
	server.eio.OnConnect(func(session *engineio.Session) {
		server.Bind(session)
	})

	// Create default namespace
	server.Of(parser.DefaultNamespace)

	return server
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Of returns a namespace, creating it if it doesn't exist
func (s *Server) Of(name string) *Namespace {
	name = Slugify(name)

	s.nsMu.RLock()
	ns, exists := s.namespaces[name]
	s.nsMu.RUnlock()

	if exists {
		return ns
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	// Double-check after acquiring write lock
	if ns, exists := s.namespaces[name]; exists {
		return ns
	}

	ns = NewNamespace(name)
	s.attach(ns)
	s.namespaces[name] = ns

	return ns
}

// Mount registers a namespace built with NewNamespace, replacing any
// namespace already registered under its name.
func (s *Server) Mount(ns *Namespace) *Namespace {
	s.attach(ns)

	s.nsMu.Lock()
	s.namespaces[ns.Name()] = ns
	s.nsMu.Unlock()

	return ns
}

func (s *Server) attach(ns *Namespace) {
	ns.SetLogger(s.logger)
	ns.setEncoder(s.parser.NewEncoder())
}

// Namespace looks up a mounted namespace without creating it.
func (s *Server) Namespace(name string) (*Namespace, bool) {
	return s.namespace(Slugify(name))
}

func (s *Server) namespace(name string) (*Namespace, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ns, ok := s.namespaces[name]
	return ns, ok
}

// Namespaces returns every mounted namespace.
func (s *Server) Namespaces() []*Namespace {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	out := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	return out
}

// OnConnect sets the connection handler for the default namespace
func (s *Server) OnConnect(handler func(*Socket)) *Route {
	return s.Of(parser.DefaultNamespace).OnConnect(handler)
}

// Emit broadcasts to all clients in the default namespace
func (s *Server) Emit(event string, args ...any) error {
	return s.Of(parser.DefaultNamespace).Broadcast(event, args...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, s.config.Path) {
		http.NotFound(w, r)
		return
	}

	// Delegate to Engine.IO
	s.eio.ServeHTTP(w, r)
}

// Bind attaches conn to the server and returns its Client. With
// ConnectDefault set the client joins "/" right away.
func (s *Server) Bind(conn Conn) *Client {
	c := newClient(s, conn)

	s.clientsMu.Lock()
	s.clients[c.ID()] = c
	s.clientsMu.Unlock()

	if s.config.ConnectDefault {
		c.Connect(parser.DefaultNamespace, nil)
	}
	return c
}

// Clients returns the number of bound clients.
func (s *Server) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) removeClient(c *Client) {
	s.clientsMu.Lock()
	if s.clients[c.ID()] == c {
		delete(s.clients, c.ID())
	}
	s.clientsMu.Unlock()
}

// Close disconnects every socket of every namespace, then closes the
// transport and the adapters.
func (s *Server) Close() error {
	namespaces := s.Namespaces()

	for _, ns := range namespaces {
		for _, socket := range ns.Sockets() {
			socket.close("server shutting down", true)
		}
	}

	s.eio.Close()

	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.close("server shutting down")
	}

	var errs []error
	for _, ns := range namespaces {
		if err := ns.Adapter().Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
