package socket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/wellsite-core/internal/infrastructure/config"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
)

// Client control frames.
const (
	// IDFramePrefix prefixes the first frame sent on a new connection.
	IDFramePrefix = "socketId:"

	frameClose  = "close"
	frameRemove = "remove"
)

// Server accepts WebSocket connections and registers them in a Registry.
type Server struct {
	registry *Registry
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	upgrader websocket.Upgrader
	newID    func() string

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewServer creates a socket server registering into registry.
func NewServer(registry *Registry, cfg config.WebSocketConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Origin checking is handled by CORS middleware
				return true
			},
		},
		newID: uuid.NewString,
	}
}

// Registry returns the registry connections are added to.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ServeHTTP upgrades the request, mints a socket id, registers the
// connection and sends the id as the first frame.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "socket server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	id := s.newID()
	s.registry.Add(id, conn)

	if err := s.registry.Broadcast(id, IDFramePrefix+id); err != nil {
		s.wg.Done()
		s.logger.Warn("sending socket id failed", "socket_id", id, "error", err)
		return
	}
	s.logger.Info("socket connected", "socket_id", id, "sockets", s.registry.Count())

	done := make(chan struct{})
	go s.keepalive(id, done)
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.readLoop(id, conn)
	}()
}

// readLoop reads client frames until the connection fails or the client
// asks to be removed.
func (s *Server) readLoop(id string, conn *websocket.Conn) {
	defer func() {
		s.registry.Remove(id)
		s.logger.Info("socket disconnected", "socket_id", id, "sockets", s.registry.Count())
	}()

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.cfg.MaxMessageSize))
	}
	wait := s.readWait()
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "socket_id", id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(wait))

		switch strings.ToLower(strings.TrimSpace(string(data))) {
		case frameClose, frameRemove:
			s.logger.Debug("socket removal requested by client", "socket_id", id)
			return
		}
	}
}

// keepalive pings id until done is closed or a ping fails.
func (s *Server) keepalive(id string, done <-chan struct{}) {
	interval := time.Duration(s.cfg.PingInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.registry.Ping(id); err != nil {
				s.logger.Debug("socket ping failed", "socket_id", id, "error", err)
				return
			}
		}
	}
}

func (s *Server) readWait() time.Duration {
	wait := time.Duration(s.cfg.PingInterval+s.cfg.PongTimeout) * time.Second
	if wait <= 0 {
		return time.Minute
	}
	return wait
}

// Start blocks until ctx is cancelled, then closes every connection and
// waits for their read loops to exit.
func (s *Server) Start(ctx context.Context) error {
	<-ctx.Done()
	s.Close()
	return nil
}

// Close stops accepting connections, closes the open ones and waits for
// their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.registry.CloseAll()
	s.wg.Wait()
}
