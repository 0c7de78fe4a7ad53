package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/wellsite-core/internal/audit"
	"github.com/nerrad567/wellsite-core/internal/deadletter"
	"github.com/nerrad567/wellsite-core/internal/event"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/config"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/transaction"
	"github.com/nerrad567/wellsite-core/internal/update"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ControlPublisher publishes control actions to the control exchange.
type ControlPublisher interface {
	Publish(ctx context.Context, action update.ControlAction) (string, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SocketCounter reports the number of live socket connections.
type SocketCounter interface {
	Count() int
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger

	// Socket serves the websocket upgrade at SocketPath.
	Socket     http.Handler
	SocketPath string
	Sockets    SocketCounter

	Publisher ControlPublisher

	// Checks are run by the health endpoint, keyed by component name.
	Checks map[string]HealthChecker

	Transactions transaction.Repository
	Events       event.Repository
	DeadLetters  deadletter.Repository
	Audit        audit.Repository

	// DB supplies connection pool statistics to the metrics endpoint.
	DB *sql.DB

	Version string
}

// Server is the HTTP API server for Wellsite Core.
type Server struct {
	cfg          config.APIConfig
	logger       *logging.Logger
	socket       http.Handler
	socketPath   string
	sockets      SocketCounter
	publisher    ControlPublisher
	checks       map[string]HealthChecker
	transactions transaction.Repository
	events       event.Repository
	deadLetters  deadletter.Repository
	auditLog     audit.Repository
	db           *sql.DB
	version      string
	startTime    time.Time
	server       *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	path := deps.SocketPath
	if path == "" {
		path = "/ws"
	}

	return &Server{
		cfg:          deps.Config,
		logger:       deps.Logger.With("component", "api"),
		socket:       deps.Socket,
		socketPath:   path,
		sockets:      deps.Sockets,
		publisher:    deps.Publisher,
		checks:       deps.Checks,
		transactions: deps.Transactions,
		events:       deps.Events,
		deadLetters:  deps.DeadLetters,
		auditLog:     deps.Audit,
		db:           deps.DB,
		version:      deps.Version,
		startTime:    time.Now(),
	}, nil
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. Hijacked socket
// connections are not tracked here; the socket server closes them.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
