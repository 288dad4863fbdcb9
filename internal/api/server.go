package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/infrastructure/config"
	"github.com/trackside/signalbox/internal/infrastructure/logging"
	"github.com/trackside/signalbox/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Relay defaults for zero-valued WebSocket settings, in seconds and bytes.
const (
	defaultPingInterval   = 30
	defaultPongTimeout    = 10
	defaultMaxMessageSize = 8192
)

// CatalogReader is the read side of the catalog registry.
type CatalogReader interface {
	List(resource catalog.Resource) json.RawMessage
	Stats() map[catalog.Resource]catalog.ResourceStats
}

// Commands validates and sends backend commands.
type Commands interface {
	SetPoints(ctx context.Context, id int, target string) error
	SetPowerSwitch(ctx context.Context, id int, target string) error
	SetReverser(ctx context.Context, id int, target string) error
	SetSpeed(ctx context.Context, id int, value float64) error
	ToggleDecoderFunction(ctx context.Context, id int, name string) error
	Refresh(ctx context.Context) error
}

// ChannelStatus reports whether the backend channel is connected.
type ChannelStatus interface {
	Connected() bool
}

// RelayObserver is told how many relay clients are connected.
type RelayObserver interface {
	SetRelayClients(n int)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Store    *state.Store
	Catalog  CatalogReader
	Commands Commands

	// Channel is optional; health reports "degraded" while it is down.
	Channel ChannelStatus

	// Metrics is served on MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string

	RelayObserver RelayObserver
	Version       string
}

// Server is the local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	store       *state.Store
	catalog     CatalogReader
	commands    Commands
	channel     ChannelStatus
	metrics     http.Handler
	metricsPath string
	version     string
	startTime   time.Time

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog reader is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}

	if deps.WS.Path == "" {
		deps.WS.Path = "/ws"
	}
	if deps.WS.PingInterval <= 0 {
		deps.WS.PingInterval = defaultPingInterval
	}
	if deps.WS.PongTimeout <= 0 {
		deps.WS.PongTimeout = defaultPongTimeout
	}
	if deps.WS.MaxMessageSize <= 0 {
		deps.WS.MaxMessageSize = defaultMaxMessageSize
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger.Component("api"),
		store:       deps.Store,
		catalog:     deps.Catalog,
		commands:    deps.Commands,
		channel:     deps.Channel,
		metrics:     deps.Metrics,
		metricsPath: deps.MetricsPath,
		version:     deps.Version,
		startTime:   time.Now(),
	}
	s.hub = NewHub(deps.WS, s.logger, deps.Store, deps.Commands, deps.RelayObserver)
	return s, nil
}

// Handler returns the fully wired router. Start serves it; tests can mount
// it on an httptest server directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start runs the relay hub and begins listening for HTTP connections in the
// background. Listener errors (port in use) are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
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

// HealthCheck verifies the API server is running.
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
