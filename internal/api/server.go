package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/thermolink-core/internal/access"
	"github.com/nerrad567/thermolink-core/internal/audit"
	"github.com/nerrad567/thermolink-core/internal/auth"
	"github.com/nerrad567/thermolink-core/internal/configpush"
	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/config"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// limiterPruneInterval is how often idle per-account limiters are dropped.
const limiterPruneInterval = time.Minute

// Manager is the account-facing device service. *management.Service
// satisfies it.
type Manager interface {
	ListDevices(ctx context.Context, accountID string) ([]device.Summary, error)
	Device(ctx context.Context, accountID, deviceID string) (*device.Device, error)
	Readings(ctx context.Context, accountID, deviceID string, from, to time.Time) ([]device.Reading, error)
	ClearReadings(ctx context.Context, accountID, deviceID string) (int64, error)
	UpdateConfig(ctx context.Context, accountID, deviceID string, update device.ConfigUpdate) (*configpush.Result, error)
	LinkedAccounts(ctx context.Context, accountID, deviceID string) ([]access.Link, error)
	AddLink(ctx context.Context, accountID, deviceID, email string) (*access.Link, error)
	RemoveLink(ctx context.Context, accountID, deviceID, target string) error
	RotateSecret(ctx context.Context, accountID, deviceID string) (string, error)
	History(ctx context.Context, accountID, deviceID string, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by the database and the MQTT client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Manager  Manager
	Hub      *Hub

	// Optional.
	Database HealthChecker
	Broker   HealthChecker
	Metrics  http.Handler
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	manager  Manager
	hub      *Hub
	database HealthChecker
	broker   HealthChecker
	metrics  http.Handler
	limiters *auth.RateLimiterStore
	version  string

	handlerOnce sync.Once
	handler     http.Handler

	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("device manager is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("websocket hub is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		manager:  deps.Manager,
		hub:      deps.Hub,
		database: deps.Database,
		broker:   deps.Broker,
		metrics:  deps.Metrics,
		version:  deps.Version,
	}
	if deps.Security.RateLimit.Enabled {
		s.limiters = auth.NewRateLimiterStore(deps.Security.RateLimit.RequestsPerMinute, deps.Security.RateLimit.Burst)
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.handler = s.buildRouter()
	})
	return s.handler
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	if s.limiters != nil {
		go s.pruneLimitersLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
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
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
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

func (s *Server) pruneLimitersLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.limiters.Prune(now); n > 0 {
				s.logger.Debug("pruned idle rate limiters", "removed", n)
			}
		}
	}
}
