// Package api provides the HTTP status and diagnostics server for the
// bridge.
//
// It exposes the in-memory device model, synchronizer counters, journal
// history and an operator endpoint for re-publishing discovery records.
// The surface is read-only apart from the discovery republish trigger;
// device commands go through the bus, never through HTTP.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/bridge"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/device"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/infrastructure/config"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/infrastructure/logging"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/journal"
	"github.com/slvwolf/zwave-mqtt-bridge/internal/zwave"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeStatus is the view of the bridge the API serves. Implemented by
// bridge.Bridge; an interface here keeps the server testable without a
// live controller.
type BridgeStatus interface {
	Devices() []device.Device
	Device(id zwave.NodeID) (device.Device, error)
	Stats() bridge.SyncStats
	RepublishDiscovery() (int, error)
	Uptime() time.Duration
	BusConnected() bool
	NetworkConnected() bool
}

// History is the journal read side.
type History interface {
	RecentEvents(ctx context.Context, limit int) ([]journal.Event, error)
	RecentCommands(ctx context.Context, limit int) ([]journal.Command, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  BridgeStatus
	History History       // optional, history endpoints 404 without it
	DB      HealthChecker // optional, reported as "disabled" when nil
	Version string
}

// Server is the HTTP status server.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	bridge  BridgeStatus
	history History
	db      HealthChecker
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		bridge:  deps.Bridge,
		history: deps.History,
		db:      deps.DB,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the listener in a background
// goroutine. The server is stopped with Close().
//
// Returns:
//   - error: Never currently; listener failures are logged
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
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
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
