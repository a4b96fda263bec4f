package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/runtime"
)

// ErrNoServerConfigured indicates no HTTP server was configured for the manager.
var ErrNoServerConfigured = errors.New("no server configured: use WithHTTPServer()")

// DefaultShutdownTimeout bounds the whole drain sequence.
const DefaultShutdownTimeout = 30 * time.Second

// Component is drained during shutdown. The orchestrator, the job store and
// the progress publisher all satisfy it through an adapter or directly.
type Component interface {
	Close(ctx context.Context) error
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(ctx context.Context) error

// Close calls f.
func (f ComponentFunc) Close(ctx context.Context) error { return f(ctx) }

type namedComponent struct {
	name      string
	component Component
}

// ServerManager runs one Fiber app and shuts it and its dependencies down in
// order.
type ServerManager struct {
	httpServer         *fiber.App
	httpAddress        string
	components         []namedComponent
	logger             log.Logger
	serversStarted     chan struct{}
	serversStartedOnce sync.Once
	shutdownChan       <-chan struct{}
	shutdownOnce       sync.Once
	shutdownTimeout    time.Duration
	startupErrors      chan error
	shutdownErr        error
}

// NewServerManager creates a new ServerManager. A nil logger is replaced by
// a no-op logger.
func NewServerManager(logger log.Logger) *ServerManager {
	return &ServerManager{
		logger:          log.OrNop(logger),
		serversStarted:  make(chan struct{}),
		shutdownTimeout: DefaultShutdownTimeout,
		startupErrors:   make(chan error, 1),
	}
}

// WithHTTPServer configures the HTTP server for the ServerManager.
func (sm *ServerManager) WithHTTPServer(app *fiber.App, address string) *ServerManager {
	sm.httpServer = app
	sm.httpAddress = address

	return sm
}

// WithComponent registers a component to drain after the HTTP server stops.
// Components are closed in registration order. A nil component is ignored.
func (sm *ServerManager) WithComponent(name string, component Component) *ServerManager {
	if component != nil {
		sm.components = append(sm.components, namedComponent{name: name, component: component})
	}

	return sm
}

// WithShutdownChannel replaces OS signal handling with ch.
func (sm *ServerManager) WithShutdownChannel(ch <-chan struct{}) *ServerManager {
	sm.shutdownChan = ch

	return sm
}

// WithShutdownTimeout configures the deadline for the drain sequence.
// Defaults to 30 seconds.
func (sm *ServerManager) WithShutdownTimeout(d time.Duration) *ServerManager {
	if d > 0 {
		sm.shutdownTimeout = d
	}

	return sm
}

// ServersStarted returns a channel that is closed once the listener
// goroutine has been launched.
func (sm *ServerManager) ServersStarted() <-chan struct{} {
	return sm.serversStarted
}

// StartWithGracefulShutdownWithError starts the server and blocks until a
// termination signal, a closed shutdown channel or a listener failure. It
// returns the startup failure or the joined component close errors.
func (sm *ServerManager) StartWithGracefulShutdownWithError() error {
	if sm.httpServer == nil {
		return ErrNoServerConfigured
	}

	sm.startServer()

	startupErr := sm.handleShutdown()

	return errors.Join(startupErr, sm.shutdownErr)
}

func (sm *ServerManager) startServer() {
	runtime.SafeGoWithContextAndComponent(
		context.Background(),
		sm.logger,
		"server",
		"start_http_server",
		runtime.KeepRunning,
		func(_ context.Context) {
			sm.logInfof("Starting HTTP server on %s", sm.httpAddress)

			if err := sm.httpServer.Listen(sm.httpAddress); err != nil {
				sm.logErrorf("HTTP server error: %v", err)

				select {
				case sm.startupErrors <- fmt.Errorf("HTTP server: %w", err):
				default:
				}
			}
		},
	)

	sm.serversStartedOnce.Do(func() {
		close(sm.serversStarted)
	})
}

func (sm *ServerManager) logInfo(msg string) {
	sm.logger.Log(context.Background(), log.LevelInfo, msg)
}

func (sm *ServerManager) logInfof(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelInfo, fmt.Sprintf(format, args...))
}

func (sm *ServerManager) logErrorf(format string, args ...any) {
	sm.logger.Log(context.Background(), log.LevelError, fmt.Sprintf(format, args...))
}

func (sm *ServerManager) handleShutdown() error {
	var startupErr error

	if sm.shutdownChan != nil {
		select {
		case <-sm.shutdownChan:
		case startupErr = <-sm.startupErrors:
			sm.logErrorf("Server startup failed: %v", startupErr)
		}
	} else {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		select {
		case <-c:
		case startupErr = <-sm.startupErrors:
			sm.logErrorf("Server startup failed: %v", startupErr)
		}

		signal.Stop(c)
	}

	sm.logInfo("Gracefully shutting down...")

	sm.executeShutdown()

	return startupErr
}

// Shutdown runs the shutdown sequence. Only the first call does any work.
func (sm *ServerManager) Shutdown() error {
	sm.executeShutdown()

	return sm.shutdownErr
}

func (sm *ServerManager) executeShutdown() {
	sm.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
		defer cancel()

		var errs []error

		if sm.httpServer != nil {
			sm.logInfo("Shutting down HTTP server...")

			if err := sm.httpServer.ShutdownWithContext(ctx); err != nil {
				sm.logErrorf("Error during HTTP server shutdown: %v", err)
			}
		}

		for _, c := range sm.components {
			sm.logInfof("Closing %s...", c.name)

			if err := c.component.Close(ctx); err != nil {
				sm.logErrorf("Error closing %s: %v", c.name, err)
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			}
		}

		sm.logInfo("Syncing logger...")

		if err := sm.logger.Sync(context.Background()); err != nil {
			sm.logErrorf("Failed to sync logger: %v", err)
		}

		sm.shutdownErr = errors.Join(errs...)

		sm.logInfo("Graceful shutdown completed")
	})
}
