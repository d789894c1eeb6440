package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// GracefulShutdown runs a server until a signal arrives or the context is
// cancelled, then shuts it down and runs the cleanup hooks.
type GracefulShutdown struct {
	server        *Server
	shutdownHooks []ShutdownHook
	timeout       time.Duration
	signals       []os.Signal
	logger        *zap.Logger
	mu            sync.Mutex
	shutdownOnce  sync.Once
	shutdownChan  chan struct{}
	shutdownError error
}

// ShutdownHook is a function called during graceful shutdown
type ShutdownHook func(ctx context.Context) error

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	// Timeout is the maximum time to wait for shutdown
	Timeout time.Duration

	// Signals to listen for (default: SIGINT, SIGTERM)
	Signals []os.Signal

	Logger *zap.Logger
}

// DefaultShutdownConfig returns default shutdown configuration
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Logger:  zap.NewNop(),
	}
}

// NewGracefulShutdown creates a new graceful shutdown handler
func NewGracefulShutdown(server *Server, config *ShutdownConfig) *GracefulShutdown {
	if config == nil {
		config = DefaultShutdownConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	signals := config.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	return &GracefulShutdown{
		server:       server,
		timeout:      config.Timeout,
		signals:      signals,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}
}

// RegisterHook registers a shutdown hook to be called during shutdown.
// Hooks run in registration order after the server stopped accepting
// requests.
func (gs *GracefulShutdown) RegisterHook(hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.shutdownHooks = append(gs.shutdownHooks, hook)
}

// Run serves until a signal arrives, ctx is done or the server fails.
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	if err := gs.server.Listen(); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		gs.logger.Info("starting server", zap.String("url", gs.server.URL()))
		if err := gs.server.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, gs.signals...)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		gs.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		return gs.Shutdown()
	case <-ctx.Done():
		return gs.Shutdown()
	case err := <-errChan:
		return err
	}
}

// Shutdown performs graceful shutdown. Later calls wait for the first one
// and return its result.
func (gs *GracefulShutdown) Shutdown() error {
	gs.shutdownOnce.Do(func() {
		gs.logger.Info("initiating graceful shutdown", zap.Duration("timeout", gs.timeout))

		ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
		defer cancel()

		if err := gs.server.Shutdown(ctx); err != nil {
			gs.shutdownError = fmt.Errorf("server shutdown error: %w", err)
			gs.logger.Error("server shutdown failed", zap.Error(err))
		}

		gs.mu.Lock()
		hooks := append([]ShutdownHook(nil), gs.shutdownHooks...)
		gs.mu.Unlock()

		for i, hook := range hooks {
			if err := hook(ctx); err != nil {
				// Continue with other hooks
				gs.logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
			}
		}

		close(gs.shutdownChan)
	})

	<-gs.shutdownChan
	return gs.shutdownError
}

// Wait blocks until shutdown is complete
func (gs *GracefulShutdown) Wait() error {
	<-gs.shutdownChan
	return gs.shutdownError
}
