// Package server serves the metadata registry, the loaded object metadata
// and, when a datastore is configured, the stored objects over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Limits applied when no Option overrides them. Record listings are the
// slowest responses, so writes get more time than reads.
const (
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 30 * time.Second

	idleTimeout       = time.Minute
	readHeaderTimeout = 5 * time.Second
	// requests are GETs with a query string at most
	maxHeaderBytes = 64 << 10
)

// Server is the HTTP front of the introspection API. The address is bound
// by Listen, so ":0" resolves to a real port before anything is served.
type Server struct {
	http *http.Server
	addr string
	ln   net.Listener
}

// Option adjusts the underlying http.Server.
type Option func(*http.Server)

// WithTimeouts overrides the read and write timeouts. Zero keeps the
// default.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *http.Server) {
		if read > 0 {
			s.ReadTimeout = read
		}
		if write > 0 {
			s.WriteTimeout = write
		}
	}
}

// WithErrorLog sends the errors net/http logs itself, such as failed TLS
// handshakes and handler panics outside Recovery, to logger.
func WithErrorLog(logger *zap.Logger) Option {
	return func(s *http.Server) {
		if logger != nil {
			s.ErrorLog = zap.NewStdLog(logger.Named("http"))
		}
	}
}

// New creates a server for handler, usually API.Routes. Nothing listens
// until Listen or Serve.
func New(addr string, handler http.Handler, opts ...Option) (*Server, error) {
	if addr == "" {
		return nil, errors.New("server: listen address is empty")
	}
	if handler == nil {
		return nil, errors.New("server: handler is nil")
	}

	hs := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	for _, opt := range opts {
		opt(hs)
	}
	return &Server{http: hs, addr: addr}, nil
}

// Listen binds the address. Calling it again is a no-op.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Serve listens if needed and serves until Shutdown or Close, which make it
// return http.ErrServerClosed.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.http.Serve(s.ln)
}

// Shutdown stops accepting requests and waits for the running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Close drops every connection at once.
func (s *Server) Close() error {
	return s.http.Close()
}

// Addr is the bound address once listening, the configured one before.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// URL is the base URL of the API.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}
