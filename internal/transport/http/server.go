// Package httptransport builds and runs the HTTP servers of both binaries.
package httptransport

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ServerConfig contains tunables for the HTTP server. Zero timeouts fall back
// to the defaults below.
type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

const (
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// Server couples an *http.Server with its shutdown budget.
type Server struct {
	*http.Server
	shutdownTimeout time.Duration
}

// NewServer creates a Server with the provided handler.
func NewServer(cfg ServerConfig, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadTimeout:       orDefault(cfg.ReadTimeout, defaultReadTimeout),
			ReadHeaderTimeout: orDefault(cfg.ReadTimeout, defaultReadTimeout),
			WriteTimeout:      orDefault(cfg.WriteTimeout, defaultWriteTimeout),
			IdleTimeout:       orDefault(cfg.IdleTimeout, defaultIdleTimeout),
		},
		shutdownTimeout: orDefault(cfg.ShutdownTimeout, defaultShutdownTimeout),
	}
}

// Run serves until ctx is cancelled, then drains connections within the
// shutdown budget. A listener failure is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
