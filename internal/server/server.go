// Package server exposes the cluster manager over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slurmgate/slurmgate/internal/cluster"
	"github.com/slurmgate/slurmgate/internal/logger"
)

const (
	DefaultListenAddr      = ":8081"
	DefaultSweepInterval   = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds the listener settings.
type Config struct {
	ListenAddr      string
	SweepInterval   time.Duration // <= 0 disables the stale-session sweep
	ShutdownTimeout time.Duration
}

// Server serves the API for one cluster manager.
type Server struct {
	mgr *cluster.Manager
	cfg Config
	log *logger.Logger

	engine *gin.Engine
}

// New wires the routes. The manager stays owned by the caller until Run
// returns.
func New(mgr *cluster.Manager, cfg Config, log *logger.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		mgr: mgr,
		cfg: cfg,
		log: logger.OrNop(log).Named("server"),
	}
	s.engine = newEngine(s.log,
		&clusterRoutes{mgr: mgr},
		&jobRoutes{mgr: mgr},
		&sessionRoutes{mgr: mgr},
	)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully and
// closes the manager.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("server listening", logger.String("addr", s.cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		s.sweep(sweepCtx)
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		s.log.Error("server failed", logger.Error(runErr))
	case <-ctx.Done():
	}

	stopSweep()
	<-sweepDone

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("server forced to shutdown", logger.Error(err))
		runErr = errors.Join(runErr, err)
	}
	if err := s.mgr.Close(shutdownCtx); err != nil {
		s.log.Warn("closing clusters", logger.Error(err))
		runErr = errors.Join(runErr, err)
	}
	s.log.Info("server exiting")
	return runErr
}

// sweep periodically ends stale interactive sessions.
func (s *Server) sweep(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.mgr.CleanupStaleSessions(ctx)
			if err != nil {
				s.log.Warn("session sweep incomplete", logger.Int("cleaned", n), logger.Error(err))
			}
		}
	}
}
