package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liondadev/fileserve/config"
	"github.com/liondadev/fileserve/gate"
	"go.uber.org/zap"
)

type PublicError struct {
	Code    int
	Message string
}

func (pe PublicError) Error() string {
	return fmt.Sprintf("(%d) %s", pe.Code, pe.Message)
}

type Server struct {
	cfg  *config.Config
	gate *gate.Gate
	log  *zap.Logger
	mux  *chi.Mux

	// now is swapped out in tests
	now func() time.Time
}

// New creates a new server instance from the config and the download gate.
func New(cfg *config.Config, g *gate.Gate, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		cfg:  cfg,
		gate: g,
		log:  log,
		now:  time.Now,
	}
}

func (s *Server) SetupHTTP() error {
	mux := chi.NewMux()

	mux.Use(middleware.Recoverer)
	mux.Use(middleware.CleanPath)
	mux.Use(s.logRequests)
	if s.cfg.RateLimit.Enabled {
		mux.Use(newRateLimiter(s.cfg.RateLimit.PerSecond, s.cfg.RateLimit.Burst).limit)
	}

	mux.Handle("GET /", HandlerWithError{s, s.handleIndex})
	mux.Handle("GET /file/{identifier}", HandlerWithError{s, s.handleIssueDownload})
	mux.Handle("GET /download/{token}/{identifier}", HandlerWithError{s, s.handleRedeemDownload})

	mux.NotFound(HandlerWithError{s, s.handleNotFound}.ServeHTTP)
	mux.MethodNotAllowed(HandlerWithError{s, s.handleMethodNotAllowed}.ServeHTTP)

	s.mux = mux

	return nil
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves HTTP on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if s.mux == nil {
		return errors.New("the http mux hasn't been configured yet, call setuphttp()")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
