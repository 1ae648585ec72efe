package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server wraps http.Server with context driven graceful shutdown.
type Server struct {
	cfg    Config
	srv    *http.Server
	logger *slog.Logger
}

// New returns a Server serving handler with cfg.
func New(cfg Config, handler http.Handler, log *slog.Logger) *Server {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:    cfg,
		logger: log,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelError),
		},
	}
}

// Run returns a function suitable for errgroup. It serves until ctx is done
// and then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) func() error {
	return func() error {
		ln, err := net.Listen("tcp", s.srv.Addr)
		if err != nil {
			return errors.Join(ErrStart, err)
		}
		return s.serve(ctx, ln)
	}
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.logger.Info("http server started", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Join(ErrStart, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(ErrShutdown, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrStart, err)
	}
	s.logger.Info("http server stopped")
	return nil
}
