package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Server runs the broker's HTTP listener. It is configured once and driven
// by Run inside an errgroup, alongside the sweeper and relay loops, so the
// whole process shares one shutdown path.
type Server struct {
	addr           string
	logger         *slog.Logger
	shutdown       time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	maxHeaderBytes int
	tlsConfig      *tls.Config
}

// New creates a Server for the given address.
// The write timeout defaults to zero: streaming and long-polling responses
// are held open far longer than any sane per-response write deadline, so the
// connection lifetime is bounded by the delivery layer instead.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:           addr,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		shutdown:       DefaultShutdownTimeout,
		readTimeout:    DefaultReadTimeout,
		writeTimeout:   0,
		idleTimeout:    DefaultIdleTimeout,
		maxHeaderBytes: DefaultMaxHeaderBytes,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run starts the listener and blocks until the context is canceled or the
// listener fails. Cancellation drains in-flight requests within the
// configured shutdown timeout and returns nil, so an errgroup treats it as
// a clean stop. Subscriber connections that outlive the drain window are
// closed hard; their delivery loops already stopped with the context.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:           s.addr,
		Handler:        handler,
		ReadTimeout:    s.readTimeout,
		WriteTimeout:   s.writeTimeout,
		IdleTimeout:    s.idleTimeout,
		MaxHeaderBytes: s.maxHeaderBytes,
		TLSConfig:      s.tlsConfig,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "listening", slog.String("addr", s.addr))

		var err error
		if s.tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("draining connections", slog.Duration("timeout", s.shutdown))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Idle streaming subscribers can hold the drain open forever.
		s.logger.Warn("drain window elapsed, closing remaining connections",
			slog.Any("error", err))
		_ = srv.Close()
	}
	<-serveErr
	return nil
}
