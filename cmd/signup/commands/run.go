package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Anvisninger/signup-flow/internal/config"
	"github.com/Anvisninger/signup-flow/pkg/health"
	"github.com/Anvisninger/signup-flow/pkg/limits"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/shutdown"
)

func newLogger(cfg config.Logging, service string) logging.Logger {
	opts := []logging.LoggerOption{
		logging.WithLevel(logging.ParseLevel(cfg.Level)),
		logging.WithService(service),
	}
	if cfg.JSON {
		opts = append(opts, logging.WithJSON())
	}
	logger := logging.NewSlogLogger(opts...)
	logging.SetDefault(logger)
	return logger
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// proxyHandler mounts health endpoints next to a rate limited proxy.
func proxyHandler(h http.Handler, checker *health.Checker, rl config.RateLimit, sd *shutdown.Handler, logger logging.Logger) http.Handler {
	limiter := limits.NewTokenBucket(rl.Rate, rl.Burst)
	sd.RegisterFunc("rate limiter", shutdown.PriorityLast, func(ctx context.Context) error {
		limiter.Stop()
		return nil
	})

	mux := http.NewServeMux()
	checker.Register(mux)
	mux.Handle("/", limits.RateLimitMiddleware(limiter, limits.IPKeyFunc)(h))

	return logging.RequestLogger(logger)(mux)
}

// serve runs srv until a signal arrives, then runs the shutdown hooks.
func serve(ctx context.Context, srv *http.Server, sd *shutdown.Handler, logger logging.Logger) error {
	sd.Register(shutdown.HTTPServerHook("http server", srv))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- sd.Wait(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", logging.Err(err))
			if sdErr := sd.Shutdown(); sdErr != nil && !errors.Is(sdErr, shutdown.ErrAlreadyClosed) {
				logger.Warn("shutdown", logging.Err(sdErr))
			}
			return err
		}
		return <-waitErr
	case err := <-waitErr:
		if err != nil {
			logger.Error("shutdown incomplete", logging.Err(err))
			return err
		}
		logger.Info("stopped")
		return nil
	}
}
