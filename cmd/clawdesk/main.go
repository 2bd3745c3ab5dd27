package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/clawdesk/internal/app"
	"github.com/ent0n29/clawdesk/internal/config"
	"github.com/ent0n29/clawdesk/internal/observability"
)

const janitorInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := observability.Logger()
		l.Fatal().Err(err).Msg("config error")
	}
	log := observability.InitLogger(cfg.LogLevel, cfg.LogPretty)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	res, err := app.Build(runCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           otelhttp.NewHandler(res.API.Router(), "clawdesk"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	res.Sessions.StartJanitor(runCtx, janitorInterval)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("listen error")
	}

	runCancel()
	res.Sessions.EndAll("shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
