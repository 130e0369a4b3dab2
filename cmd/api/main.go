package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"resume-tailor/internal/bootstrap"
	"resume-tailor/internal/shared/config"
	"resume-tailor/internal/shared/server"
	"resume-tailor/internal/shared/telemetry"
	"resume-tailor/internal/shared/tracing"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := telemetry.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "resume-tailor-api",
		Environment: cfg.Env,
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
		Endpoint:    cfg.Tracing.Endpoint,
		Headers:     tracing.ParseHeaders(cfg.Tracing.Headers),
		Insecure:    cfg.Tracing.Insecure,
	})

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
	if err != nil {
		telemetry.Error("api.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		telemetry.Info("api.listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		telemetry.Info("api.shutting_down", nil)
		err := srv.Shutdown(sctx)
		if terr := shutdownTracing(sctx); terr != nil {
			telemetry.Warn("otel.shutdown_failed", map[string]any{"error": terr.Error()})
		}
		return err
	})

	runErr := g.Wait()
	if err := app.Close(); err != nil {
		telemetry.Warn("api.close_failed", map[string]any{"error": err.Error()})
	}
	if runErr != nil {
		telemetry.Error("api.server_error", map[string]any{"error": runErr.Error()})
		telemetry.Sync()
		os.Exit(1)
	}
}
