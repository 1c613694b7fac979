package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/novaimg/metering-gateway/config"
	"github.com/novaimg/metering-gateway/internal/api"
	"github.com/novaimg/metering-gateway/internal/metronome"
	"github.com/novaimg/metering-gateway/internal/provision"
	"github.com/novaimg/metering-gateway/internal/state"
	"github.com/novaimg/metering-gateway/internal/telemetry"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// 1. Load config; missing credentials abort startup
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("metering-gateway", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	// 3. Metronome client
	client := metronome.New(cfg.BearerToken, cfg.BaseURL, config.BillableGroupKeys)

	// 4. Local state store
	store := state.NewFileStore(cfg.StatePath)

	// 5. Provisioner
	provisioner := provision.New(client, store, logger.With().Str("component", "provision").Logger())

	// 6. Handler
	tracer := otel.GetTracerProvider().Tracer("metering-gateway")
	handler := api.NewHandler(client, provisioner, store, cfg, tracer, logger.With().Str("component", "api").Logger())

	// 7. Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"metering-gateway"}`))
	})

	r.Post("/api/generate", handler.HandleGenerate)
	r.Post("/api/metrics", handler.HandleSetupMetric)
	r.Post("/api/pricing", handler.HandleSetupPricing)

	// 8. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("metering gateway starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
}
