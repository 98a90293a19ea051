// Package main provides the entrypoint for the RainCheck worker: scheduled
// history jobs and the chat bot relay.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/api/models"
	"github.com/raincheck/raincheck/internal/api/response"
	"github.com/raincheck/raincheck/internal/app"
	"github.com/raincheck/raincheck/internal/bot"
	"github.com/raincheck/raincheck/internal/telemetry"
	"github.com/raincheck/raincheck/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "raincheck-worker"

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	// Worker also exposes a health endpoint for Cloud Run
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	application, err := app.New(ctx, app.ConfigFromEnv(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer application.Close()

	jobs := worker.NewJobs(worker.JobsConfig{
		Syncer: application.Service.Synchronizer(),
		Config: worker.ConfigFromEnv(),
		Logger: log,
	})
	scheduler := worker.NewScheduler(ctx, jobs)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	var relays sync.WaitGroup
	var relay *bot.PubSubRelay
	if botConfig := bot.ConfigFromEnv(); botConfig.Enabled() {
		dispatcher := bot.NewDispatcher(application.Service, log)
		relay, err = bot.NewPubSubRelay(ctx, botConfig, dispatcher, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create bot relay")
		}
		relays.Add(1)
		go func() {
			defer relays.Done()
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("bot relay stopped")
			}
		}()
	} else {
		log.Info().Msg("bot relay disabled - PUBSUB_PROJECT_ID not set")
	}

	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]any{
			"status":    models.HealthStatusOK,
			"version":   Version,
			"buildTime": BuildTime,
			"jobs":      jobs.StatsSnapshot(),
		})
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")

	scheduler.Stop()
	cancel()
	relays.Wait()
	if relay != nil {
		if err := relay.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close bot relay")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
