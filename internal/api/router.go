// Package api provides the HTTP API for raincheck.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/raincheck/raincheck/internal/api/handler"
	"github.com/raincheck/raincheck/internal/api/middleware"
	"github.com/raincheck/raincheck/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Service  handler.WeatherService
	Store    handler.Pinger
	Registry *resilience.Registry

	// DisableRateLimit turns request throttling off, for tests.
	DisableRateLimit bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "raincheck-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Store:     cfg.Store,
		Registry:  cfg.Registry,
		Logger:    cfg.Logger,
	})
	locationHandler := handler.NewLocationHandler(cfg.Service, cfg.Logger)

	limit := func(c middleware.RateLimitConfig) chi.Middlewares {
		if cfg.DisableRateLimit {
			return nil
		}
		return chi.Middlewares{middleware.RateLimitByIP(c)}
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/providers", opsHandler.ProviderStatus)
		})

		r.Route("/locations", func(r chi.Router) {
			r.With(limit(middleware.WriteRateLimit)...).Post("/", locationHandler.CreateLocation)

			r.Group(func(r chi.Router) {
				r.Use(limit(middleware.StandardRateLimit)...)
				r.Get("/", locationHandler.ListLocations)
				r.Get("/{idOrName}", locationHandler.GetLocation)
				r.Get("/{idOrName}/history", locationHandler.GetHistory)
			})
		})

		r.With(limit(middleware.SearchRateLimit)...).Get("/where-to-go", locationHandler.WhereToGo)
	})

	return r
}
