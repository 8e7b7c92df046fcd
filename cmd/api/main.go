// Package main is the entrypoint for the MacroMini API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/macromini/macromini/internal/billing"
	"github.com/macromini/macromini/internal/cache"
	"github.com/macromini/macromini/internal/config"
	"github.com/macromini/macromini/internal/entitlement"
	"github.com/macromini/macromini/internal/handler"
	"github.com/macromini/macromini/internal/inference"
	"github.com/macromini/macromini/internal/metrics"
	"github.com/macromini/macromini/internal/middleware"
	"github.com/macromini/macromini/internal/repository"
	"github.com/macromini/macromini/internal/server"
	"github.com/macromini/macromini/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	gate := entitlement.NewGate(repo, entitlement.Config{
		FreeLimit: cfg.FreeAnalysesLimit,
		Period:    cfg.UsagePeriod,
	}, recorder, logger)

	adapter := inference.New(inference.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.InferenceTimeout,
	}, logger)
	if _, isMock := adapter.(*inference.Mock); isMock {
		logger.Warn("OPENAI_API_KEY not set, serving mock nutrition estimates")
	}
	analysisService := service.NewAnalysisService(gate, adapter, recorder, logger)

	// A nil provider leaves checkout answering 503.
	var provider billing.Provider
	var lookup billing.SubscriptionLookup
	if cfg.StripeSecretKey != "" {
		stripeProvider := billing.NewStripeProvider(cfg.StripeSecretKey)
		provider, lookup = stripeProvider, stripeProvider
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing disabled")
	}

	checkoutService := billing.NewCheckoutService(repo, provider, billing.CheckoutConfig{
		PriceID:     cfg.StripePriceID,
		FrontendURL: cfg.FrontendURL,
	}, recorder, logger)

	webhookProcessor := billing.NewWebhookProcessor(
		billing.NewVerifier(cfg.StripeWebhookSecret),
		billing.NewDecoder(lookup),
		billing.NewHandler(repo, logger),
		cacheClient,
		recorder,
		logger,
	)

	r := setupRouter(routerDeps{
		root:     handler.New(),
		health:   handler.NewHealthHandler(repo, cacheClient),
		metrics:  handler.NewMetricsHandler(registry),
		analysis: handler.NewAnalysisHandler(analysisService, logger),
		billing:  handler.NewBillingHandler(checkoutService, webhookProcessor, logger),
		usage:    handler.NewUsageHandler(gate, logger),
		limiter:  cacheClient,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	})

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"free_limit", gate.FreeLimit(),
		"billing_enabled", cfg.BillingEnabled(),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "macromini")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routerDeps struct {
	root     *handler.Handler
	health   *handler.HealthHandler
	metrics  *handler.MetricsHandler
	analysis *handler.AnalysisHandler
	billing  *handler.BillingHandler
	usage    *handler.UsageHandler
	limiter  middleware.RateLimiter
	recorder metrics.Recorder
	cfg      *config.Config
	logger   *slog.Logger
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))
	r.Use(corsHandler(d.cfg))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Get("/metrics", d.metrics.Metrics)
	r.Get("/", d.root.Root)

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        d.logger,
		Limiter:       d.limiter,
		Metrics:       d.recorder,
		Enabled:       d.cfg.RateLimitEnabled,
		RatePerMinute: d.cfg.RateLimitRPM,
		Burst:         d.cfg.RateLimitBurst,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RequireJSON, middleware.RateLimitIP(rateLimitCfg, "analyze")).
			Post("/analyze", d.analysis.Analyze)
		r.Get("/usage/{userID}", d.usage.Get)

		r.Route("/billing", func(r chi.Router) {
			// Provider deliveries are authenticated by signature, not rate limited.
			r.Post("/webhook", d.billing.Webhook)
			r.With(middleware.RequireJSON, middleware.RateLimitIP(rateLimitCfg, "checkout")).
				Post("/checkout", d.billing.Checkout)
		})
	})

	r.NotFound(d.root.NotFound)
	r.MethodNotAllowed(d.root.MethodNotAllowed)

	return r
}

// corsHandler allows the configured web origins. Development without an
// explicit list allows any origin.
func corsHandler(cfg *config.Config) func(http.Handler) http.Handler {
	origins := cfg.GetCORSAllowedOrigins()
	if len(origins) == 0 && cfg.IsDevelopment() {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	})
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
