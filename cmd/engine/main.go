package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/api"
	"github.com/avelara/dripfeed/internal/circuitbreaker"
	"github.com/avelara/dripfeed/internal/config"
	"github.com/avelara/dripfeed/internal/db"
	"github.com/avelara/dripfeed/internal/dispatch"
	"github.com/avelara/dripfeed/internal/events"
	"github.com/avelara/dripfeed/internal/metrics"
	"github.com/avelara/dripfeed/internal/observ"
	"github.com/avelara/dripfeed/internal/redis"
	"github.com/avelara/dripfeed/internal/sender"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dripfeed engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	store := db.NewStore(database, logger)

	// Redis backs API rate limiting; the engine runs without it.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,
			Window: 1 * time.Minute,
		})
		defer redisClient.Close()
	}

	// Channel senders. Each provider sits behind a circuit breaker so a
	// hard provider outage fails fast instead of burning the send timeout
	// on every job in the batch.
	var emailSender sender.Sender
	if cfg.SESFromEmail != "" {
		ses, err := sender.NewEmailSender(ctx, sender.EmailConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create email sender: %w", err)
		}
		emailSender = circuitbreaker.NewProtectedSender(
			ses,
			circuitbreaker.New(circuitbreaker.DefaultConfig("email"), logger),
			logger,
		)
	} else {
		logger.Warn("SES_FROM_EMAIL not set, email deliveries will be logged only")
		emailSender = sender.NewLogSender(db.ChannelEmail, logger)
	}

	var smsSender sender.Sender
	switch cfg.SMSProvider {
	case "sns":
		sns, err := sender.NewSNSSMSSender(ctx, sender.SNSConfig{
			Region: cfg.SNSRegion,
		}, logger)
		if err != nil {
			logger.Warn("SNS sender unavailable, sms deliveries will be logged only",
				zap.Error(err),
			)
			smsSender = sender.NewLogSender(db.ChannelSMS, logger)
		} else {
			smsSender = circuitbreaker.NewProtectedSender(
				sns,
				circuitbreaker.New(circuitbreaker.DefaultConfig("sms"), logger),
				logger,
			)
		}
	default:
		if cfg.SMSGatewayURL == "" {
			logger.Warn("SMS_GATEWAY_URL not set, sms deliveries will be logged only")
			smsSender = sender.NewLogSender(db.ChannelSMS, logger)
		} else {
			gateway := sender.NewGatewaySMSSender(sender.SMSGatewayConfig{
				URL:          cfg.SMSGatewayURL,
				APIKey:       cfg.SMSAPIKey,
				APISecret:    cfg.SMSAPISecret,
				SenderNumber: cfg.SMSSenderNumber,
			}, logger)
			smsSender = circuitbreaker.NewProtectedSender(
				gateway,
				circuitbreaker.New(circuitbreaker.DefaultConfig("sms"), logger),
				logger,
			)
		}
	}

	router := sender.NewRouter(logger, emailSender, smsSender)

	logger.Info("initialized channel senders",
		zap.String("sms_provider", cfg.SMSProvider),
		zap.Bool("email_live", cfg.SESFromEmail != ""),
	)

	// Optional outcome event feed
	var publisher *events.Publisher
	if cfg.SQSQueueURL != "" {
		publisher, err = events.NewPublisher(ctx, events.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs publisher unavailable, outcome events disabled",
				zap.Error(err),
			)
			publisher = nil
		}
	}

	dispatcher := dispatch.New(store, router, publisher, dispatch.Config{
		Interval:    cfg.DispatchInterval,
		BatchSize:   cfg.DispatchBatchSize,
		SendTimeout: cfg.SendTimeout,
		Location:    location,
	}, logger)

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()

	go dispatcher.Start(dispatchCtx)

	logger.Info("dispatch loop started in background",
		zap.Duration("interval", cfg.DispatchInterval),
		zap.String("timezone", cfg.Timezone),
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, store)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Post("/sequences", handler.CreateSequence)
		r.Get("/sequences/{id}", handler.GetSequence)

		r.Post("/recipients", handler.CreateRecipient)

		r.Post("/jobs", handler.CreateJob)
		r.Get("/jobs", handler.ListJobs)
		r.Get("/jobs/{id}", handler.GetJob)
		r.Post("/jobs/{id}/resend", handler.ResendJob)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop claiming new batches before we stop serving requests.
		dispatchCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
