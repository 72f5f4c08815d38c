package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-mfa/idm"
	"github.com/tendant/simple-mfa/internal/config"
	httpserver "github.com/tendant/simple-mfa/internal/http"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/internal/metrics"
	"github.com/tendant/simple-mfa/internal/notification"
	"github.com/tendant/simple-mfa/migrations"
	"github.com/tendant/simple-mfa/pkg/auth"
	"github.com/tendant/simple-mfa/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	mfaKey, err := cfg.MFAKey()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	logger.Info("connected to database")

	if err := migrations.Up(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Connect to Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	// Pick the mailer
	var mailer auth.Mailer
	if cfg.HasSMTP() {
		mailer = notification.NewSMTPMailer(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			CodeTTL:  cfg.CodeTTL,
		}, logger)
		logger.Info("email delivery via SMTP", "host", cfg.SMTPHost)
	} else {
		outbox, err := notification.NewOutboxMailer(cfg.MailOutboxDir, cfg.CodeTTL, logger)
		if err != nil {
			return fmt.Errorf("failed to create mail outbox: %w", err)
		}
		mailer = outbox
		logger.Warn("SMTP not configured, writing emails to outbox", "dir", cfg.MailOutboxDir)
	}

	m := metrics.New()

	app, err := idm.New(idm.Config{
		DB:                      db,
		Redis:                   rdb,
		RedisPrefix:             cfg.RedisPrefix,
		JWTSecret:               cfg.JWTSecret,
		JWTIssuer:               cfg.JWTIssuer,
		AccessTokenTTL:          cfg.AccessTokenTTL,
		MFAEncryptionKey:        mfaKey,
		MFAIssuer:               cfg.MFAIssuer,
		AllowUnverifiedEmailMFA: !cfg.MFARequireVerifiedEmail,
		Mailer:                  mailer,
		CodeTTL:                 cfg.CodeTTL,
		ResendCooldown:          cfg.ResendCooldown,
		VerifiedRetention:       cfg.VerifiedRetention,
		ActionVerifiedWindow:    cfg.ActionVerifiedWindow,
		Metrics:                 m,
		Logger:                  logger,
	})
	if err != nil {
		return err
	}

	// Create router
	routerConfig := app.RouterConfig()
	routerConfig.RateLimitConfig = cfg.RateLimit
	routerConfig.SecurityHeaders = cfg.SecurityHeaders
	routerConfig.MaxRequestBodyBytes = cfg.MaxRequestBodyBytes
	routerConfig.CookieConfig = httputil.CookieConfig{
		Path:     "/",
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	router := httpserver.NewRouter(routerConfig)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CleanupInterval > 0 {
		go app.RunCleanup(ctx, cfg.CleanupInterval)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
