// Package idm wires the email verification and MFA services into a
// mountable HTTP API.
//
// Setup:
//
//  1. Run migrations (migrations.Up) or apply migrations/ with your own tool
//  2. Create the IDM instance and mount its router
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	mfa, err := idm.New(idm.Config{
//	    DB:               db,
//	    Redis:            rdb,
//	    JWTSecret:        "your-secret-key-at-least-32-chars",
//	    MFAEncryptionKey: key, // 32 bytes
//	    Mailer:           mailer,
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/", mfa.Router())
//	http.ListenAndServe(":8080", r)
package idm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-mfa/internal/config"
	httpserver "github.com/tendant/simple-mfa/internal/http"
	"github.com/tendant/simple-mfa/internal/http/middleware"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/internal/metrics"
	"github.com/tendant/simple-mfa/internal/session"
	"github.com/tendant/simple-mfa/pkg/auth"
	"github.com/tendant/simple-mfa/pkg/domain"
	"github.com/tendant/simple-mfa/pkg/repository"
)

// Config holds the configuration for the library.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// Redis stores per-session MFA state (required).
	Redis redis.UniversalClient

	// RedisPrefix namespaces session keys (default: "mfa:session").
	RedisPrefix string

	// JWTSecret is the secret key for signing JWT tokens (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in JWT tokens (default: "simple-mfa").
	JWTIssuer string

	// AccessTokenTTL is the lifetime of access tokens and session state (default: 2 hours).
	AccessTokenTTL time.Duration

	// MFAEncryptionKey encrypts TOTP secrets at rest (required, 32 bytes).
	MFAEncryptionKey []byte

	// MFAIssuer is shown in authenticator apps (default: "Todo").
	MFAIssuer string

	// AllowUnverifiedEmailMFA lets accounts with an unconfirmed address enable email MFA.
	AllowUnverifiedEmailMFA bool

	// Mailer delivers verification and MFA codes (required).
	Mailer auth.Mailer

	// Email verification timings (defaults: 10 minutes, 60 seconds, 7 days).
	CodeTTL           time.Duration
	ResendCooldown    time.Duration
	VerifiedRetention time.Duration

	// ActionVerifiedWindow is how long a confirmed action code stays valid
	// for ActionVerified (default: 24 hours).
	ActionVerifiedWindow time.Duration

	// Metrics records code and challenge events and serves /metrics (optional).
	Metrics *metrics.Metrics

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger
}

// IDM is the main instance.
type IDM struct {
	config              Config
	usersRepo           *repository.UsersRepository
	passwordService     *auth.PasswordService
	sessionService      *auth.SessionService
	verificationService *auth.EmailVerificationService
	mfaService          *auth.MFAService
	resolver            *auth.ChallengeResolver
}

// New creates a new instance with the given configuration.
// Returns an error if required database tables don't exist.
func New(cfg Config) (*IDM, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	// Validate schema exists
	if err := validateSchema(cfg.DB); err != nil {
		return nil, err
	}

	// Initialize repositories
	usersRepo := repository.NewUsersRepository(cfg.DB)
	verificationsRepo := repository.NewEmailVerificationsRepository(cfg.DB)
	mfaRepo := repository.NewMFAConfigurationsRepository(cfg.DB)
	states := session.NewRedisStateStore(cfg.Redis, cfg.RedisPrefix)

	// Initialize services
	verificationService := auth.NewEmailVerificationService(auth.EmailVerificationConfig{
		CodeTTL:           cfg.CodeTTL,
		ResendCooldown:    cfg.ResendCooldown,
		VerifiedRetention: cfg.VerifiedRetention,
	}, verificationsRepo, usersRepo, cfg.Mailer, cfg.Logger)

	mfaService, err := auth.NewMFAService(auth.MFAConfig{
		Issuer:               cfg.MFAIssuer,
		EncryptionKey:        cfg.MFAEncryptionKey,
		EmailCodeTTL:         cfg.CodeTTL,
		RequireVerifiedEmail: !cfg.AllowUnverifiedEmailMFA,
	}, mfaRepo, usersRepo, cfg.Mailer, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("idm: %w", err)
	}

	if cfg.Metrics != nil {
		verificationService.WithObserver(cfg.Metrics)
		mfaService.WithObserver(cfg.Metrics)
	}

	sessionService := auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL: cfg.AccessTokenTTL,
		JWTSecret:      []byte(cfg.JWTSecret),
		Issuer:         cfg.JWTIssuer,
	}, states)

	return &IDM{
		config:              cfg,
		usersRepo:           usersRepo,
		passwordService:     auth.NewPasswordService(usersRepo),
		sessionService:      sessionService,
		verificationService: verificationService,
		mfaService:          mfaService,
		resolver:            auth.NewChallengeResolver(mfaService, cfg.Logger),
	}, nil
}

// RouterConfig returns the router configuration for this instance.
// Rate limiting and security headers are off; callers may enable them
// before passing the result to NewRouter.
func (i *IDM) RouterConfig() httpserver.RouterConfig {
	return httpserver.RouterConfig{
		Logger:              i.config.Logger,
		Users:               i.usersRepo,
		PasswordService:     i.passwordService,
		SessionService:      i.sessionService,
		VerificationService: i.verificationService,
		MFAService:          i.mfaService,
		ChallengeResolver:   i.resolver,
		Metrics:             i.config.Metrics,
		RateLimitConfig:     config.RateLimitConfig{Enabled: false},
		SecurityHeaders:     config.SecurityHeadersConfig{Enabled: false},
		CookieConfig:        httputil.DefaultCookieConfig(),
	}
}

// Router returns an http.Handler with all routes.
//
// Routes:
//
//	POST /v1/auth/login                           - Login with email/password
//	POST /v1/auth/logout                          - End the session (protected)
//	GET  /v1/auth/mfa/challenge                   - Start or inspect the MFA challenge
//	POST /v1/auth/mfa/challenge/recovery          - Switch the challenge to recovery codes
//	POST /v1/auth/mfa/challenge/email             - Switch the challenge to an emailed code
//	POST /v1/auth/mfa/verify                      - Submit a challenge code
//	GET  /v1/me                                   - Current user (MFA passed)
//	/v1/me/mfa/...                                - Factor management (MFA passed)
//	/v1/me/email-verification/...                 - Email codes (MFA passed)
//	GET  /health                                  - Health check
func (i *IDM) Router() http.Handler {
	return httpserver.NewRouter(i.RouterConfig())
}

// CleanupExpiredCodes deletes expired and long-verified email codes.
func (i *IDM) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	return i.verificationService.CleanupExpiredCodes(ctx)
}

// RunCleanup calls CleanupExpiredCodes every interval until ctx is done.
func (i *IDM) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := i.CleanupExpiredCodes(ctx)
			if err != nil {
				i.config.Logger.Error("verification code cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				i.config.Logger.Info("verification codes cleaned up", "deleted", n)
			}
		}
	}
}

// ActionVerified reports whether the user confirmed action (e.g.
// "account_deletion") with an emailed code within ActionVerifiedWindow.
// Call it before carrying out the action:
//
//	ok, err := mfa.ActionVerified(ctx, userID, "account_deletion")
func (i *IDM) ActionVerified(ctx context.Context, userID uuid.UUID, action string) (bool, error) {
	purpose, err := domain.ParseActionPurpose(action)
	if err != nil {
		return false, err
	}
	return i.verificationService.IsVerifiedWithin(ctx, userID, purpose, i.config.ActionVerifiedWindow)
}

// SessionService returns the session service for advanced usage.
func (i *IDM) SessionService() *auth.SessionService {
	return i.sessionService
}

// VerificationService returns the email verification service, e.g. for
// gating sensitive actions with IsVerifiedWithin.
func (i *IDM) VerificationService() *auth.EmailVerificationService {
	return i.verificationService
}

// MFAService returns the MFA service for advanced usage.
func (i *IDM) MFAService() *auth.MFAService {
	return i.mfaService
}

// AuthMiddleware returns middleware that validates JWT tokens.
// Use this to protect your own routes:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(mfa.AuthMiddleware())
//	    r.Use(mfa.RequireMFAMiddleware())
//	    r.Get("/todos", handler)
//	})
func (i *IDM) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(i.sessionService)
}

// RequireMFAMiddleware returns middleware that sends sessions which still
// owe an MFA challenge to the challenge endpoint. Use after AuthMiddleware.
func (i *IDM) RequireMFAMiddleware() func(http.Handler) http.Handler {
	return middleware.RequireMFA(i.sessionService, i.mfaService, i.config.Logger)
}

// GetUserIDFromContext extracts the user ID from a context.
// Use after AuthMiddleware:
//
//	userID, ok := idm.GetUserIDFromContext(ctx)
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return middleware.GetUserID(ctx)
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("idm: DB is required")
	}
	if cfg.Redis == nil {
		return errors.New("idm: Redis is required")
	}
	if cfg.Mailer == nil {
		return errors.New("idm: Mailer is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("idm: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("idm: JWTSecret must be at least 32 characters")
	}
	if len(cfg.MFAEncryptionKey) != 32 {
		return errors.New("idm: MFAEncryptionKey must be 32 bytes")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "simple-mfa"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	if cfg.MFAIssuer == "" {
		cfg.MFAIssuer = "Todo"
	}
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = auth.DefaultCodeTTL
	}
	if cfg.ActionVerifiedWindow == 0 {
		cfg.ActionVerifiedWindow = auth.DefaultActionVerifiedScope
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB) error {
	requiredTables := []string{"users", "email_verifications", "mfa_configurations"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("idm: missing table '%s' - run migrations first (see migrations/ folder)", table)
		}
		if err != nil {
			return fmt.Errorf("idm: failed to check schema: %w", err)
		}
	}

	return nil
}
