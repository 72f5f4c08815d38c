package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/simple-mfa/internal/config"
	"github.com/tendant/simple-mfa/internal/http/features/email"
	"github.com/tendant/simple-mfa/internal/http/features/me"
	"github.com/tendant/simple-mfa/internal/http/features/mfa"
	"github.com/tendant/simple-mfa/internal/http/features/session"
	"github.com/tendant/simple-mfa/internal/http/middleware"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/internal/metrics"
	"github.com/tendant/simple-mfa/pkg/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger              *slog.Logger
	Users               auth.UserStore
	PasswordService     *auth.PasswordService
	SessionService      *auth.SessionService
	VerificationService *auth.EmailVerificationService
	MFAService          *auth.MFAService
	ChallengeResolver   *auth.ChallengeResolver
	// Metrics is optional; when nil /metrics is not served.
	Metrics             *metrics.Metrics
	RateLimitConfig     config.RateLimitConfig
	SecurityHeaders     config.SecurityHeadersConfig
	MaxRequestBodyBytes int64
	CookieConfig        httputil.CookieConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	if cfg.MaxRequestBodyBytes > 0 {
		r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBodyBytes))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	authenticated := middleware.Auth(cfg.SessionService)
	mfaPassed := middleware.RequireMFA(cfg.SessionService, cfg.MFAService, cfg.Logger)

	// Session routes
	sessionHandler := session.NewHandler(
		cfg.Logger,
		cfg.PasswordService,
		cfg.SessionService,
		cfg.MFAService,
		cfg.CookieConfig,
	)
	r.With(rateLimiters[middleware.LimitAuth]).Post("/v1/auth/login", sessionHandler.Login)
	r.With(authenticated).Post("/v1/auth/logout", sessionHandler.Logout)

	mfaHandler := mfa.NewHandler(
		cfg.Logger,
		cfg.Users,
		cfg.MFAService,
		cfg.ChallengeResolver,
		cfg.PasswordService,
		cfg.SessionService,
	)

	// MFA challenge; reachable before the session has passed MFA
	r.Group(func(r chi.Router) {
		r.Use(authenticated)
		r.Use(rateLimiters[middleware.LimitChallenge])
		r.Get("/v1/auth/mfa/challenge", mfaHandler.Challenge)
		r.Post("/v1/auth/mfa/challenge/recovery", mfaHandler.UseRecoveryCode)
		r.Post("/v1/auth/mfa/challenge/email", mfaHandler.UseEmailCode)
		r.Post("/v1/auth/mfa/verify", mfaHandler.Verify)
	})

	// Everything under /v1/me requires a session that has passed MFA
	meHandler := me.NewHandler(cfg.Logger, cfg.Users, cfg.MFAService)
	emailHandler := email.NewHandler(cfg.Logger, cfg.VerificationService, cfg.Users)
	r.Group(func(r chi.Router) {
		r.Use(authenticated)
		r.Use(mfaPassed)

		r.With(rateLimiters[middleware.LimitProfile]).Get("/v1/me", meHandler.GetMe)

		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitProfile])
			r.Get("/v1/me/mfa/status", mfaHandler.Status)
			r.Post("/v1/me/mfa/totp/setup", mfaHandler.SetupTOTP)
			r.Post("/v1/me/mfa/totp/enable", mfaHandler.EnableTOTP)
			r.Post("/v1/me/mfa/totp/disable", mfaHandler.DisableTOTP)
			r.Post("/v1/me/mfa/email/send", mfaHandler.SendEmailSetupCode)
			r.Post("/v1/me/mfa/email/enable", mfaHandler.EnableEmail)
			r.Post("/v1/me/mfa/email/disable", mfaHandler.DisableEmail)
			r.Post("/v1/me/mfa/disable", mfaHandler.DisableAll)
			r.Post("/v1/me/mfa/recovery-codes", mfaHandler.RegenerateRecoveryCodes)
			r.Get("/v1/me/email-verification/status", emailHandler.Status)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitVerify])
			r.Post("/v1/me/email-verification/send", emailHandler.Send)
			r.Post("/v1/me/email-verification/verify", emailHandler.Verify)
			r.Post("/v1/me/email-verification/resend", emailHandler.Resend)

			// Sensitive actions are confirmed through an already verified address
			r.With(middleware.RequireVerified(cfg.Users)).Post("/v1/me/email-verification/action/send", emailHandler.SendAction)
			r.With(middleware.RequireVerified(cfg.Users)).Post("/v1/me/email-verification/action/verify", emailHandler.VerifyAction)
		})
	})

	return r
}
