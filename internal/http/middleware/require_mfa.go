package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/auth"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// ChallengePath is where sessions are sent to complete MFA.
const ChallengePath = "/v1/auth/mfa/challenge"

// MFARequiredResponse is returned to API clients that still owe an MFA challenge.
type MFARequiredResponse struct {
	Error        string `json:"error"`
	ChallengeURL string `json:"challenge_url"`
}

// RequireMFA gates a route on the session having passed the MFA challenge.
// Sessions of users without MFA pass straight through. For GET requests the
// requested URL is remembered so the challenge can resume it.
// This middleware should be applied AFTER the Auth middleware.
//
// Example usage:
//
//	r.With(middleware.Auth(sessionService)).
//	  With(middleware.RequireMFA(sessionService, mfaService, logger)).
//	  Get("/v1/me", meHandler.GetMe)
func RequireMFA(sessions *auth.SessionService, mfa *auth.MFAService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, ok := GetUserID(ctx)
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			sessionID, ok := GetSessionID(ctx)
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			state, err := sessions.State(ctx, sessionID)
			if errors.Is(err, domain.ErrSessionNotFound) {
				httputil.Error(w, http.StatusUnauthorized, "session expired")
				return
			}
			if err != nil {
				logger.Error("failed to load session state", "user_id", userID, "error", err)
				httputil.Error(w, http.StatusInternalServerError, "internal error")
				return
			}

			cfg, err := mfa.Configuration(ctx, userID)
			if err != nil {
				logger.Error("failed to load MFA configuration", "user_id", userID, "error", err)
				httputil.Error(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !auth.ChallengeRequired(cfg, state) {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodGet {
				if err := sessions.RememberIntendedURL(ctx, sessionID, r.URL.RequestURI()); err != nil {
					logger.Error("failed to remember intended URL", "user_id", userID, "error", err)
				}
			}

			if httputil.WantsHTML(r) {
				http.Redirect(w, r, ChallengePath, http.StatusSeeOther)
				return
			}
			httputil.JSON(w, http.StatusForbidden, MFARequiredResponse{
				Error:        "MFA verification required",
				ChallengeURL: ChallengePath,
			})
		})
	}
}
