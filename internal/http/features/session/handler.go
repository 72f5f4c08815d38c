package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-mfa/internal/http/features/common"
	"github.com/tendant/simple-mfa/internal/http/middleware"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/auth"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// Handler handles login and logout.
type Handler struct {
	logger          *slog.Logger
	passwordService *auth.PasswordService
	sessionService  *auth.SessionService
	mfaService      *auth.MFAService
	cookieConfig    httputil.CookieConfig
}

// NewHandler creates a new session handler.
func NewHandler(
	logger *slog.Logger,
	passwordService *auth.PasswordService,
	sessionService *auth.SessionService,
	mfaService *auth.MFAService,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		logger:          logger,
		passwordService: passwordService,
		sessionService:  sessionService,
		mfaService:      mfaService,
		cookieConfig:    cookieConfig,
	}
}

// LoginRequest represents a password login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents a login response. The access token is only in
// the body for mobile clients; web clients get it as a cookie.
type LoginResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	MFARequired  bool   `json:"mfa_required"`
	ChallengeURL string `json:"challenge_url,omitempty"`
}

// Login authenticates with email and password and starts a new session.
// POST /v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.passwordService.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		httputil.Error(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	mfaRequired, err := h.mfaService.IsEnabled(ctx, user.ID)
	if err != nil {
		h.logger.Error("failed to load MFA status", "user_id", user.ID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	tokens, err := h.sessionService.IssueSession(ctx, user)
	if err != nil {
		h.logger.Error("failed to issue session", "user_id", user.ID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID, "mfa_required", mfaRequired)

	resp := LoginResponse{
		TokenType:   tokens.TokenType,
		ExpiresIn:   tokens.ExpiresIn,
		MFARequired: mfaRequired,
	}
	if mfaRequired {
		resp.ChallengeURL = middleware.ChallengePath
	}
	if httputil.IsMobileClient(r) {
		resp.AccessToken = tokens.AccessToken
	} else {
		httputil.SetAuthCookie(w, tokens.AccessToken, h.sessionService.AccessTokenTTL(), h.cookieConfig)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Logout ends the current session.
// POST /v1/auth/logout
// Requires authentication
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Ignore errors; the cookie is cleared either way.
	if err := h.sessionService.EndSession(r.Context(), sessionID); err != nil {
		h.logger.Warn("failed to end session", "session_id", sessionID, "error", err)
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearAuthCookie(w, h.cookieConfig)
	}
	w.WriteHeader(http.StatusNoContent)
}
