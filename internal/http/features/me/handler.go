package me

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/simple-mfa/internal/http/features/common"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/auth"
)

// Handler handles user profile endpoints.
type Handler struct {
	logger     *slog.Logger
	users      auth.UserStore
	mfaService *auth.MFAService
}

// NewHandler creates a new me handler.
func NewHandler(logger *slog.Logger, users auth.UserStore, mfaService *auth.MFAService) *Handler {
	return &Handler{
		logger:     logger,
		users:      users,
		mfaService: mfaService,
	}
}

// UserResponse represents the user profile response.
type UserResponse struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	EmailVerified   bool       `json:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	Name            *string    `json:"name,omitempty"`
	MFAEnabled      bool       `json:"mfa_enabled"`
}

// GetMe returns the current user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	mfaEnabled, err := h.mfaService.IsEnabled(r.Context(), user.ID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to load profile")
		return
	}

	httputil.JSON(w, http.StatusOK, UserResponse{
		ID:              user.ID.String(),
		Email:           user.Email,
		EmailVerified:   user.IsEmailVerified(),
		EmailVerifiedAt: user.EmailVerifiedAt,
		Name:            user.Name,
		MFAEnabled:      mfaEnabled,
	})
}
