package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-mfa/internal/http/middleware"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/auth"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// CurrentUser loads the authenticated user. On failure it has already
// written the error response and returns false.
func CurrentUser(w http.ResponseWriter, r *http.Request, users auth.UserStore, logger *slog.Logger) (*domain.User, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	user, err := users.GetByID(r.Context(), userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if err != nil {
		logger.Error("failed to load user", "user_id", userID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return user, true
}

// DecodeRequest decodes and validates a JSON body, writing 400 or 413 on failure.
func DecodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httputil.DecodeJSON(r, v); err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, err.Error())
			return false
		}
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// WriteError maps a service error onto an HTTP status. Errors without a
// known kind are logged and reported as 500 with fallback as the message.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrDispatchFailure):
		logger.Error(fallback, "error", err)
		httputil.Error(w, http.StatusBadGateway, "failed to send email. please try again")
	case errors.Is(err, domain.ErrUnknownPurpose):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidVerificationCode):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		httputil.Error(w, http.StatusUnauthorized, "invalid password")
	case errors.Is(err, domain.ErrPreconditionFailed):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		httputil.Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	default:
		logger.Error(fallback, "error", err)
		httputil.Error(w, http.StatusInternalServerError, fallback)
	}
}
