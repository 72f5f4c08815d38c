package mfa

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/internal/http/features/common"
	"github.com/tendant/simple-mfa/internal/http/middleware"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// ChallengeVerifyRequest is a code submission at the challenge. Type forces
// a factor; when empty the session's current mode decides.
type ChallengeVerifyRequest struct {
	Code string `json:"code" validate:"required,min=6,max=32"`
	Type string `json:"type" validate:"omitempty,oneof=totp email recovery"`
}

// challengeSession loads the user and the session state behind a challenge request.
func (h *Handler) challengeSession(w http.ResponseWriter, r *http.Request) (*domain.User, uuid.UUID, domain.SessionState, bool) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return nil, uuid.Nil, domain.SessionState{}, false
	}
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, uuid.Nil, domain.SessionState{}, false
	}

	state, err := h.sessionService.State(r.Context(), sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		httputil.Error(w, http.StatusUnauthorized, "session expired")
		return nil, uuid.Nil, domain.SessionState{}, false
	}
	if err != nil {
		h.logger.Error("failed to load session state", "user_id", user.ID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
		return nil, uuid.Nil, domain.SessionState{}, false
	}
	return user, sessionID, state, true
}

// saveState stores the state a challenge step returned.
func (h *Handler) saveState(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, state domain.SessionState) bool {
	if err := h.sessionService.SaveState(r.Context(), sessionID, state); err != nil {
		h.logger.Error("failed to save session state", "session_id", sessionID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
		return false
	}
	return true
}

// Challenge handles GET /v1/auth/mfa/challenge
//
// Reports what the session must submit next. Accounts whose only factor is
// email are switched to email mode and sent a code unless one is pending.
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request) {
	user, sessionID, state, ok := h.challengeSession(w, r)
	if !ok {
		return
	}

	decision, next, err := h.resolver.Begin(r.Context(), user, state)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to start MFA challenge")
		return
	}
	if next != state && !h.saveState(w, r, sessionID, next) {
		return
	}
	httputil.JSON(w, http.StatusOK, decision)
}

// UseRecoveryCode handles POST /v1/auth/mfa/challenge/recovery
func (h *Handler) UseRecoveryCode(w http.ResponseWriter, r *http.Request) {
	_, sessionID, state, ok := h.challengeSession(w, r)
	if !ok {
		return
	}

	if !h.saveState(w, r, sessionID, h.resolver.UseRecoveryCode(state)) {
		return
	}
	httputil.JSON(w, http.StatusOK, domain.ChallengeDecision{
		Outcome: domain.ChallengePending,
		Mode:    domain.ChallengeModeRecovery,
	})
}

// UseEmailCode handles POST /v1/auth/mfa/challenge/email
func (h *Handler) UseEmailCode(w http.ResponseWriter, r *http.Request) {
	user, sessionID, state, ok := h.challengeSession(w, r)
	if !ok {
		return
	}

	decision, next, err := h.resolver.UseEmailCode(r.Context(), user, state)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to send verification code")
		return
	}
	if next != state && !h.saveState(w, r, sessionID, next) {
		return
	}
	httputil.JSON(w, http.StatusOK, decision)
}

// Verify handles POST /v1/auth/mfa/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	user, sessionID, state, ok := h.challengeSession(w, r)
	if !ok {
		return
	}
	var req ChallengeVerifyRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}
	requested, _ := domain.ParseChallengeMode(req.Type)

	decision, next, err := h.resolver.Verify(r.Context(), user, state, req.Code, requested)
	if errors.Is(err, domain.ErrInvalidVerificationCode) {
		httputil.JSON(w, http.StatusUnprocessableEntity, struct {
			Error string `json:"error"`
			*domain.ChallengeDecision
		}{Error: err.Error(), ChallengeDecision: decision})
		return
	}
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to verify MFA code")
		return
	}
	if next != state && !h.saveState(w, r, sessionID, next) {
		return
	}
	httputil.JSON(w, http.StatusOK, decision)
}
