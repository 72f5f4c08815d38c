package email

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-mfa/internal/http/features/common"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/auth"
	"github.com/tendant/simple-mfa/pkg/domain"
)

var verifiedMessages = map[domain.Purpose]string{
	domain.PurposeVerification:    "Email verified successfully!",
	domain.PurposePasswordReset:   "Identity verified. You can now reset your password.",
	domain.PurposeEmailChange:     "Email change verified successfully!",
	domain.PurposeAccountDeletion: "Account deletion verified.",
	domain.PurposeSensitiveAction: "Identity verified successfully.",
}

// Handler handles email verification endpoints.
type Handler struct {
	logger              *slog.Logger
	verificationService *auth.EmailVerificationService
	users               auth.UserStore
}

// NewHandler creates a new email verification handler.
func NewHandler(
	logger *slog.Logger,
	verificationService *auth.EmailVerificationService,
	users auth.UserStore,
) *Handler {
	return &Handler{
		logger:              logger,
		verificationService: verificationService,
		users:               users,
	}
}

// PurposeRequest selects the purpose; it defaults to verification.
type PurposeRequest struct {
	Purpose string `json:"purpose" validate:"omitempty,oneof=verification password_reset email_change account_deletion sensitive_action"`
}

// VerifyRequest represents a code submission.
type VerifyRequest struct {
	Code    string `json:"code" validate:"required,len=6,numeric"`
	Purpose string `json:"purpose" validate:"omitempty,oneof=verification password_reset email_change account_deletion sensitive_action"`
}

// ActionRequest selects one of the sensitive actions.
type ActionRequest struct {
	Action string `json:"action" validate:"required,oneof=password_reset email_change account_deletion sensitive_action"`
}

// ActionVerifyRequest represents a code submission for a sensitive action.
type ActionVerifyRequest struct {
	Code   string `json:"code" validate:"required,len=6,numeric"`
	Action string `json:"action" validate:"required,oneof=password_reset email_change account_deletion sensitive_action"`
}

// MessageResponse is the body of successful replies.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse describes the verification state for one purpose.
type StatusResponse struct {
	Status *domain.VerificationStatus `json:"status"`
	Email  string                     `json:"email"`
}

func purposeOrDefault(raw string) domain.Purpose {
	if raw == "" {
		return domain.PurposeVerification
	}
	return domain.Purpose(raw)
}

// Send sends a code for a purpose, subject to the resend cooldown.
// POST /v1/me/email-verification/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	h.resend(w, r, "Verification code sent to your email address.")
}

// Resend sends a fresh code for a purpose, subject to the resend cooldown.
// POST /v1/me/email-verification/resend
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	h.resend(w, r, "A new verification code has been sent to your email.")
}

func (h *Handler) resend(w http.ResponseWriter, r *http.Request, message string) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	var req PurposeRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	sent, err := h.verificationService.ResendCode(r.Context(), user, purposeOrDefault(req.Purpose))
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to send verification code")
		return
	}
	if !sent {
		common.WriteError(w, h.logger, domain.ErrResendTooSoon, "failed to send verification code")
		return
	}
	httputil.JSON(w, http.StatusOK, MessageResponse{Success: true, Message: message})
}

// Verify checks a code and reports the specific reason on failure.
// POST /v1/me/email-verification/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	var req VerifyRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	purpose := purposeOrDefault(req.Purpose)
	err := h.verificationService.CheckCode(r.Context(), user, req.Code, purpose)
	switch {
	case err == nil:
		httputil.JSON(w, http.StatusOK, MessageResponse{Success: true, Message: verifiedMessages[purpose]})
	case errors.Is(err, domain.ErrUnknownPurpose):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrAttemptsExhausted),
		errors.Is(err, domain.ErrMismatch):
		httputil.Error(w, http.StatusUnprocessableEntity, auth.VerificationFailureMessage(err))
	default:
		common.WriteError(w, h.logger, err, "failed to verify code")
	}
}

// Status reports the verification state for ?purpose= (default verification).
// GET /v1/me/email-verification/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	purpose := purposeOrDefault(r.URL.Query().Get("purpose"))
	status, err := h.verificationService.GetVerificationStatus(r.Context(), user, purpose)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to load verification status")
		return
	}
	httputil.JSON(w, http.StatusOK, StatusResponse{Status: status, Email: user.Email})
}

// SendAction sends a code gating a sensitive action. There is no cooldown.
// POST /v1/me/email-verification/action/send
func (h *Handler) SendAction(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	var req ActionRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	if _, err := h.verificationService.SendActionVerificationCode(r.Context(), user, req.Action); err != nil {
		common.WriteError(w, h.logger, err, "Failed to send verification code. Please try again.")
		return
	}
	httputil.JSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Verification code sent to your email address."})
}

// VerifyAction checks a code gating a sensitive action.
// POST /v1/me/email-verification/action/verify
func (h *Handler) VerifyAction(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	var req ActionVerifyRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	verified, err := h.verificationService.VerifyActionCode(r.Context(), user, req.Code, req.Action)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to verify code")
		return
	}
	if !verified {
		httputil.JSON(w, http.StatusUnprocessableEntity, MessageResponse{Message: "Invalid or expired verification code."})
		return
	}
	httputil.JSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Verification successful!"})
}
