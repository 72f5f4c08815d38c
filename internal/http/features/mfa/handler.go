package mfa

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/internal/http/features/common"
	"github.com/tendant/simple-mfa/internal/httputil"
	"github.com/tendant/simple-mfa/pkg/auth"
)

// Handler handles MFA management and the login-time challenge.
type Handler struct {
	logger          *slog.Logger
	users           auth.UserStore
	mfaService      *auth.MFAService
	resolver        *auth.ChallengeResolver
	passwordService *auth.PasswordService
	sessionService  *auth.SessionService
}

// NewHandler creates a new MFA handler
func NewHandler(
	logger *slog.Logger,
	users auth.UserStore,
	mfaService *auth.MFAService,
	resolver *auth.ChallengeResolver,
	passwordService *auth.PasswordService,
	sessionService *auth.SessionService,
) *Handler {
	return &Handler{
		logger:          logger,
		users:           users,
		mfaService:      mfaService,
		resolver:        resolver,
		passwordService: passwordService,
		sessionService:  sessionService,
	}
}

// CodeRequest carries a 6-digit code.
type CodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// PasswordRequest carries the current password for confirming a change.
type PasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// TOTPSetupResponse is returned once when TOTP enrollment starts.
type TOTPSetupResponse struct {
	QRCode          string   `json:"qr_code"`
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	RecoveryCodes   []string `json:"recovery_codes"`
}

// RecoveryCodesResponse carries plain-text recovery codes, shown once.
type RecoveryCodesResponse struct {
	Message       string   `json:"message"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

// MessageResponse is the body of successful replies without data.
type MessageResponse struct {
	Message string `json:"message"`
}

// Status handles GET /v1/me/mfa/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	status, err := h.mfaService.Status(r.Context(), user.ID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to get MFA status")
		return
	}
	httputil.JSON(w, http.StatusOK, status)
}

// SetupTOTP handles POST /v1/me/mfa/totp/setup
func (h *Handler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	setup, err := h.mfaService.SetupTOTP(r.Context(), user)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to set up TOTP")
		return
	}

	httputil.JSON(w, http.StatusOK, TOTPSetupResponse{
		QRCode:          setup.QRCodeDataURI,
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		RecoveryCodes:   setup.RecoveryCodes,
	})
}

// EnableTOTP handles POST /v1/me/mfa/totp/enable
func (h *Handler) EnableTOTP(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	var req CodeRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	if err := h.mfaService.EnableTOTP(r.Context(), user.ID, req.Code); err != nil {
		common.WriteError(w, h.logger, err, "failed to enable TOTP")
		return
	}
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "Authenticator App MFA has been enabled successfully."})
}

// DisableTOTP handles POST /v1/me/mfa/totp/disable
func (h *Handler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	h.disable(w, r, h.mfaService.DisableTOTP, "Authenticator App MFA has been disabled.")
}

// SendEmailSetupCode handles POST /v1/me/mfa/email/send
func (h *Handler) SendEmailSetupCode(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	if err := h.mfaService.BeginEmailMFASetup(r.Context(), user); err != nil {
		common.WriteError(w, h.logger, err, "failed to send verification code")
		return
	}
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "A verification code has been sent to your email address."})
}

// EnableEmail handles POST /v1/me/mfa/email/enable
func (h *Handler) EnableEmail(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	var req CodeRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	codes, err := h.mfaService.EnableEmailMFA(r.Context(), user, req.Code)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to enable email MFA")
		return
	}
	httputil.JSON(w, http.StatusOK, RecoveryCodesResponse{
		Message:       "Email MFA has been enabled successfully.",
		RecoveryCodes: codes,
	})
}

// DisableEmail handles POST /v1/me/mfa/email/disable
func (h *Handler) DisableEmail(w http.ResponseWriter, r *http.Request) {
	h.disable(w, r, h.mfaService.DisableEmailMFA, "Email MFA has been disabled.")
}

// DisableAll handles POST /v1/me/mfa/disable
func (h *Handler) DisableAll(w http.ResponseWriter, r *http.Request) {
	h.disable(w, r, h.mfaService.DisableAll, "All MFA has been disabled.")
}

// RegenerateRecoveryCodes handles POST /v1/me/mfa/recovery-codes
func (h *Handler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}

	codes, err := h.mfaService.RegenerateRecoveryCodes(r.Context(), user.ID)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to regenerate recovery codes")
		return
	}
	httputil.JSON(w, http.StatusOK, RecoveryCodesResponse{
		Message:       "Recovery codes have been regenerated.",
		RecoveryCodes: codes,
	})
}

// disable confirms the password before switching factors off.
func (h *Handler) disable(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID uuid.UUID) error, message string) {
	user, ok := common.CurrentUser(w, r, h.users, h.logger)
	if !ok {
		return
	}
	var req PasswordRequest
	if !common.DecodeRequest(w, r, &req) {
		return
	}

	if err := h.passwordService.ConfirmPassword(user, req.Password); err != nil {
		common.WriteError(w, h.logger, err, "failed to confirm password")
		return
	}
	if err := fn(r.Context(), user.ID); err != nil {
		common.WriteError(w, h.logger, err, "failed to disable MFA")
		return
	}
	h.logger.Info("MFA disabled", "user_id", user.ID, "path", r.URL.Path)
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: message})
}
