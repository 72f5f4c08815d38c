package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// MFAConfig contains configuration for the MFA service
type MFAConfig struct {
	Issuer        string // e.g., "Simple MFA"
	EncryptionKey []byte // 32 bytes for AES-256
	EmailCodeTTL  time.Duration
	// RequireVerifiedEmail refuses email MFA for accounts whose email is unconfirmed.
	RequireVerifiedEmail bool
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// MFAService manages a user's second factors.
type MFAService struct {
	config   MFAConfig
	store    MFAConfigStore
	users    UserStore
	mailer   Mailer
	totp     *TOTPEngine
	box      *SecretBox
	logger   *slog.Logger
	observer Observer
}

// NewMFAService creates a new MFA service
func NewMFAService(
	config MFAConfig,
	store MFAConfigStore,
	users UserStore,
	mailer Mailer,
	logger *slog.Logger,
) (*MFAService, error) {
	box, err := NewSecretBox(config.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if config.EmailCodeTTL == 0 {
		config.EmailCodeTTL = DefaultCodeTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MFAService{
		config:   config,
		store:    store,
		users:    users,
		mailer:   mailer,
		totp:     NewTOTPEngine(config.Issuer),
		box:      box,
		logger:   logger,
		observer: NopObserver,
	}, nil
}

// WithObserver attaches an event observer.
func (s *MFAService) WithObserver(o Observer) *MFAService {
	s.observer = o
	return s
}

// Configuration returns the user's MFA configuration, or an empty one if the
// user never started any setup.
func (s *MFAService) Configuration(ctx context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error) {
	cfg, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrMFANotConfigured) {
		return &domain.MFAConfiguration{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsEnabled reports whether any factor is active for the user.
func (s *MFAService) IsEnabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	cfg, err := s.Configuration(ctx, userID)
	if err != nil {
		return false, err
	}
	return cfg.HasAnyMFAEnabled(), nil
}

// Status returns the MFA status for a user
func (s *MFAService) Status(ctx context.Context, userID uuid.UUID) (*domain.MFAStatus, error) {
	cfg, err := s.Configuration(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.MFAStatus{
		Enabled:                cfg.HasAnyMFAEnabled(),
		TOTPEnabled:            cfg.TOTPEnabled,
		EmailEnabled:           cfg.EmailEnabled,
		TOTPPending:            cfg.HasPendingTOTP(),
		RecoveryCodesRemaining: len(cfg.RecoveryCodes),
	}, nil
}

// SetupTOTP starts TOTP enrollment: it stores a pending secret and a fresh
// recovery code set, and returns both in plain text once.
func (s *MFAService) SetupTOTP(ctx context.Context, user *domain.User) (*domain.TOTPSetup, error) {
	cfg, err := s.store.GetOrCreate(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if cfg.TOTPEnabled {
		return nil, domain.ErrTOTPAlreadyEnabled
	}

	key, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	uri, err := s.totp.ProvisioningURI(user.Email, key.Secret())
	if err != nil {
		return nil, err
	}
	qrDataURI, err := s.totp.QRCodeDataURI(key)
	if err != nil {
		return nil, err
	}
	sealed, err := s.box.Seal(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}
	recoveryCodes, err := GenerateRecoverySet(recoveryCodeCount)
	if err != nil {
		return nil, err
	}
	digests := hashRecoverySet(recoveryCodes)

	err = s.store.Update(ctx, user.ID, func(cfg *domain.MFAConfiguration) error {
		if cfg.TOTPEnabled {
			return domain.ErrTOTPAlreadyEnabled
		}
		cfg.SecretEncrypted = &sealed
		cfg.RecoveryCodes = digests
		cfg.UpdatedAt = s.config.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("TOTP setup started", "user_id", user.ID)
	return &domain.TOTPSetup{
		Secret:          key.Secret(),
		ProvisioningURI: uri,
		QRCodeDataURI:   qrDataURI,
		RecoveryCodes:   recoveryCodes,
	}, nil
}

// EnableTOTP confirms a pending TOTP enrollment with a code from the authenticator.
func (s *MFAService) EnableTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	now := s.config.Now()
	err := s.store.Update(ctx, userID, func(cfg *domain.MFAConfiguration) error {
		if cfg.TOTPEnabled {
			return domain.ErrTOTPAlreadyEnabled
		}
		if !cfg.HasSecret() {
			return domain.ErrTOTPNotPending
		}
		secret, err := s.box.Open(*cfg.SecretEncrypted)
		if err != nil {
			return fmt.Errorf("failed to decrypt TOTP secret: %w", err)
		}
		if !s.totp.Verify(secret, code, now) {
			return domain.ErrInvalidVerificationCode
		}
		cfg.TOTPEnabled = true
		cfg.VerifiedAt = &now
		cfg.UpdatedAt = now
		cfg.RecomputeEnabled()
		return nil
	})
	if errors.Is(err, domain.ErrMFANotConfigured) {
		return domain.ErrTOTPNotPending
	}
	if err != nil {
		return err
	}
	s.logger.Info("TOTP enabled", "user_id", userID)
	return nil
}

// DisableTOTP turns TOTP off and discards the secret. A pending enrollment is
// cancelled the same way. Password confirmation is the caller's job.
func (s *MFAService) DisableTOTP(ctx context.Context, userID uuid.UUID) error {
	err := s.store.Update(ctx, userID, func(cfg *domain.MFAConfiguration) error {
		if !cfg.TOTPEnabled && !cfg.HasSecret() {
			return domain.ErrTOTPNotEnabled
		}
		cfg.DisableTOTP()
		cfg.UpdatedAt = s.config.Now()
		return nil
	})
	if errors.Is(err, domain.ErrMFANotConfigured) {
		return domain.ErrTOTPNotEnabled
	}
	if err != nil {
		return err
	}
	s.logger.Info("TOTP disabled", "user_id", userID)
	return nil
}

// BeginEmailMFASetup sends the code that EnableEmailMFA will confirm.
func (s *MFAService) BeginEmailMFASetup(ctx context.Context, user *domain.User) error {
	if s.config.RequireVerifiedEmail && !user.IsEmailVerified() {
		return domain.ErrEmailNotVerified
	}
	cfg, err := s.store.GetOrCreate(ctx, user.ID)
	if err != nil {
		return err
	}
	if cfg.EmailEnabled {
		return domain.ErrEmailMFAAlreadyEnabled
	}
	return s.SendEmailCode(ctx, user)
}

// SendEmailCode stores a fresh email MFA code on the configuration and mails it.
// The same code serves email MFA setup and the login challenge.
func (s *MFAService) SendEmailCode(ctx context.Context, user *domain.User) error {
	code, err := GenerateNumericCode()
	if err != nil {
		return err
	}
	if _, err := s.store.GetOrCreate(ctx, user.ID); err != nil {
		return err
	}

	now := s.config.Now()
	err = s.store.Update(ctx, user.ID, func(cfg *domain.MFAConfiguration) error {
		cfg.SetEmailCode(code, now.Add(s.config.EmailCodeTTL))
		cfg.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store email MFA code: %w", err)
	}

	if err := s.mailer.SendMFACode(ctx, user.Email, code); err != nil {
		s.logger.Error("failed to send email MFA code", "user_id", user.ID, "error", err)
		clearErr := s.store.Update(context.WithoutCancel(ctx), user.ID, func(cfg *domain.MFAConfiguration) error {
			cfg.ClearEmailCode()
			return nil
		})
		if clearErr != nil {
			s.logger.Error("failed to discard undelivered email MFA code", "user_id", user.ID, "error", clearErr)
		}
		return fmt.Errorf("%w: %w", domain.ErrDispatchFailure, err)
	}

	s.observer.CodeSent(mfaEmailKind)
	s.logger.Info("email MFA code sent", "user_id", user.ID)
	return nil
}

// EnableEmailMFA confirms email MFA with the code sent by BeginEmailMFASetup.
// If the user holds no recovery codes yet, a new set is generated and returned.
func (s *MFAService) EnableEmailMFA(ctx context.Context, user *domain.User, code string) ([]string, error) {
	if s.config.RequireVerifiedEmail && !user.IsEmailVerified() {
		return nil, domain.ErrEmailNotVerified
	}

	recoveryCodes, err := GenerateRecoverySet(recoveryCodeCount)
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	var issued []string
	var rejected error
	err = s.store.Update(ctx, user.ID, func(cfg *domain.MFAConfiguration) error {
		if cfg.EmailEnabled {
			return domain.ErrEmailMFAAlreadyEnabled
		}
		if !s.checkEmailCode(cfg, code, now) {
			rejected = domain.ErrInvalidVerificationCode
			return nil
		}
		cfg.EmailEnabled = true
		cfg.VerifiedAt = &now
		cfg.RecomputeEnabled()
		if len(cfg.RecoveryCodes) == 0 {
			cfg.RecoveryCodes = hashRecoverySet(recoveryCodes)
			issued = recoveryCodes
		}
		return nil
	})
	if errors.Is(err, domain.ErrMFANotConfigured) {
		return nil, domain.ErrInvalidVerificationCode
	}
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}

	s.logger.Info("email MFA enabled", "user_id", user.ID)
	return issued, nil
}

// DisableEmailMFA turns email MFA off. Password confirmation is the caller's job.
func (s *MFAService) DisableEmailMFA(ctx context.Context, userID uuid.UUID) error {
	err := s.store.Update(ctx, userID, func(cfg *domain.MFAConfiguration) error {
		if !cfg.EmailEnabled {
			return domain.ErrEmailMFANotEnabled
		}
		cfg.DisableEmail()
		cfg.UpdatedAt = s.config.Now()
		return nil
	})
	if errors.Is(err, domain.ErrMFANotConfigured) {
		return domain.ErrEmailMFANotEnabled
	}
	if err != nil {
		return err
	}
	s.logger.Info("email MFA disabled", "user_id", userID)
	return nil
}

// DisableAll turns off every factor and drops the recovery codes.
func (s *MFAService) DisableAll(ctx context.Context, userID uuid.UUID) error {
	err := s.store.Update(ctx, userID, func(cfg *domain.MFAConfiguration) error {
		if !cfg.HasAnyMFAEnabled() && !cfg.HasSecret() {
			return domain.ErrMFANotEnabled
		}
		cfg.DisableTOTP()
		cfg.DisableEmail()
		cfg.RecoveryCodes = nil
		cfg.UpdatedAt = s.config.Now()
		return nil
	})
	if errors.Is(err, domain.ErrMFANotConfigured) {
		return domain.ErrMFANotEnabled
	}
	if err != nil {
		return err
	}
	s.logger.Info("MFA disabled", "user_id", userID)
	return nil
}

// VerifyEmailCode checks the outstanding email MFA code. A failed check
// counts against the code's attempt limit; a successful one consumes the code.
func (s *MFAService) VerifyEmailCode(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	now := s.config.Now()
	var ok bool
	err := s.store.Update(ctx, userID, func(cfg *domain.MFAConfiguration) error {
		ok = s.checkEmailCode(cfg, code, now)
		return nil
	})
	if errors.Is(err, domain.ErrMFANotConfigured) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.observer.CodeVerified(mfaEmailKind, ok)
	return ok, nil
}

// checkEmailCode applies the shared email MFA code rules to cfg in place.
func (s *MFAService) checkEmailCode(cfg *domain.MFAConfiguration, code string, now time.Time) bool {
	if cfg.IsEmailCodeValid(code, now) {
		cfg.ClearEmailCode()
		cfg.UpdatedAt = now
		return true
	}
	if cfg.EmailCode != nil {
		cfg.IncrementEmailCodeAttempts()
		cfg.UpdatedAt = now
	}
	return false
}

// VerifyTOTP verifies a TOTP code for a user with TOTP enabled.
func (s *MFAService) VerifyTOTP(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	cfg, err := s.Configuration(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.verifyTOTP(cfg, code)
}

func (s *MFAService) verifyTOTP(cfg *domain.MFAConfiguration, code string) (bool, error) {
	if !cfg.TOTPEnabled || !cfg.HasSecret() {
		return false, nil
	}
	secret, err := s.box.Open(*cfg.SecretEncrypted)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}
	return s.totp.Verify(secret, code, s.config.Now()), nil
}

// VerifyRecoveryCode consumes a recovery code. Each code succeeds at most once,
// even when two requests race with the same code.
func (s *MFAService) VerifyRecoveryCode(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}
	ok, err := s.store.ConsumeRecoveryCode(ctx, userID, HashRecoveryCode(code))
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	if ok {
		s.observer.RecoveryCodeConsumed()
		s.logger.Info("recovery code used", "user_id", userID)
	}
	return ok, nil
}

// RegenerateRecoveryCodes replaces the user's recovery codes with a new set.
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	cfg, err := s.Configuration(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cfg.HasAnyMFAEnabled() {
		return nil, domain.ErrMFANotEnabled
	}

	codes, err := GenerateRecoverySet(recoveryCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceRecoveryCodes(ctx, userID, hashRecoverySet(codes)); err != nil {
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}
	s.logger.Info("recovery codes regenerated", "user_id", userID)
	return codes, nil
}
