package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// Default email verification timings
const (
	DefaultCodeTTL             = 10 * time.Minute
	DefaultResendCooldown      = 60 * time.Second
	DefaultVerifiedRetention   = 7 * 24 * time.Hour
	DefaultActionVerifiedScope = 24 * time.Hour
)

// EmailVerificationConfig holds timings for email verification codes.
type EmailVerificationConfig struct {
	CodeTTL           time.Duration
	ResendCooldown    time.Duration
	VerifiedRetention time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// EmailVerificationService sends and checks purpose-scoped email codes.
type EmailVerificationService struct {
	config   EmailVerificationConfig
	store    EmailVerificationStore
	users    UserStore
	mailer   Mailer
	logger   *slog.Logger
	observer Observer
}

// NewEmailVerificationService creates a new email verification service.
func NewEmailVerificationService(
	config EmailVerificationConfig,
	store EmailVerificationStore,
	users UserStore,
	mailer Mailer,
	logger *slog.Logger,
) *EmailVerificationService {
	if config.CodeTTL == 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	if config.ResendCooldown == 0 {
		config.ResendCooldown = DefaultResendCooldown
	}
	if config.VerifiedRetention == 0 {
		config.VerifiedRetention = DefaultVerifiedRetention
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailVerificationService{
		config:   config,
		store:    store,
		users:    users,
		mailer:   mailer,
		logger:   logger,
		observer: NopObserver,
	}
}

// WithObserver attaches an event observer.
func (s *EmailVerificationService) WithObserver(o Observer) *EmailVerificationService {
	s.observer = o
	return s
}

// CodeTTL returns how long a sent code stays valid.
func (s *EmailVerificationService) CodeTTL() time.Duration {
	return s.config.CodeTTL
}

// SendCode generates a fresh code for (user, purpose), replaces any previous
// one and emails it. The code is returned to the caller.
func (s *EmailVerificationService) SendCode(ctx context.Context, user *domain.User, purpose domain.Purpose) (string, error) {
	if !purpose.Valid() {
		return "", domain.ErrUnknownPurpose
	}

	code, err := GenerateNumericCode()
	if err != nil {
		return "", err
	}

	now := s.config.Now()
	rec := &domain.EmailVerification{
		ID:        uuid.New(),
		UserID:    user.ID,
		Purpose:   purpose,
		Code:      code,
		ExpiresAt: now.Add(s.config.CodeTTL),
		Attempts:  0,
		SentAt:    now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to store verification code: %w", err)
	}

	if err := s.mailer.SendVerificationCode(ctx, user.Email, code, purpose); err != nil {
		s.logger.Error("failed to send verification code",
			"user_id", user.ID,
			"purpose", purpose,
			"error", err,
		)
		// An undelivered code must not look pending or hold the resend cooldown.
		if delErr := s.store.Delete(context.WithoutCancel(ctx), user.ID, purpose); delErr != nil {
			s.logger.Error("failed to discard undelivered verification code",
				"user_id", user.ID,
				"purpose", purpose,
				"error", delErr,
			)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrDispatchFailure, err)
	}

	s.observer.CodeSent(string(purpose))
	s.logger.Info("verification code sent", "user_id", user.ID, "purpose", purpose)
	return code, nil
}

// CheckCode verifies a submitted code and reports why it was rejected.
// It returns nil on success, or one of ErrVerificationNotFound,
// ErrVerificationAlreadyUsed, ErrVerificationExpired,
// ErrVerificationAttemptsExhausted and ErrVerificationMismatch.
func (s *EmailVerificationService) CheckCode(ctx context.Context, user *domain.User, code string, purpose domain.Purpose) error {
	if !purpose.Valid() {
		return domain.ErrUnknownPurpose
	}

	now := s.config.Now()
	var rejected error
	var markedVerified bool
	err := s.store.Update(ctx, user.ID, purpose, func(rec *domain.EmailVerification) error {
		switch {
		case rec.IsVerified():
			return domain.ErrVerificationAlreadyUsed
		case rec.HasExpired(now):
			return domain.ErrVerificationExpired
		case rec.HasMaxAttemptsReached():
			return domain.ErrVerificationAttemptsExhausted
		}

		rec.UpdatedAt = now
		if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
			rec.Attempts++
			rejected = domain.ErrVerificationMismatch
			return nil
		}
		// The account flag is written before the row so a failure leaves
		// the code pending.
		if purpose == domain.PurposeVerification && !user.IsEmailVerified() {
			if err := s.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
				return fmt.Errorf("failed to mark email verified: %w", err)
			}
			markedVerified = true
		}
		rec.VerifiedAt = &now
		rec.Attempts = 0
		return nil
	})
	if err == nil {
		err = rejected
	}
	if err != nil {
		if isCodeRejection(err) {
			s.observer.CodeVerified(string(purpose), false)
		}
		return err
	}

	s.observer.CodeVerified(string(purpose), true)

	if markedVerified {
		user.EmailVerifiedAt = &now
		s.logger.Info("email verified", "user_id", user.ID)
	}
	return nil
}

// VerifyCode verifies a submitted code. Every rejection reason collapses to
// false; only infrastructure failures are returned as errors.
func (s *EmailVerificationService) VerifyCode(ctx context.Context, user *domain.User, code string, purpose domain.Purpose) (bool, error) {
	err := s.CheckCode(ctx, user, code, purpose)
	if err == nil {
		return true, nil
	}
	if isCodeRejection(err) {
		return false, nil
	}
	return false, err
}

// CanResend reports whether the resend cooldown for (user, purpose) has passed.
func (s *EmailVerificationService) CanResend(ctx context.Context, userID uuid.UUID, purpose domain.Purpose) (bool, error) {
	rec, err := s.store.GetLatest(ctx, userID, purpose)
	if errors.Is(err, domain.ErrVerificationNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return s.config.Now().Sub(rec.SentAt) >= s.config.ResendCooldown, nil
}

// ResendCode sends a new code unless the previous one went out within the
// cooldown, in which case it returns false and changes nothing.
func (s *EmailVerificationService) ResendCode(ctx context.Context, user *domain.User, purpose domain.Purpose) (bool, error) {
	if !purpose.Valid() {
		return false, domain.ErrUnknownPurpose
	}
	ok, err := s.CanResend(ctx, user.ID, purpose)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Info("verification code resend throttled", "user_id", user.ID, "purpose", purpose)
		return false, nil
	}
	if _, err := s.SendCode(ctx, user, purpose); err != nil {
		return false, err
	}
	return true, nil
}

// GetVerificationStatus summarises the code state for (user, purpose).
func (s *EmailVerificationService) GetVerificationStatus(ctx context.Context, user *domain.User, purpose domain.Purpose) (*domain.VerificationStatus, error) {
	if !purpose.Valid() {
		return nil, domain.ErrUnknownPurpose
	}

	status := &domain.VerificationStatus{
		IsVerified: purpose == domain.PurposeVerification && user.IsEmailVerified(),
	}

	rec, err := s.store.GetLatest(ctx, user.ID, purpose)
	if errors.Is(err, domain.ErrVerificationNotFound) {
		status.CanRequestNew = true
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	expiresAt := rec.ExpiresAt
	status.HasPending = rec.IsPending(now)
	status.IsVerified = status.IsVerified || rec.IsVerified()
	status.ExpiresAt = &expiresAt
	status.Attempts = rec.Attempts
	status.CanRequestNew = rec.IsVerified() || rec.HasExpired(now)
	return status, nil
}

// IsVerifiedWithin reports whether a code for (user, purpose) was verified
// during the last window.
func (s *EmailVerificationService) IsVerifiedWithin(ctx context.Context, userID uuid.UUID, purpose domain.Purpose, window time.Duration) (bool, error) {
	rec, err := s.store.GetLatest(ctx, userID, purpose)
	if errors.Is(err, domain.ErrVerificationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.IsVerified() {
		return false, nil
	}
	return rec.VerifiedAt.After(s.config.Now().Add(-window)), nil
}

// CleanupExpiredCodes deletes expired codes and codes verified longer ago
// than the retention period.
func (s *EmailVerificationService) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	now := s.config.Now()
	n, err := s.store.DeleteExpired(ctx, now, now.Add(-s.config.VerifiedRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up verification codes: %w", err)
	}
	s.observer.CodesCleaned(n)
	return n, nil
}

// SendActionVerificationCode sends a code gating one of the sensitive actions.
func (s *EmailVerificationService) SendActionVerificationCode(ctx context.Context, user *domain.User, action string) (string, error) {
	purpose, err := domain.ParseActionPurpose(action)
	if err != nil {
		return "", err
	}
	return s.SendCode(ctx, user, purpose)
}

// VerifyActionCode verifies a code gating one of the sensitive actions.
func (s *EmailVerificationService) VerifyActionCode(ctx context.Context, user *domain.User, code, action string) (bool, error) {
	purpose, err := domain.ParseActionPurpose(action)
	if err != nil {
		return false, err
	}
	return s.VerifyCode(ctx, user, code, purpose)
}

// VerificationFailureMessage returns the user-facing message for a CheckCode error.
func VerificationFailureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAttemptsExhausted):
		return "Too many failed attempts. Please request a new code."
	case errors.Is(err, domain.ErrExpired):
		return "The verification code has expired. Please request a new one."
	default:
		return "The verification code is invalid."
	}
}

func isCodeRejection(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrExpired) ||
		errors.Is(err, domain.ErrAttemptsExhausted) ||
		errors.Is(err, domain.ErrMismatch)
}
