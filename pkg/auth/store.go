package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// EmailVerificationStore persists purpose-scoped email codes.
type EmailVerificationStore interface {
	// Upsert inserts or overwrites the row for (rec.UserID, rec.Purpose).
	Upsert(ctx context.Context, rec *domain.EmailVerification) error
	// GetLatest returns domain.ErrVerificationNotFound when no row exists.
	GetLatest(ctx context.Context, userID uuid.UUID, purpose domain.Purpose) (*domain.EmailVerification, error)
	// Update locks the row, applies fn and writes the row back if fn returns nil.
	Update(ctx context.Context, userID uuid.UUID, purpose domain.Purpose, fn func(*domain.EmailVerification) error) error
	Delete(ctx context.Context, userID uuid.UUID, purpose domain.Purpose) error
	// DeleteExpired removes rows expired at now or verified before verifiedBefore.
	DeleteExpired(ctx context.Context, now, verifiedBefore time.Time) (int64, error)
}

// MFAConfigStore persists per-user MFA configuration.
type MFAConfigStore interface {
	// Get returns domain.ErrMFANotConfigured when no row exists.
	Get(ctx context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error)
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error)
	// Update locks the row, applies fn and writes the row back if fn returns nil.
	Update(ctx context.Context, userID uuid.UUID, fn func(*domain.MFAConfiguration) error) error
	// ConsumeRecoveryCode removes digest from the user's set if present.
	// At most one concurrent caller observes true for the same digest.
	ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, digest string) (bool, error)
	ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, digests []string) error
}

// UserStore is the subset of account persistence the MFA core needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// MarkEmailVerified is a no-op for accounts already verified.
	MarkEmailVerified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Mailer delivers one-time codes.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, code string, purpose domain.Purpose) error
	SendMFACode(ctx context.Context, to, code string) error
}

// Observer receives events for metrics.
type Observer interface {
	CodeSent(kind string)
	CodeVerified(kind string, ok bool)
	ChallengeVerified(mode domain.ChallengeMode, ok bool)
	RecoveryCodeConsumed()
	CodesCleaned(n int64)
}

// mfaEmailKind labels email MFA codes in Observer events.
const mfaEmailKind = "mfa_email"

type nopObserver struct{}

func (nopObserver) CodeSent(string)                              {}
func (nopObserver) CodeVerified(string, bool)                    {}
func (nopObserver) ChallengeVerified(domain.ChallengeMode, bool) {}
func (nopObserver) RecoveryCodeConsumed()                        {}
func (nopObserver) CodesCleaned(int64)                           {}

// NopObserver discards all events.
var NopObserver Observer = nopObserver{}
