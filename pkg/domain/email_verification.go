package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxCodeAttempts is the number of failed submissions a code tolerates.
const MaxCodeAttempts = 3

// EmailVerification is a purpose-scoped one-time code sent to the user's email.
// There is at most one row per (UserID, Purpose); sending overwrites it.
type EmailVerification struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Purpose    Purpose
	Code       string
	ExpiresAt  time.Time
	Attempts   int
	VerifiedAt *time.Time
	SentAt     time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsVerified returns true once the code has been used successfully.
func (v *EmailVerification) IsVerified() bool {
	return v.VerifiedAt != nil
}

// HasExpired returns true if the code is past its expiry at now.
func (v *EmailVerification) HasExpired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// HasMaxAttemptsReached returns true when no further submissions are accepted.
func (v *EmailVerification) HasMaxAttemptsReached() bool {
	return v.Attempts >= MaxCodeAttempts
}

// IsPending returns true for an unverified, unexpired code.
func (v *EmailVerification) IsPending(now time.Time) bool {
	return !v.IsVerified() && !v.HasExpired(now)
}

// VerificationStatus summarises the state of a (user, purpose) pair.
type VerificationStatus struct {
	HasPending    bool       `json:"has_pending"`
	IsVerified    bool       `json:"is_verified"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Attempts      int        `json:"attempts"`
	CanRequestNew bool       `json:"can_request_new"`
}
