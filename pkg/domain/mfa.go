package domain

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
)

// MFAConfiguration is the per-user multi-factor state.
type MFAConfiguration struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Enabled      bool // derived: TOTPEnabled || EmailEnabled
	TOTPEnabled  bool
	EmailEnabled bool
	// SecretEncrypted is set from TOTP setup until TOTP is disabled.
	// While TOTPEnabled is false it holds a pending enrollment.
	SecretEncrypted    *string
	RecoveryCodes      []string // SHA-256 digests, one per unused code
	EmailCode          *string
	EmailCodeExpiresAt *time.Time
	EmailCodeAttempts  int
	VerifiedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasAnyMFAEnabled reports whether at least one factor is active.
func (c *MFAConfiguration) HasAnyMFAEnabled() bool {
	if c == nil {
		return false
	}
	return c.TOTPEnabled || c.EmailEnabled
}

// RecomputeEnabled refreshes the denormalised Enabled flag.
func (c *MFAConfiguration) RecomputeEnabled() {
	c.Enabled = c.HasAnyMFAEnabled()
}

// HasSecret reports whether a TOTP secret is stored.
func (c *MFAConfiguration) HasSecret() bool {
	return c != nil && c.SecretEncrypted != nil && *c.SecretEncrypted != ""
}

// HasPendingTOTP reports whether setup was started but not confirmed.
func (c *MFAConfiguration) HasPendingTOTP() bool {
	return c.HasSecret() && !c.TOTPEnabled
}

// HasPendingEmailCode reports whether an email MFA code is outstanding and usable.
func (c *MFAConfiguration) HasPendingEmailCode(now time.Time) bool {
	return c != nil && c.EmailCode != nil && c.EmailCodeExpiresAt != nil &&
		now.Before(*c.EmailCodeExpiresAt) && c.EmailCodeAttempts < MaxCodeAttempts
}

// IsEmailCodeValid checks a submitted email MFA code without mutating state.
func (c *MFAConfiguration) IsEmailCodeValid(code string, now time.Time) bool {
	if !c.HasPendingEmailCode(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*c.EmailCode), []byte(code)) == 1
}

// SetEmailCode stores a fresh email MFA code and resets its attempt counter.
func (c *MFAConfiguration) SetEmailCode(code string, expiresAt time.Time) {
	c.EmailCode = &code
	c.EmailCodeExpiresAt = &expiresAt
	c.EmailCodeAttempts = 0
}

// IncrementEmailCodeAttempts records a failed email MFA code submission.
func (c *MFAConfiguration) IncrementEmailCodeAttempts() {
	c.EmailCodeAttempts++
}

// ClearEmailCode removes any outstanding email MFA code.
func (c *MFAConfiguration) ClearEmailCode() {
	c.EmailCode = nil
	c.EmailCodeExpiresAt = nil
	c.EmailCodeAttempts = 0
}

// DisableTOTP turns TOTP off and drops the secret.
func (c *MFAConfiguration) DisableTOTP() {
	c.TOTPEnabled = false
	c.SecretEncrypted = nil
	c.RecomputeEnabled()
}

// DisableEmail turns email MFA off and drops any pending code.
func (c *MFAConfiguration) DisableEmail() {
	c.EmailEnabled = false
	c.ClearEmailCode()
	c.RecomputeEnabled()
}

// TOTPSetup is returned once when TOTP enrollment starts.
type TOTPSetup struct {
	Secret          string   // base32, for manual entry
	ProvisioningURI string   // otpauth:// URI
	QRCodeDataURI   string   // data:image/png;base64,...
	RecoveryCodes   []string // plain text, shown once
}

// MFAStatus is the user-facing view of the MFA configuration.
type MFAStatus struct {
	Enabled                bool `json:"enabled"`
	TOTPEnabled            bool `json:"totp_enabled"`
	EmailEnabled           bool `json:"email_enabled"`
	TOTPPending            bool `json:"totp_pending"`
	RecoveryCodesRemaining int  `json:"recovery_codes_remaining"`
}
