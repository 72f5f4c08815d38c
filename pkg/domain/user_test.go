package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUser_IsEmailVerified(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		verifiedAt *time.Time
		want       bool
	}{
		{name: "not verified", verifiedAt: nil, want: false},
		{name: "verified", verifiedAt: &now, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &User{ID: uuid.New(), Email: "test@example.com", EmailVerifiedAt: tt.verifiedAt}
			if got := user.IsEmailVerified(); got != tt.want {
				t.Errorf("IsEmailVerified() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_HasPassword(t *testing.T) {
	empty := ""
	hash := "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"

	if (&User{}).HasPassword() {
		t.Error("HasPassword() = true for nil hash")
	}
	if (&User{PasswordHash: &empty}).HasPassword() {
		t.Error("HasPassword() = true for empty hash")
	}
	if !(&User{PasswordHash: &hash}).HasPassword() {
		t.Error("HasPassword() = false for stored hash")
	}
}

func TestPurpose_Subjects(t *testing.T) {
	tests := []struct {
		purpose Purpose
		want    string
	}{
		{PurposeVerification, "Email Verification Code"},
		{PurposePasswordReset, "Password Reset Verification Code"},
		{PurposeEmailChange, "Email Change Verification Code"},
		{PurposeAccountDeletion, "Account Deletion Verification Code"},
		{PurposeSensitiveAction, "Security Verification Code"},
		{Purpose("other"), "Verification Code"},
	}

	for _, tt := range tests {
		t.Run(string(tt.purpose), func(t *testing.T) {
			if got := tt.purpose.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePurpose(t *testing.T) {
	for _, p := range Purposes() {
		got, err := ParsePurpose(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePurpose(%q) = %q, %v", p, got, err)
		}
	}

	if _, err := ParsePurpose("login"); !errors.Is(err, ErrUnknownPurpose) {
		t.Errorf("ParsePurpose(login) error = %v, want ErrUnknownPurpose", err)
	}
}

func TestParseActionPurpose(t *testing.T) {
	if _, err := ParseActionPurpose("verification"); !errors.Is(err, ErrUnknownPurpose) {
		t.Errorf("ParseActionPurpose(verification) error = %v, want ErrUnknownPurpose", err)
	}
	for _, p := range []Purpose{PurposePasswordReset, PurposeEmailChange, PurposeAccountDeletion, PurposeSensitiveAction} {
		if _, err := ParseActionPurpose(string(p)); err != nil {
			t.Errorf("ParseActionPurpose(%q) error = %v", p, err)
		}
	}
}

func TestEmailVerification_State(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	verified := now.Add(-time.Minute)

	tests := []struct {
		name        string
		rec         EmailVerification
		wantPending bool
		wantExpired bool
		wantMaxed   bool
	}{
		{
			name:        "fresh",
			rec:         EmailVerification{ExpiresAt: now.Add(10 * time.Minute)},
			wantPending: true,
		},
		{
			name:        "expired at boundary",
			rec:         EmailVerification{ExpiresAt: now},
			wantExpired: true,
		},
		{
			name: "verified",
			rec:  EmailVerification{ExpiresAt: now.Add(time.Minute), VerifiedAt: &verified},
		},
		{
			name:        "attempts exhausted is still pending",
			rec:         EmailVerification{ExpiresAt: now.Add(time.Minute), Attempts: 3},
			wantPending: true,
			wantMaxed:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.IsPending(now); got != tt.wantPending {
				t.Errorf("IsPending() = %v, want %v", got, tt.wantPending)
			}
			if got := tt.rec.HasExpired(now); got != tt.wantExpired {
				t.Errorf("HasExpired() = %v, want %v", got, tt.wantExpired)
			}
			if got := tt.rec.HasMaxAttemptsReached(); got != tt.wantMaxed {
				t.Errorf("HasMaxAttemptsReached() = %v, want %v", got, tt.wantMaxed)
			}
		})
	}
}

func TestMFAConfiguration_HasAnyMFAEnabled(t *testing.T) {
	tests := []struct {
		totp, email bool
		want        bool
	}{
		{false, false, false},
		{true, false, true},
		{false, true, true},
		{true, true, true},
	}

	for _, tt := range tests {
		cfg := &MFAConfiguration{TOTPEnabled: tt.totp, EmailEnabled: tt.email}
		if got := cfg.HasAnyMFAEnabled(); got != tt.want {
			t.Errorf("HasAnyMFAEnabled(totp=%v, email=%v) = %v, want %v", tt.totp, tt.email, got, tt.want)
		}
		cfg.RecomputeEnabled()
		if cfg.Enabled != tt.want {
			t.Errorf("Enabled after RecomputeEnabled = %v, want %v", cfg.Enabled, tt.want)
		}
	}

	var nilCfg *MFAConfiguration
	if nilCfg.HasAnyMFAEnabled() {
		t.Error("nil configuration should report MFA disabled")
	}
}

func TestMFAConfiguration_DisableLastFactor(t *testing.T) {
	secret := "encrypted"
	cfg := &MFAConfiguration{TOTPEnabled: true, Enabled: true, SecretEncrypted: &secret}

	cfg.DisableTOTP()

	if cfg.Enabled {
		t.Error("Enabled should be false after disabling the last factor")
	}
	if cfg.SecretEncrypted != nil {
		t.Error("secret should be cleared when TOTP is disabled")
	}
}

func TestMFAConfiguration_EmailCode(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := &MFAConfiguration{}

	if cfg.IsEmailCodeValid("123456", now) {
		t.Fatal("no code stored, should be invalid")
	}

	cfg.SetEmailCode("123456", now.Add(10*time.Minute))

	if !cfg.IsEmailCodeValid("123456", now) {
		t.Error("matching code should be valid")
	}
	if cfg.IsEmailCodeValid("654321", now) {
		t.Error("wrong code should be invalid")
	}
	if cfg.IsEmailCodeValid("123456", now.Add(10*time.Minute)) {
		t.Error("expired code should be invalid")
	}

	for i := 0; i < MaxCodeAttempts; i++ {
		cfg.IncrementEmailCodeAttempts()
	}
	if cfg.IsEmailCodeValid("123456", now) {
		t.Error("code should be invalid after max attempts")
	}

	cfg.ClearEmailCode()
	if cfg.EmailCode != nil || cfg.EmailCodeExpiresAt != nil || cfg.EmailCodeAttempts != 0 {
		t.Error("ClearEmailCode should reset all email code fields")
	}
}

func TestSessionState_Satisfied(t *testing.T) {
	state := SessionState{UseRecoveryCode: true, UseEmailCode: true, IntendedURL: "/tasks"}

	if got := state.Destination(); got != "/tasks" {
		t.Errorf("Destination() = %q, want %q", got, "/tasks")
	}

	done := state.Satisfied()
	if !done.MFAAuthenticated || done.UseRecoveryCode || done.UseEmailCode || done.IntendedURL != "" {
		t.Errorf("Satisfied() = %+v, want only MFAAuthenticated", done)
	}
	if got := done.Destination(); got != DefaultIntendedURL {
		t.Errorf("Destination() = %q, want %q", got, DefaultIntendedURL)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{ErrVerificationNotFound, ErrNotFound},
		{ErrVerificationExpired, ErrExpired},
		{ErrVerificationAttemptsExhausted, ErrAttemptsExhausted},
		{ErrVerificationMismatch, ErrMismatch},
		{ErrTOTPNotEnabled, ErrPreconditionFailed},
		{ErrEmailNotVerified, ErrPreconditionFailed},
		{ErrMFANotConfigured, ErrNotFound},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
		}
	}
}
