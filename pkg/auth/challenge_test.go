package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/pquerna/otp/totp"
	"github.com/tendant/simple-mfa/pkg/domain"
)

func TestSelectMode(t *testing.T) {
	secret := "sealed"
	totpOnly := &domain.MFAConfiguration{Enabled: true, TOTPEnabled: true, SecretEncrypted: &secret}
	emailOnly := &domain.MFAConfiguration{Enabled: true, EmailEnabled: true}
	both := &domain.MFAConfiguration{Enabled: true, TOTPEnabled: true, EmailEnabled: true, SecretEncrypted: &secret}
	totpNoSecret := &domain.MFAConfiguration{Enabled: true, TOTPEnabled: true}

	tests := []struct {
		name      string
		state     domain.SessionState
		cfg       *domain.MFAConfiguration
		requested domain.ChallengeMode
		want      domain.ChallengeMode
	}{
		{name: "no configuration", cfg: nil, want: domain.ChallengeModeNone},
		{name: "nothing enabled", cfg: &domain.MFAConfiguration{}, want: domain.ChallengeModeNone},
		{name: "totp only", cfg: totpOnly, want: domain.ChallengeModeTOTP},
		{name: "email only", cfg: emailOnly, want: domain.ChallengeModeEmail},
		{name: "both prefers totp", cfg: both, want: domain.ChallengeModeTOTP},
		{name: "session flag email", state: domain.SessionState{UseEmailCode: true}, cfg: both, want: domain.ChallengeModeEmail},
		{name: "requested email", cfg: both, requested: domain.ChallengeModeEmail, want: domain.ChallengeModeEmail},
		{name: "session flag recovery", state: domain.SessionState{UseRecoveryCode: true}, cfg: both, want: domain.ChallengeModeRecovery},
		{name: "recovery beats email flag", state: domain.SessionState{UseRecoveryCode: true, UseEmailCode: true}, cfg: emailOnly, want: domain.ChallengeModeRecovery},
		{name: "requested recovery", cfg: totpOnly, requested: domain.ChallengeModeRecovery, want: domain.ChallengeModeRecovery},
		{name: "totp flag without secret falls through", cfg: totpNoSecret, want: domain.ChallengeModeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectMode(tt.state, tt.cfg, tt.requested); got != tt.want {
				t.Errorf("SelectMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChallengeRequired(t *testing.T) {
	enabled := &domain.MFAConfiguration{Enabled: true, EmailEnabled: true}
	if !ChallengeRequired(enabled, domain.SessionState{}) {
		t.Error("fresh session with MFA should require a challenge")
	}
	if ChallengeRequired(enabled, domain.SessionState{MFAAuthenticated: true}) {
		t.Error("authenticated session should not require a challenge")
	}
	if ChallengeRequired(nil, domain.SessionState{}) {
		t.Error("user without MFA should not require a challenge")
	}
}

func TestChallengeResolver_NotRequired(t *testing.T) {
	f := newMFAFixture(t, true)
	r := NewChallengeResolver(f.svc, testLogger)

	decision, _, err := r.Begin(context.Background(), f.user, domain.SessionState{IntendedURL: "/todos"})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if decision.Outcome != domain.ChallengeNotRequired || decision.RedirectTo != "/todos" {
		t.Errorf("Begin() = %+v, want not_required to /todos", decision)
	}
}

func TestChallengeResolver_EmailOnlyAutoSends(t *testing.T) {
	f := newMFAFixture(t, true)
	f.enableEmail(t)
	r := NewChallengeResolver(f.svc, testLogger)
	ctx := context.Background()
	sentBefore := f.mailer.count()

	decision, state, err := r.Begin(ctx, f.user, domain.SessionState{})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if decision.Outcome != domain.ChallengePending || decision.Mode != domain.ChallengeModeEmail || !decision.EmailSent {
		t.Errorf("Begin() = %+v, want pending email with code sent", decision)
	}
	if !state.UseEmailCode {
		t.Error("Begin() should switch the session to email mode")
	}
	if f.mailer.count() != sentBefore+1 {
		t.Fatalf("mails sent = %d, want %d", f.mailer.count(), sentBefore+1)
	}

	// A second visit reuses the pending code.
	decision, _, err = r.Begin(ctx, f.user, state)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if decision.EmailSent || f.mailer.count() != sentBefore+1 {
		t.Error("Begin() should not resend while a code is pending")
	}

	decision, state, err = r.Verify(ctx, f.user, state, f.mailer.last().code, domain.ChallengeModeNone)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Outcome != domain.ChallengeSatisfied || decision.RedirectTo != domain.DefaultIntendedURL {
		t.Errorf("Verify() = %+v", decision)
	}
	if state != (domain.SessionState{MFAAuthenticated: true}) {
		t.Errorf("state after Verify() = %+v", state)
	}
}

func TestChallengeResolver_TOTP(t *testing.T) {
	f := newMFAFixture(t, true)
	secret, _ := f.enableTOTP(t)
	r := NewChallengeResolver(f.svc, testLogger)
	ctx := context.Background()

	start := domain.SessionState{IntendedURL: "/settings"}
	decision, state, err := r.Begin(ctx, f.user, start)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if decision.Mode != domain.ChallengeModeTOTP || decision.EmailSent || state != start {
		t.Errorf("Begin() = %+v, %+v", decision, state)
	}

	code, _ := totp.GenerateCode(secret, f.clock.Now())
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	_, failed, err := r.Verify(ctx, f.user, state, wrong, domain.ChallengeModeNone)
	if !errors.Is(err, domain.ErrInvalidVerificationCode) {
		t.Fatalf("Verify(wrong) error = %v, want ErrInvalidVerificationCode", err)
	}
	if failed != state {
		t.Error("a failed Verify() should leave the state unchanged")
	}

	decision, state, err = r.Verify(ctx, f.user, state, code, domain.ChallengeModeNone)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.RedirectTo != "/settings" || !state.MFAAuthenticated || state.IntendedURL != "" {
		t.Errorf("Verify() = %+v, %+v", decision, state)
	}

	// Already satisfied sessions pass straight through.
	decision, _, err = r.Begin(ctx, f.user, state)
	if err != nil || decision.Outcome != domain.ChallengeSatisfied {
		t.Errorf("Begin() after success = %+v, %v", decision, err)
	}
}

func TestChallengeResolver_RecoveryCode(t *testing.T) {
	f := newMFAFixture(t, true)
	_, codes := f.enableTOTP(t)
	r := NewChallengeResolver(f.svc, testLogger)
	ctx := context.Background()

	state := r.UseRecoveryCode(domain.SessionState{UseEmailCode: true})
	if !state.UseRecoveryCode || state.UseEmailCode {
		t.Fatalf("UseRecoveryCode() = %+v", state)
	}

	decision, state, err := r.Verify(ctx, f.user, state, codes[0], domain.ChallengeModeNone)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if decision.Mode != domain.ChallengeModeRecovery || !state.MFAAuthenticated || state.UseRecoveryCode {
		t.Errorf("Verify() = %+v, %+v", decision, state)
	}

	_, _, err = r.Verify(ctx, f.user, r.UseRecoveryCode(domain.SessionState{}), codes[0], domain.ChallengeModeNone)
	if !errors.Is(err, domain.ErrInvalidVerificationCode) {
		t.Errorf("reused recovery code error = %v, want ErrInvalidVerificationCode", err)
	}
}

func TestChallengeResolver_UseEmailCode(t *testing.T) {
	f := newMFAFixture(t, true)
	f.enableTOTP(t)
	r := NewChallengeResolver(f.svc, testLogger)
	ctx := context.Background()

	if _, _, err := r.UseEmailCode(ctx, f.user, domain.SessionState{}); !errors.Is(err, domain.ErrEmailMFANotEnabled) {
		t.Errorf("UseEmailCode() without email MFA error = %v, want ErrEmailMFANotEnabled", err)
	}

	f.enableEmail(t)
	sentBefore := f.mailer.count()
	decision, state, err := r.UseEmailCode(ctx, f.user, domain.SessionState{UseRecoveryCode: true})
	if err != nil {
		t.Fatalf("UseEmailCode() error = %v", err)
	}
	if !decision.EmailSent || !state.UseEmailCode || state.UseRecoveryCode {
		t.Errorf("UseEmailCode() = %+v, %+v", decision, state)
	}
	if f.mailer.count() != sentBefore+1 {
		t.Errorf("mails sent = %d, want %d", f.mailer.count(), sentBefore+1)
	}
}

func TestChallengeResolver_DispatchFailure(t *testing.T) {
	f := newMFAFixture(t, true)
	f.enableEmail(t)
	f.mailer.err = errors.New("smtp down")
	r := NewChallengeResolver(f.svc, testLogger)

	_, _, err := r.Begin(context.Background(), f.user, domain.SessionState{})
	if !errors.Is(err, domain.ErrDispatchFailure) {
		t.Errorf("Begin() error = %v, want ErrDispatchFailure", err)
	}
}
