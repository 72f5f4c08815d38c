package auth

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-mfa/pkg/domain"
)

// SelectMode picks the factor a challenge verifies against, in order:
// an explicit recovery request, an explicit email request or an email-only
// account, TOTP with a stored secret, and finally email as a fallback.
func SelectMode(state domain.SessionState, cfg *domain.MFAConfiguration, requested domain.ChallengeMode) domain.ChallengeMode {
	if cfg == nil {
		return domain.ChallengeModeNone
	}
	switch {
	case requested == domain.ChallengeModeRecovery || state.UseRecoveryCode:
		return domain.ChallengeModeRecovery
	case requested == domain.ChallengeModeEmail || state.UseEmailCode || (cfg.EmailEnabled && !cfg.TOTPEnabled):
		return domain.ChallengeModeEmail
	case cfg.TOTPEnabled && cfg.HasSecret():
		return domain.ChallengeModeTOTP
	case cfg.EmailEnabled:
		return domain.ChallengeModeEmail
	}
	return domain.ChallengeModeNone
}

// ChallengeRequired reports whether a session must pass the MFA challenge
// before reaching protected resources.
func ChallengeRequired(cfg *domain.MFAConfiguration, state domain.SessionState) bool {
	return cfg.HasAnyMFAEnabled() && !state.MFAAuthenticated
}

// ChallengeResolver runs the login-time MFA challenge. It never mutates the
// session itself: every step returns the state the caller should store.
type ChallengeResolver struct {
	mfa    *MFAService
	logger *slog.Logger
}

// NewChallengeResolver creates a challenge resolver backed by the MFA service.
func NewChallengeResolver(mfa *MFAService, logger *slog.Logger) *ChallengeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengeResolver{mfa: mfa, logger: logger}
}

// Begin is called when the user reaches the challenge. For accounts whose
// only factor is email it switches the session to email mode and sends a
// code unless one is already pending.
func (r *ChallengeResolver) Begin(ctx context.Context, user *domain.User, state domain.SessionState) (*domain.ChallengeDecision, domain.SessionState, error) {
	cfg, err := r.mfa.Configuration(ctx, user.ID)
	if err != nil {
		return nil, state, err
	}
	if decision, done := settled(cfg, state); done {
		return decision, state, nil
	}

	mode := SelectMode(state, cfg, domain.ChallengeModeNone)
	decision := pending(cfg, mode)
	if mode == domain.ChallengeModeEmail {
		state.UseEmailCode = true
		if !cfg.HasPendingEmailCode(r.mfa.config.Now()) {
			if err := r.mfa.SendEmailCode(ctx, user); err != nil {
				return nil, state, err
			}
			decision.EmailSent = true
		}
	}
	return decision, state, nil
}

// UseRecoveryCode switches the challenge to recovery-code mode.
func (r *ChallengeResolver) UseRecoveryCode(state domain.SessionState) domain.SessionState {
	state.UseRecoveryCode = true
	state.UseEmailCode = false
	return state
}

// UseEmailCode switches the challenge to email mode and sends a fresh code.
func (r *ChallengeResolver) UseEmailCode(ctx context.Context, user *domain.User, state domain.SessionState) (*domain.ChallengeDecision, domain.SessionState, error) {
	cfg, err := r.mfa.Configuration(ctx, user.ID)
	if err != nil {
		return nil, state, err
	}
	if decision, done := settled(cfg, state); done {
		return decision, state, nil
	}
	if !cfg.EmailEnabled {
		return nil, state, domain.ErrEmailMFANotEnabled
	}
	if err := r.mfa.SendEmailCode(ctx, user); err != nil {
		return nil, state, err
	}

	state.UseEmailCode = true
	state.UseRecoveryCode = false
	decision := pending(cfg, domain.ChallengeModeEmail)
	decision.EmailSent = true
	return decision, state, nil
}

// Verify checks a submitted code against the selected factor. On success the
// returned state is MFA-authenticated with all mode flags cleared and the
// decision carries the destination to resume. Every failure yields
// domain.ErrInvalidVerificationCode and the unchanged state.
func (r *ChallengeResolver) Verify(ctx context.Context, user *domain.User, state domain.SessionState, code string, requested domain.ChallengeMode) (*domain.ChallengeDecision, domain.SessionState, error) {
	cfg, err := r.mfa.Configuration(ctx, user.ID)
	if err != nil {
		return nil, state, err
	}
	if decision, done := settled(cfg, state); done {
		return decision, state, nil
	}

	mode := SelectMode(state, cfg, requested)
	var ok bool
	switch mode {
	case domain.ChallengeModeRecovery:
		ok, err = r.mfa.VerifyRecoveryCode(ctx, user.ID, code)
	case domain.ChallengeModeEmail:
		ok, err = r.mfa.VerifyEmailCode(ctx, user.ID, code)
	case domain.ChallengeModeTOTP:
		ok, err = r.mfa.verifyTOTP(cfg, code)
	}
	if err != nil {
		return nil, state, err
	}

	r.mfa.observer.ChallengeVerified(mode, ok)
	if !ok {
		r.logger.Warn("MFA challenge failed", "user_id", user.ID, "mode", mode)
		return pending(cfg, mode), state, domain.ErrInvalidVerificationCode
	}

	r.logger.Info("MFA challenge passed", "user_id", user.ID, "mode", mode)
	return &domain.ChallengeDecision{
		Outcome:     domain.ChallengeSatisfied,
		Mode:        mode,
		RedirectTo:  state.Destination(),
		TOTPEnabled: cfg.TOTPEnabled,
		EmailOption: cfg.EmailEnabled,
	}, state.Satisfied(), nil
}

// settled handles sessions that need no challenge at all.
func settled(cfg *domain.MFAConfiguration, state domain.SessionState) (*domain.ChallengeDecision, bool) {
	if !cfg.HasAnyMFAEnabled() {
		return &domain.ChallengeDecision{Outcome: domain.ChallengeNotRequired, RedirectTo: state.Destination()}, true
	}
	if state.MFAAuthenticated {
		return &domain.ChallengeDecision{
			Outcome:     domain.ChallengeSatisfied,
			RedirectTo:  state.Destination(),
			TOTPEnabled: cfg.TOTPEnabled,
			EmailOption: cfg.EmailEnabled,
		}, true
	}
	return nil, false
}

func pending(cfg *domain.MFAConfiguration, mode domain.ChallengeMode) *domain.ChallengeDecision {
	return &domain.ChallengeDecision{
		Outcome:     domain.ChallengePending,
		Mode:        mode,
		TOTPEnabled: cfg.TOTPEnabled,
		EmailOption: cfg.EmailEnabled,
	}
}
