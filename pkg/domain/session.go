package domain

import "time"

// DefaultIntendedURL is where a satisfied challenge resumes when nothing else was requested.
const DefaultIntendedURL = "/"

// SessionState holds the per-session MFA flags.
type SessionState struct {
	MFAAuthenticated bool   `json:"mfa_authenticated"`
	UseRecoveryCode  bool   `json:"use_recovery_code"`
	UseEmailCode     bool   `json:"use_email_code"`
	IntendedURL      string `json:"intended_url,omitempty"`
}

// Satisfied returns the state after a successful challenge.
func (s SessionState) Satisfied() SessionState {
	return SessionState{MFAAuthenticated: true}
}

// Destination returns the URL the user should resume at.
func (s SessionState) Destination() string {
	if s.IntendedURL == "" {
		return DefaultIntendedURL
	}
	return s.IntendedURL
}

// ChallengeMode is the factor the MFA challenge verifies against.
type ChallengeMode string

const (
	ChallengeModeNone     ChallengeMode = ""
	ChallengeModeTOTP     ChallengeMode = "totp"
	ChallengeModeEmail    ChallengeMode = "email"
	ChallengeModeRecovery ChallengeMode = "recovery"
)

// ParseChallengeMode accepts "", "totp", "email" and "recovery".
func ParseChallengeMode(s string) (ChallengeMode, bool) {
	switch m := ChallengeMode(s); m {
	case ChallengeModeNone, ChallengeModeTOTP, ChallengeModeEmail, ChallengeModeRecovery:
		return m, true
	}
	return ChallengeModeNone, false
}

// ChallengeOutcome is the result of a challenge step.
type ChallengeOutcome string

const (
	// ChallengeNotRequired means MFA is off for the account.
	ChallengeNotRequired ChallengeOutcome = "not_required"
	// ChallengeSatisfied means the session has passed MFA.
	ChallengeSatisfied ChallengeOutcome = "satisfied"
	// ChallengePending means a code must still be submitted.
	ChallengePending ChallengeOutcome = "pending"
)

// ChallengeDecision describes what the caller should do next.
type ChallengeDecision struct {
	Outcome     ChallengeOutcome `json:"outcome"`
	Mode        ChallengeMode    `json:"mode,omitempty"`
	RedirectTo  string           `json:"redirect_to,omitempty"`
	EmailSent   bool             `json:"email_sent,omitempty"`
	TOTPEnabled bool             `json:"totp_enabled"`
	EmailOption bool             `json:"email_enabled"`
}

// TokenPair is what a successful login returns.
type TokenPair struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}
