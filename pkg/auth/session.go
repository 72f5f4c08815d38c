package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// DefaultAccessTokenTTL is the default lifetime of an access token and its session state.
const DefaultAccessTokenTTL = 2 * time.Hour

// SessionStateStore keeps the MFA flags of each session.
type SessionStateStore interface {
	// Load returns domain.ErrSessionNotFound for unknown or expired sessions.
	Load(ctx context.Context, sessionID uuid.UUID) (domain.SessionState, error)
	Save(ctx context.Context, sessionID uuid.UUID, state domain.SessionState, ttl time.Duration) error
	// Update applies fn to the current state atomically; an error from fn
	// leaves the state untouched.
	Update(ctx context.Context, sessionID uuid.UUID, ttl time.Duration, fn func(*domain.SessionState) error) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// SessionConfig holds session configuration.
type SessionConfig struct {
	AccessTokenTTL time.Duration
	JWTSecret      []byte
	Issuer         string
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// SessionService issues access tokens and owns the per-session MFA state.
type SessionService struct {
	config SessionConfig
	states SessionStateStore
}

// NewSessionService creates a new session service.
func NewSessionService(config SessionConfig, states SessionStateStore) *SessionService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &SessionService{config: config, states: states}
}

// AccessTokenTTL returns the access token TTL.
func (s *SessionService) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// AccessTokenClaims represents the claims in an access token.
// RegisteredClaims.ID carries the session ID.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// SessionID parses the session ID carried by the token.
func (c *AccessTokenClaims) SessionID() (uuid.UUID, error) {
	return uuid.Parse(c.ID)
}

// UserID parses the subject of the token.
func (c *AccessTokenClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// IssueSession starts a new session with fresh MFA flags and signs its token.
// A new login therefore always has to pass the MFA challenge again.
func (s *SessionService) IssueSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	now := s.config.Now()
	sessionID := uuid.New()

	if err := s.states.Save(ctx, sessionID, domain.SessionState{}, s.config.AccessTokenTTL); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	expiresAt := now.Add(s.config.AccessTokenTTL)
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    s.config.Issuer,
			ID:        sessionID.String(),
		},
		Email: user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.config.AccessTokenTTL.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *SessionService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	}, jwt.WithTimeFunc(s.config.Now))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}

// State loads the MFA flags of a session.
func (s *SessionService) State(ctx context.Context, sessionID uuid.UUID) (domain.SessionState, error) {
	return s.states.Load(ctx, sessionID)
}

// SaveState stores the MFA flags of a session.
func (s *SessionService) SaveState(ctx context.Context, sessionID uuid.UUID, state domain.SessionState) error {
	return s.states.Save(ctx, sessionID, state, s.config.AccessTokenTTL)
}

// RememberIntendedURL records where to resume after the MFA challenge.
// Sessions that are already MFA-authenticated are left unchanged.
func (s *SessionService) RememberIntendedURL(ctx context.Context, sessionID uuid.UUID, url string) error {
	return s.states.Update(ctx, sessionID, s.config.AccessTokenTTL, func(state *domain.SessionState) error {
		if !state.MFAAuthenticated {
			state.IntendedURL = url
		}
		return nil
	})
}

// EndSession drops the session state; the token becomes useless.
func (s *SessionService) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	return s.states.Delete(ctx, sessionID)
}
