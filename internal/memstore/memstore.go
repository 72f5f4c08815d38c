// Package memstore holds in-memory implementations of the auth stores and
// mailer, for tests and local experiments.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// Users is an in-memory auth.UserStore.
type Users struct {
	mu    sync.Mutex
	users map[uuid.UUID]domain.User
}

// NewUsers creates a user store holding users.
func NewUsers(users ...*domain.User) *Users {
	s := &Users{users: make(map[uuid.UUID]domain.User)}
	for _, u := range users {
		s.users[u.ID] = *u
	}
	return s
}

// Create adds a user.
func (s *Users) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *Users) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *Users) MarkEmailVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.EmailVerifiedAt == nil {
		u.EmailVerifiedAt = &at
		u.UpdatedAt = at
		s.users[id] = u
	}
	return nil
}

type verificationKey struct {
	userID  uuid.UUID
	purpose domain.Purpose
}

// Verifications is an in-memory auth.EmailVerificationStore.
type Verifications struct {
	mu   sync.Mutex
	rows map[verificationKey]domain.EmailVerification
}

// NewVerifications creates an empty verification store.
func NewVerifications() *Verifications {
	return &Verifications{rows: make(map[verificationKey]domain.EmailVerification)}
}

func (s *Verifications) Upsert(_ context.Context, rec *domain.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := verificationKey{rec.UserID, rec.Purpose}
	if existing, ok := s.rows[k]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	rec.Attempts = 0
	rec.VerifiedAt = nil
	s.rows[k] = *rec
	return nil
}

func (s *Verifications) GetLatest(_ context.Context, userID uuid.UUID, purpose domain.Purpose) (*domain.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[verificationKey{userID, purpose}]
	if !ok {
		return nil, domain.ErrVerificationNotFound
	}
	return &row, nil
}

func (s *Verifications) Update(_ context.Context, userID uuid.UUID, purpose domain.Purpose, fn func(*domain.EmailVerification) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := verificationKey{userID, purpose}
	row, ok := s.rows[k]
	if !ok {
		return domain.ErrVerificationNotFound
	}
	if err := fn(&row); err != nil {
		return err
	}
	s.rows[k] = row
	return nil
}

func (s *Verifications) Delete(_ context.Context, userID uuid.UUID, purpose domain.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, verificationKey{userID, purpose})
	return nil
}

func (s *Verifications) DeleteExpired(_ context.Context, now, verifiedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, row := range s.rows {
		if row.ExpiresAt.Before(now) || (row.VerifiedAt != nil && row.VerifiedAt.Before(verifiedBefore)) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// MFAConfigs is an in-memory auth.MFAConfigStore.
type MFAConfigs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]domain.MFAConfiguration
}

// NewMFAConfigs creates an empty MFA configuration store.
func NewMFAConfigs() *MFAConfigs {
	return &MFAConfigs{rows: make(map[uuid.UUID]domain.MFAConfiguration)}
}

func clone(cfg domain.MFAConfiguration) *domain.MFAConfiguration {
	cfg.RecoveryCodes = append([]string(nil), cfg.RecoveryCodes...)
	return &cfg
}

func (s *MFAConfigs) Get(_ context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		return nil, domain.ErrMFANotConfigured
	}
	return clone(cfg), nil
}

func (s *MFAConfigs) GetOrCreate(_ context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		cfg = domain.MFAConfiguration{ID: uuid.New(), UserID: userID}
		s.rows[userID] = cfg
	}
	return clone(cfg), nil
}

func (s *MFAConfigs) Update(_ context.Context, userID uuid.UUID, fn func(*domain.MFAConfiguration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		return domain.ErrMFANotConfigured
	}
	next := clone(cfg)
	if err := fn(next); err != nil {
		return err
	}
	next.RecomputeEnabled()
	s.rows[userID] = *next
	return nil
}

func (s *MFAConfigs) ConsumeRecoveryCode(_ context.Context, userID uuid.UUID, digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		return false, nil
	}
	for i, d := range cfg.RecoveryCodes {
		if d == digest {
			codes := append([]string(nil), cfg.RecoveryCodes[:i]...)
			cfg.RecoveryCodes = append(codes, cfg.RecoveryCodes[i+1:]...)
			s.rows[userID] = cfg
			return true, nil
		}
	}
	return false, nil
}

func (s *MFAConfigs) ReplaceRecoveryCodes(_ context.Context, userID uuid.UUID, digests []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		return domain.ErrMFANotConfigured
	}
	cfg.RecoveryCodes = append([]string(nil), digests...)
	s.rows[userID] = cfg
	return nil
}

// SessionStates is an in-memory auth.SessionStateStore. TTLs are ignored.
type SessionStates struct {
	mu     sync.Mutex
	states map[uuid.UUID]domain.SessionState
}

// NewSessionStates creates an empty session state store.
func NewSessionStates() *SessionStates {
	return &SessionStates{states: make(map[uuid.UUID]domain.SessionState)}
}

func (s *SessionStates) Load(_ context.Context, id uuid.UUID) (domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	return st, nil
}

func (s *SessionStates) Save(_ context.Context, id uuid.UUID, st domain.SessionState, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = st
	return nil
}

func (s *SessionStates) Update(_ context.Context, id uuid.UUID, _ time.Duration, fn func(*domain.SessionState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if err := fn(&st); err != nil {
		return err
	}
	s.states[id] = st
	return nil
}

func (s *SessionStates) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

// Mail is one message captured by Mailer.
type Mail struct {
	To      string
	Code    string
	Purpose domain.Purpose // empty for MFA codes
}

// Mailer records messages instead of sending them. When Err is set every
// send fails with it.
type Mailer struct {
	mu   sync.Mutex
	sent []Mail
	Err  error
}

func (m *Mailer) SendVerificationCode(_ context.Context, to, code string, purpose domain.Purpose) error {
	return m.record(Mail{To: to, Code: code, Purpose: purpose})
}

func (m *Mailer) SendMFACode(_ context.Context, to, code string) error {
	return m.record(Mail{To: to, Code: code})
}

func (m *Mailer) record(mail Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, mail)
	return nil
}

// Sent returns the captured messages in order.
func (m *Mailer) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}

// Last returns the most recent message, if any.
func (m *Mailer) Last() (Mail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Mail{}, false
	}
	return m.sent[len(m.sent)-1], true
}
