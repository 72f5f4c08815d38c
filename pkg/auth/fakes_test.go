package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type verificationKey struct {
	userID  uuid.UUID
	purpose domain.Purpose
}

type memVerificationStore struct {
	mu   sync.Mutex
	rows map[verificationKey]domain.EmailVerification
}

func newMemVerificationStore() *memVerificationStore {
	return &memVerificationStore{rows: make(map[verificationKey]domain.EmailVerification)}
}

func (s *memVerificationStore) Upsert(_ context.Context, rec *domain.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := verificationKey{rec.UserID, rec.Purpose}
	row := *rec
	if existing, ok := s.rows[k]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	}
	row.Attempts = 0
	row.VerifiedAt = nil
	s.rows[k] = row
	return nil
}

func (s *memVerificationStore) GetLatest(_ context.Context, userID uuid.UUID, purpose domain.Purpose) (*domain.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[verificationKey{userID, purpose}]
	if !ok {
		return nil, domain.ErrVerificationNotFound
	}
	return &row, nil
}

func (s *memVerificationStore) Update(_ context.Context, userID uuid.UUID, purpose domain.Purpose, fn func(*domain.EmailVerification) error) error {
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

func (s *memVerificationStore) Delete(_ context.Context, userID uuid.UUID, purpose domain.Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, verificationKey{userID, purpose})
	return nil
}

func (s *memVerificationStore) DeleteExpired(_ context.Context, now, verifiedBefore time.Time) (int64, error) {
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

func (s *memVerificationStore) get(userID uuid.UUID, purpose domain.Purpose) (domain.EmailVerification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[verificationKey{userID, purpose}]
	return row, ok
}

func (s *memVerificationStore) set(row domain.EmailVerification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[verificationKey{row.UserID, row.Purpose}] = row
}

type memMFAStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]domain.MFAConfiguration
}

func newMemMFAStore() *memMFAStore {
	return &memMFAStore{rows: make(map[uuid.UUID]domain.MFAConfiguration)}
}

func cloneConfig(cfg domain.MFAConfiguration) domain.MFAConfiguration {
	cfg.RecoveryCodes = append([]string(nil), cfg.RecoveryCodes...)
	return cfg
}

func (s *memMFAStore) Get(_ context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		return nil, domain.ErrMFANotConfigured
	}
	cfg = cloneConfig(cfg)
	return &cfg, nil
}

func (s *memMFAStore) GetOrCreate(_ context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		cfg = domain.MFAConfiguration{ID: uuid.New(), UserID: userID}
		s.rows[userID] = cfg
	}
	cfg = cloneConfig(cfg)
	return &cfg, nil
}

func (s *memMFAStore) Update(_ context.Context, userID uuid.UUID, fn func(*domain.MFAConfiguration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.rows[userID]
	if !ok {
		return domain.ErrMFANotConfigured
	}
	cfg = cloneConfig(cfg)
	if err := fn(&cfg); err != nil {
		return err
	}
	s.rows[userID] = cfg
	return nil
}

func (s *memMFAStore) ConsumeRecoveryCode(_ context.Context, userID uuid.UUID, digest string) (bool, error) {
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

func (s *memMFAStore) ReplaceRecoveryCodes(_ context.Context, userID uuid.UUID, digests []string) error {
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

func (s *memMFAStore) get(userID uuid.UUID) domain.MFAConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfig(s.rows[userID])
}

type memUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]domain.User
}

func newMemUserStore(users ...*domain.User) *memUserStore {
	s := &memUserStore{users: make(map[uuid.UUID]domain.User)}
	for _, u := range users {
		s.users[u.ID] = *u
	}
	return s
}

func (s *memUserStore) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (s *memUserStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *memUserStore) MarkEmailVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.EmailVerifiedAt == nil {
		u.EmailVerifiedAt = &at
		s.users[id] = u
	}
	return nil
}

type sentMail struct {
	to      string
	code    string
	purpose domain.Purpose // empty for MFA codes
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendVerificationCode(_ context.Context, to, code string, purpose domain.Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, code: code, purpose: purpose})
	return nil
}

func (m *fakeMailer) SendMFACode(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, code: code})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

type memSessionStates struct {
	mu     sync.Mutex
	states map[uuid.UUID]domain.SessionState
}

func newMemSessionStates() *memSessionStates {
	return &memSessionStates{states: make(map[uuid.UUID]domain.SessionState)}
}

func (s *memSessionStates) Load(_ context.Context, id uuid.UUID) (domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	return st, nil
}

func (s *memSessionStates) Save(_ context.Context, id uuid.UUID, st domain.SessionState, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = st
	return nil
}

func (s *memSessionStates) Update(_ context.Context, id uuid.UUID, _ time.Duration, fn func(*domain.SessionState) error) error {
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

func (s *memSessionStates) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

func newTestUser(verified bool) *domain.User {
	u := &domain.User{ID: uuid.New(), Email: "user@example.com"}
	if verified {
		at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		u.EmailVerifiedAt = &at
	}
	return u
}
