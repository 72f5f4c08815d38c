package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

// OutboxEntry is one email written by the OutboxMailer.
type OutboxEntry struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Kind      string    `json:"kind"`
	Purpose   string    `json:"purpose,omitempty"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboxMailer writes emails as JSON files into a directory instead of
// sending them. It is meant for development without an SMTP server.
type OutboxMailer struct {
	dir     string
	codeTTL time.Duration
	logger  *slog.Logger
}

// NewOutboxMailer creates the directory if needed.
func NewOutboxMailer(dir string, codeTTL time.Duration, logger *slog.Logger) (*OutboxMailer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create outbox directory: %w", err)
	}
	if codeTTL == 0 {
		codeTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxMailer{dir: dir, codeTTL: codeTTL, logger: logger}, nil
}

// SendVerificationCode writes a purpose-scoped verification email.
func (m *OutboxMailer) SendVerificationCode(ctx context.Context, to, code string, purpose domain.Purpose) error {
	rendered, err := RenderVerificationCode(code, purpose, m.codeTTL)
	if err != nil {
		return err
	}
	return m.write(ctx, to, "verification", purpose.String(), rendered)
}

// SendMFACode writes a login verification email.
func (m *OutboxMailer) SendMFACode(ctx context.Context, to, code string) error {
	rendered, err := RenderMFACode(code, m.codeTTL)
	if err != nil {
		return err
	}
	return m.write(ctx, to, "mfa", "", rendered)
}

func (m *OutboxMailer) write(ctx context.Context, to, kind, purpose string, rendered *Rendered) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := OutboxEntry{
		ID:        uuid.NewString(),
		To:        to,
		Subject:   rendered.Subject,
		Kind:      kind,
		Purpose:   purpose,
		Text:      rendered.Text,
		HTML:      rendered.HTML,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.json", entry.CreatedAt.Format("20060102T150405.000000000"), entry.ID)
	if err := os.WriteFile(filepath.Join(m.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write outbox email: %w", err)
	}
	m.logger.Info("email written to outbox", "kind", kind, "file", name)
	return nil
}
