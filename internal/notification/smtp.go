package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-mfa/pkg/domain"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	// CodeTTL is quoted in the email body.
	CodeTTL time.Duration
}

// SMTPMailer delivers verification codes over SMTP.
type SMTPMailer struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(config SMTPConfig, logger *slog.Logger) *SMTPMailer {
	if config.CodeTTL == 0 {
		config.CodeTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{config: config, logger: logger}
}

// SendVerificationCode mails a purpose-scoped verification code.
func (m *SMTPMailer) SendVerificationCode(ctx context.Context, to, code string, purpose domain.Purpose) error {
	rendered, err := RenderVerificationCode(code, purpose, m.config.CodeTTL)
	if err != nil {
		return err
	}
	return m.send(ctx, to, rendered)
}

// SendMFACode mails a login verification code.
func (m *SMTPMailer) SendMFACode(ctx context.Context, to, code string) error {
	rendered, err := RenderMFACode(code, m.config.CodeTTL)
	if err != nil {
		return err
	}
	return m.send(ctx, to, rendered)
}

func (m *SMTPMailer) send(ctx context.Context, to string, rendered *Rendered) error {
	msg, err := m.message(to, rendered)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.config.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.config.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.config.User),
			mail.WithPassword(m.config.Password),
		)
	}
	client, err := mail.NewClient(m.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Debug("email sent", "subject", rendered.Subject)
	return nil
}

func (m *SMTPMailer) message(to string, rendered *Rendered) (*mail.Msg, error) {
	msg := mail.NewMsg()
	var err error
	if m.config.FromName != "" {
		err = msg.FromFormat(m.config.FromName, m.config.From)
	} else {
		err = msg.From(m.config.From)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)
	return msg, nil
}
