package notification

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"github.com/tendant/simple-mfa/pkg/domain"
)

// MFASubject is the subject line of login verification emails.
const MFASubject = "Your Login Verification Code"

type codeEmail struct {
	Heading     string
	Description string
	Code        string
	TTLMinutes  int
}

var htmlCodeTemplate = template.Must(template.New("code.html").Parse(`<html><body>
	<h2>{{.Heading}}</h2>
	<p>{{.Description}}</p>
	<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>
	<p>This code will expire in {{.TTLMinutes}} minutes.</p>
	<p>If you did not request this code, you can ignore this email.</p>
</body></html>`))

var textCodeTemplate = texttemplate.Must(texttemplate.New("code.txt").Parse(`{{.Heading}}

{{.Description}}

Your code: {{.Code}}

This code will expire in {{.TTLMinutes}} minutes.
If you did not request this code, you can ignore this email.
`))

// Rendered is a ready-to-send email body.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// RenderVerificationCode renders the email for a purpose-scoped verification code.
func RenderVerificationCode(code string, purpose domain.Purpose, ttl time.Duration) (*Rendered, error) {
	return render(purpose.Subject(), codeEmail{
		Heading:     purpose.Subject(),
		Description: fmt.Sprintf("Use this code to %s.", purpose.Description()),
		Code:        code,
		TTLMinutes:  int(ttl.Minutes()),
	})
}

// RenderMFACode renders the email for a login verification code.
func RenderMFACode(code string, ttl time.Duration) (*Rendered, error) {
	return render(MFASubject, codeEmail{
		Heading:     "Login Verification",
		Description: "Someone signed in to your account. Enter this code to finish signing in.",
		Code:        code,
		TTLMinutes:  int(ttl.Minutes()),
	})
}

func render(subject string, data codeEmail) (*Rendered, error) {
	var html, text bytes.Buffer
	if err := htmlCodeTemplate.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}
	if err := textCodeTemplate.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}
	return &Rendered{Subject: subject, HTML: html.String(), Text: text.String()}, nil
}
