package auth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestTOTPEngine_GenerateAndVerify(t *testing.T) {
	engine := NewTOTPEngine("Simple MFA")
	key, err := engine.GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCode(key.Secret(), now)
	if err != nil {
		t.Fatalf("GenerateCode() error = %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		code string
		want bool
	}{
		{name: "current step", at: now, code: code, want: true},
		{name: "one step behind", at: now.Add(30 * time.Second), code: code, want: true},
		{name: "one step ahead", at: now.Add(-30 * time.Second), code: code, want: true},
		{name: "two steps behind", at: now.Add(90 * time.Second), code: code, want: false},
		{name: "wrong code", at: now, code: "000000", want: code == "000000"},
		{name: "empty code", at: now, code: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Verify(key.Secret(), tt.code, tt.at); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTOTPEngine_EmptySecretNeverVerifies(t *testing.T) {
	engine := NewTOTPEngine("Simple MFA")
	if engine.Verify("", "123456", time.Now()) {
		t.Error("Verify() with empty secret = true")
	}
}

func TestTOTPEngine_ProvisioningURI(t *testing.T) {
	engine := NewTOTPEngine("Simple MFA")
	key, _ := engine.GenerateSecret("user@example.com")

	uri, err := engine.ProvisioningURI("user@example.com", key.Secret())
	if err != nil {
		t.Fatalf("ProvisioningURI() error = %v", err)
	}
	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Scheme != "otpauth" || u.Host != "totp" {
		t.Errorf("uri = %s, want otpauth://totp/...", uri)
	}
	if got := u.Query().Get("secret"); got != key.Secret() {
		t.Errorf("secret = %s, want %s", got, key.Secret())
	}
	if got := u.Query().Get("issuer"); got != "Simple MFA" {
		t.Errorf("issuer = %s, want Simple MFA", got)
	}
}

func TestTOTPEngine_QRCodeDataURI(t *testing.T) {
	engine := NewTOTPEngine("Simple MFA")
	key, _ := engine.GenerateSecret("user@example.com")

	uri, err := engine.QRCodeDataURI(key)
	if err != nil {
		t.Fatalf("QRCodeDataURI() error = %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("QRCodeDataURI() = %.40s..., want PNG data URI", uri)
	}
}
