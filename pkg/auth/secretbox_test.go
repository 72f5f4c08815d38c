package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestSecretBox_SealOpen(t *testing.T) {
	box, err := NewSecretBox(testEncryptionKey)
	if err != nil {
		t.Fatalf("NewSecretBox() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "TOTP secret", plaintext: "JBSWY3DPEHPK3PXP"},
		{name: "empty string", plaintext: ""},
		{name: "long text", plaintext: strings.Repeat("a", 1000)},
		{name: "special characters", plaintext: "!@#$%^&*()_+-=[]{}|;':,.<>?/~`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := box.Seal(tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if sealed == tt.plaintext {
				t.Error("sealed text should differ from plaintext")
			}
			if _, err := base64.StdEncoding.DecodeString(sealed); err != nil {
				t.Errorf("sealed text is not valid base64: %v", err)
			}

			opened, err := box.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if opened != tt.plaintext {
				t.Errorf("Open() = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestSecretBox_NonceIsRandom(t *testing.T) {
	box, _ := NewSecretBox(testEncryptionKey)
	a, _ := box.Seal("JBSWY3DPEHPK3PXP")
	b, _ := box.Seal("JBSWY3DPEHPK3PXP")
	if a == b {
		t.Error("sealing the same plaintext twice should produce different ciphertexts")
	}
}

func TestSecretBox_WrongKey(t *testing.T) {
	box, _ := NewSecretBox(testEncryptionKey)
	other, _ := NewSecretBox([]byte("ffffffffffffffffffffffffffffffff"))

	sealed, _ := box.Seal("JBSWY3DPEHPK3PXP")
	if _, err := other.Open(sealed); err == nil {
		t.Error("Open() with the wrong key should fail")
	}
	if _, err := box.Open("AAAA"); err == nil {
		t.Error("Open() of a short ciphertext should fail")
	}
	if _, err := box.Open("not base64!"); err == nil {
		t.Error("Open() of invalid base64 should fail")
	}
}

func TestNewSecretBox_KeyLength(t *testing.T) {
	if _, err := NewSecretBox([]byte("short")); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Errorf("NewSecretBox(short) error = %v, want ErrInvalidEncryptionKey", err)
	}
}
