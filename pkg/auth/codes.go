package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	// Numeric one-time code parameters
	numericCodeDigits = 6

	// Recovery code parameters
	recoveryCodeLength = 10
	recoveryCodeCount  = 8
	recoveryCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var numericCodeSpace = big.NewInt(1_000_000)

// GenerateNumericCode returns a uniformly random, zero-padded six-digit code.
func GenerateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, numericCodeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate numeric code: %w", err)
	}
	return fmt.Sprintf("%0*d", numericCodeDigits, n.Int64()), nil
}

// GenerateRecoveryCode returns a random ten-character alphanumeric code.
func GenerateRecoveryCode() (string, error) {
	alphabet := big.NewInt(int64(len(recoveryCodeChars)))
	code := make([]byte, recoveryCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("failed to generate recovery code: %w", err)
		}
		code[i] = recoveryCodeChars[n.Int64()]
	}
	return string(code), nil
}

// GenerateRecoverySet returns count independent recovery codes.
// Codes are not deduplicated; collisions in a 62^10 space are not a concern.
func GenerateRecoverySet(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		code, err := GenerateRecoveryCode()
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

// HashRecoveryCode returns the digest stored in place of a recovery code.
func HashRecoveryCode(code string) string {
	return hashToken(code)
}

// hashToken hashes a token using SHA-256
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(hash[:])
}

func hashRecoverySet(codes []string) []string {
	digests := make([]string, len(codes))
	for i, code := range codes {
		digests[i] = HashRecoveryCode(code)
	}
	return digests
}
