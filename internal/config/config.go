package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr      string
	ServerPort      int `validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration
	// MaxRequestBodyBytes caps JSON request bodies.
	MaxRequestBodyBytes int64 `validate:"min=1"`

	// Database
	DBHost     string `validate:"required"`
	DBPort     int    `validate:"min=1,max=65535"`
	DBUser     string `validate:"required"`
	DBPassword string
	DBName     string `validate:"required"`
	DBSSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// Redis holds per-session MFA state.
	RedisAddr     string `validate:"required,hostname_port"`
	RedisPassword string
	RedisDB       int `validate:"min=0"`
	RedisPrefix   string

	// JWT
	JWTSecret      string `validate:"required"`
	JWTIssuer      string
	AccessTokenTTL time.Duration `validate:"gt=0"`
	// CookieSecure sets the Secure flag on the access token cookie (HTTPS only).
	CookieSecure bool

	// SMTP; when unset, emails are written to MailOutboxDir.
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	SMTPFrom      string `validate:"omitempty,email"`
	SMTPFromName  string
	MailOutboxDir string

	// MFA
	MFAEncryptionKey        string `validate:"required,hexadecimal,len=64"`
	MFAIssuer               string `validate:"required"`
	MFARequireVerifiedEmail bool

	// Email verification codes
	CodeTTL              time.Duration `validate:"gt=0"`
	ResendCooldown       time.Duration `validate:"gte=0"`
	VerifiedRetention    time.Duration `validate:"gt=0"`
	ActionVerifiedWindow time.Duration `validate:"gt=0"`
	CleanupInterval      time.Duration `validate:"gte=0"`

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
}

// RateLimitConfig holds per-IP rate limits for each endpoint group.
type RateLimitConfig struct {
	Enabled bool

	AuthRequestsPerMinute int `validate:"min=1"`
	AuthWindowMinutes     int `validate:"min=1"`

	VerifyRequestsPerWindow int `validate:"min=1"`
	VerifyWindowMinutes     int `validate:"min=1"`

	ChallengeRequestsPerWindow int `validate:"min=1"`
	ChallengeWindowMinutes     int `validate:"min=1"`

	ProfileRequestsPerMinute int `validate:"min=1"`
	ProfileWindowMinutes     int `validate:"min=1"`
}

// SecurityHeadersConfig holds the response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr:          getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:          getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 25432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "simple_mfa"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "mfa:session"),

		// JWT defaults
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "simple-mfa"),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 2*time.Hour),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),

		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUser:      getEnv("SMTP_USER", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:      getEnv("SMTP_FROM", ""),
		SMTPFromName:  getEnv("SMTP_FROM_NAME", "Todo"),
		MailOutboxDir: getEnv("MAIL_OUTBOX_DIR", "./var/outbox"),

		MFAEncryptionKey:        getEnv("MFA_ENCRYPTION_KEY", ""),
		MFAIssuer:               getEnv("MFA_ISSUER", "Todo"),
		MFARequireVerifiedEmail: getEnvBool("MFA_REQUIRE_VERIFIED_EMAIL", true),

		CodeTTL:              getEnvDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
		ResendCooldown:       getEnvDuration("VERIFICATION_RESEND_COOLDOWN", 60*time.Second),
		VerifiedRetention:    getEnvDuration("VERIFICATION_RETENTION", 7*24*time.Hour),
		ActionVerifiedWindow: getEnvDuration("ACTION_VERIFIED_WINDOW", 24*time.Hour),
		CleanupInterval:      getEnvDuration("VERIFICATION_CLEANUP_INTERVAL", time.Hour),

		RateLimit: RateLimitConfig{
			Enabled:                    getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:      getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:          getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			VerifyRequestsPerWindow:    getEnvInt("RATE_LIMIT_VERIFY_REQUESTS", 10),
			VerifyWindowMinutes:        getEnvInt("RATE_LIMIT_VERIFY_WINDOW_MINUTES", 15),
			ChallengeRequestsPerWindow: getEnvInt("RATE_LIMIT_CHALLENGE_REQUESTS", 10),
			ChallengeWindowMinutes:     getEnvInt("RATE_LIMIT_CHALLENGE_WINDOW_MINUTES", 15),
			ProfileRequestsPerMinute:   getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 60),
			ProfileWindowMinutes:       getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'self'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", "camera=(), microphone=(), geolocation=()"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and reports the offending fields.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}

// HasSMTP returns true if an SMTP server is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// MFAKey decodes the hex-encoded AES-256 key for TOTP secrets.
func (c *Config) MFAKey() ([]byte, error) {
	key, err := hex.DecodeString(c.MFAEncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 64-char hex (32 bytes)")
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
