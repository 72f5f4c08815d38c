package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-mfa/pkg/domain"
)

const mfaConfigurationColumns = `id, user_id, enabled, totp_enabled, email_enabled, secret_encrypted, recovery_codes,
	email_code, email_code_expires_at, email_code_attempts, verified_at, created_at, updated_at`

// MFAConfigurationsRepository handles the per-user MFA configuration row.
type MFAConfigurationsRepository struct {
	db *sql.DB
}

// NewMFAConfigurationsRepository creates a new MFA configurations repository.
func NewMFAConfigurationsRepository(db *sql.DB) *MFAConfigurationsRepository {
	return &MFAConfigurationsRepository{db: db}
}

// Get retrieves the configuration for a user.
func (r *MFAConfigurationsRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error) {
	query := `SELECT ` + mfaConfigurationColumns + ` FROM mfa_configurations WHERE user_id = $1`
	return scanMFAConfiguration(r.db.QueryRowContext(ctx, query, userID))
}

// GetOrCreate retrieves the configuration for a user, creating an empty one first if needed.
func (r *MFAConfigurationsRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.MFAConfiguration, error) {
	now := time.Now()
	insert := `
		INSERT INTO mfa_configurations (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, uuid.New(), userID, now); err != nil {
		return nil, fmt.Errorf("failed to create MFA configuration: %w", err)
	}
	return r.Get(ctx, userID)
}

// Update locks the user's configuration and writes back the result of fn.
// Nothing is written when fn returns an error.
func (r *MFAConfigurationsRepository) Update(ctx context.Context, userID uuid.UUID, fn func(*domain.MFAConfiguration) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + mfaConfigurationColumns + ` FROM mfa_configurations WHERE user_id = $1 FOR UPDATE`
		cfg, err := scanMFAConfiguration(tx.QueryRowContext(ctx, query, userID))
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		cfg.RecomputeEnabled()

		update := `
			UPDATE mfa_configurations
			SET enabled = $2, totp_enabled = $3, email_enabled = $4, secret_encrypted = $5,
			    recovery_codes = $6, email_code = $7, email_code_expires_at = $8,
			    email_code_attempts = $9, verified_at = $10, updated_at = $11
			WHERE user_id = $1
		`
		_, err = tx.ExecContext(ctx, update,
			userID, cfg.Enabled, cfg.TOTPEnabled, cfg.EmailEnabled, cfg.SecretEncrypted,
			pq.Array(nonNil(cfg.RecoveryCodes)), cfg.EmailCode, cfg.EmailCodeExpiresAt,
			cfg.EmailCodeAttempts, cfg.VerifiedAt, cfg.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update MFA configuration: %w", err)
		}
		return nil
	})
}

// ConsumeRecoveryCode removes one occurrence of digest from the user's
// recovery codes. The single UPDATE makes concurrent uses of the same code
// succeed at most once.
func (r *MFAConfigurationsRepository) ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, digest string) (bool, error) {
	query := `
		UPDATE mfa_configurations
		SET recovery_codes = recovery_codes[:array_position(recovery_codes, $2) - 1]
		                  || recovery_codes[array_position(recovery_codes, $2) + 1:],
		    updated_at = NOW()
		WHERE user_id = $1 AND $2 = ANY(recovery_codes)
	`
	result, err := r.db.ExecContext(ctx, query, userID, digest)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ReplaceRecoveryCodes overwrites the user's recovery codes.
func (r *MFAConfigurationsRepository) ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, digests []string) error {
	query := `
		UPDATE mfa_configurations
		SET recovery_codes = $2, updated_at = NOW()
		WHERE user_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, userID, pq.Array(nonNil(digests)))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrMFANotConfigured
	}
	return nil
}

func scanMFAConfiguration(row *sql.Row) (*domain.MFAConfiguration, error) {
	cfg := &domain.MFAConfiguration{}
	var codes pq.StringArray
	err := row.Scan(
		&cfg.ID, &cfg.UserID, &cfg.Enabled, &cfg.TOTPEnabled, &cfg.EmailEnabled,
		&cfg.SecretEncrypted, &codes, &cfg.EmailCode, &cfg.EmailCodeExpiresAt,
		&cfg.EmailCodeAttempts, &cfg.VerifiedAt, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMFANotConfigured
	}
	if err != nil {
		return nil, err
	}
	cfg.RecoveryCodes = []string(codes)
	return cfg, nil
}

// nonNil keeps recovery_codes an empty array rather than NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
