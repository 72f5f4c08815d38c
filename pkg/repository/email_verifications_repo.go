package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/domain"
)

const emailVerificationColumns = `id, user_id, purpose, code, expires_at, attempts, verified_at, sent_at, created_at, updated_at`

// EmailVerificationsRepository stores one email code per (user, purpose).
type EmailVerificationsRepository struct {
	db *sql.DB
}

// NewEmailVerificationsRepository creates a new email verifications repository.
func NewEmailVerificationsRepository(db *sql.DB) *EmailVerificationsRepository {
	return &EmailVerificationsRepository{db: db}
}

// Upsert writes a fresh code for (rec.UserID, rec.Purpose), resetting attempts
// and verification. rec.ID and rec.CreatedAt are refreshed from the stored row.
func (r *EmailVerificationsRepository) Upsert(ctx context.Context, rec *domain.EmailVerification) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO email_verifications (id, user_id, purpose, code, expires_at, attempts, verified_at, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NULL, $6, $7, $7)
		ON CONFLICT (user_id, purpose) DO UPDATE
		SET code = EXCLUDED.code,
		    expires_at = EXCLUDED.expires_at,
		    attempts = 0,
		    verified_at = NULL,
		    sent_at = EXCLUDED.sent_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.UserID, string(rec.Purpose), rec.Code, rec.ExpiresAt, rec.SentAt, rec.UpdatedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert email verification: %w", err)
	}
	rec.Attempts = 0
	rec.VerifiedAt = nil
	return nil
}

// GetLatest retrieves the code for (userID, purpose).
func (r *EmailVerificationsRepository) GetLatest(ctx context.Context, userID uuid.UUID, purpose domain.Purpose) (*domain.EmailVerification, error) {
	query := `SELECT ` + emailVerificationColumns + ` FROM email_verifications WHERE user_id = $1 AND purpose = $2`
	return scanEmailVerification(r.db.QueryRowContext(ctx, query, userID, string(purpose)))
}

// Update locks the row for (userID, purpose) and writes back the result of fn.
// Nothing is written when fn returns an error.
func (r *EmailVerificationsRepository) Update(ctx context.Context, userID uuid.UUID, purpose domain.Purpose, fn func(*domain.EmailVerification) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + emailVerificationColumns + ` FROM email_verifications WHERE user_id = $1 AND purpose = $2 FOR UPDATE`
		rec, err := scanEmailVerification(tx.QueryRowContext(ctx, query, userID, string(purpose)))
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}

		update := `
			UPDATE email_verifications
			SET code = $2, expires_at = $3, attempts = $4, verified_at = $5, sent_at = $6, updated_at = $7
			WHERE id = $1
		`
		_, err = tx.ExecContext(ctx, update,
			rec.ID, rec.Code, rec.ExpiresAt, rec.Attempts, rec.VerifiedAt, rec.SentAt, rec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update email verification: %w", err)
		}
		return nil
	})
}

// Delete removes the code for (userID, purpose), if any.
func (r *EmailVerificationsRepository) Delete(ctx context.Context, userID uuid.UUID, purpose domain.Purpose) error {
	query := `DELETE FROM email_verifications WHERE user_id = $1 AND purpose = $2`
	_, err := r.db.ExecContext(ctx, query, userID, string(purpose))
	return err
}

// DeleteExpired removes expired codes and codes verified before verifiedBefore.
func (r *EmailVerificationsRepository) DeleteExpired(ctx context.Context, now, verifiedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM email_verifications
		WHERE expires_at < $1 OR verified_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, now, verifiedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired email verifications: %w", err)
	}
	return result.RowsAffected()
}

func scanEmailVerification(row *sql.Row) (*domain.EmailVerification, error) {
	rec := &domain.EmailVerification{}
	var purpose string
	err := row.Scan(
		&rec.ID, &rec.UserID, &purpose, &rec.Code, &rec.ExpiresAt, &rec.Attempts,
		&rec.VerifiedAt, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVerificationNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Purpose = domain.Purpose(purpose)
	return rec, nil
}
