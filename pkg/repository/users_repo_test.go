package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-mfa/pkg/domain"
)

var userRowColumns = []string{"id", "email", "name", "password_hash", "email_verified_at", "created_at", "updated_at"}

func TestUsersRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUsersRepository(db)

	userID := uuid.New()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows(userRowColumns).
				AddRow(userID.String(), "user@example.com", "Ada", "$argon2id$hash", now, now, now))

		user, err := repo.GetByID(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, userID, user.ID)
		assert.Equal(t, "user@example.com", user.Email)
		require.NotNil(t, user.Name)
		assert.Equal(t, "Ada", *user.Name)
		assert.True(t, user.IsEmailVerified())
		assert.True(t, user.HasPassword())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows(userRowColumns))

		_, err := repo.GetByID(context.Background(), userID)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersRepository_GetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUsersRepository(db)

	userID := uuid.New()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email = $1`)).
		WithArgs("user@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow(userID.String(), "user@example.com", nil, nil, nil, now, now))

	user, err := repo.GetByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Nil(t, user.Name)
	assert.False(t, user.IsEmailVerified())
	assert.False(t, user.HasPassword())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersRepository_MarkEmailVerified(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUsersRepository(db)

	userID := uuid.New()
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`SET email_verified_at = COALESCE(email_verified_at, $2)`)).
		WithArgs(userID, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkEmailVerified(context.Background(), userID, at))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users`)).
		WithArgs(userID, at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkEmailVerified(context.Background(), userID, at), domain.ErrUserNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewUsersRepository(db)

	hash := "$argon2id$hash"
	user := &domain.User{ID: uuid.New(), Email: "new@example.com", PasswordHash: &hash, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs(user.ID, user.Email, nil, hash, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), user))
	assert.NoError(t, mock.ExpectationsWereMet())
}
