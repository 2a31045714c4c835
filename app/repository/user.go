package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/abasto-labs/marketplace-auth/app/entity"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, canonical_email, password_hash, role, email_verified, email_verified_at,
		       last_login_at, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (name, email, canonical_email, password_hash, role, email_verified, email_verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Name,
		user.Email,
		user.CanonicalEmail,
		user.PasswordHash,
		user.Role,
		user.EmailVerified,
		user.EmailVerifiedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return storageErr(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return storageErr(err)
	}
	user.ID = uint64(id)
	return nil
}

func (r *UserRepository) FindByCanonicalEmail(ctx context.Context, canonicalEmail string) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE canonical_email = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, canonicalEmail))
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE id = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID uint64, passwordHash string, now time.Time) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, passwordHash, now, userID); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID uint64, now time.Time) error {
	query := `UPDATE users SET email_verified = TRUE, email_verified_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, now, now, userID); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID uint64, lastLogin time.Time) error {
	query := `UPDATE users SET last_login_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, lastLogin, userID); err != nil {
		return storageErr(err)
	}
	return nil
}

func (r *UserRepository) scanOne(row *sql.Row) (*entity.User, error) {
	user := &entity.User{}
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.CanonicalEmail,
		&user.PasswordHash,
		&user.Role,
		&user.EmailVerified,
		&user.EmailVerifiedAt,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return user, nil
}
