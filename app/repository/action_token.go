package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/abasto-labs/marketplace-auth/app/entity"
)

// ActionTokenRepository is the ledger of single-use tokens for email
// verification and password reset.
type ActionTokenRepository struct {
	db DBTX
}

func NewActionTokenRepository(db DBTX) *ActionTokenRepository {
	return &ActionTokenRepository{db: db}
}

func (r *ActionTokenRepository) Create(ctx context.Context, token *entity.ActionToken) error {
	query := `
		INSERT INTO action_tokens (user_id, kind, token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		token.UserID,
		token.Kind,
		token.Token,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return storageErr(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return storageErr(err)
	}
	token.ID = uint64(id)
	return nil
}

func (r *ActionTokenRepository) FindByToken(ctx context.Context, kind, tokenString string) (*entity.ActionToken, error) {
	query := `
		SELECT id, user_id, kind, token, expires_at, used_at, created_at
		FROM action_tokens WHERE kind = ? AND token = ?
	`
	token := &entity.ActionToken{}
	err := r.db.QueryRowContext(ctx, query, kind, tokenString).Scan(
		&token.ID,
		&token.UserID,
		&token.Kind,
		&token.Token,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return token, nil
}

// Consume marks the token used if it has not been used yet and returns the
// rows affected. Zero rows means another caller consumed it first.
func (r *ActionTokenRepository) Consume(ctx context.Context, id uint64, now time.Time) (int64, error) {
	query := `UPDATE action_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return 0, storageErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	return rows, nil
}

// InvalidatePendingForUser marks every still-pending token of the kind used,
// so at most one token of a kind is ever valid per user.
func (r *ActionTokenRepository) InvalidatePendingForUser(ctx context.Context, userID uint64, kind string, now time.Time) error {
	query := `UPDATE action_tokens SET used_at = ? WHERE user_id = ? AND kind = ? AND used_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, now, userID, kind); err != nil {
		return storageErr(err)
	}
	return nil
}
