package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

const mysqlErrDuplicateEntry = 1062

// RefreshSessionRepository owns the refresh_sessions table. Nothing else
// mutates it: rows are created on issuance, revoked by conditional update,
// and deleted only by the retention sweep.
type RefreshSessionRepository struct {
	db DBTX
}

func NewRefreshSessionRepository(db DBTX) *RefreshSessionRepository {
	return &RefreshSessionRepository{db: db}
}

// Save inserts an active session record. A duplicate jti is treated as
// idempotent success rather than a uniqueness conflict.
func (r *RefreshSessionRepository) Save(ctx context.Context, userID uint64, jti string, now time.Time) error {
	query := `
		INSERT INTO refresh_sessions (user_id, jti, created_at)
		VALUES (?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, userID, jti, now)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return nil
		}
		return storageErr(err)
	}
	return nil
}

// IsActive reports whether the jti resolves to a non-revoked session. A
// missing row and a revoked row are indistinguishable to callers.
func (r *RefreshSessionRepository) IsActive(ctx context.Context, jti string) (bool, error) {
	query := `SELECT revoked_at FROM refresh_sessions WHERE jti = ?`
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, jti).Scan(&revokedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageErr(err)
	}
	return !revokedAt.Valid, nil
}

// Rotate revokes the session with the given jti if it is still active and
// returns the number of rows affected. The conditional WHERE is the atomic
// compare-and-swap that decides concurrent refresh races: exactly one caller
// observes 1 row. Zero rows (absent or already revoked) is not an error here.
func (r *RefreshSessionRepository) Rotate(ctx context.Context, jti string, now time.Time) (int64, error) {
	query := `UPDATE refresh_sessions SET revoked_at = ? WHERE jti = ? AND revoked_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, now, jti)
	if err != nil {
		return 0, storageErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	return rows, nil
}

// RevokeAllForUser revokes every active session of the user in one statement.
func (r *RefreshSessionRepository) RevokeAllForUser(ctx context.Context, userID uint64, now time.Time) error {
	query := `UPDATE refresh_sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, now, userID); err != nil {
		return storageErr(err)
	}
	return nil
}

// PurgeRevokedBefore deletes sessions revoked before the cutoff. It only
// touches already-inert rows, so it is safe to run concurrently with the
// request path.
func (r *RefreshSessionRepository) PurgeRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE revoked_at IS NOT NULL AND revoked_at < ?`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, storageErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	return rows, nil
}
