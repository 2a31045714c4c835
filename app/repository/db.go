package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrStorageUnavailable wraps transient persistence failures. It is the only
// error class callers may retry; everything else is terminal for the request.
var ErrStorageUnavailable = errors.New("storage unavailable")

// DBTX is satisfied by *sql.DB and *sql.Tx so repositories work both
// standalone and inside an orchestrator-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
