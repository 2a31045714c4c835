package entity

import (
	"database/sql"
	"time"
)

const (
	ActionKindEmailVerify   = "email_verify"
	ActionKindPasswordReset = "password_reset"
)

// ActionToken is an opaque single-use token authorizing one state change
// (email verification or password reset). It is inert once used_at is set
// or expires_at has passed.
type ActionToken struct {
	ID        uint64
	UserID    uint64
	Kind      string
	Token     string
	ExpiresAt time.Time
	UsedAt    sql.NullTime
	CreatedAt time.Time
}

func (t *ActionToken) Usable(now time.Time) bool {
	return !t.UsedAt.Valid && t.ExpiresAt.After(now)
}
