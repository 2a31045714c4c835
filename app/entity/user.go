package entity

import (
	"database/sql"
	"time"
)

const (
	RoleCustomer = "CUSTOMER"
	RoleSeller   = "SELLER"
	RoleProvider = "PROVIDER"
)

// User is the identity anchor. PasswordHash is NULL for accounts created
// through federated sign-in.
type User struct {
	ID              uint64
	Name            sql.NullString
	Email           string
	CanonicalEmail  string
	PasswordHash    sql.NullString
	Role            string
	EmailVerified   bool
	EmailVerifiedAt sql.NullTime
	LastLoginAt     sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
