package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// AccountStatus is the lifecycle state of an account. Accounts are never
// deleted; deactivation moves them to StatusInactive.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
)

// Valid reports whether s is a defined status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive:
		return true
	default:
		return false
	}
}

// Value implements driver.Valuer.
func (s AccountStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid account status %q", string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *AccountStatus) Scan(src any) error {
	str, err := scanString(src)
	if err != nil {
		return fmt.Errorf("scan account status: %w", err)
	}
	st := AccountStatus(str)
	if !st.Valid() {
		return fmt.Errorf("unknown account status %q", str)
	}
	*s = st
	return nil
}

// Account is an administrator of the back office. The password hash never
// leaves the service layer; callers receive copies with it cleared.
type Account struct {
	ID           string        `json:"id" db:"id"`
	Username     string        `json:"username" db:"username"`
	Email        string        `json:"email" db:"email"`
	PasswordHash string        `json:"-" db:"password_hash"`
	APIKey       string        `json:"api_key,omitempty" db:"api_key"`
	Role         Role          `json:"role" db:"role"`
	Status       AccountStatus `json:"status" db:"status"`
	LastLoginAt  *time.Time    `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the account may authenticate.
func (a *Account) IsActive() bool {
	switch a.Status {
	case StatusActive:
		return true
	case StatusInactive:
		return false
	default:
		return false
	}
}

// Public returns a copy of the account without its password hash.
func (a *Account) Public() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.PasswordHash = ""
	return &cp
}

// Redacted returns a public copy whose API key is cut down to its
// recognisable prefix, for listings.
func (a *Account) Redacted() *Account {
	cp := a.Public()
	if cp == nil {
		return nil
	}
	cp.APIKey = KeyPreview(cp.APIKey)
	return cp
}

// KeyPreview shortens a secret to a prefix that is safe to display.
func KeyPreview(secret string) string {
	const n = 10
	if len(secret) <= n {
		return secret
	}
	return secret[:n] + "..."
}

// AccountUpdate carries a partial update. Nil fields are left untouched.
type AccountUpdate struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *Role   `json:"role,omitempty"`
}

// Empty reports whether the update touches no fields.
func (u AccountUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.Password == nil && u.Role == nil
}
