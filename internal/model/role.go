package model

import (
	"database/sql/driver"
	"fmt"
)

// Role is the privilege level of an administrator account. It is a closed
// set: every switch over Role must handle RoleAdmin and RoleSuperAdmin.
type Role string

const (
	// RoleAdmin may use the back office but cannot manage other accounts.
	RoleAdmin Role = "admin"
	// RoleSuperAdmin may additionally provision, update, and deactivate
	// accounts and revoke their sessions.
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole converts a string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// CanManageAccounts reports whether the role may administer other accounts.
func (r Role) CanManageAccounts() bool {
	switch r {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return false
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

// Value implements driver.Valuer so only valid roles reach the store.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %q", string(r))
	}
	return string(r), nil
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src any) error {
	s, err := scanString(src)
	if err != nil {
		return fmt.Errorf("scan role: %w", err)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown roles.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("unexpected NULL")
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}
