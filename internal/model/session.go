package model

import "time"

// Session is a short-lived, server-side login session. Token is the bearer
// secret; it is only populated on the record returned at creation time.
type Session struct {
	ID             string    `json:"id" db:"id"`
	Token          string    `json:"token,omitempty" db:"token"`
	AccountID      string    `json:"account_id" db:"account_id"`
	APIKey         string    `json:"-" db:"api_key"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at" db:"last_accessed_at"`
	ClientIP       string    `json:"client_ip,omitempty" db:"client_ip"`
	UserAgent      string    `json:"user_agent,omitempty" db:"user_agent"`
}

// Expired reports whether the session is past its absolute expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// WithoutSecrets returns a copy safe to list: no token, no API key.
func (s Session) WithoutSecrets() Session {
	s.Token = ""
	s.APIKey = ""
	return s
}

// ClientInfo is optional request metadata captured when a session is minted.
type ClientInfo struct {
	IP        string
	UserAgent string
}
