package store

import (
	"context"
	"fmt"
)

// migrationsFor returns the idempotent DDL for a driver. Column sets are
// identical across dialects; only types and index syntax differ.
func migrationsFor(driver string) []string {
	switch driver {
	case DriverPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				api_key TEXT NOT NULL UNIQUE,
				role TEXT NOT NULL DEFAULT 'admin' CHECK (role IN ('admin', 'super_admin')),
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
				last_login_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				token TEXT NOT NULL UNIQUE,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				api_key TEXT NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				last_accessed_at TIMESTAMPTZ NOT NULL,
				client_ip TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_account_id ON sessions(account_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		}
	case DriverMySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id VARCHAR(36) PRIMARY KEY,
				username VARCHAR(191) NOT NULL UNIQUE,
				email VARCHAR(191) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				api_key VARCHAR(191) NOT NULL UNIQUE,
				role VARCHAR(32) NOT NULL DEFAULT 'admin',
				status VARCHAR(16) NOT NULL DEFAULT 'active',
				last_login_at DATETIME(6) NULL,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL
			) ENGINE=InnoDB`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id VARCHAR(36) PRIMARY KEY,
				token VARCHAR(191) NOT NULL UNIQUE,
				account_id VARCHAR(36) NOT NULL,
				api_key VARCHAR(191) NOT NULL,
				expires_at DATETIME(6) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				last_accessed_at DATETIME(6) NOT NULL,
				client_ip VARCHAR(64) NOT NULL DEFAULT '',
				user_agent VARCHAR(512) NOT NULL DEFAULT '',
				INDEX idx_sessions_account_id (account_id),
				INDEX idx_sessions_expires_at (expires_at),
				CONSTRAINT fk_sessions_account FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
			) ENGINE=InnoDB`,
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				api_key TEXT NOT NULL UNIQUE,
				role TEXT NOT NULL DEFAULT 'admin' CHECK (role IN ('admin', 'super_admin')),
				status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
				last_login_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				token TEXT NOT NULL UNIQUE,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				api_key TEXT NOT NULL,
				expires_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				last_accessed_at DATETIME NOT NULL,
				client_ip TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_account_id ON sessions(account_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		}
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrationsFor(s.driver) {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
