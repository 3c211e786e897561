package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/meridianlabs/backoffice/internal/model"
)

// Options selects and tunes the backing database.
type Options struct {
	Driver          string // sqlite (default), postgres, or mysql
	DSN             string // required for postgres and mysql
	DataDir         string // sqlite only; empty means in-memory
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store persists administrator accounts and their sessions. It holds no
// caches: every read goes to the database.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	sqlDriver, err := sqlDriverName(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	switch opts.Driver {
	case DriverSQLite:
		if dsn == "" {
			if dsn, err = sqliteDSN(opts.DataDir); err != nil {
				return nil, err
			}
		}
	case DriverMySQL:
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres store requires a DSN")
		}
	}

	db, err := sqlx.ConnectContext(ctx, sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	if opts.Driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	s := &Store{db: db, driver: opts.Driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store database: %w", err)
	}
	return s, nil
}

// NewStore opens a SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(context.Background(), Options{Driver: DriverSQLite, DataDir: dataDir})
}

// Wrap builds a Store around an existing handle without running
// migrations. The caller owns the schema.
func Wrap(db *sqlx.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// mysqlDSN forces time parsing in UTC so DATETIME columns scan into
// time.Time, and reports matched rather than changed rows so idempotent
// updates still see their target row.
func mysqlDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", errors.New("mysql store requires a DSN")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

// Driver returns the store's driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func rowsAffected(result sql.Result, op string) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

const accountColumns = `id, username, email, password_hash, api_key, role, status,
	last_login_at, created_at, updated_at`

// CreateAccount inserts a fully populated account row.
func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	const q = `INSERT INTO accounts
		(id, username, email, password_hash, api_key, role, status, last_login_at, created_at, updated_at)
		VALUES
		(:id, :username, :email, :password_hash, :api_key, :role, :status, :last_login_at, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// AccountExists reports whether any account already uses username or email.
func (s *Store) AccountExists(ctx context.Context, username, email string) (bool, error) {
	var count int
	q := s.db.Rebind("SELECT COUNT(*) FROM accounts WHERE username = ? OR email = ?")
	if err := s.db.GetContext(ctx, &count, q, username, email); err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	return count > 0, nil
}

// CountAccounts returns the number of accounts, active or not.
func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM accounts"); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

func (s *Store) getAccount(ctx context.Context, op, where string, args ...any) (*model.Account, error) {
	var a model.Account
	q := s.db.Rebind("SELECT " + accountColumns + " FROM accounts WHERE " + where)
	if err := s.db.GetContext(ctx, &a, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

// GetAccountByID returns an account regardless of status.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return s.getAccount(ctx, "get account", "id = ?", id)
}

// GetActiveAccountByUsername returns an active account by username.
func (s *Store) GetActiveAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getAccount(ctx, "get account by username", "username = ? AND status = ?", username, model.StatusActive)
}

// GetActiveAccountByAPIKey returns the active account owning key.
func (s *Store) GetActiveAccountByAPIKey(ctx context.Context, key string) (*model.Account, error) {
	return s.getAccount(ctx, "get account by api key", "api_key = ? AND status = ?", key, model.StatusActive)
}

// ListAccounts returns all accounts ordered by username.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	q := "SELECT " + accountColumns + " FROM accounts ORDER BY username"
	if err := s.db.SelectContext(ctx, &accounts, q); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccount writes the mutable profile fields of a.
func (s *Store) UpdateAccount(ctx context.Context, a *model.Account) error {
	const q = `UPDATE accounts SET
		username = :username, email = :email, password_hash = :password_hash,
		role = :role, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, a)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update account: %w", err)
	}
	n, err := rowsAffected(result, "update account")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	q := s.db.Rebind("UPDATE accounts SET last_login_at = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, at, at, id)
	if err != nil {
		return fmt.Errorf("update account last login: %w", err)
	}
	n, err := rowsAffected(result, "update account last login")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAPIKey replaces an account's API key.
func (s *Store) SetAPIKey(ctx context.Context, id, key string, at time.Time) error {
	q := s.db.Rebind("UPDATE accounts SET api_key = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, key, at, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("set api key: %w", err)
	}
	n, err := rowsAffected(result, "set api key")
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAccount marks the account inactive and deletes all of its
// sessions in one transaction. It returns the number of sessions removed.
func (s *Store) DeactivateAccount(ctx context.Context, id string, at time.Time) (int64, error) {
	var revoked int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx,
			tx.Rebind("UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?"),
			model.StatusInactive, at, id)
		if err != nil {
			return fmt.Errorf("deactivate account: %w", err)
		}
		n, err := rowsAffected(result, "deactivate account")
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		result, err = tx.ExecContext(ctx, tx.Rebind("DELETE FROM sessions WHERE account_id = ?"), id)
		if err != nil {
			return fmt.Errorf("delete account sessions: %w", err)
		}
		revoked, err = rowsAffected(result, "delete account sessions")
		return err
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sessionColumns = `id, token, account_id, api_key, expires_at, created_at,
	last_accessed_at, client_ip, user_agent`

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	const q = `INSERT INTO sessions
		(id, token, account_id, api_key, expires_at, created_at, last_accessed_at, client_ip, user_agent)
		VALUES
		(:id, :token, :account_id, :api_key, :expires_at, :created_at, :last_accessed_at, :client_ip, :user_agent)`

	if _, err := s.db.NamedExecContext(ctx, q, sess); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// sessionAccountRow is the flat result of the session/account join.
type sessionAccountRow struct {
	SessionID      string    `db:"s_id"`
	Token          string    `db:"s_token"`
	AccountID      string    `db:"s_account_id"`
	SessionAPIKey  string    `db:"s_api_key"`
	ExpiresAt      time.Time `db:"s_expires_at"`
	SessionCreated time.Time `db:"s_created_at"`
	LastAccessedAt time.Time `db:"s_last_accessed_at"`
	ClientIP       string    `db:"s_client_ip"`
	UserAgent      string    `db:"s_user_agent"`

	model.Account
}

func (r *sessionAccountRow) split() (*model.Account, *model.Session) {
	acct := r.Account
	sess := &model.Session{
		ID:             r.SessionID,
		Token:          r.Token,
		AccountID:      r.AccountID,
		APIKey:         r.SessionAPIKey,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.SessionCreated,
		LastAccessedAt: r.LastAccessedAt,
		ClientIP:       r.ClientIP,
		UserAgent:      r.UserAgent,
	}
	return &acct, sess
}

const validSessionQuery = `SELECT
		s.id AS s_id, s.token AS s_token, s.account_id AS s_account_id, s.api_key AS s_api_key,
		s.expires_at AS s_expires_at, s.created_at AS s_created_at,
		s.last_accessed_at AS s_last_accessed_at, s.client_ip AS s_client_ip, s.user_agent AS s_user_agent,
		a.id, a.username, a.email, a.password_hash, a.api_key, a.role, a.status,
		a.last_login_at, a.created_at, a.updated_at
	FROM sessions s
	JOIN accounts a ON a.id = s.account_id
	WHERE s.token = ? AND s.expires_at > ? AND a.status = ?`

// TouchValidSession loads the session for token together with its owning
// account, provided the session has not expired at now and the account is
// active, and refreshes last_accessed_at in the same transaction. It returns
// ErrNotFound when the token does not name a valid session.
func (s *Store) TouchValidSession(ctx context.Context, token string, now time.Time) (*model.Account, *model.Session, error) {
	var (
		acct *model.Account
		sess *model.Session
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row sessionAccountRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(validSessionQuery), token, now, model.StatusActive); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}

		// Last write wins between concurrent validations; never move backwards.
		accessed := now
		if accessed.Before(row.LastAccessedAt) {
			accessed = row.LastAccessedAt
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind("UPDATE sessions SET last_accessed_at = ? WHERE id = ?"),
			accessed, row.SessionID); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		row.LastAccessedAt = accessed
		acct, sess = row.split()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return acct, sess, nil
}

// ListSessions returns all sessions owned by an account, newest first.
func (s *Store) ListSessions(ctx context.Context, accountID string) ([]model.Session, error) {
	var sessions []model.Session
	q := s.db.Rebind("SELECT " + sessionColumns + " FROM sessions WHERE account_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &sessions, q, accountID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSessionByToken removes one session. Missing tokens are not an error.
func (s *Store) DeleteSessionByToken(ctx context.Context, token string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sessions WHERE token = ?"), token)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	return rowsAffected(result, "delete session")
}

// DeleteSessionsForAccount removes every session owned by accountID.
func (s *Store) DeleteSessionsForAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sessions WHERE account_id = ?"), accountID)
	if err != nil {
		return 0, fmt.Errorf("delete account sessions: %w", err)
	}
	return rowsAffected(result, "delete account sessions")
}

// DeleteExpiredSessions removes sessions whose expiry is at or before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sessions WHERE expires_at <= ?"), now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return rowsAffected(result, "delete expired sessions")
}
