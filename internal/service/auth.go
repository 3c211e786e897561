package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/backoffice/internal/metrics"
	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/store"
)

var (
	ErrConflict         = errors.New("username, email or api key already in use")
	ErrMissingToken     = errors.New("session token required")
	ErrAccountNotFound  = errors.New("account not found")
	ErrPasswordTooShort = errors.New("password too short")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidAccount   = errors.New("username and a valid email are required")
)

const (
	// DefaultSessionTTL applies when a caller passes a non-positive ttl.
	DefaultSessionTTL = 24 * time.Hour
	// MaxSessionTTL caps every session's validity window.
	MaxSessionTTL = 7 * 24 * time.Hour
	// MinPasswordLength is enforced when a password is set or changed.
	MinPasswordLength = 8

	maxUserAgentLength = 512
)

// CredentialKind identifies which credential authenticated a request.
type CredentialKind int

const (
	CredentialSession CredentialKind = iota + 1
	CredentialAPIKey
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialSession:
		return "session"
	case CredentialAPIKey:
		return "api_key"
	default:
		return "unknown"
	}
}

// Principal is an authenticated caller. Session is nil for API key callers.
type Principal struct {
	Account    *model.Account
	Session    *model.Session
	Credential CredentialKind
}

// LoginResult is returned by a successful Login. Session.Token is the only
// copy of the token the server ever hands out.
type LoginResult struct {
	Account *model.Account `json:"account"`
	Session *model.Session `json:"session"`
}

// AuthService owns account and session lifecycle. It keeps no state of its
// own beyond configuration; every call reads the store.
type AuthService struct {
	store   *store.Store
	hasher  *Hasher
	issuer  *Issuer
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	loginTTL        time.Duration
	timingHardening bool
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithHasher overrides the password hasher.
func WithHasher(h *Hasher) Option {
	return func(s *AuthService) { s.hasher = h }
}

// WithLoginTTL sets the validity window of sessions minted by Login.
func WithLoginTTL(ttl time.Duration) Option {
	return func(s *AuthService) { s.loginTTL = ttl }
}

// WithTimingHardening toggles the dummy hash verification performed when a
// login names no active account.
func WithTimingHardening(on bool) Option {
	return func(s *AuthService) { s.timingHardening = on }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

// NewAuthService builds the service around an opened store. The caller
// owns the store's lifecycle.
func NewAuthService(st *store.Store, opts ...Option) *AuthService {
	s := &AuthService{
		store:           st,
		now:             time.Now,
		logger:          slog.Default(),
		loginTTL:        DefaultSessionTTL,
		timingHardening: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hasher == nil {
		s.hasher = NewHasher(DefaultBcryptCost)
	}
	s.issuer = NewIssuer(s.clock)
	return s
}

// clock returns the current time in UTC at the precision every supported
// database keeps.
func (s *AuthService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// CreateAccount provisions an account with a fresh API key. An empty role
// means RoleAdmin.
func (s *AuthService) CreateAccount(ctx context.Context, username, email, password string, role model.Role) (*model.Account, error) {
	username, email = normalizeUsername(username), normalizeEmail(email)
	if username == "" || !validEmail(email) {
		return nil, ErrInvalidAccount
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if role == "" {
		role = model.RoleAdmin
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	exists, err := s.store.AccountExists(ctx, username, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrConflict
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	acct := &model.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		APIKey:       s.issuer.NewAPIKey(),
		Role:         role,
		Status:       model.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, err
	}

	s.metrics.AccountCreated()
	s.logger.Info("account created", "account_id", acct.ID, "username", acct.Username, "role", acct.Role)
	return acct.Public(), nil
}

// Authenticate checks a username and password. Unknown users, inactive
// accounts and wrong passwords all return (nil, nil).
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	acct, err := s.store.GetActiveAccountByUsername(ctx, normalizeUsername(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if s.timingHardening {
				s.hasher.burn(password)
			}
			s.metrics.ObserveLogin(metrics.ResultRejected)
			return nil, nil
		}
		s.metrics.ObserveLogin(metrics.ResultError)
		return nil, err
	}

	if !s.hasher.Verify(password, acct.PasswordHash) {
		s.metrics.ObserveLogin(metrics.ResultRejected)
		return nil, nil
	}

	now := s.clock()
	if err := s.store.TouchLastLogin(ctx, acct.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveLogin(metrics.ResultRejected)
			return nil, nil
		}
		s.metrics.ObserveLogin(metrics.ResultError)
		return nil, err
	}
	acct.LastLoginAt = &now
	acct.UpdatedAt = now

	s.metrics.ObserveLogin(metrics.ResultSuccess)
	return acct.Public(), nil
}

// GetByID returns the account or (nil, nil) if it does not exist.
func (s *AuthService) GetByID(ctx context.Context, id string) (*model.Account, error) {
	acct, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return acct.Public(), nil
}

// UpdateAccount applies the non-nil fields of upd. An empty update returns
// the current account unchanged; a missing account returns (nil, nil).
func (s *AuthService) UpdateAccount(ctx context.Context, id string, upd model.AccountUpdate) (*model.Account, error) {
	acct, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if upd.Empty() {
		return acct.Public(), nil
	}

	if upd.Username != nil {
		username := normalizeUsername(*upd.Username)
		if username == "" {
			return nil, ErrInvalidAccount
		}
		acct.Username = username
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if !validEmail(email) {
			return nil, ErrInvalidAccount
		}
		acct.Email = email
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, ErrInvalidRole
		}
		acct.Role = *upd.Role
	}
	if upd.Password != nil {
		if len(*upd.Password) < MinPasswordLength {
			return nil, ErrPasswordTooShort
		}
		hash, err := s.hasher.Hash(*upd.Password)
		if err != nil {
			return nil, err
		}
		acct.PasswordHash = hash
	}
	acct.UpdatedAt = s.clock()

	if err := s.store.UpdateAccount(ctx, acct); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrConflict
		case errors.Is(err, store.ErrNotFound):
			return nil, nil
		}
		return nil, err
	}
	return acct.Public(), nil
}

// Deactivate marks the account inactive and revokes every session it holds,
// atomically. It returns the number of sessions revoked.
func (s *AuthService) Deactivate(ctx context.Context, id string) (int64, error) {
	revoked, err := s.store.DeactivateAccount(ctx, id, s.clock())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	s.metrics.AccountDeactivated()
	s.metrics.SessionsRevoked(revoked)
	s.logger.Info("account deactivated", "account_id", id, "sessions_revoked", revoked)
	return revoked, nil
}

// RotateAPIKey replaces the account's API key. Existing sessions stay valid
// and keep the key they were issued with.
func (s *AuthService) RotateAPIKey(ctx context.Context, id string) (*model.Account, error) {
	key := s.issuer.NewAPIKey()
	if err := s.store.SetAPIKey(ctx, id, key, s.clock()); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrAccountNotFound
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrConflict
		}
		return nil, err
	}
	s.logger.Info("api key rotated", "account_id", id)

	acct, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return acct.Public(), nil
}

// ListAccounts returns every account, active or not, without password hashes.
func (s *AuthService) ListAccounts(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].PasswordHash = ""
	}
	return accounts, nil
}

// HasAnyAccount reports whether any account has been provisioned.
func (s *AuthService) HasAnyAccount(ctx context.Context) (bool, error) {
	n, err := s.store.CountAccounts(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession mints a session for accountID. ttl <= 0 selects
// DefaultSessionTTL; longer windows are capped at MaxSessionTTL. The
// returned record carries the raw token.
func (s *AuthService) CreateSession(ctx context.Context, accountID, apiKey string, ttl time.Duration, client model.ClientInfo) (*model.Session, error) {
	token, err := s.issuer.NewSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	sess := &model.Session{
		ID:             uuid.NewString(),
		Token:          token,
		AccountID:      accountID,
		APIKey:         apiKey,
		ExpiresAt:      now.Add(clampTTL(ttl)),
		CreatedAt:      now,
		LastAccessedAt: now,
		ClientIP:       client.IP,
		UserAgent:      truncate(client.UserAgent, maxUserAgentLength),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.SessionCreated()
	return sess, nil
}

// ValidateSession resolves token to its session and active owner and
// refreshes last_accessed_at. A missing, expired or orphaned session
// returns (nil, nil).
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		s.metrics.ObserveValidation(metrics.CredentialSession, metrics.ResultRejected)
		return nil, nil
	}
	acct, sess, err := s.store.TouchValidSession(ctx, token, s.clock())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveValidation(metrics.CredentialSession, metrics.ResultRejected)
			return nil, nil
		}
		s.metrics.ObserveValidation(metrics.CredentialSession, metrics.ResultError)
		return nil, err
	}
	s.metrics.ObserveValidation(metrics.CredentialSession, metrics.ResultSuccess)

	withoutToken := sess.WithoutSecrets()
	return &Principal{
		Account:    acct.Public(),
		Session:    &withoutToken,
		Credential: CredentialSession,
	}, nil
}

// ValidateAPIKey returns the active account owning key, or (nil, nil).
// Session state is not touched.
func (s *AuthService) ValidateAPIKey(ctx context.Context, key string) (*model.Account, error) {
	if !LooksLikeAPIKey(key) {
		s.metrics.ObserveValidation(metrics.CredentialAPIKey, metrics.ResultRejected)
		return nil, nil
	}
	acct, err := s.store.GetActiveAccountByAPIKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveValidation(metrics.CredentialAPIKey, metrics.ResultRejected)
			return nil, nil
		}
		s.metrics.ObserveValidation(metrics.CredentialAPIKey, metrics.ResultError)
		return nil, err
	}
	s.metrics.ObserveValidation(metrics.CredentialAPIKey, metrics.ResultSuccess)
	return acct.Public(), nil
}

// InvalidateSession deletes the session for token. Unknown tokens are not
// an error.
func (s *AuthService) InvalidateSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	n, err := s.store.DeleteSessionByToken(ctx, token)
	if err != nil {
		return err
	}
	s.metrics.SessionsRevoked(n)
	return nil
}

// InvalidateAllSessions deletes every session of accountID and returns how
// many there were.
func (s *AuthService) InvalidateAllSessions(ctx context.Context, accountID string) (int64, error) {
	n, err := s.store.DeleteSessionsForAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsRevoked(n)
	if n > 0 {
		s.logger.Info("sessions revoked", "account_id", accountID, "count", n)
	}
	return n, nil
}

// PruneExpired deletes sessions whose expiry has passed.
func (s *AuthService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	s.metrics.SessionsPruned(n)
	return n, nil
}

// ListSessions returns the sessions of accountID with secrets removed.
func (s *AuthService) ListSessions(ctx context.Context, accountID string) ([]model.Session, error) {
	sessions, err := s.store.ListSessions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i] = sessions[i].WithoutSecrets()
	}
	return sessions, nil
}

// Login authenticates and mints a session using the login TTL. Rejected
// credentials return (nil, nil).
func (s *AuthService) Login(ctx context.Context, username, password string, client model.ClientInfo) (*LoginResult, error) {
	acct, err := s.Authenticate(ctx, username, password)
	if err != nil || acct == nil {
		return nil, err
	}
	sess, err := s.CreateSession(ctx, acct.ID, acct.APIKey, s.loginTTL, client)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Account: acct, Session: sess}, nil
}

// Logout destroys the session for token. Logging out twice is fine.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	return s.InvalidateSession(ctx, token)
}

// Authorize is the single entry point for request guards. A session token,
// when present, decides the outcome on its own: an invalid token is a
// rejection even if a valid API key accompanies it. Rejections are
// (nil, nil).
func (s *AuthService) Authorize(ctx context.Context, sessionToken, apiKey string) (*Principal, error) {
	if sessionToken != "" {
		return s.ValidateSession(ctx, sessionToken)
	}
	if apiKey == "" {
		return nil, nil
	}
	acct, err := s.ValidateAPIKey(ctx, apiKey)
	if err != nil || acct == nil {
		return nil, err
	}
	return &Principal{Account: acct, Credential: CredentialAPIKey}, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return DefaultSessionTTL
	case ttl > MaxSessionTTL:
		return MaxSessionTTL
	default:
		return ttl
	}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	local, domain, ok := strings.Cut(s, "@")
	return ok && local != "" && domain != "" && !strings.ContainsAny(s, " \t\r\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
