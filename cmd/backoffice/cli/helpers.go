package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/meridianlabs/backoffice/internal/config"
	"github.com/meridianlabs/backoffice/internal/metrics"
	"github.com/meridianlabs/backoffice/internal/model"
	"github.com/meridianlabs/backoffice/internal/service"
	"github.com/meridianlabs/backoffice/internal/store"
)

// loadConfig returns the effective configuration: defaults, then the config
// file, then BACKOFFICE_* environment variables, then flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == store.DriverSQLite && cfg.Database.DSN == "" && cfg.Database.DataDir == "" {
		cfg.Database.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// defaultDataDir is ~/.backoffice. The CLI never falls back to an in-memory
// store; accounts created by one command must be visible to the next.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".backoffice"
	}
	return filepath.Join(home, ".backoffice")
}

// openStore opens the credential store described by cfg.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		DataDir:         cfg.Database.DataDir,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Lifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return st, nil
}

// newAuthService builds the AuthService from cfg. m may be nil.
func newAuthService(st *store.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *service.AuthService {
	return service.NewAuthService(st,
		service.WithHasher(service.NewHasher(cfg.Auth.BcryptCost)),
		service.WithLoginTTL(cfg.Auth.LoginTTL()),
		service.WithTimingHardening(cfg.Auth.TimingHardening),
		service.WithLogger(logger),
		service.WithMetrics(m),
	)
}

// newLogger builds the process logger. dev forces debug level.
func newLogger(cfg *config.Config, w io.Writer, dev bool) (*slog.Logger, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return nil, err
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// quietLogger is used by one-shot admin commands, which report through
// stdout and only need warnings on stderr.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// withAuthService opens the store, runs fn, and closes the store.
func withAuthService(ctx context.Context, fn func(*service.AuthService) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(newAuthService(st, cfg, quietLogger(), nil))
}

// resolveAccount finds an account by ID or username.
func resolveAccount(ctx context.Context, svc *service.AuthService, ref string) (*model.Account, error) {
	acct, err := svc.GetByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		return acct, nil
	}

	accounts, err := svc.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(ref))
	for i := range accounts {
		if accounts[i].Username == want {
			return &accounts[i], nil
		}
	}
	return nil, fmt.Errorf("no account matches %q", ref)
}

// promptPassword reads a password from the terminal without echo and asks
// for confirmation.
func promptPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; pass --password")
	}

	fmt.Fprint(w, "Password: ")
	pwBytes, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(w)

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
