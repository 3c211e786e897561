package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meridianlabs/backoffice/internal/janitor"
	"github.com/meridianlabs/backoffice/internal/metrics"
	"github.com/meridianlabs/backoffice/internal/server"
	"github.com/meridianlabs/backoffice/internal/server/middleware"
)

const banner = `
 ___   _   ___ _  _____  ___ ___ ___ ___ ___
| _ ) /_\ / __| |/ / _ \| __| __|_ _/ __| __|
| _ \/ _ \ (__| ' < (_) | _|| _| | | (__| _|
|___/_/ \_\___|_|\_\___/|_| |_| |___\___|___|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long:  "Start the HTTP server that exposes login, logout and account administration endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr, dev)
	if err != nil {
		return err
	}

	fmt.Print(banner)
	fmt.Println()

	// 1. Credential store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("credential store initialized", "driver", st.Driver(), "data_dir", cfg.Database.DataDir)

	// 2. Auth service
	m := metrics.New()
	authSvc := newAuthService(st, cfg, logger, m)

	// 3. First-run check
	hasAccount, err := authSvc.HasAnyAccount(ctx)
	if err != nil {
		logger.Warn("failed to check for accounts", "error", err)
	}
	if err == nil && !hasAccount {
		logger.Warn("no accounts found - run: backoffice admin create --role super_admin")
	}

	// 4. Expired session sweeper
	jan, err := janitor.New(authSvc, cfg.Auth.PruneSchedule, logger)
	if err != nil {
		return err
	}
	jan.Start()
	defer jan.Shutdown()

	// 5. HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		Headers: middleware.Headers{
			Session: cfg.Auth.SessionHeader,
			APIKey:  cfg.Auth.APIKeyHeader,
		},
		Version: versionString(),
	}
	srv := server.New(srvCfg, st, authSvc, m, logger)

	fmt.Printf("→ Backoffice %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", srvCfg.Host, srvCfg.Port)
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
