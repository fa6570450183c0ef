package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/coinflip/internal/account"
	"github.com/MarkoPoloResearchLab/coinflip/internal/httpapi"
	"github.com/MarkoPoloResearchLab/coinflip/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinflip/internal/oplog"
	"github.com/MarkoPoloResearchLab/coinflip/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/coinflip/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/coinflip"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagMetricsAddr      = "metrics-addr"
	flagSessionSecret    = "session-secret"
	flagSignupBonusCents = "signup-bonus-cents"
	flagAllowedOrigins   = "allowed-origins"

	configKeyDatabaseURL      = "database_url"
	configKeyListenAddr       = "listen_addr"
	configKeyMetricsAddr      = "metrics_addr"
	configKeySessionSecret    = "session_secret"
	configKeySignupBonusCents = "signup_bonus_cents"
	configKeyAllowedOrigins   = "allowed_origins"

	defaultDatabaseURL      = "sqlite:///tmp/coinflip.db"
	defaultListenAddr       = ":8080"
	defaultMetricsAddr      = ":9090"
	defaultSignupBonusCents = 10000
)

type runtimeConfig struct {
	DatabaseURL      string
	ListenAddr       string
	MetricsAddr      string
	SessionSecret    string
	SignupBonusCents int64
	AllowedOrigins   []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coinflipd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "coinflipd",
		Short:         "Coin-flip wagering server with an atomic wallet ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres:// or sqlite path)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP API listen address")
	cmd.Flags().String(flagMetricsAddr, defaultMetricsAddr, "metrics and health listen address")
	cmd.Flags().String(flagSessionSecret, "", "HMAC secret for session tokens")
	cmd.Flags().Int64(flagSignupBonusCents, defaultSignupBonusCents, "signup bonus credited to new wallets, in cents")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:      "DATABASE_URL",
		configKeyListenAddr:       "LISTEN_ADDR",
		configKeyMetricsAddr:      "METRICS_ADDR",
		configKeySessionSecret:    "SESSION_SECRET",
		configKeySignupBonusCents: "SIGNUP_BONUS_CENTS",
		configKeyAllowedOrigins:   "ALLOWED_ORIGINS",
	}
	for configKey, envName := range envBindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:      flagDatabaseURL,
		configKeyListenAddr:       flagListenAddr,
		configKeyMetricsAddr:      flagMetricsAddr,
		configKeySessionSecret:    flagSessionSecret,
		configKeySignupBonusCents: flagSignupBonusCents,
		configKeyAllowedOrigins:   flagAllowedOrigins,
	}
	for configKey, flagName := range flagBindings {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.MetricsAddr = viper.GetString(configKeyMetricsAddr)
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}
	cfg.SessionSecret = viper.GetString(configKeySessionSecret)
	if cfg.SessionSecret == "" {
		return fmt.Errorf("session secret is required")
	}
	cfg.SignupBonusCents = viper.GetInt64(configKeySignupBonusCents)
	if cfg.SignupBonusCents < 0 {
		return fmt.Errorf("signup bonus must not be negative")
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	store := gormstore.New(gormDB)
	if driver == "sqlite" {
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	// Postgres deployments settle through the raw pgx store; sqlite keeps
	// everything on the gorm store.
	var walletStore wallet.Store = store
	if driver == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("pgx pool init: %w", err)
		}
		defer pool.Close()
		walletStore = pgstore.New(pool)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }

	ledgerService, err := wallet.NewService(walletStore, clock, wallet.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	engine, err := coinflip.NewEngine(ledgerService, coinflip.NewCryptoSource(), clock)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}

	bonusCents, err := wallet.NewAmountCents(cfg.SignupBonusCents)
	if err != nil {
		return fmt.Errorf("signup bonus: %w", err)
	}
	accountService, err := account.NewService(store, ledgerService, clock, bonusCents)
	if err != nil {
		return fmt.Errorf("account service init: %w", err)
	}

	metricsServer := metrics.StartServer(cfg.MetricsAddr, func(healthCtx context.Context) error {
		sqlDB, dbErr := gormDB.DB()
		if dbErr != nil {
			return dbErr
		}
		return sqlDB.PingContext(healthCtx)
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	apiConfig := httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		SessionSecret:  cfg.SessionSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	}

	apiServer, err := httpapi.NewServer(logger, accountService, ledgerService, engine, apiConfig)
	if err != nil {
		return fmt.Errorf("http api init: %w", err)
	}
	return apiServer.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "coinflip.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
