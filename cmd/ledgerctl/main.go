// Command ledgerctl is the operator CLI for the donation ledger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/donationledger/internal/config"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
)

var Version = "dev"

var (
	cfgPath string
	envFile string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the donation ledger: schema, replay verification, reports, archives",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/donations.yaml", "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "optional dotenv file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(archiveCmd())
	return rootCmd
}

// loadConfig reads the config file and environment secrets.
func loadConfig() (*config.AppConfig, config.Secrets, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, config.Secrets{}, err
	}
	loader, err := config.NewLoader(cfgPath)
	if err != nil {
		return nil, config.Secrets{}, err
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		return nil, config.Secrets{}, err
	}
	secrets, err := config.SecretsFromEnv()
	if err != nil {
		return nil, config.Secrets{}, err
	}
	return cfg, secrets, nil
}

// openStore opens the configured store; callers must Close it.
func openStore(ctx context.Context) (*config.AppConfig, ledger.Store, error) {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := ledger.Open(ctx, cfg.Store, secrets.DatabaseURL, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}
