package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/martindkaz/email-reader/internal/config"
	"github.com/martindkaz/email-reader/internal/ledger"
	"github.com/martindkaz/email-reader/internal/msauth"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "email-reader",
	Short: "Incremental Outlook mailbox reader",
	Long: `email-reader retrieves messages from an Outlook mailbox through the
Microsoft Graph API, deduplicates them across runs with a local ledger,
and exposes the same search operations as tools to an LLM agent.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)

		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.EnsureHomeDir(); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.HomeDir, err)
		}
		return nil
	},
}

// ExecuteContext runs the root command with the given context, enabling
// graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newSession builds the identity session from config, validating that the
// app registration is present.
func newSession() (*msauth.Session, error) {
	if cfg.Auth.ClientID == "" || cfg.Auth.TenantID == "" {
		return nil, fmt.Errorf(`Azure app registration not configured.

Set CLIENT_ID and TENANT_ID in the environment, or add to %s/config.toml:
  [auth]
  tenant_id = "..."
  client_id = "..."`, cfg.HomeDir)
	}
	return msauth.NewSession(msauth.Config{
		TenantID:       cfg.Auth.TenantID,
		ClientID:       cfg.Auth.ClientID,
		TokenCachePath: cfg.Auth.TokenCache,
	}, logger), nil
}

// openLedger opens the configured ledger backend, or a no-op ledger when
// deduplication is bypassed.
func openLedger(ignorePrevious bool) ledger.Ledger {
	if ignorePrevious {
		return ledger.Nop()
	}
	switch cfg.Ledger.Backend {
	case "sqlite":
		return ledger.OpenSQLite(cfg.Ledger.Path, logger)
	default:
		return ledger.OpenSnapshot(cfg.Ledger.Path, logger)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.email-reader/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides EMAIL_READER_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
