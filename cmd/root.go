package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/clientdesk/crm/model"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	configPath string
	cfg        *model.Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crm",
	Short: "Client desk CRM: invoices, payments and client notifications",
	Long: `crm runs the invoicing API and offers maintenance commands for the
database, users and API tokens.

Configuration is read from config.toml and can be overridden with CRM_*
environment variables (a .env file is honored).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = model.LoadConfig(configPath); err != nil {
			return err
		}
		logger = newLogger(cfg)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", "error", err)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to the configuration file")
}

func newLogger(cfg *model.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil || cfg.LogLevel == "" {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h).With("mode", cfg.Mode)
}

func openStore() (*model.Store, error) {
	store, err := model.InitDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}
