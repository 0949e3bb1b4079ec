package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/quill-server/internal/config"
	"github.com/vovakirdan/quill-server/internal/log"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill real-time messaging server",
	Long: `Quill relays direct messages and typing indicators between connected
users and persists conversations in SQLite. The REST API doubles as the
fallback path when a client has no live connection.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override log level (debug, info, warn, error)")
}

// loadConfig resolves configuration and builds the logger for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, *zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	bootstrap := log.NewWithWriter("warn", os.Stderr)
	cfg, resolved, err := config.Load(bootstrap, path)
	if err != nil {
		return nil, nil, err
	}
	if level != "" {
		cfg.LogLevel = level
	}

	logger := log.New(cfg.LogLevel)
	logger.Debug().Str("config", resolved).Msg("configuration loaded")
	return &cfg, logger, nil
}
