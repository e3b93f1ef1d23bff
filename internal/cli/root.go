// Package cli provides the command-line interface for the surge scanner.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"surge-scanner/internal/config"
	"surge-scanner/internal/logging"
	"surge-scanner/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.Recorder
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Store.Path != "" {
		recorder, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize store, results will not be persisted")
		} else {
			app.Store = recorder
			logger.Debug().Str("path", cfg.Store.Path).Msg("SQLite store initialized")
		}
	}

	rootCmd := &cobra.Command{
		Use:     "surge-scanner",
		Short:   "Detect escalating surge chains in daily price/volume series",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newScanCmd(app))
	rootCmd.AddCommand(newReportCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))

	return rootCmd
}
