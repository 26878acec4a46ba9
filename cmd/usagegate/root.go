package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/config"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usagegate",
	Short: "Usage governance for metered API providers",
	Long: `usagegate tracks usage and cost for metered API providers and
enforces per-plan rate limits and monthly quotas in front of them.

Quick start:
  usagegate serve     # Start the governance server

Management:
  usagegate keys      # Manage API keys
  usagegate usage     # Inspect recorded usage
  usagegate validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "usagegate.yaml", "config file path")
}

// openDatabase opens the configured sqlite database for CLI commands.
func openDatabase() (*sqlite.DB, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// loadConfig loads the effective configuration for CLI commands.
func loadConfig() (*config.Config, error) {
	return config.LoadWithFallback(cfgFile)
}
