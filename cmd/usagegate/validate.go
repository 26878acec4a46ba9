package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid")
	fmt.Printf("  Database:  %s\n", cfg.Database.DSN)
	fmt.Printf("  Plans:     %d\n", len(cfg.Plans))
	fmt.Printf("  Providers: %d\n", len(cfg.Providers))
	if cfg.Redis.Enabled {
		fmt.Printf("  Redis:     %s\n", cfg.Redis.Addr)
	}
	if cfg.Cache.Enabled {
		fmt.Printf("  Cache:     ttl %s, count_as_usage=%v\n", cfg.Cache.DefaultTTL, cfg.Cache.CountAsUsage)
	}
	return nil
}
