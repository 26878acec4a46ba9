package main

import (
	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the usage governance server",
	Long: `Start the usagegate server.

The server will:
  - Load configuration from usagegate.yaml (or --config)
  - Or load configuration from USAGEGATE_* environment variables
  - Connect to the database (and redis, when enabled)
  - Govern provider calls with rate limits and monthly quotas
  - Record usage events and serve the admin API

Environment variables (for Docker deployments):
  USAGEGATE_DATABASE_DSN     - Database path (default: usagegate.db)
  USAGEGATE_SERVER_PORT      - Server port (default: 8080)
  USAGEGATE_REDIS_ADDR       - Redis address (optional)
  USAGEGATE_AUTH_ADMIN_TOKEN - Admin API token
  USAGEGATE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  usagegate serve
  usagegate serve --config /etc/usagegate/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return err
	}
	return app.Run()
}
