package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/usagegate/adapters/sqlite"
	"github.com/artpar/usagegate/domain/key"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage usagegate API keys.

Each identity can have multiple API keys. A key binds its caller to an
identity and a plan tier.

Examples:
  usagegate keys list --identity=user-123
  usagegate keys create --identity=user-123 --plan=pro
  usagegate keys revoke key_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys for an identity",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keyIdentity string
	keyPlan     string
	keyName     string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysListCmd.Flags().StringVar(&keyIdentity, "identity", "", "identity (required)")
	keysListCmd.MarkFlagRequired("identity")
	keysCreateCmd.Flags().StringVar(&keyIdentity, "identity", "", "identity (required)")
	keysCreateCmd.Flags().StringVar(&keyPlan, "plan", "", "plan tier (defaults to the configured default plan)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.MarkFlagRequired("identity")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := sqlite.NewKeyStore(db).ListByIdentity(context.Background(), keyIdentity)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Printf("No keys found for identity %s.\n", keyIdentity)
		fmt.Println()
		fmt.Println("Create a key with: usagegate keys create --identity=<identity>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tPLAN\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t----\t------\t-------")

	for _, k := range keys {
		status := "active"
		switch {
		case k.RevokedAt != nil:
			status = "revoked"
		case k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()):
			status = "expired"
		}
		created := k.CreatedAt.Format("2006-01-02")
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\n", k.ID, k.Prefix, k.Plan, status, created)
	}

	w.Flush()
	return nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if keyPlan == "" {
		keyPlan = cfg.Auth.DefaultPlan
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	rawKey, k, err := key.Generate(cfg.Auth.KeyPrefix, keyIdentity, keyPlan, keyName, time.Now())
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	if err := sqlite.NewKeyStore(db).Create(context.Background(), k); err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("Created API key for identity %s (plan %s)\n", keyIdentity, keyPlan)
	fmt.Println()
	fmt.Println("API Key (save this, shown once):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Printf("Key ID: %s\n", k.ID)

	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlite.NewKeyStore(db).Revoke(context.Background(), keyID, time.Now()); err != nil {
		return fmt.Errorf("failed to revoke key %s: %w", keyID, err)
	}

	fmt.Printf("Revoked key %s\n", keyID)
	return nil
}
