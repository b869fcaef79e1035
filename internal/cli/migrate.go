package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create the database if needed and apply the embedded migrations for
webhooks, request logs and the dispatch queue.

The server applies migrations on start as well; this command is for
preparing a database ahead of time.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.GetApplied(cmd.Context(), db.DB)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	fmt.Printf("Database %s is up to date.\n", cfg.Database.Path)
	for _, m := range applied {
		fmt.Printf("  ✓ %s (applied %s)\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
