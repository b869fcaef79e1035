package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/watzon/docwebhooks/internal/condition"
	"github.com/watzon/docwebhooks/internal/config"
	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/engine"
	"github.com/watzon/docwebhooks/internal/template"
	"github.com/watzon/docwebhooks/internal/webhooks"
)

var (
	webhooksListDoctype string
	webhooksListEvent   string
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Manage webhook configurations",
}

var webhooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured webhooks",
	Args:  cobra.NoArgs,
	RunE:  runWebhooksList,
}

var webhooksImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import webhook definitions from a YAML file",
	Long: `Import webhook definitions from a YAML file.

Definitions are matched by name: existing webhooks are replaced, new ones
are created. Every definition is validated before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runWebhooksImport,
}

var webhooksValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a webhook definition file without importing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runWebhooksValidate,
}

func init() {
	webhooksListCmd.Flags().StringVar(&webhooksListDoctype, "doctype", "", "Only list webhooks for this doctype")
	webhooksListCmd.Flags().StringVar(&webhooksListEvent, "event", "", "Only list webhooks for this event")

	webhooksCmd.AddCommand(webhooksListCmd)
	webhooksCmd.AddCommand(webhooksImportCmd)
	webhooksCmd.AddCommand(webhooksValidateCmd)

	rootCmd.AddCommand(webhooksCmd)
}

// openEngine loads configuration and wires an engine without starting it.
// The returned func closes the database.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	e, err := engine.New(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return e, func() { db.Close() }, nil
}

func runWebhooksList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, closeDB, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	list, err := e.Webhooks.List(ctx, webhooks.ListFilter{
		Doctype: webhooksListDoctype,
		Event:   webhooksListEvent,
	})
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No webhooks configured.")
		return nil
	}

	fmt.Printf("%-24s %-20s %-24s %-8s %s\n", "NAME", "DOCTYPE", "EVENT", "ENABLED", "URL")
	for _, w := range list {
		fmt.Printf("%-24s %-20s %-24s %-8t %s\n", w.Name, w.Doctype, w.Event, w.Enabled, w.RequestURL)
	}
	return nil
}

func runWebhooksImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, closeDB, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := e.ImportSeedFile(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("✓ Imported %s: %d created, %d updated\n", args[0], len(res.Created), len(res.Updated))
	for _, name := range res.Created {
		fmt.Printf("  + %s\n", name)
	}
	for _, name := range res.Updated {
		fmt.Printf("  ~ %s\n", name)
	}
	return nil
}

func runWebhooksValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	defs, err := webhooks.LoadSeedFile(args[0])
	if err != nil {
		return err
	}

	validator, err := newValidator(cfg)
	if err != nil {
		return err
	}

	var problems []string
	for _, w := range defs {
		w.Normalize()
		if err := validator.Validate(w); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", w.Name, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d of %d definitions invalid:\n  %s", len(problems), len(defs), strings.Join(problems, "\n  "))
	}

	fmt.Printf("✓ %d definitions valid\n", len(defs))
	return nil
}

// newValidator builds a validator from configuration alone, without a database.
func newValidator(cfg *config.Config) (*webhooks.Validator, error) {
	conditions, err := condition.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return webhooks.NewValidator(doctype.FromConfig(cfg.DocTypes), conditions, template.NewRenderer()), nil
}
