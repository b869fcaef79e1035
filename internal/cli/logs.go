package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/docwebhooks/internal/requestlog"
)

var (
	logsWebhook   string
	logsDoctype   string
	logsName      string
	logsStatus    string
	logsLimit     int
	logsOlderThan time.Duration
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect and prune the webhook request log",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent request log entries",
	Args:  cobra.NoArgs,
	RunE:  runLogsList,
}

var logsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete request log entries older than a duration",
	Long: `Delete request log entries older than --older-than.

When archiving is enabled the entries are written to the archive before
they are deleted.`,
	Args: cobra.NoArgs,
	RunE: runLogsPrune,
}

func init() {
	logsListCmd.Flags().StringVar(&logsWebhook, "webhook", "", "Filter by webhook ID")
	logsListCmd.Flags().StringVar(&logsDoctype, "doctype", "", "Filter by reference doctype")
	logsListCmd.Flags().StringVar(&logsName, "name", "", "Filter by reference document name")
	logsListCmd.Flags().StringVar(&logsStatus, "status", "", "Filter by status (sent, failed)")
	logsListCmd.Flags().IntVarP(&logsLimit, "limit", "n", 20, "Maximum entries to show")

	logsPruneCmd.Flags().DurationVar(&logsOlderThan, "older-than", 30*24*time.Hour, "Prune entries older than this")

	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsPruneCmd)

	rootCmd.AddCommand(logsCmd)
}

func runLogsList(cmd *cobra.Command, args []string) error {
	switch requestlog.Status(logsStatus) {
	case "", requestlog.StatusSent, requestlog.StatusFailed:
	default:
		return fmt.Errorf("--status must be %q or %q", requestlog.StatusSent, requestlog.StatusFailed)
	}

	ctx := cmd.Context()
	e, closeDB, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := e.Logs.List(ctx, requestlog.ListOptions{
		WebhookID:        logsWebhook,
		ReferenceDoctype: logsDoctype,
		ReferenceName:    logsName,
		Status:           requestlog.Status(logsStatus),
		Limit:            logsLimit,
	})
	if err != nil {
		return err
	}

	if len(res.Entries) == 0 {
		fmt.Println("No request log entries.")
		return nil
	}

	fmt.Printf("%-20s %-24s %-28s %-7s %-5s %s\n", "CREATED", "WEBHOOK", "DOCUMENT", "STATUS", "CODE", "ERROR")
	for _, entry := range res.Entries {
		fmt.Printf("%-20s %-24s %-28s %-7s %-5d %s\n",
			entry.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			entry.WebhookName,
			entry.ReferenceDoctype+"/"+entry.ReferenceName,
			entry.Status,
			entry.StatusCode,
			entry.Error,
		)
	}
	if res.Total > len(res.Entries) {
		fmt.Printf("\n%d of %d entries shown\n", len(res.Entries), res.Total)
	}
	return nil
}

func runLogsPrune(cmd *cobra.Command, args []string) error {
	if logsOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	ctx := cmd.Context()
	e, closeDB, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := e.Retention.PruneBefore(ctx, time.Now().Add(-logsOlderThan))
	if err != nil {
		return err
	}

	fmt.Printf("✓ Pruned %d request log entries older than %s\n", n, logsOlderThan)
	return nil
}
