package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/docwebhooks/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue a signed bearer token for the /api routes.

Requires auth.jwt.secret. The token lifetime defaults to auth.jwt.token_ttl.

Example:
  docwebhooks token --subject erp-sync
  export DOCWEBHOOKS_TOKEN=$(docwebhooks token --subject erp-sync)`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Subject the token is issued to (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default auth.jwt.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, expires, err := auth.NewJWTService(cfg.Auth.JWT).Issue(tokenSubject, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Expires: %s\n", expires.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
