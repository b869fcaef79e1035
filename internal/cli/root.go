// Package cli implements the docwebhooks command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/docwebhooks/internal/config"
)

// Set at build time with -ldflags "-X github.com/watzon/docwebhooks/internal/cli.version=...".
var version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "docwebhooks",
	Short: "Webhook dispatch for document lifecycle events",
	Long: `docwebhooks sends outbound HTTP requests when documents are inserted,
updated, submitted, cancelled or trashed.

Webhooks are bound to a doctype and an event, filtered by a CEL condition,
and render their URL and body from templates. Every attempt is written to
the request log.

Start the server:
  docwebhooks serve

Load webhook definitions from a file:
  docwebhooks webhooks import webhooks.yaml`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = setupLogging(nil)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./docwebhooks.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadConfig reads the configuration and reconfigures logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return nil, err
	}
	if err := setupLogging(&cfg.Logging); err != nil {
		return nil, err
	}
	if path, err := config.ConfigFilePath(cfgFile); err == nil && path != "" {
		log.Debug().Str("file", path).Msg("Using config file")
	}
	return cfg, nil
}

// setupLogging configures the global zerolog logger. With no config it
// falls back to console output at info level; --verbose always wins.
func setupLogging(cfg *config.LoggingConfig) error {
	level := zerolog.InfoLevel
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	withCaller, withTimestamp := false, true

	if cfg != nil {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("parsing log level: %w", err)
		}
		level = parsed
		withCaller, withTimestamp = cfg.Caller, cfg.Timestamp

		var dst io.Writer = os.Stderr
		if cfg.Output != "" {
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening log output: %w", err)
			}
			dst = f
		}
		if cfg.Format == "json" {
			out = dst
		} else {
			out = zerolog.ConsoleWriter{Out: dst, NoColor: cfg.Output != ""}
		}
	}

	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := zerolog.New(out).With()
	if withTimestamp {
		ctx = ctx.Timestamp()
	}
	if withCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("docwebhooks version %s", version)
}
