package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/engine"
	"github.com/watzon/docwebhooks/internal/server"
)

var (
	servePort    int
	serveHost    string
	serveNoWatch bool
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch server",
	Long: `Start the HTTP API, the dispatch workers and the retention schedule.

If webhooks.seed_file is configured it is imported on start, and with
webhooks.watch set it is imported again whenever it changes.

Use --no-watch to disable seed file watching.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable seed file watching")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := engine.New(ctx, cfg, db)
	if err != nil {
		return err
	}

	if seed := cfg.Webhooks.SeedFile; seed != "" {
		if _, err := e.ImportSeedFile(ctx, seed); err != nil {
			return fmt.Errorf("importing %s: %w", seed, err)
		}

		if cfg.Webhooks.Watch && !serveNoWatch {
			watcher, watchErr := NewSeedWatcher(seed, func(path string) {
				if _, err := e.ImportSeedFile(ctx, path); err != nil {
					log.Error().Err(err).Str("path", path).Msg("Failed to re-import seed file, keeping current webhooks")
				}
			})
			if watchErr != nil {
				log.Warn().Err(watchErr).Msg("Failed to watch seed file, continuing without reload")
			} else {
				watcher.Start(ctx)
				defer func() { _ = watcher.Stop() }()
				log.Info().Str("path", seed).Msg("Watching seed file")
			}
		}
	}

	srv := server.New(e, server.WithVersion(version))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		log.Info().Msg("Shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown did not complete cleanly")
		}
		cancel()
	}()

	log.Info().
		Str("addr", cfg.Server.Address()).
		Int("doctypes", len(cfg.DocTypes)).
		Bool("auth", cfg.Auth.JWT.Required).
		Msg("docwebhooks ready")

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	<-ctx.Done()
	return nil
}
