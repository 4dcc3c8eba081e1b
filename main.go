package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vecsync/internal/app"
	"vecsync/internal/config"
	"vecsync/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "vecsync",
	Short: "Keep a vector index in sync with a document store",
	Long: `vecsync watches a document store for changes, chunks and embeds the
changed documents and reconciles their points in a vector index. It also
serves diversity-aware similarity search over the index.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, change watcher and reconcile scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, migrateCmd, publishCmd)
	rootCmd.RunE = serveCmd.RunE
}

func main() {
	slog.SetDefault(slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}

	deps, err := app.Bootstrap(ctx, cfg, profile)
	if err != nil {
		return err
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, profile, deps.DB, deps.Index, nil)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
