package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	nsqfeed "vecsync/internal/adapter/nsq"
	"vecsync/internal/app"
	"vecsync/internal/config"
	"vecsync/internal/reconcile"
	"vecsync/internal/source"
)

var (
	syncDryRun      bool
	syncOnlyMissing bool
	syncBatchSize   int

	publishFields string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile every source document once and exit",
	Long: `Walk the whole source collection in id order and rebuild the points of
each document. With --dry-run documents are only chunked, nothing is embedded
or written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return err
		}

		// the one-shot run never watches or schedules
		cfg.FeedBackend = config.FeedNone
		cfg.ReconcileSchedule = ""

		deps, err := app.Bootstrap(ctx, cfg, profile)
		if err != nil {
			return err
		}
		defer deps.Close()

		a, err := app.New(ctx, cfg, profile, deps.DB, deps.Index, nil)
		if err != nil {
			return err
		}

		batch := syncBatchSize
		if batch == 0 {
			batch = cfg.BatchSize
		}
		stats, err := a.Engine.Bulk(ctx, reconcile.BulkRequest{
			BatchSize:   batch,
			Mapping:     a.Mapping,
			OnlyMissing: syncOnlyMissing,
			DryRun:      syncDryRun,
		})
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := app.OpenDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		return app.Migrate(db, cfg.MigrationPath)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <insert|update|delete> <document-id>",
	Short: "Publish one change event to the NSQ topic",
	Long: `Publish a change event by hand, e.g. to replay a document the watcher
missed. Without --fields the consumer reads the snapshot from the store.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := source.ParseOperation(args[0])
		if err != nil {
			return err
		}
		ev := source.ChangeEvent{Operation: op, DocumentID: args[1]}
		if publishFields != "" {
			var fields map[string]any
			if err := json.Unmarshal([]byte(publishFields), &fields); err != nil {
				return fmt.Errorf("--fields: %w", err)
			}
			ev.Document = &source.Document{ID: args[1], Fields: fields}
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq producer error: %w", err)
		}
		defer producer.Stop()

		if err := nsqfeed.NewPublisher(producer, cfg.NSQTopic).Publish(cmd.Context(), ev); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s %s to %s\n", op, ev.DocumentID, cfg.NSQTopic)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "chunk only, do not embed or write")
	syncCmd.Flags().BoolVar(&syncOnlyMissing, "only-missing", false, "skip documents that already carry an embedding marker")
	syncCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "documents per scan page (default SYNC_BATCH_SIZE)")

	publishCmd.Flags().StringVar(&publishFields, "fields", "", "document snapshot as a JSON object")
}
