package main

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ohvee/pursecat/internal/engine"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index categorized purchases into the vector store",
		Long: `Index picks up purchases categorized since the last run, embeds a fact
string for each, and upserts them into the vector store. Progress is tracked
with a watermark, so running it again only processes new changes.

Examples:
  pursecat index
  pursecat index --partition-size 10`,
		RunE: runIndex,
	}

	cmd.Flags().Int("partition-size", 0, "entries per upsert call (default 5)")
	cmd.Flags().Int("parallelism", 0, "concurrent embedding calls (default 4)")
	cmd.Flags().Int("dimension", 0, "vector dimension for a new collection (default 1024)")

	_ = viper.BindPFlag("index.partition_size", cmd.Flags().Lookup("partition-size"))
	_ = viper.BindPFlag("index.parallelism", cmd.Flags().Lookup("parallelism"))
	_ = viper.BindPFlag("index.dimension", cmd.Flags().Lookup("dimension"))

	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	store, closeStore, err := buildVectorStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	providers, err := buildProviders()
	if err != nil {
		return err
	}

	watermarks, closeWatermarks, err := buildWatermarkStore(db)
	if err != nil {
		return err
	}
	defer closeWatermarks()

	var (
		barOnce sync.Once
		bar     *progressbar.ProgressBar
	)
	indexer, err := engine.NewIndexer(db, db, providers.Embedding, store, watermarks, engine.IndexerConfig{
		PartitionSize: viper.GetInt("index.partition_size"),
		Parallelism:   viper.GetInt("index.parallelism"),
		Dimension:     viper.GetInt("index.dimension"),
		OnProgress: func(done, total int) {
			barOnce.Do(func() {
				bar = progressbar.Default(int64(total), "embedding purchases")
			})
			_ = bar.Set(done)
		},
	})
	if err != nil {
		return err
	}

	report, err := indexer.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %d purchases: %d indexed, %d skipped (watermark %s)\n",
		report.Scanned, report.Indexed, report.Skipped, report.Watermark.Format("2006-01-02 15:04:05"))
	return nil
}
