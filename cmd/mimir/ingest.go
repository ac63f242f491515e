package mimir

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/edgeflare/mimir/pkg/tasks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest LOCATION...",
	Short: "Ingest documents into the vector store",
	Long: `Loads text documents, splits them and stores the chunks. A location is a storage key,
an absolute URL or a local glob such as docs/**/*.md. With --enqueue each location
is submitted to the task broker instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.Bool("enqueue", false, "submit rag.ingest tasks instead of ingesting in-process")
	f.String("collection", "", "collection (weaviate class suffix)")
	bindFlags(f, "ingest")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	out := cmd.OutOrStdout()

	if viper.GetBool("ingest.enqueue") {
		b, err := taskBroker()
		if err != nil {
			return err
		}
		defer b.Close() //nolint:errcheck
		for _, loc := range args {
			t, err := tasks.Submit(ctx, b, tasks.IngestTaskName, tasks.IngestPayload{URL: loc})
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", loc, err)
			}
			fmt.Fprintf(out, "%s\t%s\n", t.ID, loc)
		}
		return nil
	}

	conn, pools, err := vectorStoreConn(ctx)
	defer pools.Close()
	if err != nil {
		return err
	}
	opts := pipelineOptions(conn)
	if c := viper.GetString("ingest.collection"); c != "" {
		opts = append(opts, rag.WithCollection(c))
	}
	p, err := rag.Build(ctx, cfg, rag.ConfiguredCase(cfg), opts...)
	if err != nil {
		return err
	}
	st, err := storage.New(cfg.StorageConfig)
	if err != nil {
		return err
	}

	total := 0
	for _, loc := range args {
		ids, err := ingestOne(ctx, p, st, loc)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", loc, err)
		}
		total += len(ids)
	}
	logger.Info("ingest finished", zap.Int("locations", len(args)), zap.Int("chunks", total))
	fmt.Fprintf(out, "ingested %d chunks\n", total)
	return nil
}

// ingestOne treats loc as a local glob when it carries pattern syntax.
func ingestOne(ctx context.Context, p *rag.Pipeline, st *storage.Storage, loc string) ([]string, error) {
	if !strings.ContainsAny(loc, "*?[{") || !doublestar.ValidatePattern(loc) {
		return p.IngestLocation(ctx, st, loc)
	}
	docs, err := rag.LoadGlob(ctx, loc)
	if err != nil {
		return nil, err
	}
	chunks, err := rag.Split(docs, p.ChunkSize, p.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return p.Ingest(ctx, chunks)
}
