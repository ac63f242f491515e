package mimir

import (
	"sync"

	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/edgeflare/mimir/pkg/tasks"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background task worker",
	Long:  `Consumes tasks from the broker named by CELERY_BACKEND and runs rag.ingest`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	conn, pools, err := vectorStoreConn(ctx)
	defer pools.Close()
	if err != nil {
		return err
	}
	p, err := rag.Build(ctx, cfg, rag.ConfiguredCase(cfg), pipelineOptions(conn)...)
	if err != nil {
		return err
	}
	st, err := storage.New(cfg.StorageConfig)
	if err != nil {
		return err
	}

	b, err := taskBroker()
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck

	registry := tasks.NewRegistry()
	registry.Register(tasks.IngestTaskName, tasks.IngestHandler(p, st))

	var wg sync.WaitGroup
	startMetrics(ctx, &wg)
	defer wg.Wait()

	logger.Info("starting worker",
		zap.String("backend", cfg.CeleryConfig.Backend),
		zap.String("queue", cfg.CeleryConfig.Queue),
		zap.Strings("tasks", registry.Names()),
	)
	return tasks.NewWorker(b, registry, logger).Run(ctx)
}
