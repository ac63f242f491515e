package mimir

import (
	"sync"

	"github.com/edgeflare/mimir/pkg/app"
	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/edgeflare/mimir/pkg/vectorstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Starts the HTTP API serving /health, /v1/query and /v1/documents`,
	RunE:  runAPI,
}

func init() {
	f := apiCmd.Flags()
	f.StringP("listen", "l", "", "listen address, overrides API_LISTEN_ADDR")
	f.Bool("no-pipeline", false, "serve without loading models; /v1/query answers 503")
	bindFlags(f, "api")
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	if addr := viper.GetString("api.listen"); addr != "" {
		cfg.ListenAddr = addr
	}

	a, err := app.Create(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if !viper.GetBool("api.no-pipeline") {
		var opts []rag.Option
		if cfg.VectorStore == vectorstore.TypePGVector {
			if pool, err := a.Pools.Active(); err == nil {
				opts = pipelineOptions(pool)
			}
		}
		if opts == nil {
			opts = pipelineOptions(nil)
		}
		p, err := rag.Build(ctx, cfg, rag.ConfiguredCase(cfg), opts...)
		if err != nil {
			logger.Warn("RAG pipeline unavailable; /v1/query will answer 503", zap.Error(err))
		} else {
			a.Pipeline = p
		}
	}

	var wg sync.WaitGroup
	startMetrics(ctx, &wg)
	defer wg.Wait()

	logger.Info("starting api", zap.String("addr", cfg.ListenAddr), zap.String("service", a.ServiceName()))
	return a.Serve(ctx)
}
