package mimir

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/edgeflare/mimir/pkg/embedding"
	"github.com/edgeflare/mimir/pkg/httputil"
	"github.com/edgeflare/mimir/pkg/httputil/middleware"
	"github.com/edgeflare/mimir/pkg/redisx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Start the embedding service",
	Long:  `Serves POST /embeddings/ for the models found under EMBEDDING_MODELS_DIR`,
	RunE:  runEmbed,
}

func init() {
	f := embedCmd.Flags()
	f.String("addr", "", "listen address, overrides EMBEDDING_SERVICE_ADDR")
	f.String("models-dir", "", "model directory, overrides EMBEDDING_MODELS_DIR")
	bindFlags(f, "embed")
	rootCmd.AddCommand(embedCmd)
}

func embeddingFactory() (embedding.EncoderFactory, func() error, error) {
	factory := embedding.OpenAIEncoderFactory(cfg.EmbeddingUpstream, cfg.EmbeddingUpstreamKey, nil)
	noop := func() error { return nil }
	if cfg.EmbeddingCacheTTL <= 0 || !cfg.RedisConfig.Enabled {
		return factory, noop, nil
	}

	rdb, err := redisx.NewClient(cfg.RedisConfig)
	if err != nil {
		return nil, noop, err
	}
	if err := redisx.Shared.Initialize(rdb); err != nil {
		return nil, noop, err
	}
	ttl := time.Duration(cfg.EmbeddingCacheTTL) * time.Second
	logger.Info("embedding cache enabled", zap.Duration("ttl", ttl))
	return embedding.CachingFactory(factory, rdb, ttl, logger), redisx.Shared.Close, nil
}

func runEmbed(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	addr := viper.GetString("embed.addr")
	if addr == "" {
		addr = cfg.EmbeddingAddr
	}
	modelsDir := viper.GetString("embed.models-dir")
	if modelsDir == "" {
		modelsDir = cfg.EmbeddingModelsDir
	}

	factory, closeCache, err := embeddingFactory()
	if err != nil {
		return err
	}
	defer closeCache() //nolint:errcheck

	r := httputil.NewRouter(httputil.WithBanner(""))
	r.Use(middleware.Recover(&middleware.RecoverOptions{Logger: logger}), middleware.RequestID)
	if cfg.EnableRequestLogging || cfg.Debug {
		r.Use(middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: logger}))
	}
	r.Use(middleware.Metrics)
	embedding.NewService(modelsDir, factory, logger).Register(r)

	var wg sync.WaitGroup
	startMetrics(ctx, &wg)
	defer wg.Wait()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting embedding service", zap.String("addr", addr), zap.String("models_dir", modelsDir))
		errCh <- r.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.Shutdown(shutdownCtx)
	}
}
