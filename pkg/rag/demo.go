package rag

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/edgeflare/mimir/pkg/config"
	"github.com/edgeflare/mimir/pkg/device"
	"github.com/edgeflare/mimir/pkg/embedding"
	"github.com/edgeflare/mimir/pkg/llm"
	pg "github.com/edgeflare/mimir/pkg/pgx"
	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/edgeflare/mimir/pkg/vectorstore"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
)

// DefaultQuestion is asked when the demo is run without one.
const DefaultQuestion = "请介绍一下LangChain的主要功能。"

// DemoCase selects the models used by RunDemo.
type DemoCase struct {
	Name           string
	ModelType      string
	Framework      string
	LLMModel       string
	EmbeddingModel string
	BaseURL        string
	// Dimensions is the embedding model's vector size. Zero keeps PGVECTOR_DIMENSIONS.
	Dimensions int
	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv string
	Options   map[string]any
}

// DemoCases are the built-in cases, keyed by name.
var DemoCases = map[string]DemoCase{
	"openai": {
		Name:           "openai",
		ModelType:      llm.ModelTypeAPI,
		Framework:      llm.FrameworkOpenAI,
		LLMModel:       "gpt-4o",
		EmbeddingModel: "text-embedding-ada-002",
		Dimensions:     1536,
		APIKeyEnv:      "OPENAI_API_KEY",
	},
	"qwen": {
		Name:           "qwen",
		ModelType:      llm.ModelTypeAPI,
		Framework:      llm.FrameworkQwen,
		LLMModel:       "qwen-plus",
		EmbeddingModel: "text-embedding-v3",
		Dimensions:     1024,
		APIKeyEnv:      "DASHSCOPE_API_KEY",
	},
	"local": {
		Name:           "local",
		ModelType:      llm.ModelTypeLocal,
		Framework:      llm.FrameworkVLLM,
		LLMModel:       "/models/Qwen2.5-7B-Instruct-AWQ",
		EmbeddingModel: embedding.DefaultModelName,
		Options:        map[string]any{"max_tokens": 512, "temperature": 0.7},
	},
}

// LookupDemoCase returns the named case with BaseURL filled from cfg for local models.
func LookupDemoCase(name string, cfg *config.Config) (DemoCase, error) {
	dc, ok := DemoCases[strings.ToLower(name)]
	if !ok {
		return DemoCase{}, fmt.Errorf("unknown demo case %q", name)
	}
	if dc.ModelType == llm.ModelTypeLocal && cfg != nil {
		dc.BaseURL = cfg.BaseURL
		if cfg.Model != "" {
			dc.LLMModel = cfg.Model
		}
		if cfg.EmbeddingModel != "" {
			dc.EmbeddingModel = cfg.EmbeddingModel
		}
	}
	return dc, nil
}

// ConfiguredCase describes the models selected by the LLM_* and EMBEDDING_* settings.
func ConfiguredCase(cfg *config.Config) DemoCase {
	opts := map[string]any{
		"max_tokens":    cfg.MaxTokens,
		"temperature":   cfg.Temperature,
		"embedding_url": cfg.EmbeddingURL,
	}
	if cfg.APIKey != "" {
		opts["api_key"] = cfg.APIKey
	}
	return DemoCase{
		Name:           "configured",
		ModelType:      cfg.ModelType,
		Framework:      cfg.Framework,
		LLMModel:       cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
		BaseURL:        cfg.BaseURL,
		Options:        opts,
	}
}

// Option customizes Build and RunDemo.
type Option func(*buildOptions)

type buildOptions struct {
	loader     *llm.Loader
	conn       pg.Conn
	storage    *storage.Storage
	logger     *zap.Logger
	collection string
}

// WithLoader replaces device detection.
func WithLoader(l *llm.Loader) Option { return func(o *buildOptions) { o.loader = l } }

// WithConn supplies the database connection for VECTOR_STORE=pgvector.
func WithConn(c pg.Conn) Option { return func(o *buildOptions) { o.conn = c } }

// WithStorage sets where RunDemo reads its file from. The default is the configured storage.
func WithStorage(s *storage.Storage) Option { return func(o *buildOptions) { o.storage = s } }

func WithLogger(l *zap.Logger) Option { return func(o *buildOptions) { o.logger = l } }

// WithCollection names the vector store collection. The default is vectorstore.DefaultCollection.
func WithCollection(name string) Option { return func(o *buildOptions) { o.collection = name } }

func (dc DemoCase) options() map[string]any {
	opts := make(map[string]any, len(dc.Options)+2)
	for k, v := range dc.Options {
		opts[k] = v
	}
	if dc.BaseURL != "" {
		opts["base_url"] = dc.BaseURL
	}
	if dc.APIKeyEnv != "" {
		if key := os.Getenv(dc.APIKeyEnv); key != "" {
			opts["api_key"] = key
		}
	}
	return opts
}

// demoEmbedder returns the framework's embedder, or the embedding service client when the
// framework has none.
func demoEmbedder(ctx context.Context, fw llm.Framework, cfg *config.Config, dc DemoCase) (embeddings.Embedder, error) {
	err := fw.LoadEmbeddings(ctx, dc.EmbeddingModel, dc.options())
	if err == nil {
		return fw.Embeddings()
	}
	if dc.ModelType != llm.ModelTypeLocal {
		return nil, err
	}
	return embedding.NewClient(
		embedding.WithAPIURL(cfg.EmbeddingURL),
		embedding.WithModelName(dc.EmbeddingModel),
	), nil
}

// Build loads the case's models and vector store into a pipeline.
func Build(ctx context.Context, cfg *config.Config, dc DemoCase, opts ...Option) (*Pipeline, error) {
	o := buildOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return build(ctx, cfg, dc, &o)
}

func build(ctx context.Context, cfg *config.Config, dc DemoCase, o *buildOptions) (*Pipeline, error) {
	log := o.logger.With(zap.String("case", dc.Name))
	if o.loader == nil {
		o.loader = llm.NewLoader(ctx, device.NewChecker())
	}
	log.Info("loading models",
		zap.String("model_type", dc.ModelType),
		zap.String("framework", dc.Framework),
		zap.String("llm", dc.LLMModel),
		zap.String("embedding", dc.EmbeddingModel),
		zap.String("device", o.loader.DeviceType),
	)
	fw, err := o.loader.LoadModel(ctx, llm.Request{
		ModelType: dc.ModelType,
		Framework: dc.Framework,
		ModelName: dc.LLMModel,
		Options:   dc.options(),
	})
	if err != nil {
		return nil, err
	}
	model, err := fw.LLM()
	if err != nil {
		return nil, err
	}
	embedder, err := demoEmbedder(ctx, fw, cfg, dc)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	store, err := vectorstore.New(ctx, cfg.VectorStoreConfig, embedder, vectorstore.Options{
		Collection: o.collection,
		Dimensions: dc.Dimensions,
		Conn:       o.conn,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	p := NewPipeline(store, model, log)
	if cfg.RetrievalTopK > 0 {
		p.TopK = cfg.RetrievalTopK
	}
	p.ScoreThreshold = float32(cfg.RetrievalMinScore)
	return p, nil
}

// RunDemo builds a pipeline for dc, ingests file into the "demo" collection and answers
// question, or DefaultQuestion when it is empty.
func RunDemo(ctx context.Context, cfg *config.Config, dc DemoCase, file, question string, opts ...Option) (Answer, error) {
	o := buildOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.collection = "demo"
	if question == "" {
		question = DefaultQuestion
	}

	p, err := build(ctx, cfg, dc, &o)
	if err != nil {
		return Answer{}, err
	}
	if o.storage == nil {
		if o.storage, err = storage.New(cfg.StorageConfig); err != nil {
			return Answer{}, err
		}
	}
	if _, err := p.IngestLocation(ctx, o.storage, file); err != nil {
		return Answer{}, err
	}
	return p.Answer(ctx, question)
}
