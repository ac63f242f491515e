package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// QwenBaseURL is DashScope's OpenAI-compatible endpoint.
const QwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// APIFramework talks to a hosted OpenAI-compatible provider.
type APIFramework struct {
	kind           string
	defaultBaseURL string
	batchSize      int

	llm      llms.Model
	embedder embeddings.Embedder
}

// NewOpenAI returns a framework for api.openai.com, or any base_url given at load time.
func NewOpenAI() *APIFramework {
	return &APIFramework{kind: FrameworkOpenAI}
}

// NewQwen returns a framework for DashScope. Its embeddings endpoint accepts at most 10
// inputs per call.
func NewQwen() *APIFramework {
	return &APIFramework{kind: FrameworkQwen, defaultBaseURL: QwenBaseURL, batchSize: 10}
}

func (f *APIFramework) Name() string { return f.kind }

func (f *APIFramework) clientOptions(o Options) ([]openai.Option, error) {
	key := o.apiKey()
	if key == "" {
		return nil, fmt.Errorf("%s: %w", f.kind, ErrMissingAPIKey)
	}
	opts := []openai.Option{openai.WithToken(key)}
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = f.defaultBaseURL
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return opts, nil
}

func (f *APIFramework) LoadLLM(_ context.Context, modelName string, kwargs map[string]any) error {
	o, err := DecodeOptions(kwargs)
	if err != nil {
		return err
	}
	opts, err := f.clientOptions(o)
	if err != nil {
		return err
	}

	client, err := openai.New(append(opts, openai.WithModel(modelName))...)
	if err != nil {
		return fmt.Errorf("create %s client: %w", f.kind, err)
	}
	f.llm = newInstrumentedModel(client, f.kind, generationDefaults(o.Temperature, o.MaxTokens)...)
	return nil
}

func (f *APIFramework) LoadEmbeddings(_ context.Context, modelName string, kwargs map[string]any) error {
	o, err := DecodeOptions(kwargs)
	if err != nil {
		return err
	}
	opts, err := f.clientOptions(o)
	if err != nil {
		return err
	}

	client, err := openai.New(append(opts, openai.WithEmbeddingModel(modelName))...)
	if err != nil {
		return fmt.Errorf("create %s embeddings client: %w", f.kind, err)
	}

	var embOpts []embeddings.Option
	if f.batchSize > 0 {
		embOpts = append(embOpts, embeddings.WithBatchSize(f.batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, embOpts...)
	if err != nil {
		return fmt.Errorf("create %s embedder: %w", f.kind, err)
	}
	f.embedder = embedder
	return nil
}

func (f *APIFramework) LLM() (llms.Model, error) {
	if f.llm == nil {
		return nil, ErrNotLoaded
	}
	return f.llm, nil
}

func (f *APIFramework) Embeddings() (embeddings.Embedder, error) {
	if f.embedder == nil {
		return nil, ErrNotLoaded
	}
	return f.embedder, nil
}
