package llm

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edgeflare/mimir/pkg/embedding"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/huggingface"
)

const (
	DefaultTGIURL          = "http://localhost:8080"
	defaultTGITemperature  = 0.7
	defaultTGIMaxNewTokens = 512
)

// TransformersFramework generates text through a text-generation-inference server and embeds
// through the embedding service, both pinned to Device.
type TransformersFramework struct {
	Device string

	llm      llms.Model
	embedder embeddings.Embedder
}

func NewTransformers(device string) *TransformersFramework {
	return &TransformersFramework{Device: device}
}

func (f *TransformersFramework) Name() string { return FrameworkTransformers }

// PipelineDevice maps Device to a pipeline device index: N for cuda:N, 0 for cuda, -1 otherwise.
func (f *TransformersFramework) PipelineDevice() int {
	if !strings.HasPrefix(f.Device, "cuda") {
		return -1
	}
	_, idx, ok := strings.Cut(f.Device, ":")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return 0
	}
	return n
}

func (f *TransformersFramework) LoadLLM(_ context.Context, modelName string, kwargs map[string]any) error {
	o, err := DecodeOptions(kwargs)
	if err != nil {
		return err
	}

	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = DefaultTGIURL
	}
	// TGI does not check the token but the client requires one.
	token := o.APIKey
	if token == "" {
		token = vllmAPIKey
	}

	client, err := huggingface.New(
		huggingface.WithToken(token),
		huggingface.WithModel(modelName),
		huggingface.WithURL(baseURL),
	)
	if err != nil {
		return fmt.Errorf("create text-generation client: %w", err)
	}

	temperature := defaultTGITemperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	maxNew := defaultTGIMaxNewTokens
	if o.MaxNewTokens > 0 {
		maxNew = o.MaxNewTokens
	}
	f.llm = newInstrumentedModel(client, FrameworkTransformers,
		llms.WithTemperature(temperature),
		llms.WithMaxLength(maxNew),
	)
	return nil
}

// LoadEmbeddings points an embedding service client at the model's directory name.
// model_kwargs.device is always set to Device.
func (f *TransformersFramework) LoadEmbeddings(_ context.Context, modelName string, kwargs map[string]any) error {
	o, err := DecodeOptions(kwargs)
	if err != nil {
		return err
	}

	modelKwargs := maps.Clone(o.ModelKwargs)
	if modelKwargs == nil {
		modelKwargs = map[string]any{}
	}
	modelKwargs["device"] = f.Device

	opts := []embedding.ClientOption{
		embedding.WithModelName(filepath.Base(modelName)),
		embedding.WithModelKwargs(modelKwargs),
	}
	if url := o.EmbeddingURL; url != "" {
		opts = append(opts, embedding.WithAPIURL(url))
	} else if o.BaseURL != "" {
		opts = append(opts, embedding.WithAPIURL(o.BaseURL))
	}
	f.embedder = embedding.NewClient(opts...)
	return nil
}

func (f *TransformersFramework) LLM() (llms.Model, error) {
	if f.llm == nil {
		return nil, ErrNotLoaded
	}
	return f.llm, nil
}

func (f *TransformersFramework) Embeddings() (embeddings.Embedder, error) {
	if f.embedder == nil {
		return nil, ErrNotLoaded
	}
	return f.embedder, nil
}
