package embedding

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/sashabaranov/go-openai"
)

// EncodeOptions are the encode_kwargs the service understands. Unknown keys are ignored.
type EncodeOptions struct {
	NormalizeEmbeddings bool `mapstructure:"normalize_embeddings"`
	BatchSize           int  `mapstructure:"batch_size"`
	MultiProcess        bool `mapstructure:"-"`
	ShowProgress        bool `mapstructure:"-"`
}

// ParseEncodeOptions decodes encode_kwargs. JSON numbers and strings are coerced.
func ParseEncodeOptions(kwargs map[string]any) (EncodeOptions, error) {
	var opts EncodeOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(kwargs); err != nil {
		return opts, fmt.Errorf("%w: encode_kwargs: %v", ErrInvalidInput, err)
	}
	if opts.BatchSize < 0 {
		return opts, fmt.Errorf("%w: batch_size must not be negative", ErrInvalidInput)
	}
	return opts, nil
}

// Encoder turns texts into vectors, one per text, in order.
type Encoder interface {
	Encode(ctx context.Context, texts []string, opts EncodeOptions) ([][]float32, error)
}

// EncoderFactory builds the encoder for a model found at path.
type EncoderFactory func(name, path string, modelKwargs map[string]any) (Encoder, error)

// OpenAIEncoder forwards to an OpenAI-compatible /v1/embeddings endpoint, such as a vLLM or
// text-embeddings-inference server hosting the model.
type OpenAIEncoder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEncoder creates an encoder for model at baseURL.
func NewOpenAIEncoder(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIEncoder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIEncoder{client: openai.NewClientWithConfig(cfg), model: model}
}

// OpenAIEncoderFactory serves every model through the same upstream. model_kwargs may set
// served_model_name when the upstream knows the model under another name.
func OpenAIEncoderFactory(baseURL, apiKey string, httpClient *http.Client) EncoderFactory {
	return func(name, _ string, modelKwargs map[string]any) (Encoder, error) {
		served := name
		if v, ok := modelKwargs["served_model_name"].(string); ok && v != "" {
			served = v
		}
		return NewOpenAIEncoder(baseURL, apiKey, served, httpClient), nil
	}
}

func (e *OpenAIEncoder) Encode(ctx context.Context, texts []string, _ EncodeOptions) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("upstream embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("upstream returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// encodeBatched calls enc once per batch and concatenates the results.
func encodeBatched(ctx context.Context, enc Encoder, texts []string, opts EncodeOptions) ([][]float32, error) {
	size := opts.BatchSize
	if size <= 0 || size >= len(texts) {
		return enc.Encode(ctx, texts, opts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := enc.Encode(ctx, texts[start:end], opts)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// normalize scales each vector to unit L2 norm in place. Zero vectors are left as is.
func normalize(vectors [][]float32) {
	for _, v := range vectors {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum == 0 {
			continue
		}
		inv := float32(1 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
}
