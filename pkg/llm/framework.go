// Package llm selects and loads inference frameworks: hosted OpenAI-compatible APIs, a vLLM
// server, or a Transformers text-generation-inference server.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/mimir/pkg/util"
	"github.com/mitchellh/mapstructure"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

const (
	FrameworkOpenAI       = "openai"
	FrameworkQwen         = "qwen"
	FrameworkVLLM         = "vllm"
	FrameworkTransformers = "transformers"

	ModelTypeAPI   = "api"
	ModelTypeLocal = "local"
)

var (
	ErrNotLoaded            = errors.New("model is not loaded")
	ErrNotImplemented       = errors.New("not implemented by this framework")
	ErrMissingAPIKey        = errors.New("api key is not set")
	ErrUnsupportedFramework = errors.New("unsupported inference framework")
	ErrUnsupportedModelType = errors.New("unsupported model type")
	ErrUnsupportedDevice    = errors.New("unsupported device type")
)

// Framework loads a language model and an embedder and hands them out as langchaingo types.
type Framework interface {
	Name() string
	LoadLLM(ctx context.Context, modelName string, opts map[string]any) error
	LoadEmbeddings(ctx context.Context, modelName string, opts map[string]any) error
	LLM() (llms.Model, error)
	Embeddings() (embeddings.Embedder, error)
}

// Options are the keyword options accepted by LoadLLM and LoadEmbeddings. Keys a framework
// does not use are ignored.
type Options struct {
	BaseURL        string         `mapstructure:"base_url"`
	APIKey         string         `mapstructure:"api_key"`
	Temperature    *float64       `mapstructure:"temperature"`
	MaxTokens      int            `mapstructure:"max_tokens"`
	MaxNewTokens   int            `mapstructure:"max_new_tokens"`
	EmbeddingModel string         `mapstructure:"embedding_model"`
	EmbeddingURL   string         `mapstructure:"embedding_url"`
	ModelKwargs    map[string]any `mapstructure:"model_kwargs"`
}

// DecodeOptions decodes a kwargs map into Options.
func DecodeOptions(kwargs map[string]any) (Options, error) {
	var o Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &o,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return o, err
	}
	if err := dec.Decode(kwargs); err != nil {
		return o, fmt.Errorf("decode options: %w", err)
	}
	return o, nil
}

// apiKey returns the explicit key, else the API_KEY environment variable.
func (o Options) apiKey() string {
	if o.APIKey != "" {
		return o.APIKey
	}
	return util.GetEnvOrDefault("API_KEY", "")
}

// NewFramework builds the named framework for deviceType. devices is the detected device
// list; vLLM uses the CUDA entries for tensor parallelism and Transformers runs on the first
// device of deviceType.
func NewFramework(name, deviceType string, devices []string) (Framework, error) {
	switch strings.ToLower(name) {
	case FrameworkOpenAI:
		return NewOpenAI(), nil
	case FrameworkQwen:
		return NewQwen(), nil
	case FrameworkVLLM:
		count := 0
		for _, d := range devices {
			if strings.HasPrefix(d, "cuda") {
				count++
			}
		}
		return NewVLLM(deviceType, count), nil
	case FrameworkTransformers:
		dev := deviceType
		for _, d := range devices {
			if strings.HasPrefix(d, deviceType) {
				dev = d
				break
			}
		}
		return NewTransformers(dev), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFramework, name)
	}
}
