package llm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/edgeflare/mimir/pkg/device"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultVLLMBaseURL = "http://localhost:8000/v1"
	vllmAPIKey         = "EMPTY"
)

// VLLMFramework uses a vLLM server through its OpenAI-compatible API. The server itself is
// started separately; LaunchArgs returns a matching command line.
type VLLMFramework struct {
	DeviceType  string
	DeviceCount int

	llm llms.Model
}

func NewVLLM(deviceType string, deviceCount int) *VLLMFramework {
	return &VLLMFramework{DeviceType: deviceType, DeviceCount: deviceCount}
}

func (f *VLLMFramework) Name() string { return FrameworkVLLM }

// TensorParallelSize is the number of CUDA devices, or 1.
func (f *VLLMFramework) TensorParallelSize() int {
	if f.DeviceType == device.TypeCUDA && f.DeviceCount > 0 {
		return f.DeviceCount
	}
	return 1
}

// LaunchArgs returns the vllm serve command for model.
func (f *VLLMFramework) LaunchArgs(model string) []string {
	args := []string{"vllm", "serve", model, "--tensor-parallel-size", strconv.Itoa(f.TensorParallelSize())}
	if f.DeviceType == device.TypeCPU {
		args = append(args, "--device", "cpu")
	}
	return args
}

func (f *VLLMFramework) LoadLLM(_ context.Context, modelName string, kwargs map[string]any) error {
	if f.DeviceType != device.TypeCUDA && f.DeviceType != device.TypeCPU {
		return fmt.Errorf("%w for vllm: %q", ErrUnsupportedDevice, f.DeviceType)
	}
	o, err := DecodeOptions(kwargs)
	if err != nil {
		return err
	}

	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = DefaultVLLMBaseURL
	}
	key := o.APIKey
	if key == "" {
		key = vllmAPIKey
	}

	client, err := openai.New(
		openai.WithToken(key),
		openai.WithBaseURL(baseURL),
		openai.WithModel(modelName),
	)
	if err != nil {
		return fmt.Errorf("create vllm client: %w", err)
	}
	f.llm = newInstrumentedModel(client, FrameworkVLLM, generationDefaults(o.Temperature, o.MaxTokens)...)
	return nil
}

func (f *VLLMFramework) LoadEmbeddings(context.Context, string, map[string]any) error {
	return fmt.Errorf("vllm embeddings: %w", ErrNotImplemented)
}

func (f *VLLMFramework) LLM() (llms.Model, error) {
	if f.llm == nil {
		return nil, ErrNotLoaded
	}
	return f.llm, nil
}

func (f *VLLMFramework) Embeddings() (embeddings.Embedder, error) {
	return nil, fmt.Errorf("vllm embeddings: %w", ErrNotImplemented)
}
