package llm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/mimir/pkg/device"
)

// Request describes what LoadModel should load. EmbeddingModel is optional.
type Request struct {
	ModelType        string
	Framework        string
	ModelName        string
	Options          map[string]any
	EmbeddingModel   string
	EmbeddingOptions map[string]any
}

// Loader picks and loads frameworks for one device type.
type Loader struct {
	DeviceType string
	Devices    []string
}

// NewLoader detects the device type with checker.
func NewLoader(ctx context.Context, checker *device.Checker) *Loader {
	return &Loader{
		DeviceType: checker.DeviceType(ctx),
		Devices:    checker.Devices(ctx),
	}
}

// allowed returns the frameworks usable for modelType on this loader's device.
func (l *Loader) allowed(modelType string) ([]string, error) {
	switch modelType {
	case ModelTypeAPI:
		return []string{FrameworkOpenAI, FrameworkQwen}, nil
	case ModelTypeLocal:
		if l.DeviceType == device.TypeCUDA {
			return []string{FrameworkVLLM, FrameworkTransformers}, nil
		}
		return []string{FrameworkTransformers}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModelType, modelType)
	}
}

// LoadModel validates the request against the device, then loads the model and, when
// requested, the embeddings.
func (l *Loader) LoadModel(ctx context.Context, req Request) (Framework, error) {
	modelType := strings.ToLower(req.ModelType)
	allowed, err := l.allowed(modelType)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(req.Framework)
	if !slices.Contains(allowed, name) {
		return nil, fmt.Errorf("%w: %q for %s models on %s", ErrUnsupportedFramework, req.Framework, modelType, l.DeviceType)
	}

	fw, err := NewFramework(name, l.DeviceType, l.Devices)
	if err != nil {
		return nil, err
	}
	if err := fw.LoadLLM(ctx, req.ModelName, req.Options); err != nil {
		return nil, fmt.Errorf("load %s model %q: %w", name, req.ModelName, err)
	}
	if req.EmbeddingModel != "" {
		if err := fw.LoadEmbeddings(ctx, req.EmbeddingModel, req.EmbeddingOptions); err != nil {
			return nil, fmt.Errorf("load %s embeddings %q: %w", name, req.EmbeddingModel, err)
		}
	}
	return fw, nil
}
