package llm

import (
	"context"
	"slices"

	"github.com/edgeflare/mimir/pkg/metrics"
	"github.com/tmc/langchaingo/llms"
)

// instrumentedModel applies default call options and counts generations per framework.
// Options passed by the caller override the defaults.
type instrumentedModel struct {
	llms.Model
	framework string
	defaults  []llms.CallOption
}

func newInstrumentedModel(m llms.Model, framework string, defaults ...llms.CallOption) *instrumentedModel {
	return &instrumentedModel{Model: m, framework: framework, defaults: defaults}
}

func (m *instrumentedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := append(slices.Clone(m.defaults), options...)
	resp, err := m.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		metrics.LLMGenerations.WithLabelValues(m.framework, metrics.StatusError).Inc()
		return nil, err
	}
	metrics.LLMGenerations.WithLabelValues(m.framework, metrics.StatusSuccess).Inc()
	return resp, nil
}

func (m *instrumentedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// generationDefaults turns temperature and token limits into call options.
func generationDefaults(temperature *float64, maxTokens int) []llms.CallOption {
	var opts []llms.CallOption
	if temperature != nil {
		opts = append(opts, llms.WithTemperature(*temperature))
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return opts
}
