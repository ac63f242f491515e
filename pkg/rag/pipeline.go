// Package rag wires document loading, splitting, vector search and prompting into a
// retrieval-augmented answer.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

const (
	DefaultTopK = 4

	// MaxDisplayContext caps, in runes, how much retrieved context is placed in the prompt.
	MaxDisplayContext = 200

	ContextTemplate  = "基于以下数据库内容：\n{display_context}\n……\n回答问题：\n{question}"
	QuestionTemplate = "请根据以下问题提供详细的回答：{question}"
)

var ErrNoModel = errors.New("no language model configured")

// Answer is the result of Pipeline.Answer.
type Answer struct {
	Text           string            `json:"answer"`
	Context        string            `json:"context"`
	DisplayContext string            `json:"display_context"`
	Sources        []schema.Document `json:"sources"`
}

// Pipeline answers questions from a vector store and a language model.
type Pipeline struct {
	Store          vectorstores.VectorStore
	LLM            llms.Model
	TopK           int
	ScoreThreshold float32
	ChunkSize      int
	ChunkOverlap   int
	Logger         *zap.Logger
}

// NewPipeline returns a pipeline with default retrieval settings.
func NewPipeline(store vectorstores.VectorStore, model llms.Model, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Store:        store,
		LLM:          model,
		TopK:         DefaultTopK,
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Logger:       logger,
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Ingest stores docs and returns their ids.
func (p *Pipeline) Ingest(ctx context.Context, docs []schema.Document) ([]string, error) {
	ids, err := p.Store.AddDocuments(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("add documents: %w", err)
	}
	p.logger().Info("ingested documents", zap.Int("count", len(ids)))
	return ids, nil
}

// IngestLocation loads a text document from st, splits it and stores the chunks.
func (p *Pipeline) IngestLocation(ctx context.Context, st *storage.Storage, location string) ([]string, error) {
	docs, err := LoadText(ctx, st, location)
	if err != nil {
		return nil, err
	}
	chunks, err := Split(docs, p.ChunkSize, p.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", location, err)
	}
	return p.Ingest(ctx, chunks)
}

// Retrieve returns the documents most similar to question.
func (p *Pipeline) Retrieve(ctx context.Context, question string) ([]schema.Document, error) {
	k := p.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	var opts []vectorstores.Option
	if p.ScoreThreshold > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(p.ScoreThreshold))
	}
	docs, err := p.Store.SimilaritySearch(ctx, question, k, opts...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return docs, nil
}

// BuildContext joins the page contents with newlines.
func BuildContext(docs []schema.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	return strings.Join(parts, "\n")
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Prompt renders the prompt for question and the retrieved context. An empty context uses
// the question-only template.
func (p *Pipeline) Prompt(question, retrieved string) (prompt, displayContext string, err error) {
	if retrieved == "" {
		prompt, err = fstringTemplate(QuestionTemplate, "question").
			Format(map[string]any{"question": question})
		return prompt, "", err
	}
	displayContext = truncateRunes(retrieved, MaxDisplayContext)
	prompt, err = fstringTemplate(ContextTemplate, "display_context", "question").
		Format(map[string]any{"display_context": displayContext, "question": question})
	return prompt, displayContext, err
}

func fstringTemplate(template string, vars ...string) prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       template,
		InputVariables: vars,
		TemplateFormat: prompts.TemplateFormatFString,
	}
}

// Answer retrieves context for question and asks the model.
func (p *Pipeline) Answer(ctx context.Context, question string) (Answer, error) {
	if p.LLM == nil {
		return Answer{}, ErrNoModel
	}
	log := p.logger()

	docs, err := p.Retrieve(ctx, question)
	if err != nil {
		return Answer{}, err
	}
	if len(docs) == 0 {
		log.Info("no related content found; answering without context")
	} else {
		log.Info("retrieved related content", zap.Int("documents", len(docs)))
	}

	retrieved := BuildContext(docs)
	prompt, display, err := p.Prompt(question, retrieved)
	if err != nil {
		return Answer{}, fmt.Errorf("render prompt: %w", err)
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, p.LLM, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("generate: %w", err)
	}
	return Answer{
		Text:           strings.TrimSpace(out),
		Context:        retrieved,
		DisplayContext: display,
		Sources:        docs,
	}, nil
}
