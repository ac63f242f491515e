package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

type stubStore struct {
	added   []schema.Document
	results []schema.Document
	k       int
	opts    vectorstores.Options
	err     error
}

func (s *stubStore) AddDocuments(_ context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.added = append(s.added, docs...)
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = string(rune('a' + i))
	}
	return ids, nil
}

func (s *stubStore) SimilaritySearch(_ context.Context, _ string, k int, options ...vectorstores.Option) ([]schema.Document, error) {
	s.k = k
	for _, o := range options {
		o(&s.opts)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type recordingModel struct {
	prompt string
	reply  string
	err    error
}

func (m *recordingModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, part := range msgs[0].Parts {
		if tc, ok := part.(llms.TextContent); ok {
			m.prompt = tc.Text
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestPrompt(t *testing.T) {
	p := NewPipeline(&stubStore{}, nil, nil)

	prompt, display, err := p.Prompt("什么是RAG?", "")
	require.NoError(t, err)
	assert.Equal(t, "请根据以下问题提供详细的回答：什么是RAG?", prompt)
	assert.Empty(t, display)

	prompt, display, err = p.Prompt("q", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "基于以下数据库内容：\nctx\n……\n回答问题：\nq", prompt)
	assert.Equal(t, "ctx", display)
}

func TestPromptKeepsBracesInValues(t *testing.T) {
	p := NewPipeline(&stubStore{}, nil, nil)

	prompt, _, err := p.Prompt("{question}?", `{"k": "v"}`)
	require.NoError(t, err)
	assert.Equal(t, "基于以下数据库内容：\n{\"k\": \"v\"}\n……\n回答问题：\n{question}?", prompt)
}

func TestAnswerSendsTruncatedContextToModel(t *testing.T) {
	long := strings.Repeat("检", 150) + strings.Repeat("索", 150)
	store := &stubStore{results: []schema.Document{{PageContent: long}}}
	model := &recordingModel{reply: "ok"}

	ans, err := NewPipeline(store, model, nil).Answer(t.Context(), "问题")
	require.NoError(t, err)
	assert.Equal(t, long, ans.Context)
	want := "基于以下数据库内容：\n" + strings.Repeat("检", 150) + strings.Repeat("索", 50) + "\n……\n回答问题：\n问题"
	assert.Equal(t, want, model.prompt)
	assert.NotContains(t, model.prompt, "{question}")
	assert.NotContains(t, model.prompt, "{display_context}")
}

func TestPromptTruncatesByRune(t *testing.T) {
	p := NewPipeline(&stubStore{}, nil, nil)
	long := strings.Repeat("语", 250)

	_, display, err := p.Prompt("q", long)
	require.NoError(t, err)
	assert.Equal(t, 200, len([]rune(display)))
	assert.Equal(t, strings.Repeat("语", 200), display)
}

func TestAnswer(t *testing.T) {
	store := &stubStore{results: []schema.Document{
		{PageContent: "LangChain 提供链式调用。"},
		{PageContent: "也支持检索增强。"},
	}}
	model := &recordingModel{reply: "\n  它是一个框架。 \n"}
	p := NewPipeline(store, model, nil)
	p.ScoreThreshold = 0.5

	ans, err := p.Answer(t.Context(), "LangChain 是什么?")
	require.NoError(t, err)
	assert.Equal(t, "它是一个框架。", ans.Text)
	assert.Equal(t, "LangChain 提供链式调用。\n也支持检索增强。", ans.Context)
	assert.Equal(t, ans.Context, ans.DisplayContext)
	assert.Len(t, ans.Sources, 2)
	assert.Equal(t, "基于以下数据库内容：\nLangChain 提供链式调用。\n也支持检索增强。\n……\n回答问题：\nLangChain 是什么?", model.prompt)
	assert.Equal(t, DefaultTopK, store.k)
	assert.InDelta(t, 0.5, store.opts.ScoreThreshold, 1e-6)
}

func TestAnswerWithoutContext(t *testing.T) {
	model := &recordingModel{reply: "ok"}
	p := NewPipeline(&stubStore{}, model, nil)

	ans, err := p.Answer(t.Context(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", ans.Text)
	assert.Empty(t, ans.Context)
	assert.Equal(t, "请根据以下问题提供详细的回答：q", model.prompt)
}

func TestAnswerErrors(t *testing.T) {
	_, err := NewPipeline(&stubStore{}, nil, nil).Answer(t.Context(), "q")
	assert.ErrorIs(t, err, ErrNoModel)

	down := errors.New("down")
	_, err = NewPipeline(&stubStore{err: down}, &recordingModel{}, nil).Answer(t.Context(), "q")
	assert.ErrorIs(t, err, down)

	_, err = NewPipeline(&stubStore{}, &recordingModel{err: down}, nil).Answer(t.Context(), "q")
	assert.ErrorIs(t, err, down)
}

func TestIngestLocation(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("a", 600) + "\n\n" + strings.Repeat("b", 600)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte(body), 0o600))
	st, err := storage.NewFile(dir)
	require.NoError(t, err)

	store := &stubStore{}
	ids, err := NewPipeline(store, nil, nil).IngestLocation(t.Context(), st, "doc.txt")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	require.Len(t, store.added, 2)
	assert.Equal(t, "doc.txt", store.added[0].Metadata["source"])
}
