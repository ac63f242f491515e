package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/edgeflare/mimir/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o600))

	got, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []Model{
		{Name: "alpha", Path: filepath.Join(dir, "alpha")},
		{Name: "mid", Path: filepath.Join(dir, "mid")},
		{Name: "zeta", Path: filepath.Join(dir, "zeta")},
	}, got)

	missing, err := List(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSelectorAll(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models", "Qwen2.5-7B"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "embeddings", "xiaobu-embedding-v2"), 0o755))

	s := Selector{ModelsDir: filepath.Join(root, "models"), EmbeddingsDir: filepath.Join(root, "embeddings")}
	cat, err := s.All()
	require.NoError(t, err)
	require.Len(t, cat.LargeModels, 1)
	require.Len(t, cat.EmbeddingModels, 1)
	assert.Equal(t, "Qwen2.5-7B", cat.LargeModels[0].Name)
	assert.Equal(t, "xiaobu-embedding-v2", cat.EmbeddingModels[0].Name)
}

func TestRegistryLookup(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		name, version, size string
		want                string
		ok                  bool
	}{
		{"Qwen", "2-instruct-AWQ", "7B", "qwen/Qwen2-7B-Instruct-AWQ", true},
		{"qwen", "2-instruct-AWQ", "7B", "qwen/Qwen2-7B-Instruct-AWQ", true},
		{"qwen", "2-instruct", "1.5B", "qwen/qwen2-1.5b-instruct", true},
		{"Llama", "3.1", "70B", "LLM-Research/Meta-Llama-3.1-70B-Instruct", true},
		{"Llama", "3.1", "405B", "", false},
		{"Mistral", "7", "7B", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.version+"/"+tt.size, func(t *testing.T) {
			got, ok := r.Lookup(tt.name, tt.version, tt.size)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Qwen:
  "2.5-instruct":
    7B: qwen/Qwen2.5-7B-Instruct
`), 0o600))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	id, ok := r.Lookup("Qwen", "2.5-instruct", "7B")
	assert.True(t, ok)
	assert.Equal(t, "qwen/Qwen2.5-7B-Instruct", id)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadRegistry(empty)
	assert.Error(t, err)

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// newModelScope serves a two-file repository for every model id.
func newModelScope(t *testing.T, downloads *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/models/{org}/{name}/repo/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "master", r.URL.Query().Get("Revision"))
		assert.Equal(t, "true", r.URL.Query().Get("Recursive"))
		httputil.JSON(w, http.StatusOK, map[string]any{
			"Code": 200,
			"Data": map[string]any{"Files": []map[string]any{
				{"Name": "config.json", "Path": "config.json", "Type": "blob"},
				{"Name": "tokenizer", "Path": "tokenizer", "Type": "tree"},
				{"Name": "vocab.txt", "Path": "tokenizer/vocab.txt", "Type": "blob"},
			}},
		})
	})
	mux.HandleFunc("GET /api/v1/models/{org}/{name}/repo", func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		_, _ = w.Write([]byte("content of " + r.URL.Query().Get("FilePath")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	var downloads atomic.Int32
	srv := newModelScope(t, &downloads)
	root := t.TempDir()
	d := NewDownloader(root, srv.URL, nil)
	ctx := context.Background()

	res := d.Download(ctx, Request{Name: "Qwen", Version: "2-instruct-AWQ", Size: "1.5B"})
	require.False(t, res.Error, res.Message)

	dir := filepath.Join(root, "qwen", "Qwen-2-instruct-AWQ-1.5B")
	assert.Equal(t, "model downloaded to "+dir, res.Message)
	data, err := os.ReadFile(filepath.Join(dir, "tokenizer", "vocab.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content of tokenizer/vocab.txt", string(data))
	assert.Equal(t, int32(2), downloads.Load())

	// second call finds the folder and downloads nothing
	res = d.Download(ctx, Request{Name: "Qwen", Version: "2-instruct-AWQ", Size: "1.5B"})
	assert.False(t, res.Error)
	assert.Contains(t, res.Message, "already exists")
	assert.Equal(t, int32(2), downloads.Load())
}

func TestDownloadCustomAndUnknown(t *testing.T) {
	var downloads atomic.Int32
	srv := newModelScope(t, &downloads)
	root := t.TempDir()
	d := NewDownloader(root, srv.URL, nil)
	ctx := context.Background()

	res := d.Download(ctx, Request{Name: "bge", CustomModelID: "BAAI/bge-large-zh-v1.5"})
	require.False(t, res.Error, res.Message)
	assert.DirExists(t, filepath.Join(root, "customs", "bge-large-zh-v1.5"))

	res = d.Download(ctx, Request{Name: "Llama", Version: "3.1", Size: "405B"})
	assert.True(t, res.Error)
	assert.Equal(t, ErrModelNotFound.Error(), res.Message)
	assert.NoDirExists(t, filepath.Join(root, "llama", "Llama-3.1-405B"))
}

func TestDownloadUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	root := t.TempDir()
	res := NewDownloader(root, srv.URL, nil).Download(context.Background(), Request{Name: "Llama", Version: "3.1", Size: "8B"})
	assert.True(t, res.Error)
	assert.Contains(t, res.Message, "LLM-Research/Meta-Llama-3.1-8B-Instruct")
	assert.NoDirExists(t, filepath.Join(root, "llama", "Llama-3.1-8B"))
}
