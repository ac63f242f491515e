package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/edgeflare/mimir/pkg/config"
	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/edgeflare/mimir/pkg/redisx"
	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/edgeflare/mimir/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubStore struct{ added int }

func (s *stubStore) AddDocuments(_ context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	s.added += len(docs)
	ids := make([]string, len(docs))
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	return ids, nil
}

func (s *stubStore) SimilaritySearch(context.Context, string, int, ...vectorstores.Option) ([]schema.Document, error) {
	return []schema.Document{{PageContent: "mimir answers questions"}}, nil
}

type stubModel struct{}

func (stubModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: " an answer "}}}, nil
}

func (m stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RedisConfig.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.NewFile(dir)
	require.NoError(t, err)

	opts = append([]Option{WithStorage(st), WithRedis(&redisx.Wrapper{})}, opts...)
	a, err := Create(t.Context(), cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, dir
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://ui.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	rec, body := do(t, a.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "mimirfw-api", body["service"])
	assert.Equal(t, "0.1.0", body["version"])
	assert.Equal(t, "PRODUCTION", body["environment"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "http://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestIndex(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	rec, body := do(t, a.Handler(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MimirFW API", body["service"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "MimirFW API", body["description"])
	assert.Equal(t, false, body["debug"])
}

func TestNotFound(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	rec, body := do(t, a.Handler(), http.MethodGet, "/missing/path", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{
		"error":   "Not Found",
		"message": "The requested resource was not found",
		"service": "MimirFW",
		"version": "0.1.0",
	}, body)
}

func TestMethodNotAllowed(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	tests := []struct {
		method, path, allow string
	}{
		{method: http.MethodDelete, path: "/health", allow: "GET, HEAD"},
		{method: http.MethodGet, path: "/v1/query", allow: "POST"},
		{method: http.MethodPut, path: "/v1/tasks/abc", allow: "GET, HEAD"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec, body := do(t, a.Handler(), tt.method, tt.path, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, tt.allow, rec.Header().Get("Allow"))
			assert.Equal(t, "Method Not Allowed", body["error"])
			assert.Equal(t, "MimirFW", body["service"])
		})
	}
}

func TestPanicRecovered(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	a.Router.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec, body := do(t, a.Handler(), http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", body["error"])
	assert.Equal(t, "An internal error occurred", body["message"])
}

func TestPreflight(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	rec, _ := do(t, a.Handler(), http.MethodOptions, "/v1/query", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestQuery(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	h := a.Handler()

	rec, _ := do(t, h, http.MethodPost, "/v1/query", `{"question":"what is mimir?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.Pipeline = rag.NewPipeline(&stubStore{}, stubModel{}, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "malformed", body: `{`, code: http.StatusBadRequest},
		{name: "unknown field", body: `{"q":"x"}`, code: http.StatusBadRequest},
		{name: "blank question", body: `{"question":"  "}`, code: http.StatusBadRequest},
		{name: "answered", body: `{"question":"what is mimir?"}`, code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/v1/query", tt.body)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "an answer", body["answer"])
				assert.Equal(t, "mimir answers questions", body["display_context"])
			}
		})
	}
}

func TestIngestSync(t *testing.T) {
	store := &stubStore{}
	a, dir := newTestApp(t, testConfig(), WithPipeline(rag.NewPipeline(store, stubModel{}, nil)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("hello mimir"), 0o600))
	h := a.Handler()

	rec, body := do(t, h, http.MethodPost, "/v1/documents", `{"url":"doc.txt"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, 1, store.added)

	rec, _ = do(t, h, http.MethodPost, "/v1/documents", `{"url":"nope.txt"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/v1/documents", `{"url":"../etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/v1/documents", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func redisConfigFor(t *testing.T, mr *miniredis.Miniredis, cfg *config.Config) {
	t.Helper()
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	cfg.RedisConfig.Enabled = true
	cfg.RedisConfig.Host = host
	cfg.RedisConfig.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.SerializationProtocol = 2
}

func TestCreateWithExtensions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Debug = true
	cfg.CeleryConfig.Enabled = true
	redisConfigFor(t, mr, cfg)

	core, logs := observer.New(zap.DebugLevel)
	st, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)
	wrapper := &redisx.Wrapper{}
	a, err := Create(t.Context(), cfg, zap.New(core), WithStorage(st), WithRedis(wrapper))
	require.NoError(t, err)

	var messages []string
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "skipped logging (disabled)")
	assert.Contains(t, messages, "skipped database (disabled)")
	assertHasPrefix(t, messages, "loaded redis (")
	assertHasPrefix(t, messages, "loaded tasks (")
	assertHasPrefix(t, messages, "finished create_app")

	require.IsType(t, &tasks.RedisBroker{}, a.Broker)
	_, err = wrapper.Client()
	require.NoError(t, err)

	h := a.Handler()
	rec, body := do(t, h, http.MethodPost, "/v1/documents", `{"url":"s3://bucket/doc.txt"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", body["status"])
	id := body["task_id"].(string)

	queued, err := mr.List(cfg.CeleryConfig.Queue)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	rec, body = do(t, h, http.MethodGet, "/v1/tasks/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", body["status"])

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, a.Broker.Consume(ctx, func(context.Context, tasks.Task) error {
		cancel()
		return nil
	}))
	rec, body = do(t, h, http.MethodGet, "/v1/tasks/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tasks.StatusSuccess, body["status"])

	require.NoError(t, a.Close())
	assert.Nil(t, a.Broker)
	_, err = wrapper.Client()
	assert.ErrorIs(t, err, redisx.ErrNotInitialized)
}

func assertHasPrefix(t *testing.T, messages []string, prefix string) {
	t.Helper()
	for _, m := range messages {
		if strings.HasPrefix(m, prefix) {
			return
		}
	}
	t.Errorf("no log message starts with %q in %v", prefix, messages)
}

type recordingExt struct {
	name    string
	initErr error
	events  *[]string
}

func (e recordingExt) Name() string                  { return e.name }
func (e recordingExt) IsEnabled(*config.Config) bool { return true }
func (e recordingExt) Init(context.Context, *App) error {
	*e.events = append(*e.events, "init "+e.name)
	return e.initErr
}
func (e recordingExt) Close(*App) error {
	*e.events = append(*e.events, "close "+e.name)
	return nil
}

func TestCreateCloseOrder(t *testing.T) {
	var events []string
	a, _ := newTestApp(t, testConfig(), WithExtensions(
		recordingExt{name: "a", events: &events},
		recordingExt{name: "b", events: &events},
	))
	require.NoError(t, a.Close())
	assert.Equal(t, []string{"init a", "init b", "close b", "close a"}, events)
}

func TestCreateFailureClosesLoaded(t *testing.T) {
	var events []string
	_, err := Create(t.Context(), testConfig(), nil, WithRedis(&redisx.Wrapper{}), WithExtensions(
		recordingExt{name: "a", events: &events},
		recordingExt{name: "b", events: &events, initErr: errors.New("boom")},
		recordingExt{name: "c", events: &events},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load b: boom")
	assert.Equal(t, []string{"init a", "init b", "close a"}, events)
}

func TestCreateUnsupportedBackend(t *testing.T) {
	cfg := testConfig()
	cfg.CeleryConfig.Enabled = true
	cfg.CeleryConfig.Backend = "rabbitmq"

	_, err := Create(t.Context(), cfg, nil, WithRedis(&redisx.Wrapper{}))
	assert.ErrorIs(t, err, tasks.ErrUnsupportedBackend)
}
