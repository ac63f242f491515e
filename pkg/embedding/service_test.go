package embedding

import (
	"bytes"
	"context"
	"errors"
	"math"
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

// stubEncoder returns [len(text), index] for every text and records batch sizes.
type stubEncoder struct {
	batches []int
	err     error
}

func (e *stubEncoder) Encode(_ context.Context, texts []string, _ EncodeOptions) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.batches = append(e.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
	}
	return out, nil
}

func newTestService(t *testing.T, enc Encoder, models ...string) (*Service, *atomic.Int32) {
	t.Helper()
	dir := t.TempDir()
	for _, m := range models {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, m), 0o755))
	}
	var loads atomic.Int32
	svc := NewService(dir, func(string, string, map[string]any) (Encoder, error) {
		loads.Add(1)
		return enc, nil
	})
	return svc, &loads
}

func serve(svc *Service) *httptest.Server {
	r := httputil.NewRouter()
	svc.Register(r)
	return httptest.NewServer(r.Handler())
}

func TestServiceEmbeddings(t *testing.T) {
	enc := &stubEncoder{}
	svc, loads := newTestService(t, enc, DefaultModelName)
	srv := serve(svc)
	defer srv.Close()

	c := NewClient(WithAPIURL(srv.URL + "/embeddings/"))
	vectors, err := c.EmbedDocuments(t.Context(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0}, {4, 1}}, vectors)

	_, err = c.EmbedDocuments(t.Context(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load(), "model should be loaded once")
}

func TestServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		enc        *stubEncoder
		body       string
		wantStatus int
		wantDetail string
	}{
		{
			name:       "unknown model",
			enc:        &stubEncoder{},
			body:       `{"inputs":["a"],"model_name":"missing"}`,
			wantStatus: http.StatusNotFound,
			wantDetail: `{"detail":"model not found"}`,
		},
		{
			name:       "path traversal",
			enc:        &stubEncoder{},
			body:       `{"inputs":["a"],"model_name":"../etc"}`,
			wantStatus: http.StatusNotFound,
			wantDetail: `{"detail":"model not found"}`,
		},
		{
			name:       "empty inputs",
			enc:        &stubEncoder{},
			body:       `{"inputs":[]}`,
			wantStatus: http.StatusBadRequest,
			wantDetail: `{"detail":"invalid input"}`,
		},
		{
			name:       "unknown field",
			enc:        &stubEncoder{},
			body:       `{"inputs":["a"],"pooling":"mean"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "encoder failure",
			enc:        &stubEncoder{err: errors.New("boom")},
			body:       `{"inputs":["a"]}`,
			wantStatus: http.StatusInternalServerError,
			wantDetail: `{"detail":"internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, tt.enc, DefaultModelName)
			srv := serve(svc)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/embeddings/", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantDetail != "" {
				var buf bytes.Buffer
				_, _ = buf.ReadFrom(resp.Body)
				assert.JSONEq(t, tt.wantDetail, buf.String())
			}
		})
	}
}

func TestServiceMissingModelBeforeEmptyInput(t *testing.T) {
	svc, _ := newTestService(t, &stubEncoder{})
	_, err := svc.Embed(t.Context(), Request{ModelName: "absent"})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestServiceEncodeKwargs(t *testing.T) {
	enc := &stubEncoder{}
	svc, _ := newTestService(t, enc, "m")

	vectors, err := svc.Embed(t.Context(), Request{
		Inputs:       []string{"abc", "de", "f", "ghij", "k"},
		ModelName:    "m",
		EncodeKwargs: map[string]any{"batch_size": 2, "normalize_embeddings": true},
	})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, []int{2, 2, 1}, enc.batches)

	for _, v := range vectors {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
	}

	_, err = svc.Embed(t.Context(), Request{
		Inputs:       []string{"a"},
		ModelName:    "m",
		EncodeKwargs: map[string]any{"batch_size": "many"},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHealthz(t *testing.T) {
	svc, _ := newTestService(t, &stubEncoder{})
	srv := serve(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
