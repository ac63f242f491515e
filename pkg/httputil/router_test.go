package httputil

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter()
	require.NotNil(t, r)
	assert.Equal(t, mimirASCIIArt, r.banner)

	quiet := NewRouter(WithBanner(""))
	assert.Empty(t, quiet.banner)
}

func TestRouterHandle(t *testing.T) {
	r := NewRouter()
	r.HandleFunc("GET /test", okHandler)
	r.HandleFunc("/any", okHandler)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/test", want: http.StatusOK},
		{method: http.MethodPost, path: "/test", want: http.StatusMethodNotAllowed},
		{method: http.MethodDelete, path: "/any", want: http.StatusOK},
		{method: http.MethodGet, path: "/missing", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRouterUnmatched(t *testing.T) {
	var gotStatus int
	r := NewRouter(WithUnmatched(func(w http.ResponseWriter, _ *http.Request, status int) {
		gotStatus = status
		JSON(w, status, map[string]string{"error": http.StatusText(status)})
	}))
	r.HandleFunc("GET /test", okHandler)
	r.HandleFunc("GET /dir/", okHandler)

	tests := []struct {
		method    string
		path      string
		want      int
		wantAllow string
		unmatched bool
	}{
		{method: http.MethodGet, path: "/test", want: http.StatusOK},
		{method: http.MethodPost, path: "/test", want: http.StatusMethodNotAllowed, wantAllow: "GET, HEAD", unmatched: true},
		{method: http.MethodGet, path: "/missing", want: http.StatusNotFound, unmatched: true},
		{method: http.MethodGet, path: "/dir", want: http.StatusMovedPermanently},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			gotStatus = 0
			w := httptest.NewRecorder()
			r.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
			if !tt.unmatched {
				assert.Zero(t, gotStatus)
				return
			}
			assert.Equal(t, tt.want, gotStatus)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantAllow, w.Header().Get("Allow"))
			assert.JSONEq(t, `{"error":"`+http.StatusText(tt.want)+`"}`, w.Body.String())
		})
	}
}

func TestRouterMiddleware(t *testing.T) {
	r := NewRouter()

	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, req)
			})
		}
	}

	r.Use(tag("first"), tag("second"))
	r.HandleFunc("GET /test", okHandler)
	g := r.Group("/g")
	g.Use(tag("group"))
	g.HandleFunc("GET /test", okHandler)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"first", "second"}, order)

	order = nil
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/g/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"first", "second", "group"}, order)

	// root middleware also sees unmatched requests
	order = nil
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRouterGroup(t *testing.T) {
	r := NewRouter()
	api := r.Group("/api")
	v1 := api.Group("/v1")
	v1.HandleFunc("GET /test", okHandler)

	w := httptest.NewRecorder()
	r.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWithTLS(t *testing.T) {
	dir := t.TempDir()
	r := NewRouter(WithTLS(filepath.Join(dir, "tls.crt"), filepath.Join(dir, "tls.key")))

	require.NotNil(t, r.server.TLSConfig)
	assert.Len(t, r.server.TLSConfig.Certificates, 1)
	assert.FileExists(t, filepath.Join(dir, "tls.crt"))
}
