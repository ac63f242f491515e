package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSWithOptions(t *testing.T) {
	tests := []struct {
		name       string
		options    *CORSOptions
		method     string
		origin     string
		wantStatus int
		want       map[string]string
	}{
		{
			name:       "defaults on a simple request",
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
			want: map[string]string{
				"Access-Control-Allow-Origin":      "*",
				"Access-Control-Allow-Credentials": "true",
				"Access-Control-Expose-Headers":    "X-Request-Id",
				"Access-Control-Allow-Methods":     "",
				"Access-Control-Max-Age":           "",
			},
		},
		{
			name:       "defaults on a preflight",
			method:     http.MethodOptions,
			wantStatus: http.StatusNoContent,
			want: map[string]string{
				"Access-Control-Allow-Origin":  "*",
				"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
				"Access-Control-Allow-Headers": "Content-Type,Authorization,X-Request-Id",
				"Access-Control-Max-Age":       "600",
			},
		},
		{
			name:       "wildcard with credentials echoes the origin",
			method:     http.MethodGet,
			origin:     "http://ui.example",
			wantStatus: http.StatusOK,
			want: map[string]string{
				"Access-Control-Allow-Origin":      "http://ui.example",
				"Access-Control-Allow-Credentials": "true",
				"Vary":                             "Origin",
			},
		},
		{
			name:       "wildcard without credentials stays a wildcard",
			method:     http.MethodGet,
			origin:     "http://ui.example",
			options:    &CORSOptions{AllowedOrigins: []string{"*"}},
			wantStatus: http.StatusOK,
			want: map[string]string{
				"Access-Control-Allow-Origin":      "*",
				"Access-Control-Allow-Credentials": "",
				"Vary":                             "",
			},
		},
		{
			name:       "single origin is always sent",
			method:     http.MethodGet,
			origin:     "http://other.example",
			options:    &CORSOptions{AllowedOrigins: []string{"http://console.example"}},
			wantStatus: http.StatusOK,
			want: map[string]string{
				"Access-Control-Allow-Origin":      "http://console.example",
				"Vary":                             "Origin",
				"Access-Control-Allow-Credentials": "",
			},
		},
		{
			name:       "several origins echo the match",
			method:     http.MethodGet,
			origin:     "http://b.example",
			options:    &CORSOptions{AllowedOrigins: []string{"http://a.example", "http://b.example"}},
			wantStatus: http.StatusOK,
			want: map[string]string{
				"Access-Control-Allow-Origin": "http://b.example",
				"Vary":                        "Origin",
			},
		},
		{
			name:       "several origins reject others",
			method:     http.MethodGet,
			origin:     "http://evil.example",
			options:    &CORSOptions{AllowedOrigins: []string{"http://a.example", "http://b.example"}},
			wantStatus: http.StatusOK,
			want:       map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name:       "empty options set nothing",
			method:     http.MethodOptions,
			options:    &CORSOptions{},
			wantStatus: http.StatusNoContent,
			want: map[string]string{
				"Access-Control-Allow-Origin":  "",
				"Access-Control-Allow-Methods": "",
				"Access-Control-Max-Age":       "",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.options
			if opts == nil {
				opts = defaultCORSOptions()
			}
			req := httptest.NewRequest(tt.method, "/v1/query", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			CORSWithOptions(opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			for header, want := range tt.want {
				assert.Equal(t, want, rec.Header().Get(header), header)
			}
		})
	}
}

func TestCORSNilOptionsUsesDefaults(t *testing.T) {
	rec := httptest.NewRecorder()
	CORSWithOptions(nil)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
