package httputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/mimir/pkg/util"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router is the main structure for handling HTTP routing and middleware.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	banner     string
	prefix     string
	middleware []Middleware
	group      bool
	unmatched  UnmatchedFunc
	mu         sync.RWMutex
}

// UnmatchedFunc writes the response for a request no route accepts. status is
// http.StatusNotFound or http.StatusMethodNotAllowed; for the latter the Allow header is
// already set.
type UnmatchedFunc func(w http.ResponseWriter, r *http.Request, status int)

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux: http.NewServeMux(),
		server: &http.Server{
			ReadHeaderTimeout: 10 * time.Second,
		},
		banner: mimirASCIIArt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

// WithBanner replaces the startup banner. An empty banner disables it.
func WithBanner(banner string) RouterOptions {
	return func(r *Router) {
		r.banner = banner
	}
}

// WithUnmatched replaces the mux's plain-text 404 and 405 responses.
func WithUnmatched(fn UnmatchedFunc) RouterOptions {
	return func(r *Router) {
		r.unmatched = fn
	}
}

// WithTLS enables HTTPS. Without certFile/keyFile a self-signed certificate is kept under ./tls.
func WithTLS(certFile, keyFile string) RouterOptions {
	return func(r *Router) {
		if certFile == "" || keyFile == "" {
			certFile, keyFile = "./tls/tls.crt", "./tls/tls.key"
		}

		cert, err := util.LoadOrGenerateCert(certFile, keyFile)
		if err != nil {
			log.Fatalf("error loading TLS certificates: %v", err)
		}

		r.server.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
}

// Use adds one or more middleware to the router. At least one middleware must be provided.
// Middleware functions are applied in the order they are added. On the root router they wrap the
// whole mux and see every request, including unmatched ones; on a group they wrap only routes
// registered afterwards through that group.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a new sub-router with a specified prefix. A nested group inherits the middleware
// of its parent group; root middleware is applied once around the mux.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := &Router{
		mux:    r.mux,
		server: r.server,
		banner: r.banner,
		prefix: r.prefix + prefix,
		group:  true,
	}
	if r.group {
		g.middleware = slices.Clone(r.middleware)
	}
	return g
}

// Handle registers an HTTP handler for a given method and pattern as introduced in
// [Routing Enhancements for Go 1.22](https://go.dev/blog/routing-enhancements).
// The handler `METHOD /pattern` on a route group with a /prefix resolves to `METHOD /prefix/pattern`.
// A pattern without a method ("/path") matches every method.
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, hasMethod := strings.Cut(methodPattern, " ")
	if !hasMethod {
		method, pattern = "", methodPattern
	}
	if !strings.HasPrefix(pattern, "/") {
		log.Fatalf("invalid method pattern: %s", methodPattern)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	finalHandler := handler
	if r.group {
		for i := len(r.middleware) - 1; i >= 0; i-- {
			finalHandler = r.middleware[i](finalHandler)
		}
	}

	fullPattern := r.prefix + pattern
	if method != "" {
		fullPattern = fmt.Sprintf("%s %s", method, fullPattern)
	}
	r.mux.Handle(fullPattern, finalHandler)
}

// HandleFunc is the http.HandlerFunc variant of Handle.
func (r *Router) HandleFunc(methodPattern string, handler http.HandlerFunc) {
	r.Handle(methodPattern, handler)
}

// Handler returns the mux wrapped in the router-level middleware.
func (r *Router) Handler() http.Handler {
	return r.applyMiddleware()
}

// ListenAndServe starts the server, automatically choosing between HTTP and HTTPS based on TLS config.
func (r *Router) ListenAndServe(addr string) error {
	if r.banner != "" {
		fmt.Print(colorGreen + r.banner + colorReset)
	}
	log.Printf("starting server on %s", addr)

	r.server.Addr = addr
	r.server.Handler = r.applyMiddleware()

	if r.server.TLSConfig != nil {
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	log.Println("shutting down server")
	return r.server.Shutdown(ctx)
}

func (r *Router) applyMiddleware() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handler http.Handler = r.mux
	if r.unmatched != nil {
		handler = r.dispatch()
	}
	for i := len(r.middleware) - 1; i >= 0; i-- {
		handler = r.middleware[i](handler)
	}
	return handler
}

// dispatch serves matched requests from the mux and hands the rest to r.unmatched with the
// status the mux chose.
func (r *Router) dispatch() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h, pattern := r.mux.Handler(req)
		if pattern != "" {
			r.mux.ServeHTTP(w, req)
			return
		}
		sw := &statusSink{ResponseWriter: w, status: http.StatusNotFound}
		h.ServeHTTP(sw, req)
		if sw.status != http.StatusNotFound && sw.status != http.StatusMethodNotAllowed {
			// redirects and other mux responses pass through
			h.ServeHTTP(w, req)
			return
		}
		w.Header().Del("Content-Type")
		w.Header().Del("X-Content-Type-Options")
		r.unmatched(w, req, sw.status)
	})
}

// statusSink records the status a handler writes and discards the body.
type statusSink struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusSink) WriteHeader(code int) {
	if !s.wrote {
		s.status, s.wrote = code, true
	}
}

func (s *statusSink) Write(b []byte) (int, error) {
	s.WriteHeader(http.StatusOK)
	return len(b), nil
}

const (
	colorGreen    = "\033[32m"
	colorReset    = "\033[0m"
	mimirASCIIArt = `
           _           _
 _ __ ___ (_)_ __ ___ (_)_ __
| '_ ' _ \| | '_ ' _ \| | '__|
| | | | | | | | | | | | | |
|_| |_| |_|_|_| |_| |_|_|_|

`
)
