package embedding

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/mimir/pkg/httputil"
	"github.com/edgeflare/mimir/pkg/metrics"
	"go.uber.org/zap"
)

// Service answers embedding requests for models found under ModelsDir.
type Service struct {
	ModelsDir string

	factory EncoderFactory
	logger  *zap.Logger

	mu     sync.Mutex
	models map[string]Encoder
}

// NewService creates a service that builds encoders with factory.
func NewService(modelsDir string, factory EncoderFactory, loggers ...*zap.Logger) *Service {
	var logger *zap.Logger
	if len(loggers) > 0 && loggers[0] != nil {
		logger = loggers[0]
	} else {
		logger = zap.NewNop()
	}
	return &Service{
		ModelsDir: modelsDir,
		factory:   factory,
		logger:    logger,
		models:    make(map[string]Encoder),
	}
}

// Register mounts the service routes on r.
func (s *Service) Register(r *httputil.Router) {
	r.HandleFunc("POST /embeddings", s.handleEmbeddings)
	r.HandleFunc("POST /embeddings/{$}", s.handleEmbeddings)
	r.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Model returns the cached encoder for name, loading it on first use.
func (s *Service) Model(name string, modelKwargs map[string]any) (Encoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enc, ok := s.models[name]; ok {
		return enc, nil
	}

	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return nil, ErrModelNotFound
	}
	path := filepath.Join(s.ModelsDir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, ErrModelNotFound
	}

	enc, err := s.factory(name, path, modelKwargs)
	if err != nil {
		return nil, err
	}
	s.models[name] = enc
	s.logger.Info("loaded embedding model", zap.String("model", name), zap.String("path", path))
	return enc, nil
}

// Embed loads the model named in req and encodes its inputs.
func (s *Service) Embed(ctx context.Context, req Request) ([][]float32, error) {
	if req.ModelName == "" {
		req.ModelName = DefaultModelName
	}

	enc, err := s.Model(req.ModelName, req.ModelKwargs)
	if err != nil {
		return nil, err
	}
	if len(req.Inputs) == 0 {
		return nil, ErrInvalidInput
	}

	opts, err := ParseEncodeOptions(req.EncodeKwargs)
	if err != nil {
		return nil, err
	}
	opts.MultiProcess = req.MultiProcess
	opts.ShowProgress = req.ShowProgress

	vectors, err := encodeBatched(ctx, enc, req.Inputs, opts)
	if err != nil {
		return nil, err
	}
	if opts.NormalizeEmbeddings {
		normalize(vectors)
	}
	return vectors, nil
}

func (s *Service) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httputil.BindStrict(r, &req); err != nil {
		httputil.Detail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ModelName == "" {
		req.ModelName = DefaultModelName
	}

	start := time.Now()
	vectors, err := s.Embed(r.Context(), req)
	metrics.EmbeddingDuration.WithLabelValues(req.ModelName).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues(req.ModelName, metrics.StatusError).Inc()
		switch {
		case errors.Is(err, ErrModelNotFound):
			httputil.Detail(w, http.StatusNotFound, "model not found")
		case errors.Is(err, ErrInvalidInput):
			httputil.Detail(w, http.StatusBadRequest, "invalid input")
		default:
			s.logger.Error("embedding failed", zap.String("model", req.ModelName), zap.Error(err))
			httputil.Detail(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	metrics.EmbeddingRequests.WithLabelValues(req.ModelName, metrics.StatusSuccess).Inc()
	metrics.EmbeddedTexts.WithLabelValues(req.ModelName).Add(float64(len(req.Inputs)))
	httputil.JSON(w, http.StatusOK, Response{Embeddings: vectors})
}
