package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/edgeflare/mimir/pkg/httputil"
	"github.com/edgeflare/mimir/pkg/httputil/middleware"
	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/edgeflare/mimir/pkg/tasks"
	"go.uber.org/zap"
)

// ServiceName is the service reported by /health.
func (a *App) ServiceName() string {
	return strings.ToLower(a.Config.ApplicationName) + "-api"
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (a *App) fail(w http.ResponseWriter, status int, message string) {
	httputil.JSON(w, status, errorBody{
		Error:   http.StatusText(status),
		Message: message,
		Service: a.Config.ApplicationName,
		Version: a.Config.ProjectVersion(),
	})
}

func (a *App) unmatched(w http.ResponseWriter, _ *http.Request, status int) {
	if status == http.StatusMethodNotAllowed {
		a.fail(w, status, "The method is not allowed for the requested URL")
		return
	}
	a.fail(w, http.StatusNotFound, "The requested resource was not found")
}

func (a *App) onPanic(w http.ResponseWriter, _ *http.Request, _ any) {
	a.fail(w, http.StatusInternalServerError, "An internal error occurred")
}

func (a *App) registerRoutes() {
	r := a.Router
	r.HandleFunc("GET /health", a.health)
	r.HandleFunc("GET /{$}", a.index)

	v1 := r.Group("/v1")
	v1.HandleFunc("POST /query", a.query)
	v1.HandleFunc("POST /documents", a.ingest)
	v1.HandleFunc("GET /tasks/{id}", a.taskResult)
}

func (a *App) health(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     a.ServiceName(),
		"version":     a.Config.ProjectVersion(),
		"environment": a.Config.DeployEnv,
	})
}

func (a *App) index(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]any{
		"service":     a.Config.ApplicationName + " API",
		"version":     a.Config.ProjectVersion(),
		"description": a.Config.PackagingInfo.Project.Description,
		"status":      "running",
		"environment": a.Config.DeployEnv,
		"debug":       a.Config.Debug,
	})
}

type queryRequest struct {
	Question string `json:"question"`
}

func (a *App) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := httputil.BindStrict(r, &req); err != nil {
		a.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		a.fail(w, http.StatusBadRequest, "question is required")
		return
	}
	if a.Pipeline == nil {
		a.fail(w, http.StatusServiceUnavailable, "no RAG pipeline is configured")
		return
	}

	ans, err := a.Pipeline.Answer(r.Context(), req.Question)
	if err != nil {
		middleware.LoggerFromContext(r.Context(), a.Logger).Error("query failed", zap.Error(err))
		a.fail(w, http.StatusInternalServerError, "An internal error occurred")
		return
	}
	httputil.JSON(w, http.StatusOK, ans)
}

type ingestRequest struct {
	URL string `json:"url"`
}

func (a *App) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := httputil.BindStrict(r, &req); err != nil {
		a.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		a.fail(w, http.StatusBadRequest, "url is required")
		return
	}
	log := middleware.LoggerFromContext(r.Context(), a.Logger)

	if a.Broker != nil {
		t, err := tasks.Submit(r.Context(), a.Broker, tasks.IngestTaskName, tasks.IngestPayload{URL: req.URL})
		if err != nil {
			log.Error("enqueue ingest failed", zap.Error(err))
			a.fail(w, http.StatusServiceUnavailable, "task queue is unavailable")
			return
		}
		httputil.JSON(w, http.StatusAccepted, map[string]string{"task_id": t.ID, "status": "queued"})
		return
	}

	if a.Pipeline == nil {
		a.fail(w, http.StatusServiceUnavailable, "no RAG pipeline is configured")
		return
	}
	ids, err := a.Pipeline.IngestLocation(r.Context(), a.Storage, req.URL)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a.fail(w, http.StatusNotFound, "document not found")
	case errors.Is(err, storage.ErrInvalidKey):
		a.fail(w, http.StatusBadRequest, err.Error())
	case err != nil:
		log.Error("ingest failed", zap.String("url", req.URL), zap.Error(err))
		a.fail(w, http.StatusInternalServerError, "An internal error occurred")
	default:
		httputil.JSON(w, http.StatusCreated, map[string]any{"ids": ids, "count": len(ids)})
	}
}

func (a *App) taskResult(w http.ResponseWriter, r *http.Request) {
	rb, ok := a.Broker.(*tasks.RedisBroker)
	if !ok {
		a.fail(w, http.StatusNotImplemented, "task results are only kept by the redis backend")
		return
	}
	res, err := rb.Result(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, tasks.ErrResultNotFound):
		httputil.JSON(w, http.StatusOK, map[string]string{"task_id": r.PathValue("id"), "status": "PENDING"})
	case err != nil:
		a.fail(w, http.StatusServiceUnavailable, "task results are unavailable")
	default:
		httputil.JSON(w, http.StatusOK, res)
	}
}
