package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/mimir/pkg/httputil"
	"github.com/edgeflare/mimir/pkg/util"
	"go.uber.org/zap"
)

const DefaultEndpoint = "https://www.modelscope.cn"

var (
	ErrModelNotFound = errors.New("no matching model ID found for the given key")
	ErrUnsafePath    = errors.New("repository file path escapes the model folder")
)

// Request selects a model to download. CustomModelID, when set, wins over the registry.
type Request struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Size          string `json:"size"`
	CustomModelID string `json:"custom_model_id,omitempty"`
	Revision      string `json:"revision,omitempty"`
}

// Result reports the outcome the way API callers expect it.
type Result struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Dir     string `json:"dir,omitempty"`
}

// Downloader fetches model snapshots through the ModelScope HTTP API.
type Downloader struct {
	Registry Registry
	Root     string
	Endpoint string
	Client   *http.Client
	logger   *zap.Logger
}

// NewDownloader creates a Downloader saving under root.
func NewDownloader(root, endpoint string, registry Registry, loggers ...*zap.Logger) *Downloader {
	var logger *zap.Logger
	if len(loggers) > 0 && loggers[0] != nil {
		logger = loggers[0]
	} else {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Downloader{
		Registry: registry,
		Root:     root,
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: 0},
		logger:   logger,
	}
}

// saveDir returns the family directory: qwen, llama or customs.
func (d *Downloader) saveDir(name string) string {
	switch strings.ToLower(name) {
	case "qwen":
		return filepath.Join(d.Root, "qwen")
	case "llama":
		return filepath.Join(d.Root, "llama")
	default:
		return filepath.Join(d.Root, "customs")
	}
}

// folderName is name-version-size, or the last element of a custom id when the key is incomplete.
func folderName(req Request) string {
	if req.Name != "" && req.Version != "" && req.Size != "" {
		return fmt.Sprintf("%s-%s-%s", req.Name, req.Version, req.Size)
	}
	return path.Base(req.CustomModelID)
}

// ModelID resolves the ModelScope id for req.
func (d *Downloader) ModelID(req Request) (string, error) {
	if req.CustomModelID != "" {
		return req.CustomModelID, nil
	}
	if id, ok := d.Registry.Lookup(req.Name, req.Version, req.Size); ok {
		return id, nil
	}
	return "", ErrModelNotFound
}

// Download fetches the model unless its folder already exists. Failures are reported in the
// Result rather than returned.
func (d *Downloader) Download(ctx context.Context, req Request) Result {
	saveDir := d.saveDir(req.Name)
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return Result{Error: true, Message: fmt.Sprintf("create %s: %v", saveDir, err)}
	}

	folder := folderName(req)
	modelDir := filepath.Join(saveDir, folder)
	if folder == "." || folder == "/" {
		return Result{Error: true, Message: ErrModelNotFound.Error()}
	}
	if util.DirExists(modelDir) {
		return Result{Message: fmt.Sprintf("model folder %s already exists", folder), Dir: modelDir}
	}

	modelID, err := d.ModelID(req)
	if err != nil {
		return Result{Error: true, Message: err.Error()}
	}

	revision := req.Revision
	if revision == "" {
		revision = "master"
	}

	d.logger.Info("downloading model", zap.String("model_id", modelID), zap.String("dir", modelDir))
	if err := d.snapshot(ctx, modelID, revision, modelDir); err != nil {
		_ = os.RemoveAll(modelDir)
		return Result{Error: true, Message: fmt.Sprintf("model %s download failed: %v", modelID, err)}
	}
	return Result{Message: fmt.Sprintf("model downloaded to %s", modelDir), Dir: modelDir}
}

// RepoFile is an entry of a ModelScope repository listing.
type RepoFile struct {
	Name string `json:"Name"`
	Path string `json:"Path"`
	Type string `json:"Type"`
	Size int64  `json:"Size"`
}

type repoFilesResponse struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
	Data    struct {
		Files []RepoFile `json:"Files"`
	} `json:"Data"`
}

// ListFiles returns the blob entries of a model repository.
func (d *Downloader) ListFiles(ctx context.Context, modelID, revision string) ([]RepoFile, error) {
	q := url.Values{"Revision": {revision}, "Recursive": {"true"}}
	u := fmt.Sprintf("%s/api/v1/models/%s/repo/files?%s", d.Endpoint, modelID, q.Encode())

	cfg := httputil.DefaultRequestConfig(http.MethodGet, u)
	cfg.Client = d.Client
	cfg.Timeout = 30 * time.Second
	cfg.Logger = d.logger

	resp, err := httputil.Request(ctx, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", modelID, err)
	}

	var body repoFilesResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode file list of %s: %w", modelID, err)
	}
	if body.Code != 0 && body.Code != http.StatusOK {
		return nil, fmt.Errorf("list files of %s: %s (code %d)", modelID, body.Message, body.Code)
	}

	files := make([]RepoFile, 0, len(body.Data.Files))
	for _, f := range body.Data.Files {
		if f.Type == "tree" {
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

func (d *Downloader) snapshot(ctx context.Context, modelID, revision, modelDir string) error {
	files, err := d.ListFiles(ctx, modelID, revision)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("model %s has no files", modelID)
	}
	for _, f := range files {
		if err := d.downloadFile(ctx, modelID, revision, f.Path, modelDir); err != nil {
			return err
		}
	}
	return nil
}

// downloadFile streams one repository file to disk, retrying transient failures.
func (d *Downloader) downloadFile(ctx context.Context, modelID, revision, filePath, modelDir string) error {
	dst := filepath.Join(modelDir, filepath.FromSlash(filePath))
	if rel, err := filepath.Rel(modelDir, dst); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%w: %s", ErrUnsafePath, filePath)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	q := url.Values{"Revision": {revision}, "FilePath": {filePath}}
	u := fmt.Sprintf("%s/api/v1/models/%s/repo?%s", d.Endpoint, modelID, q.Encode())

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := d.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := &httputil.StatusError{StatusCode: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		tmp := dst + ".part"
		out, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Rename(tmp, dst)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)); err != nil {
		return fmt.Errorf("download %s: %w", filePath, err)
	}
	d.logger.Debug("downloaded file", zap.String("model_id", modelID), zap.String("path", filePath))
	return nil
}
