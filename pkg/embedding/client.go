// Package embedding contains the embedding microservice and the client that calls it.
//
// The service loads one encoder per model name and answers POST /embeddings/ with
// {"embeddings": [[...]]}. The Client implements langchaingo's embeddings.Embedder on top of it.
package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/mimir/pkg/httputil"
	"github.com/tmc/langchaingo/embeddings"
)

const (
	DefaultAPIURL    = "http://localhost:24101/embeddings/"
	DefaultModelName = "xiaobu-embedding-v2"
)

var (
	ErrEmptyInput        = errors.New("input text list is empty")
	ErrMissingEmbeddings = errors.New("response has no embeddings field")
	ErrModelNotFound     = errors.New("model not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrHTTPStatus        = errors.New("embedding service returned an error status")
)

// Request is the body of POST /embeddings/.
type Request struct {
	Inputs       []string       `json:"inputs"`
	ModelName    string         `json:"model_name"`
	ModelKwargs  map[string]any `json:"model_kwargs"`
	EncodeKwargs map[string]any `json:"encode_kwargs"`
	MultiProcess bool           `json:"multi_process"`
	ShowProgress bool           `json:"show_progress"`
}

// Response is the success body of POST /embeddings/.
type Response struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Client calls the embedding service over HTTP.
type Client struct {
	APIURL       string
	ModelName    string
	ModelKwargs  map[string]any
	EncodeKwargs map[string]any
	MultiProcess bool
	ShowProgress bool

	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
}

var _ embeddings.Embedder = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithAPIURL(u string) ClientOption { return func(c *Client) { c.APIURL = u } }

func WithModelName(name string) ClientOption { return func(c *Client) { c.ModelName = name } }

func WithModelKwargs(kw map[string]any) ClientOption {
	return func(c *Client) { c.ModelKwargs = kw }
}

func WithEncodeKwargs(kw map[string]any) ClientOption {
	return func(c *Client) { c.EncodeKwargs = kw }
}

func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.HTTPClient = hc } }

// NewClient returns a client for the default service URL and model unless overridden.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		APIURL:       DefaultAPIURL,
		ModelName:    DefaultModelName,
		ModelKwargs:  map[string]any{},
		EncodeKwargs: map[string]any{},
		Timeout:      60 * time.Second,
		MaxRetries:   2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EmbedDocuments embeds every text in one request.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	payload := Request{
		Inputs:       texts,
		ModelName:    c.ModelName,
		ModelKwargs:  nonNil(c.ModelKwargs),
		EncodeKwargs: nonNil(c.EncodeKwargs),
		MultiProcess: c.MultiProcess,
		ShowProgress: c.ShowProgress,
	}

	cfg := httputil.DefaultRequestConfig(http.MethodPost, c.APIURL)
	cfg.Client = c.HTTPClient
	cfg.Timeout = c.Timeout
	cfg.MaxRetries = c.MaxRetries

	resp, err := httputil.Request(ctx, cfg, payload)
	if err != nil {
		var se *httputil.StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %d: %s", ErrHTTPStatus, se.StatusCode, detailOf(se.Body))
		}
		return nil, fmt.Errorf("request embedding service: %w", err)
	}

	var body struct {
		Embeddings *[][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("invalid embedding service response: %w", err)
	}
	if body.Embeddings == nil {
		return nil, ErrMissingEmbeddings
	}
	return *body.Embeddings, nil
}

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, ErrMissingEmbeddings
	}
	return vectors[0], nil
}

// detailOf extracts {"detail": "..."} from an error body, falling back to the raw body.
func detailOf(body []byte) string {
	var d struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &d) == nil && d.Detail != "" {
		return d.Detail
	}
	return string(body)
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
