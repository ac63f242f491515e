package tasks

import (
	"context"
	"errors"

	"github.com/edgeflare/mimir/pkg/rag"
	"github.com/edgeflare/mimir/pkg/storage"
)

// IngestTaskName loads a document and stores it in the vector store.
const IngestTaskName = "rag.ingest"

var ErrMissingURL = errors.New("url is required")

// IngestPayload is the payload of IngestTaskName. URL is a storage key or an absolute URL.
type IngestPayload struct {
	URL string `json:"url"`
}

// Ingester stores a document found at a location.
type Ingester interface {
	IngestLocation(ctx context.Context, st *storage.Storage, location string) ([]string, error)
}

var _ Ingester = (*rag.Pipeline)(nil)

// IngestHandler returns the handler for IngestTaskName.
func IngestHandler(ing Ingester, st *storage.Storage) Handler {
	return func(ctx context.Context, t Task) error {
		var p IngestPayload
		if err := t.Decode(&p); err != nil {
			return err
		}
		if p.URL == "" {
			return ErrMissingURL
		}
		_, err := ing.IngestLocation(ctx, st, p.URL)
		return err
	}
}
