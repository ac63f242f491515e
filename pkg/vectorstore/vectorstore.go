// Package vectorstore builds the configured langchaingo vector store.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/edgeflare/mimir/pkg/config"
	pg "github.com/edgeflare/mimir/pkg/pgx"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/weaviate"
	"go.uber.org/zap"
)

const (
	TypeWeaviate = "weaviate"
	TypePGVector = "pgvector"
	TypeMilvus   = "milvus"

	DefaultCollection = "default"
)

var (
	ErrUnsupportedVectorStore = errors.New("unsupported vector store")
	ErrMissingConn            = errors.New("pgvector needs a database connection")
)

// Options carries what New needs besides configuration.
type Options struct {
	// Collection names the weaviate class through IndexName and the pgvector collection.
	Collection string
	// Dimensions overrides PGVECTOR_DIMENSIONS when positive.
	Dimensions int
	// Conn is required for pgvector.
	Conn   pg.Conn
	Logger *zap.Logger
}

// New returns the vector store selected by VECTOR_STORE.
func New(ctx context.Context, cfg config.VectorStoreConfig, embedder embeddings.Embedder, opts Options) (vectorstores.VectorStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collection := opts.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	switch strings.ToLower(cfg.VectorStore) {
	case TypeWeaviate:
		return newWeaviate(cfg, embedder, collection, logger)
	case TypePGVector:
		if opts.Conn == nil {
			return nil, ErrMissingConn
		}
		dims := cfg.PGVectorDimensions
		if opts.Dimensions > 0 {
			dims = opts.Dimensions
		}
		return NewPGVector(ctx, opts.Conn, embedder,
			WithTable(cfg.PGVectorTable),
			WithCollection(collection),
			WithDimensions(dims),
			WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVectorStore, cfg.VectorStore)
	}
}

func newWeaviate(cfg config.VectorStoreConfig, embedder embeddings.Embedder, collection string, logger *zap.Logger) (vectorstores.VectorStore, error) {
	endpoint := cfg.WeaviateEndpoint
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid WEAVIATE_ENDPOINT %q", cfg.WeaviateEndpoint)
	}

	index := IndexName(cfg.IndexNamePrefix, collection)
	opts := []weaviate.Option{
		weaviate.WithScheme(u.Scheme),
		weaviate.WithHost(u.Host),
		weaviate.WithEmbedder(embedder),
		weaviate.WithIndexName(index),
	}
	if cfg.WeaviateAPIKey != "" {
		opts = append(opts, weaviate.WithAPIKey(cfg.WeaviateAPIKey))
	}
	if cfg.WeaviateGRPCEnabled {
		logger.Debug("weaviate gRPC is not used by this client; falling back to REST")
	}

	store, err := weaviate.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create weaviate store: %w", err)
	}
	logger.Info("using weaviate vector store", zap.String("host", u.Host), zap.String("index", index))
	return store, nil
}

// IndexName returns <prefix>_<collection>_Node with the first letter upper-cased, the class
// naming weaviate requires. Dashes in collection become underscores.
func IndexName(prefix, collection string) string {
	name := strings.ReplaceAll(collection, "-", "_")
	if prefix != "" {
		name = prefix + "_" + name
	}
	name += "_Node"

	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
