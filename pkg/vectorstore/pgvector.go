package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pg "github.com/edgeflare/mimir/pkg/pgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

const (
	DefaultTable      = "embeddings"
	DefaultDimensions = 1024
)

var (
	ErrMissingEmbedder    = errors.New("no embedder configured")
	ErrDimensionMismatch  = errors.New("embedding dimensions do not match the table")
	ErrUnsupportedFilters = errors.New("pgvector filters must be a map of metadata values")
)

// PGVector stores documents in a postgres table with a pgvector column:
//
//	id uuid primary key, collection text, content text, metadata jsonb, embedding vector(d)
//
// Every row belongs to a collection. The NameSpace option overrides the store's collection
// per call, and the Filters option is matched against metadata with jsonb containment.
type PGVector struct {
	conn       pg.Conn
	embedder   embeddings.Embedder
	table      string
	collection string
	dimensions int
	logger     *zap.Logger
}

var _ vectorstores.VectorStore = (*PGVector)(nil)

type PGVectorOption func(*PGVector)

// WithTable sets the table name. A schema-qualified "schema.table" is accepted.
func WithTable(name string) PGVectorOption {
	return func(s *PGVector) {
		if name != "" {
			s.table = name
		}
	}
}

// WithCollection sets the collection rows are written to and searched in.
func WithCollection(name string) PGVectorOption {
	return func(s *PGVector) {
		if name != "" {
			s.collection = name
		}
	}
}

func WithDimensions(d int) PGVectorOption {
	return func(s *PGVector) {
		if d > 0 {
			s.dimensions = d
		}
	}
}

func WithLogger(l *zap.Logger) PGVectorOption {
	return func(s *PGVector) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewPGVector creates the vector extension and the table if needed.
func NewPGVector(ctx context.Context, conn pg.Conn, embedder embeddings.Embedder, opts ...PGVectorOption) (*PGVector, error) {
	s := &PGVector{
		conn:       conn,
		embedder:   embedder,
		table:      DefaultTable,
		collection: DefaultCollection,
		dimensions: DefaultDimensions,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("initialize pgvector store: %w", err)
	}
	return s, nil
}

// tableIdent returns the sanitized, possibly schema-qualified table identifier.
func (s *PGVector) tableIdent() string {
	return pgx.Identifier(strings.Split(s.table, ".")).Sanitize()
}

func (s *PGVector) init(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY,
		collection TEXT NOT NULL,
		content TEXT,
		metadata JSONB,
		embedding vector(%d)
	)`, s.tableIdent(), s.dimensions)
	if _, err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	s.logger.Info("pgvector table ready",
		zap.String("table", s.table),
		zap.String("collection", s.collection),
		zap.Int("dimensions", s.dimensions),
	)
	return nil
}

func (s *PGVector) embedderFor(opts vectorstores.Options) (embeddings.Embedder, error) {
	if opts.Embedder != nil {
		return opts.Embedder, nil
	}
	if s.embedder == nil {
		return nil, ErrMissingEmbedder
	}
	return s.embedder, nil
}

func (s *PGVector) collectionFor(opts vectorstores.Options) string {
	if opts.NameSpace != "" {
		return opts.NameSpace
	}
	return s.collection
}

func (s *PGVector) checkDimensions(v []float32) error {
	if len(v) != s.dimensions {
		return fmt.Errorf("%w: got %d, table %s has %d", ErrDimensionMismatch, len(v), s.table, s.dimensions)
	}
	return nil
}

// AddDocuments embeds docs and inserts them in one transaction.
func (s *PGVector) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	opts := applyOptions(options)
	embedder, err := s.embedderFor(opts)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("mismatch between documents and embeddings length: %d vs %d", len(docs), len(vectors))
	}
	for _, v := range vectors {
		if err := s.checkDimensions(v); err != nil {
			return nil, err
		}
	}
	collection := s.collectionFor(opts)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf("INSERT INTO %s (id, collection, content, metadata, embedding) VALUES ($1, $2, $3, $4, $5)", s.tableIdent())
	ids := make([]string, len(docs))
	for i, d := range docs {
		meta, err := json.Marshal(nonNilMeta(d.Metadata))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		id := uuid.NewString()
		if _, err := tx.Exec(ctx, query, id, collection, d.PageContent, meta, pgvector.NewVector(vectors[i])); err != nil {
			return nil, fmt.Errorf("failed to insert document: %w", err)
		}
		ids[i] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Debug("added documents", zap.Int("count", len(ids)), zap.String("table", s.table), zap.String("collection", collection))
	return ids, nil
}

// SimilaritySearch returns up to numDocuments documents of the collection by cosine
// distance. Score is 1 - distance; documents below the score threshold are dropped.
func (s *PGVector) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := applyOptions(options)
	embedder, err := s.embedderFor(opts)
	if err != nil {
		return nil, err
	}
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch embedding for input: %w", err)
	}
	if err := s.checkDimensions(vector); err != nil {
		return nil, err
	}

	args := []any{pgvector.NewVector(vector), s.collectionFor(opts)}
	where := "collection = $2"
	if opts.Filters != nil {
		filter, err := metadataFilter(opts.Filters)
		if err != nil {
			return nil, err
		}
		args = append(args, filter)
		where += fmt.Sprintf(" AND metadata @> $%d", len(args))
	}
	args = append(args, numDocuments)

	sql := fmt.Sprintf(
		"SELECT content, metadata, embedding <=> $1 AS distance FROM %s WHERE %s ORDER BY distance LIMIT $%d",
		s.tableIdent(), where, len(args),
	)
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var docs []schema.Document
	for rows.Next() {
		var (
			content  string
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&content, &meta, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		score := float32(1 - distance)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		doc := schema.Document{PageContent: content, Score: score, Metadata: map[string]any{}}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// metadataFilter encodes filters for a jsonb containment match.
func metadataFilter(filters any) ([]byte, error) {
	m, ok := filters.(map[string]any)
	if !ok {
		if ms, isStrings := filters.(map[string]string); isStrings {
			m = make(map[string]any, len(ms))
			for k, v := range ms {
				m[k] = v
			}
			ok = true
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedFilters, filters)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filters: %w", err)
	}
	return b, nil
}

func applyOptions(options []vectorstores.Option) vectorstores.Options {
	var opts vectorstores.Options
	for _, o := range options {
		o(&opts)
	}
	return opts
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
