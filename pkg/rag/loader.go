package rag

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/edgeflare/mimir/pkg/storage"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

// LoadText loads one text document from st. location is a storage key or an absolute URL.
func LoadText(ctx context.Context, st *storage.Storage, location string) ([]schema.Document, error) {
	data, err := st.Load(ctx, location)
	if err != nil {
		return nil, err
	}
	return loadBytes(ctx, data, location)
}

// LoadGlob loads every local file matching pattern, which may use ** to cross directories.
func LoadGlob(ctx context.Context, pattern string) ([]schema.Document, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	var docs []schema.Document
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		loaded, err := loadBytes(ctx, data, filepath.ToSlash(path))
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}

func loadBytes(ctx context.Context, data []byte, source string) ([]schema.Document, error) {
	docs, err := documentloaders.NewText(bytes.NewReader(data)).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata["source"] = source
	}
	return docs, nil
}

// Split cuts docs into chunks of at most chunkSize characters on blank lines. Non-positive
// sizes fall back to the defaults.
func Split(docs []schema.Document, chunkSize, overlap int) ([]schema.Document, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators([]string{"\n\n"}),
	)
	return textsplitter.SplitDocuments(splitter, docs)
}
