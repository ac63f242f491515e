// Package models lists locally installed models and downloads new ones from ModelScope.
package models

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Model is an installed model directory.
type Model struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// List returns the subdirectories of dir sorted by name. A missing dir yields an empty list.
func List(dir string) ([]Model, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Model{}, nil
	}
	if err != nil {
		return nil, err
	}

	models := make([]Model, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		models = append(models, Model{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// Selector resolves the model directories relative to a project root.
type Selector struct {
	ModelsDir     string
	EmbeddingsDir string
}

// LLMs lists the installed large language models.
func (s Selector) LLMs() ([]Model, error) {
	return List(s.ModelsDir)
}

// Embeddings lists the installed embedding models.
func (s Selector) Embeddings() ([]Model, error) {
	return List(s.EmbeddingsDir)
}

// Catalog is the combined listing printed by `mimir models list`.
type Catalog struct {
	LargeModels     []Model `json:"large_models"`
	EmbeddingModels []Model `json:"embedding_models"`
}

// All lists both kinds of models.
func (s Selector) All() (Catalog, error) {
	llms, err := s.LLMs()
	if err != nil {
		return Catalog{}, err
	}
	embs, err := s.Embeddings()
	if err != nil {
		return Catalog{}, err
	}
	return Catalog{LargeModels: llms, EmbeddingModels: embs}, nil
}
