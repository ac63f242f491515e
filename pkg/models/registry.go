package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry maps name -> version -> size -> ModelScope model id.
type Registry map[string]map[string]map[string]string

// DefaultRegistry returns the built-in set of downloadable models.
func DefaultRegistry() Registry {
	return Registry{
		"Qwen": {
			"2-instruct-AWQ": {
				"1.5B": "qwen/Qwen2-1.5B-Instruct-AWQ",
				"7B":   "qwen/Qwen2-7B-Instruct-AWQ",
				"72B":  "qwen/Qwen2-72B-Instruct-AWQ",
			},
			"2-instruct": {
				"1.5B": "qwen/qwen2-1.5b-instruct",
				"7B":   "qwen/qwen2-7b-instruct",
				"72B":  "qwen/qwen2-72b-instruct",
			},
		},
		"Llama": {
			"3.1": {
				"8B":  "LLM-Research/Meta-Llama-3.1-8B-Instruct",
				"70B": "LLM-Research/Meta-Llama-3.1-70B-Instruct",
			},
		},
	}
}

// LoadRegistry reads a registry from a YAML file of the same nested shape.
func LoadRegistry(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model registry: %w", err)
	}
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse model registry %s: %w", path, err)
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("model registry %s is empty", path)
	}
	return r, nil
}

// Lookup returns the model id for name/version/size. The name match ignores case.
func (r Registry) Lookup(name, version, size string) (string, bool) {
	for n, versions := range r {
		if !strings.EqualFold(n, name) {
			continue
		}
		id, ok := versions[version][size]
		return id, ok && id != ""
	}
	return "", false
}
