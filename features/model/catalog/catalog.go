// Package catalog loads the model catalog: the YAML document describing
// which chat and embedding models are available, their endpoints, and their
// generation limits. The controller resolves its Generator and Embedder
// through the catalog's default entry.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type (
	// Spec describes one model endpoint.
	Spec struct {
		// Name identifies the entry. Required, unique.
		Name string `yaml:"name"`
		// BaseURL is the OpenAI-protocol endpoint serving the model.
		BaseURL string `yaml:"base_url"`
		// ChatModel is the chat model identifier sent on requests.
		ChatModel string `yaml:"chat_model"`
		// EmbeddingModel is the embeddings identifier, when served.
		EmbeddingModel string `yaml:"embedding_model"`
		// ContextWindow is the prompt budget in tokens.
		ContextWindow int `yaml:"context_window"`
		// MaxOutputTokens caps completions.
		MaxOutputTokens int `yaml:"max_output_tokens"`
		// Default marks the entry the controller uses when no model is
		// named explicitly. At most one entry may set it.
		Default bool `yaml:"default"`
	}

	// Catalog is an immutable set of model specs.
	Catalog struct {
		specs       map[string]Spec
		defaultName string
	}

	document struct {
		Models []Spec `yaml:"models"`
	}
)

// Parse builds a Catalog from YAML bytes.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, errors.New("catalog: no models declared")
	}
	c := &Catalog{specs: make(map[string]Spec, len(doc.Models))}
	for _, spec := range doc.Models {
		if spec.Name == "" {
			return nil, errors.New("catalog: model entry without a name")
		}
		if _, exists := c.specs[spec.Name]; exists {
			return nil, fmt.Errorf("catalog: duplicate model %q", spec.Name)
		}
		if spec.ChatModel == "" && spec.EmbeddingModel == "" {
			return nil, fmt.Errorf("catalog: model %q declares neither chat nor embedding", spec.Name)
		}
		if spec.Default {
			if c.defaultName != "" {
				return nil, fmt.Errorf("catalog: both %q and %q marked default", c.defaultName, spec.Name)
			}
			c.defaultName = spec.Name
		}
		c.specs[spec.Name] = spec
	}
	if c.defaultName == "" {
		c.defaultName = doc.Models[0].Name
	}
	return c, nil
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Lookup returns the named spec.
func (c *Catalog) Lookup(name string) (Spec, bool) {
	spec, ok := c.specs[name]
	return spec, ok
}

// Default returns the default spec.
func (c *Catalog) Default() Spec {
	return c.specs[c.defaultName]
}

// Names lists all model names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
