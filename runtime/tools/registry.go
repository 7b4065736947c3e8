// Package tools implements the tool registry and the permission-gated
// executor. Tools declare a JSON-Schema payload contract and a permission
// tier; the executor validates, gates, caches, and audits every invocation
// and reports failures in-band with stable error codes.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tier is a tool permission tier.
type Tier string

const (
	// TierReadOnly tools are side-effect free and permitted by default.
	TierReadOnly Tier = "READ_ONLY"
	// TierWriteSafe tools mutate sandboxed state; deny-by-default.
	TierWriteSafe Tier = "WRITE_SAFE"
	// TierSystem tools are permanently denied at this layer.
	TierSystem Tier = "SYSTEM"
)

type (
	// Handler executes a validated tool payload. Returning an error marks
	// the invocation failed; a *HandlerError carries a stable code.
	Handler func(ctx context.Context, payload map[string]any) (any, error)

	// Definition declares one tool.
	Definition struct {
		Name        string
		Description string
		Tier        Tier
		// External marks tools whose execution leaves the process.
		External bool
		// Schema is the JSON-Schema document validating payloads.
		Schema json.RawMessage
		// Handler may be nil for declared-but-unimplemented tools.
		Handler Handler
	}

	// ExportedSchema is one entry of the deterministic schema export.
	ExportedSchema struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Tier        Tier            `json:"permission_tier"`
		External    bool            `json:"external"`
		Schema      json.RawMessage `json:"schema"`
	}

	// HandlerError is a tool failure with a stable code that surfaces
	// in-band on the tool result.
	HandlerError struct {
		Code    string
		Message string
	}

	// Registry maps tool names to their definitions and compiled schemas.
	Registry struct {
		mu    sync.RWMutex
		tools map[string]*registered
	}

	registered struct {
		def    Definition
		schema *jsonschema.Schema
	}
)

// Error implements error.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register compiles the definition's schema and adds the tool. Duplicate
// names and invalid schemas are rejected.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("tools: tool name is required")
	}
	switch def.Tier {
	case TierReadOnly, TierWriteSafe, TierSystem:
	default:
		return fmt.Errorf("tools: unknown tier %q for %s", def.Tier, def.Name)
	}
	if len(def.Schema) == 0 {
		return fmt.Errorf("tools: %s needs a payload schema", def.Name)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def.Schema))
	if err != nil {
		return fmt.Errorf("tools: %s schema is not valid JSON: %w", def.Name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := def.Name + ".schema.json"
	if err := compiler.AddResource(url, doc); err != nil {
		return fmt.Errorf("tools: %s schema resource: %w", def.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tools: %s schema compile: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tools: %s already registered", def.Name)
	}
	r.tools[def.Name] = &registered{def: def, schema: schema}
	return nil
}

// lookup returns the registered tool, if any.
func (r *Registry) lookup(name string) (*registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExportSchemas returns every tool's declaration sorted by name, so the
// export is byte-stable across runs.
func (r *Registry) ExportSchemas() []ExportedSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ExportedSchema, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, ExportedSchema{
			Name:        reg.def.Name,
			Description: reg.def.Description,
			Tier:        reg.def.Tier,
			External:    reg.def.External,
			Schema:      reg.def.Schema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validate checks payload against the tool's compiled schema. The payload
// round-trips through JSON so Go-typed values normalize the way the schema
// library expects.
func (reg *registered) validate(payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return reg.schema.Validate(doc)
}
