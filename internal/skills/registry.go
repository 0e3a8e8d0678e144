package skills

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aegis-agent/aegis/internal/llm"
)

// Registry is the central skill catalog. All skills are registered
// explicitly at startup; there is no remote fetching or auto-discovery.
// After startup the registry is read-only and safe for concurrent reads
// without locking.
type Registry struct {
	skills  map[string]Skill
	order   []string
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		skills:  make(map[string]Skill),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a skill. The parameter schema is compiled here so a broken
// schema fails startup, not a request. Duplicate names are an error.
func (r *Registry) Register(s Skill) error {
	meta := s.Meta()
	if meta.Name == "" {
		return fmt.Errorf("skill has empty name")
	}
	if _, exists := r.skills[meta.Name]; exists {
		return fmt.Errorf("skill %q is already registered", meta.Name)
	}

	var schema *jsonschema.Schema
	if len(meta.Parameters) > 0 {
		compiled, err := jsonschema.CompileString(meta.Name+".json", string(meta.Parameters))
		if err != nil {
			return fmt.Errorf("compile parameter schema for %q: %w", meta.Name, err)
		}
		schema = compiled
	}

	r.skills[meta.Name] = s
	r.order = append(r.order, meta.Name)
	r.schemas[meta.Name] = schema
	return nil
}

// MustRegister is Register for startup wiring, where a registration
// failure is a programming error.
func (r *Registry) MustRegister(s Skill) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get returns the skill by name, or nil when not registered.
func (r *Registry) Get(name string) Skill {
	return r.skills[name]
}

// Schema returns the compiled parameter schema for name, or nil.
func (r *Registry) Schema(name string) *jsonschema.Schema {
	return r.schemas[name]
}

// All returns the skills in registration order.
func (r *Registry) All() []Skill {
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.skills[name])
	}
	return out
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	return len(r.skills)
}

// LLMTools converts all skills to the model's tool-calling format.
// Returns nil when the registry is empty so callers can pass the result
// straight to the model (an empty tool list and an absent one are not the
// same to every runner).
func (r *Registry) LLMTools() []llm.Tool {
	if len(r.order) == 0 {
		return nil
	}
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, LLMTool(r.skills[name]))
	}
	return out
}
