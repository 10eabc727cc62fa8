package taskqueue

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// PayloadValidator checks a task's payload against whatever shape its
// task type requires. Submit calls it, when configured, before
// admitting a task — spec.md's "strict mode" for payload validation,
// the same spirit as strict_required_capabilities but applied to
// payload shape instead of capability matching.
type PayloadValidator interface {
	Validate(taskType string, payload any) error
}

// SchemaRegistry is a PayloadValidator backed by per-task-type JSON
// Schema documents, compiled once at registration time via
// santhosh-tekuri/jsonschema. Unregistered task types pass through
// unchecked — the registry only enforces shapes it has been told about.
type SchemaRegistry struct {
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	schemas  map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		compiler: jsonschema.NewCompiler(),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Register compiles schemaJSON (a JSON Schema document) and binds it to
// taskType. Call during Coordinator startup, before any Submit of that
// task type.
func (r *SchemaRegistry) Register(taskType, schemaJSON string) error {
	url := "mem://" + taskType
	if err := r.compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("taskqueue: add schema resource for %q: %w", taskType, err)
	}
	sch, err := r.compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("taskqueue: compile schema for %q: %w", taskType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[taskType] = sch
	return nil
}

// Validate implements PayloadValidator. Task types with no registered
// schema are always accepted.
func (r *SchemaRegistry) Validate(taskType string, payload any) error {
	r.mu.RLock()
	sch, ok := r.schemas[taskType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// jsonschema validates against plain JSON-decoded values (map[string]any,
	// []any, string, float64, bool, nil), so round-trip through encoding/json
	// rather than require callers to pass pre-decoded values.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("taskqueue: marshal payload for validation: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("taskqueue: decode payload for validation: %w", err)
	}

	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("taskqueue: payload for type %q failed schema validation: %w", taskType, err)
	}
	return nil
}

var _ PayloadValidator = (*SchemaRegistry)(nil)
