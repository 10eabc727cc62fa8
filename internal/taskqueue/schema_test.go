package taskqueue

import (
	"errors"
	"testing"

	"github.com/joelfuller2016/swarmbot/internal/swarmerr"
)

const researchSchema = `{
	"type": "object",
	"required": ["prompt"],
	"properties": {
		"prompt": {"type": "string", "minLength": 1}
	}
}`

func TestSchemaRegistry_RejectsPayloadMissingRequiredField(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Register("research", researchSchema); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := reg.Validate("research", map[string]any{"not_prompt": "hi"})
	if err == nil {
		t.Fatal("expected validation to fail for missing required field")
	}
}

func TestSchemaRegistry_AcceptsValidPayload(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Register("research", researchSchema); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.Validate("research", map[string]any{"prompt": "what is go?"}); err != nil {
		t.Fatalf("expected valid payload to pass, got: %v", err)
	}
}

func TestSchemaRegistry_UnregisteredTypePassesThrough(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Validate("unregistered", map[string]any{"anything": true}); err != nil {
		t.Fatalf("expected unregistered task type to pass through, got: %v", err)
	}
}

func TestQueue_SubmitRejectsInvalidPayloadViaValidator(t *testing.T) {
	reg := NewSchemaRegistry()
	if err := reg.Register("research", researchSchema); err != nil {
		t.Fatalf("register: %v", err)
	}
	q := New(Config{Validator: reg})

	err := q.Submit(&Task{ID: "t1", Type: "research", Payload: map[string]any{"no_prompt": true}})
	if !errors.Is(err, swarmerr.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got: %v", err)
	}
}
