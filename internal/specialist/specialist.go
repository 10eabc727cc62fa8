// Package specialist holds reference agentrt.Processor adapters — the
// plug-in boundary spec.md §6 calls out as external to the Coordinator
// core. Each specialist decodes its ExecutionRequest payload, does its
// domain-specific work (an LLM completion, an MCP tool call, a no-op
// health check), and returns a result the Dispatcher hands back to the
// caller via Task.Result.
//
// Grounded on the teacher's internal/engine.Processor interface and
// EchoProcessor (decode payload JSON, forward to a Brain, wrap the
// reply), generalized from the teacher's single chat-reply processor
// to five capability-scoped specialists matching the kinds of agents
// spec.md §3 (Agent Registry) expects a swarm to register.
package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joelfuller2016/swarmbot/internal/agentrt"
	"github.com/joelfuller2016/swarmbot/internal/llmclient"
	"github.com/joelfuller2016/swarmbot/internal/mcpclient"
)

func decodePayload(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("specialist: re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("specialist: decode payload: %w", err)
	}
	return nil
}

// Research answers an open-ended question by forwarding its prompt to
// an llmclient.Client, the same Brain-forwarding shape as the
// teacher's EchoProcessor.
type Research struct {
	LLM llmclient.Client
}

type researchPayload struct {
	Prompt string `json:"prompt"`
}

type researchResult struct {
	Answer string `json:"answer"`
}

func (r Research) Execute(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
	var payload researchPayload
	if err := decodePayload(req.Payload, &payload); err != nil {
		return nil, err
	}
	if r.LLM == nil {
		return nil, fmt.Errorf("specialist: research: llm client not configured")
	}
	answer, err := r.LLM.Complete(ctx, payload.Prompt)
	if err != nil {
		return nil, fmt.Errorf("specialist: research: %w", err)
	}
	return researchResult{Answer: answer}, nil
}

var _ agentrt.Processor = Research{}

// Code generates or edits source via an llmclient.Client, given a
// natural-language instruction and optional existing file content.
type Code struct {
	LLM llmclient.Client
}

type codePayload struct {
	Instruction string `json:"instruction"`
	Existing    string `json:"existing,omitempty"`
}

type codeResult struct {
	Patch string `json:"patch"`
}

func (c Code) Execute(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
	var payload codePayload
	if err := decodePayload(req.Payload, &payload); err != nil {
		return nil, err
	}
	if c.LLM == nil {
		return nil, fmt.Errorf("specialist: code: llm client not configured")
	}
	prompt := payload.Instruction
	if payload.Existing != "" {
		prompt = payload.Instruction + "\n\n---\n" + payload.Existing
	}
	patch, err := c.LLM.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("specialist: code: %w", err)
	}
	return codeResult{Patch: patch}, nil
}

var _ agentrt.Processor = Code{}

// Task invokes a named MCP tool with the given arguments, the
// general-purpose "do a concrete action" specialist.
type Task struct {
	Tools mcpclient.Invoker
}

type taskPayload struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

func (t Task) Execute(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
	var payload taskPayload
	if err := decodePayload(req.Payload, &payload); err != nil {
		return nil, err
	}
	if t.Tools == nil {
		return nil, fmt.Errorf("specialist: task: mcp invoker not configured")
	}
	result, err := t.Tools.Invoke(ctx, payload.Tool, payload.Args)
	if err != nil {
		return nil, fmt.Errorf("specialist: task: %w", err)
	}
	return json.RawMessage(result), nil
}

var _ agentrt.Processor = Task{}

// Monitor performs a lightweight health probe of a named subsystem. It
// does no real I/O by default (HealthCheck is injectable) so it can
// double as a harmless Processor in tests and demos.
type Monitor struct {
	HealthCheck func(ctx context.Context, subject string) (bool, string)
}

type monitorPayload struct {
	Subject string `json:"subject"`
}

type monitorResult struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

func (m Monitor) Execute(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
	var payload monitorPayload
	if err := decodePayload(req.Payload, &payload); err != nil {
		return nil, err
	}
	check := m.HealthCheck
	if check == nil {
		check = func(context.Context, string) (bool, string) { return true, "no-op check" }
	}
	healthy, detail := check(ctx, payload.Subject)
	return monitorResult{Healthy: healthy, Detail: detail}, nil
}

var _ agentrt.Processor = Monitor{}

// Validator checks another task's result against a set of simple
// assertions (non-empty, contains substring, matches a JSON schema
// key) — the Coordinator's own "did this work?" capability, kept
// separate from Task so validation failures carry a distinct
// RequiredCapabilities tag ("validate") in the registry.
type Validator struct{}

type validatorPayload struct {
	Value            any      `json:"value"`
	RequireNonEmpty  bool     `json:"require_non_empty"`
	RequireSubstring string   `json:"require_substring,omitempty"`
	RequireKeys      []string `json:"require_keys,omitempty"`
}

type validatorResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

func (Validator) Execute(ctx context.Context, req agentrt.ExecutionRequest) (any, error) {
	var payload validatorPayload
	if err := decodePayload(req.Payload, &payload); err != nil {
		return nil, err
	}

	var issues []string
	str, isString := payload.Value.(string)

	if payload.RequireNonEmpty {
		empty := payload.Value == nil || (isString && str == "")
		if empty {
			issues = append(issues, "value is empty")
		}
	}
	if payload.RequireSubstring != "" {
		if !isString || !strings.Contains(str, payload.RequireSubstring) {
			issues = append(issues, fmt.Sprintf("value does not contain %q", payload.RequireSubstring))
		}
	}
	if len(payload.RequireKeys) > 0 {
		obj, ok := payload.Value.(map[string]any)
		for _, key := range payload.RequireKeys {
			if !ok {
				issues = append(issues, fmt.Sprintf("value is not an object, missing key %q", key))
				continue
			}
			if _, present := obj[key]; !present {
				issues = append(issues, fmt.Sprintf("missing key %q", key))
			}
		}
	}

	return validatorResult{Valid: len(issues) == 0, Issues: issues}, nil
}

var _ agentrt.Processor = Validator{}
