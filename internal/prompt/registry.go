// Package prompt defines and executes the genkit prompts used by the LLM extractor.
package prompt

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// ExtractEntity is the name of the entity extraction prompt.
const ExtractEntity = "extractEntity"

const extractEntityTemplate = `You are extracting entity information from a tool execution result.

ENTITY TO FIND: {{entity_type}} named "{{entity_name}}"
PLACEHOLDER: {{description}}
TOOL: {{tool_name}}

RESULT:
{{result}}

Return a JSON object with exactly these fields:
- entity_type: the type of entity (e.g. "project", "cycle", "workitem")
- entity_name: the exact name of the entity as it appears in the result
- entity_id: the UUID of the entity (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx)
- entity_identifier: the short identifier such as "PROJ", or null

entity_id is always a UUID. entity_identifier is a short code. Do not confuse them.
Return only the JSON object.`

// Init starts genkit with the Google AI plugin and a default model.
func Init(ctx context.Context, model string) (*genkit.Genkit, error) {
	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}
	return g, nil
}

// Registry manages the prompts defined on a genkit instance.
type Registry struct {
	genkitInstance *genkit.Genkit
}

// NewRegistry defines the built-in prompts on g.
func NewRegistry(g *genkit.Genkit) (*Registry, error) {
	r := &Registry{genkitInstance: g}
	if _, err := r.DefinePrompt(ExtractEntity, ai.WithPrompt(extractEntityTemplate)); err != nil {
		return nil, err
	}
	return r, nil
}

// GetPrompt retrieves a defined prompt by name.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	p := genkit.LookupPrompt(r.genkitInstance, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	return p, nil
}

// DefinePrompt defines a prompt programmatically.
func (r *Registry) DefinePrompt(name string, opts ...ai.PromptOption) (*ai.Prompt, error) {
	p, err := genkit.DefinePrompt(r.genkitInstance, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return p, nil
}

// ExecutePrompt renders the prompt with input and returns the model response.
func (r *Registry) ExecutePrompt(ctx context.Context, promptName string, input map[string]interface{}, execOpts ...ai.PromptExecuteOption) (*ai.ModelResponse, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}

	allOpts := append([]ai.PromptExecuteOption{ai.WithInput(input)}, execOpts...)
	resp, err := p.Execute(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prompt '%s': %w", promptName, err)
	}
	return resp, nil
}

// Completer executes one named prompt and returns its text.
type Completer struct {
	registry *Registry
	name     string
}

// NewCompleter binds a prompt name to a registry.
func NewCompleter(r *Registry, name string) *Completer {
	return &Completer{registry: r, name: name}
}

// Complete implements extractor.Completer.
func (c *Completer) Complete(ctx context.Context, input map[string]interface{}) (string, error) {
	resp, err := c.registry.ExecutePrompt(ctx, c.name, input)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
