// Package toolhost implements the tool dispatch surface: a statically typed
// registry mapping tool names to argument schemas and handlers, with
// arguments validated against the schema before the handler runs. Tools
// return a single string that becomes the next spoken utterance.
//
// Built-in tools run in-process. External tools can be imported from MCP
// servers (see Host) and dispatch through the same registry, so the reasoning
// engine sees one uniform tool surface.
package toolhost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/solivox/solivox/pkg/types"
)

// Sentinel errors returned by Execute.
var (
	// ErrUnknownTool is returned when the named tool is not registered.
	ErrUnknownTool = errors.New("toolhost: unknown tool")

	// ErrInvalidArgs is returned when the arguments fail schema validation;
	// the handler is never invoked in that case.
	ErrInvalidArgs = errors.New("toolhost: invalid arguments")
)

// Handler is the function invoked when a tool is dispatched. args has already
// been validated against the tool's parameter schema.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a public tool descriptor with its in-process handler.
type Tool struct {
	// Definition is the tool's descriptor presented to the reasoning engine.
	// Definition.Parameters is a JSON-schema object ({"type":"object",
	// "properties":{...},"required":[...]}) used to validate arguments.
	Definition types.ToolDefinition

	// Handler is invoked when Execute is called for this tool.
	Handler Handler
}

// Registry is a concurrent-safe tool dispatch table. Each session builds its
// own Registry with handlers closed over that session's state, which is what
// keeps tool mutations session-local.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. A tool with the same name is replaced.
func (r *Registry) Register(tool Tool) error {
	if tool.Definition.Name == "" {
		return errors.New("toolhost: tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("toolhost: tool %q must have a non-nil handler", tool.Definition.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = tool
	return nil
}

// RegisterAll registers every tool, stopping at the first error.
func (r *Registry) RegisterAll(tools []Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Definitions returns the registered tool descriptors sorted by name.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates args against the named tool's parameter schema and runs
// its handler. The handler's string result is the utterance to speak.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if err := validateArgs(tool.Definition.Parameters, args); err != nil {
		return "", fmt.Errorf("%w: tool %q: %v", ErrInvalidArgs, name, err)
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("toolhost: tool %q: %w", name, err)
	}
	return result, nil
}

// validateArgs checks args against a JSON-schema object: every required
// property must be present, and present properties with a declared primitive
// type must match it. Unknown properties are rejected.
func validateArgs(schema, args map[string]any) error {
	if schema == nil {
		if len(args) > 0 {
			return errors.New("tool takes no arguments")
		}
		return nil
	}

	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]any); ok {
		for _, rq := range required {
			name, _ := rq.(string)
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required argument %q", name)
			}
		}
	} else if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required argument %q", name)
			}
		}
	}

	for name, val := range args {
		propAny, declared := props[name]
		if !declared {
			return fmt.Errorf("unknown argument %q", name)
		}
		prop, _ := propAny.(map[string]any)
		wantType, _ := prop["type"].(string)
		if wantType == "" {
			continue
		}
		if !typeMatches(wantType, val) {
			return fmt.Errorf("argument %q: expected %s", name, wantType)
		}
	}
	return nil
}

// typeMatches checks a decoded JSON value against a schema primitive type.
func typeMatches(schemaType string, val any) bool {
	switch schemaType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number", "integer":
		switch val.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

// StringArg extracts a string argument, defaulting to "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// ObjectSchema builds a JSON-schema object for the given properties.
// required lists the property names that must be present.
func ObjectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProp builds a string property descriptor for ObjectSchema.
func StringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
