package toolhost

import (
	"context"
	"errors"
	"testing"

	"github.com/solivox/solivox/pkg/types"
)

func echoTool(name string) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			Name:        name,
			Description: "echoes the value argument",
			Parameters: ObjectSchema(map[string]any{
				"value": StringProp("text to echo"),
			}, "value"),
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return StringArg(args, "value"), nil
		},
	}
}

func TestRegistryRegisterValidation(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(Tool{Definition: types.ToolDefinition{Name: ""}}); err == nil {
		t.Fatal("expected error for empty tool name")
	}
	if err := r.Register(Tool{Definition: types.ToolDefinition{Name: "x"}, Handler: nil}); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestRegistryExecute(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Execute(context.Background(), "echo", map[string]any{"value": "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "hello" {
		t.Errorf("Execute = %q, want %q", got, "hello")
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Execute error = %v, want ErrUnknownTool", err)
	}
}

func TestRegistryArgumentValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"value": "ok"}, false},
		{"missing required", map[string]any{}, true},
		{"wrong type", map[string]any{"value": 42.0}, true},
		{"unknown argument", map[string]any{"value": "ok", "extra": "nope"}, true},
	}

	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Execute(context.Background(), "echo", tc.args)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidArgs) {
					t.Fatalf("Execute error = %v, want ErrInvalidArgs", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
		})
	}
}

func TestRegistryHandlerErrorIsWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := NewRegistry()
	err := r.Register(Tool{
		Definition: types.ToolDefinition{Name: "fail"},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", boom
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err = r.Execute(context.Background(), "fail", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Execute error = %v, want wrapped boom", err)
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	defs := r.Definitions()
	want := []string{"alpha", "mid", "zeta"}
	if len(defs) != len(want) {
		t.Fatalf("Definitions returned %d tools, want %d", len(defs), len(want))
	}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("Definitions[%d] = %q, want %q", i, d.Name, want[i])
		}
	}
}

func TestValidateArgsNilSchema(t *testing.T) {
	t.Parallel()

	if err := validateArgs(nil, nil); err != nil {
		t.Errorf("nil schema, nil args: %v", err)
	}
	if err := validateArgs(nil, map[string]any{"x": 1}); err == nil {
		t.Error("nil schema with args should fail")
	}
}
