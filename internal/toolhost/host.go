package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/solivox/solivox/pkg/types"
)

// Transport identifies how the host reaches an external MCP server.
type Transport string

const (
	// TransportStdio launches the server as a child process and speaks MCP
	// over its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a server over streamable HTTP.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one external MCP server to import tools from.
type ServerConfig struct {
	// Name identifies the server within the host. Must be unique.
	Name string

	// Transport selects stdio or streamable-http.
	Transport Transport

	// Command is the full command line for stdio servers, split on spaces.
	Command string

	// Env holds extra environment variables for stdio servers.
	Env map[string]string

	// URL is the endpoint address for streamable-http servers.
	URL string
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
	tools   []string
}

// Host connects to external MCP servers and exposes their tool catalogues as
// [Tool] values ready to register into a session [Registry]. A single Host is
// shared across sessions; external tools carry no per-session state.
type Host struct {
	mu      sync.RWMutex
	servers map[string]serverConn
	tools   []Tool

	// client is reused across all server connections; the SDK allows one
	// Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// NewHost creates and returns a ready-to-use Host.
func NewHost() *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "solivox-toolhost", Version: "1.0.0"},
		nil,
	)
	return &Host{
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. Registering a server whose Name is already in use is an
// error; use distinct names per server.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("toolhost: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("toolhost: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("toolhost: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("toolhost: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolhost: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("toolhost: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.servers[cfg.Name]; exists {
		_ = session.Close()
		return fmt.Errorf("toolhost: server %q already registered", cfg.Name)
	}

	conn := serverConn{session: session}
	for _, mt := range discovered {
		conn.tools = append(conn.tools, mt.Name)
		h.tools = append(h.tools, h.wrapTool(session, mt))
	}
	h.servers[cfg.Name] = conn
	return nil
}

// Tools returns every tool imported from registered servers. The returned
// slice is a copy; registering servers later does not mutate it.
func (h *Host) Tools() []Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Tool, len(h.tools))
	copy(out, h.tools)
	return out
}

// Close shuts down all server connections. Safe to call more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("toolhost: closing server %q: %w", name, err))
		}
		delete(h.servers, name)
	}
	h.tools = nil
	return errors.Join(errs...)
}

// wrapTool adapts an SDK tool into a [Tool] whose handler dispatches over the
// server session.
func (h *Host) wrapTool(session *mcpsdk.ClientSession, mt mcpsdk.Tool) Tool {
	def := types.ToolDefinition{
		Name:        mt.Name,
		Description: mt.Description,
		Parameters:  schemaToMap(mt.InputSchema),
	}
	return Tool{
		Definition: def,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      mt.Name,
				Arguments: args,
			})
			if err != nil {
				return "", fmt.Errorf("calling server tool: %w", err)
			}
			text := joinTextContent(res.Content)
			if res.IsError {
				return "", fmt.Errorf("server tool reported an error: %s", text)
			}
			return text, nil
		},
	}
}

// joinTextContent concatenates all text blocks of a tool result.
func joinTextContent(content []mcpsdk.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// schemaToMap converts any schema value into a map[string]any via a JSON
// round-trip, falling back to a bare object schema.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// Quoting is not supported; arguments with spaces are not representable.
func splitCommand(command string) (executable string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
