package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/solivox/solivox/pkg/provider/llm"
	llmmock "github.com/solivox/solivox/pkg/provider/llm/mock"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    name: murf
    api_key: murf-test
persistence:
  order_path: /tmp/order.json
  lead_log_path: /tmp/leads.jsonl
  draft_dir: /tmp/drafts
content:
  min_similarity: 0.55
profiles:
  - name: barista
    toolset: order
    greeting: "Hi! What can I get you?"
    fallback: "Sorry, could you say that again?"
    temperature: 0.7
    default_voice:
      provider: murf
      voice_id: en-US-matthew
  - name: tutor
    toolset: tutor
    initial_mode: coordinator
    fallback: "Hmm, let's try that once more."
    voices:
      quiz:
        provider: murf
        voice_id: en-US-alicia
        speed_factor: 1.1
    default_voice:
      provider: murf
      voice_id: en-US-ken
mcp:
  servers:
    - name: calendar
      transport: stdio
      command: /usr/local/bin/mcp-calendar
`

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if len(cfg.Profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(cfg.Profiles))
	}
	if cfg.Profiles[0].Toolset != ToolsetOrder {
		t.Errorf("toolset = %q", cfg.Profiles[0].Toolset)
	}
	if got := cfg.Profiles[1].Voices["quiz"].SpeedFactor; got != 1.1 {
		t.Errorf("quiz speed_factor = %v", got)
	}
	if len(cfg.MCP.Servers) != 1 || cfg.MCP.Servers[0].Name != "calendar" {
		t.Errorf("mcp servers = %+v", cfg.MCP.Servers)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			"bad log level",
			func(c *Config) { c.Server.LogLevel = "loud" },
			"log_level",
		},
		{
			"profile without name",
			func(c *Config) { c.Profiles[0].Name = "" },
			"name is required",
		},
		{
			"duplicate profile name",
			func(c *Config) { c.Profiles[1].Name = c.Profiles[0].Name },
			"duplicate",
		},
		{
			"invalid toolset",
			func(c *Config) { c.Profiles[0].Toolset = "juggling" },
			"toolset",
		},
		{
			"missing fallback",
			func(c *Config) { c.Profiles[0].Fallback = "" },
			"fallback is required",
		},
		{
			"temperature out of range",
			func(c *Config) { c.Profiles[0].Temperature = 3 },
			"temperature",
		},
		{
			"voice speed out of range",
			func(c *Config) { c.Profiles[0].DefaultVoice.SpeedFactor = 5 },
			"speed_factor",
		},
		{
			"order toolset without order path",
			func(c *Config) { c.Persistence.OrderPath = "" },
			"order_path",
		},
		{
			"min similarity out of range",
			func(c *Config) { c.Content.MinSimilarity = 1.5 },
			"min_similarity",
		},
		{
			"stdio server without command",
			func(c *Config) { c.MCP.Servers[0].Command = "" },
			"command is required",
		},
		{
			"invalid transport",
			func(c *Config) { c.MCP.Servers[0].Transport = "pigeon" },
			"transport",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("LoadFromReader: %v", err)
			}
			tc.mutate(cfg)
			err = Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestRegistryCreate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.RegisterLLM("mock", func(ProviderEntry) (llm.Provider, error) {
		return llmmock.New("hi"), nil
	})

	p, err := reg.CreateLLM(ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM returned nil provider")
	}

	_, err = reg.CreateLLM(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateLLM unknown = %v, want ErrProviderNotRegistered", err)
	}

	_, err = reg.CreateTTS(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateTTS unknown = %v, want ErrProviderNotRegistered", err)
	}
}
