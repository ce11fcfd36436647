package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/solivox/solivox/internal/toolhost"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram", "whisper-native"},
	"tts":        {"murf"},
	"embeddings": {"openai"},
	"vad":        {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown YAML keys are rejected so typos surface at startup rather than as
// silently missing settings.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.LLM.Name == "" && len(cfg.Profiles) > 0 {
		slog.Warn("no LLM provider configured; profiles will not be able to generate replies")
	}
	if cfg.Persistence.PostgresDSN != "" && cfg.Providers.Embeddings.Name != "" && cfg.Persistence.EmbeddingDimensions <= 0 {
		slog.Warn("semantic FAQ is configured but persistence.embedding_dimensions is not set; the model's native dimensionality will be used unchecked")
	}

	profileNamesSeen := make(map[string]int, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		prefix := fmt.Sprintf("profiles[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := profileNamesSeen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of profiles[%d]", prefix, p.Name, prev))
			}
			profileNamesSeen[p.Name] = i
		}
		if p.Toolset == "" || !p.Toolset.IsValid() {
			errs = append(errs, fmt.Errorf("%s.toolset %q is invalid; valid values: order, lead, tutor", prefix, p.Toolset))
		}
		if p.Fallback == "" {
			errs = append(errs, fmt.Errorf("%s.fallback is required", prefix))
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, p.Temperature))
		}
		if p.InitialMode != "" && p.Toolset != ToolsetTutor {
			slog.Warn("initial_mode is only meaningful for the tutor toolset", "profile", p.Name)
		}
		voices := make([]VoiceConfig, 0, len(p.Voices)+1)
		voices = append(voices, p.DefaultVoice)
		for _, v := range p.Voices {
			voices = append(voices, v)
		}
		for _, v := range voices {
			if v.SpeedFactor != 0 && (v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0) {
				errs = append(errs, fmt.Errorf("%s: voice speed_factor %.2f is out of range [0.5, 2.0]", prefix, v.SpeedFactor))
			}
		}

		if p.Toolset == ToolsetOrder && cfg.Persistence.OrderPath == "" {
			errs = append(errs, fmt.Errorf("%s: toolset %q requires persistence.order_path", prefix, p.Toolset))
		}
		if p.Toolset == ToolsetLead && cfg.Persistence.LeadLogPath == "" {
			errs = append(errs, fmt.Errorf("%s: toolset %q requires persistence.lead_log_path", prefix, p.Toolset))
		}
	}

	if cfg.Content.MinSimilarity < 0 || cfg.Content.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("content.min_similarity %.2f is out of range [0, 1]", cfg.Content.MinSimilarity))
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == toolhost.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == toolhost.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
