package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/solivox/solivox/internal/app"
	"github.com/solivox/solivox/internal/config"
	"github.com/solivox/solivox/internal/toolhost"
	llmmock "github.com/solivox/solivox/pkg/provider/llm/mock"
	ttsmock "github.com/solivox/solivox/pkg/provider/tts/mock"
)

// testConfig returns a config with one profile per toolset, persisting into
// a per-test temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Profiles: []config.ProfileConfig{
			{
				Name:     "barista",
				Toolset:  config.ToolsetOrder,
				Greeting: "Welcome in!",
				Fallback: "Sorry, could you say that again?",
				DefaultVoice: config.VoiceConfig{
					Provider: "murf",
					VoiceID:  "en-US-matthew",
				},
			},
			{
				Name:        "tutor",
				Toolset:     config.ToolsetTutor,
				InitialMode: "coordinator",
				Fallback:    "Hmm, let's try that once more.",
				Voices: map[string]config.VoiceConfig{
					"quiz": {Provider: "murf", VoiceID: "en-US-alicia"},
				},
				DefaultVoice: config.VoiceConfig{
					Provider: "murf",
					VoiceID:  "en-US-ken",
				},
			},
			{
				Name:     "sdr",
				Toolset:  config.ToolsetLead,
				Fallback: "Apologies, I didn't catch that.",
				DefaultVoice: config.VoiceConfig{
					Provider: "murf",
					VoiceID:  "en-US-julia",
				},
			},
		},
		Persistence: config.PersistenceConfig{
			OrderPath:   filepath.Join(dir, "order.json"),
			LeadLogPath: filepath.Join(dir, "leads.jsonl"),
			DraftDir:    filepath.Join(dir, "drafts"),
		},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: llmmock.New("hello there"),
		TTS: &ttsmock.Provider{},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(t),
		testProviders(),
		app.WithToolHost(toolhost.NewHost()),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestNew_NoProfiles(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Profiles = nil

	application, err := app.New(context.Background(), cfg, testProviders())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	// Session creation must fail cleanly when nothing is configured.
	if _, err := application.Manager().Open(context.Background(), "s1", ""); err == nil {
		t.Error("Open with no profiles should fail")
	}
}

func TestSessionFactory_PerToolset(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { application.Manager().CloseAll() })

	ctx := context.Background()
	for i, profile := range []string{"barista", "tutor", "sdr"} {
		sess, err := application.Manager().Open(ctx, profile+"-session", profile)
		if err != nil {
			t.Fatalf("Open(%q): %v", profile, err)
		}
		if sess.ID() != profile+"-session" {
			t.Errorf("session %d ID = %q", i, sess.ID())
		}
	}

	// Empty profile falls back to the first configured one.
	if _, err := application.Manager().Open(ctx, "default-session", ""); err != nil {
		t.Errorf("Open with empty profile: %v", err)
	}

	if _, err := application.Manager().Open(ctx, "bad-session", "receptionist"); err == nil {
		t.Error("Open with unknown profile should fail")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := application.Manager().Open(context.Background(), "s1", "barista"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if got := application.Manager().Count(); got != 0 {
		t.Errorf("session count after shutdown = %d, want 0", got)
	}

	// Shutdown is idempotent.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(t), testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give the listener a moment to come up.
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
