package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/solivox/solivox/internal/content"
	"github.com/solivox/solivox/internal/flow"
	"github.com/solivox/solivox/internal/toolhost"
	"github.com/solivox/solivox/internal/voice"
	"github.com/solivox/solivox/pkg/provider/llm"
	llmmock "github.com/solivox/solivox/pkg/provider/llm/mock"
	"github.com/solivox/solivox/pkg/provider/tts"
	ttsmock "github.com/solivox/solivox/pkg/provider/tts/mock"
	"github.com/solivox/solivox/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() Profile {
	return Profile{
		Name:     "barista",
		Fallback: "Sorry, I didn't catch that — could you say it again?",
	}
}

func testVoices() *voice.Selector {
	return voice.NewSelector(nil, types.VoiceProfile{ID: "en-US-matthew"})
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "test-session"
	}
	if cfg.Profile.Fallback == "" {
		cfg.Profile = testProfile()
	}
	if cfg.LLM == nil {
		cfg.LLM = llmmock.New("hello")
	}
	if cfg.TTS == nil {
		cfg.TTS = &ttsmock.Provider{}
	}
	if cfg.Voices == nil {
		cfg.Voices = testVoices()
	}
	if cfg.Tools == nil {
		cfg.Tools = toolhost.NewRegistry()
	}
	cfg.Logger = testLogger()

	sess, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sess
}

func mustCatalog(t *testing.T) *content.Catalog {
	t.Helper()
	catalog, err := content.NewCatalog(content.DefaultTopics())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return catalog
}

func waitReply(t *testing.T, sess *Session) string {
	t.Helper()
	select {
	case reply := <-sess.Replies():
		return reply
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return ""
	}
}

func waitAudio(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Audio():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audio")
	}
}

func deliverFinal(t *testing.T, sess *Session, text string) {
	t.Helper()
	err := sess.Deliver(Event{
		Type:       EventFinalTranscript,
		Transcript: types.Transcript{Text: text, IsFinal: true},
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestGreetingSpokenOnStart(t *testing.T) {
	t.Parallel()

	profile := testProfile()
	profile.Greeting = "Hi! What can I get started for you?"
	sess := newTestSession(t, Config{Profile: profile})
	sess.Start(context.Background())
	defer sess.Close()

	if got := waitReply(t, sess); got != profile.Greeting {
		t.Errorf("first reply = %q, want the greeting", got)
	}
}

func TestOneReplyPerFinalTranscript(t *testing.T) {
	t.Parallel()

	provider := llmmock.WithResponses(
		llm.CompletionResponse{Content: "first reply"},
		llm.CompletionResponse{Content: "second reply"},
	)
	sess := newTestSession(t, Config{LLM: provider})
	sess.Start(context.Background())
	defer sess.Close()

	deliverFinal(t, sess, "hello there")
	if got := waitReply(t, sess); got != "first reply" {
		t.Errorf("reply = %q, want %q", got, "first reply")
	}

	// Partial transcripts never produce a reply; the next reply belongs to
	// the next finalized transcript.
	if err := sess.HandleTranscript(types.Transcript{Text: "par", IsFinal: false}); err != nil {
		t.Fatalf("HandleTranscript: %v", err)
	}
	deliverFinal(t, sess, "second utterance")
	if got := waitReply(t, sess); got != "second reply" {
		t.Errorf("reply = %q, want %q", got, "second reply")
	}
	if n := provider.CallCount(); n != 2 {
		t.Errorf("reasoning engine called %d times, want 2", n)
	}
}

// slowLLM delays each completion so tests can pile finalized transcripts
// onto a busy control loop.
type slowLLM struct {
	*llmmock.Provider
	delay time.Duration
}

func (s *slowLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Provider.Complete(ctx, req)
}

func TestBurstOfFinalsEachGetsAReply(t *testing.T) {
	t.Parallel()

	provider := &slowLLM{Provider: llmmock.New("noted"), delay: 2 * time.Millisecond}
	sess := newTestSession(t, Config{LLM: provider})
	sess.Start(context.Background())
	defer sess.Close()

	// More finals than the inbox holds, delivered while every turn is slow.
	// None of them may be lost.
	const finals = 3 * eventBufferSize
	go func() {
		for i := 0; i < finals; i++ {
			tr := types.Transcript{Text: fmt.Sprintf("utterance %d", i), IsFinal: true}
			if err := sess.HandleTranscript(tr); err != nil {
				t.Errorf("HandleTranscript: %v", err)
				return
			}
		}
	}()

	for i := 0; i < finals; i++ {
		waitReply(t, sess)
	}
	if n := provider.CallCount(); n != finals {
		t.Errorf("reasoning engine called %d times, want %d (one turn per finalized transcript)", n, finals)
	}
}

func TestToolCallResultBecomesReply(t *testing.T) {
	t.Parallel()

	reg := toolhost.NewRegistry()
	err := reg.Register(toolhost.Tool{
		Definition: types.ToolDefinition{
			Name: "record_order_field",
			Parameters: toolhost.ObjectSchema(map[string]any{
				"field": toolhost.StringProp("field"),
				"value": toolhost.StringProp("value"),
			}, "field", "value"),
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return "Got it, a " + toolhost.StringArg(args, "value") + ". What size?", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := llmmock.WithResponses(llm.CompletionResponse{
		ToolCalls: []types.ToolCall{{
			ID:        "call-1",
			Name:      "record_order_field",
			Arguments: `{"field":"drink_type","value":"latte"}`,
		}},
	})
	sess := newTestSession(t, Config{LLM: provider, Tools: reg})
	sess.Start(context.Background())
	defer sess.Close()

	deliverFinal(t, sess, "I'd like a latte")
	want := "Got it, a latte. What size?"
	if got := waitReply(t, sess); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestToolErrorSpeaksFallback(t *testing.T) {
	t.Parallel()

	reg := toolhost.NewRegistry()
	if err := reg.Register(toolhost.Tool{
		Definition: types.ToolDefinition{Name: "explode"},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := llmmock.WithResponses(llm.CompletionResponse{
		ToolCalls: []types.ToolCall{{ID: "c1", Name: "explode", Arguments: "{}"}},
	})
	profile := testProfile()
	sess := newTestSession(t, Config{LLM: provider, Tools: reg, Profile: profile})
	sess.Start(context.Background())
	defer sess.Close()

	deliverFinal(t, sess, "do the thing")
	if got := waitReply(t, sess); got != profile.Fallback {
		t.Errorf("reply = %q, want the fallback utterance", got)
	}
}

func TestReasoningErrorSpeaksFallback(t *testing.T) {
	t.Parallel()

	provider := llmmock.New("unused")
	provider.Err = errors.New("backend unreachable")
	profile := testProfile()
	sess := newTestSession(t, Config{LLM: provider, Profile: profile})
	sess.Start(context.Background())
	defer sess.Close()

	deliverFinal(t, sess, "hello?")
	if got := waitReply(t, sess); got != profile.Fallback {
		t.Errorf("reply = %q, want the fallback utterance", got)
	}

	// The session stays usable after a failed turn.
	provider.Err = nil
	deliverFinal(t, sess, "hello again")
	if got := waitReply(t, sess); got != "unused" {
		t.Errorf("reply after recovery = %q, want %q", got, "unused")
	}
}

// blockingTTS emits audio chunks forever until its context is cancelled,
// which lets tests hold playback open and interrupt it.
type blockingTTS struct {
	mu   sync.Mutex
	ctxs []context.Context
}

var _ tts.Provider = (*blockingTTS)(nil)

func (b *blockingTTS) SynthesizeStream(ctx context.Context, text <-chan string, _ types.VoiceProfile) (<-chan []byte, error) {
	b.mu.Lock()
	b.ctxs = append(b.ctxs, ctx)
	b.mu.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		for range text {
		}
		for {
			select {
			case out <- []byte{0x00, 0x01}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *blockingTTS) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	return nil, nil
}

func (b *blockingTTS) lastCtx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ctxs) == 0 {
		return nil
	}
	return b.ctxs[len(b.ctxs)-1]
}

func TestBargeInHaltsPlayback(t *testing.T) {
	t.Parallel()

	synth := &blockingTTS{}
	sess := newTestSession(t, Config{TTS: synth})
	sess.Start(context.Background())
	defer sess.Close()

	deliverFinal(t, sess, "tell me a story")
	waitReply(t, sess)

	// Playback is live: audio chunks are flowing.
	select {
	case <-sess.Audio():
	case <-time.After(2 * time.Second):
		t.Fatal("no audio while the agent should be speaking")
	}

	if err := sess.Deliver(Event{Type: EventSpeechDetected}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	sctx := synth.lastCtx()
	if sctx == nil {
		t.Fatal("synthesis was never started")
	}
	select {
	case <-sctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("barge-in did not cancel synthesis")
	}
}

func TestFinalTranscriptInterruptsPlayback(t *testing.T) {
	t.Parallel()

	synth := &blockingTTS{}
	provider := llmmock.WithResponses(
		llm.CompletionResponse{Content: "long story"},
		llm.CompletionResponse{Content: "ok, stopping"},
	)
	sess := newTestSession(t, Config{TTS: synth, LLM: provider})
	sess.Start(context.Background())
	defer sess.Close()

	deliverFinal(t, sess, "tell me a story")
	waitReply(t, sess)
	first := synth.lastCtx()
	if first == nil {
		t.Fatal("synthesis was never started")
	}

	deliverFinal(t, sess, "stop")
	if got := waitReply(t, sess); got != "ok, stopping" {
		t.Errorf("reply = %q, want %q", got, "ok, stopping")
	}
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("new transcript did not cancel the previous playback")
	}
}

func TestVoiceFollowsMode(t *testing.T) {
	t.Parallel()

	catalog := mustCatalog(t)
	ctrl, err := flow.New("coordinator", flow.DefaultTutorModes(), catalog)
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	voices := voice.NewSelector(map[string]types.VoiceProfile{
		"coordinator": {ID: "voice-coordinator"},
		"quiz":        {ID: "voice-quiz"},
	}, types.VoiceProfile{ID: "voice-default"})

	synth := &ttsmock.Provider{}
	sess := newTestSession(t, Config{TTS: synth, Voices: voices, Flow: ctrl})
	sess.Start(context.Background())
	defer sess.Close()

	deliverFinal(t, sess, "hello")
	waitReply(t, sess)
	waitAudio(t, sess)
	if got := synth.Calls[len(synth.Calls)-1].Voice.ID; got != "voice-coordinator" {
		t.Errorf("voice = %q, want coordinator voice", got)
	}

	if _, err := ctrl.RequestTopic("loops"); err != nil {
		t.Fatalf("RequestTopic: %v", err)
	}
	if _, err := ctrl.RequestMode("quiz"); err != nil {
		t.Fatalf("RequestMode: %v", err)
	}
	deliverFinal(t, sess, "quiz me")
	waitReply(t, sess)
	waitAudio(t, sess)
	if got := synth.Calls[len(synth.Calls)-1].Voice.ID; got != "voice-quiz" {
		t.Errorf("voice = %q, want quiz voice", got)
	}
}

func TestDeliverAfterClose(t *testing.T) {
	t.Parallel()

	sess := newTestSession(t, Config{})
	sess.Start(context.Background())
	sess.Close()

	err := sess.Deliver(Event{Type: EventSpeechDetected})
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Deliver after Close = %v, want ErrSessionClosed", err)
	}
}

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	factory := func(id, _ string) (*Session, error) {
		return New(Config{
			ID:      id,
			Profile: testProfile(),
			LLM:     llmmock.New("hi"),
			TTS:     &ttsmock.Provider{},
			Voices:  testVoices(),
			Tools:   toolhost.NewRegistry(),
			Logger:  testLogger(),
		})
	}
	m := NewManager(factory)
	ctx := context.Background()

	sess, err := m.Open(ctx, "a", "barista")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.Open(ctx, "a", "barista"); err == nil {
		t.Error("duplicate Open should fail")
	}
	if got, ok := m.Get("a"); !ok || got != sess {
		t.Error("Get should return the open session")
	}
	if _, err := m.Open(ctx, "b", "tutor"); err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if m.Count() != 2 {
		t.Errorf("Count = %d, want 2", m.Count())
	}

	m.Close("a")
	if _, ok := m.Get("a"); ok {
		t.Error("closed session should be gone")
	}
	m.Close("a") // closing again is a no-op

	m.CloseAll()
	if m.Count() != 0 {
		t.Errorf("Count after CloseAll = %d, want 0", m.Count())
	}
}
