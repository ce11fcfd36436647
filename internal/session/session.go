// Package session implements the turn orchestrator for one voice
// conversation. A session owns a single control loop that consumes pipeline
// events (finalized transcripts, speech-detected signals) and drives the
// reasoning engine, tool dispatch, and speech synthesis in response.
//
// The contract the loop upholds:
//
//   - Exactly one spoken reply per finalized transcript.
//   - A speech-detected event while the agent is speaking halts playback
//     immediately (barge-in); the interrupted reply is never resumed.
//   - Any reasoning or tool failure is converted into the profile's fixed
//     fallback utterance; the session stays usable afterwards.
//
// All conversational state (history, records, mode) is owned per session.
// Nothing is shared between sessions except the injected providers, which
// are safe for concurrent use.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/solivox/solivox/internal/flow"
	"github.com/solivox/solivox/internal/observe"
	"github.com/solivox/solivox/internal/toolhost"
	"github.com/solivox/solivox/internal/voice"
	"github.com/solivox/solivox/pkg/provider/llm"
	"github.com/solivox/solivox/pkg/provider/tts"
	"github.com/solivox/solivox/pkg/types"
)

// ErrSessionClosed is returned by Deliver after Close.
var ErrSessionClosed = errors.New("session: closed")

// defaultHistoryLimit caps the conversation history sent to the reasoning
// engine. Older exchanges are dropped oldest-first; the system prompt is
// carried separately and never dropped.
const defaultHistoryLimit = 40

// eventBufferSize is the capacity of the control loop's inbox. Pipeline
// events are small and the loop drains quickly, so a modest buffer is enough
// to absorb bursts. When it fills, final transcripts block the producer and
// other events are dropped.
const eventBufferSize = 16

// Profile describes the conversational persona a session runs.
type Profile struct {
	// Name identifies the persona (e.g. "barista", "tutor", "sdr").
	Name string

	// SystemPrompt is the standing instruction sent with every completion.
	SystemPrompt string

	// Greeting is spoken once when the session opens.
	Greeting string

	// Fallback is the fixed utterance spoken when reasoning or a tool fails.
	Fallback string

	// Temperature is passed through to the reasoning engine.
	Temperature float64
}

// Config carries everything a Session needs. LLM, TTS, Voices, Tools, and
// Logger are required; Flow and Metrics are optional.
type Config struct {
	ID      string
	Profile Profile

	LLM    llm.Provider
	TTS    tts.Provider
	Voices *voice.Selector
	Tools  *toolhost.Registry

	// Flow, when set, supplies the active mode for voice selection. Sessions
	// without modes leave it nil and always speak in the fallback voice.
	Flow *flow.Controller

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// HistoryLimit overrides defaultHistoryLimit when positive.
	HistoryLimit int
}

// Session orchestrates one voice conversation. Create with New, start the
// control loop with Start, feed it with Deliver, and stop it with Close.
type Session struct {
	id      string
	profile Profile

	llm     llm.Provider
	tts     tts.Provider
	voices  *voice.Selector
	tools   *toolhost.Registry
	flow    *flow.Controller
	metrics *observe.Metrics
	logger  *slog.Logger

	historyLimit int
	history      []types.Message

	events  chan Event
	audio   chan []byte
	replies chan string

	// speech tracks the in-flight synthesis goroutine so barge-in can cancel
	// it. Guarded by mu because cancellation comes from the control loop
	// while completion comes from the synthesis goroutine.
	mu           sync.Mutex
	speechCancel context.CancelFunc
	speechDone   chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New validates cfg and returns an unstarted Session.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("llm provider must not be nil"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("tts provider must not be nil"))
	}
	if cfg.Voices == nil {
		errs = append(errs, errors.New("voice selector must not be nil"))
	}
	if cfg.Tools == nil {
		errs = append(errs, errors.New("tool registry must not be nil"))
	}
	if cfg.Profile.Fallback == "" {
		errs = append(errs, errors.New("profile must have a fallback utterance"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("session: invalid config: %w", errors.Join(errs...))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	return &Session{
		id:           cfg.ID,
		profile:      cfg.Profile,
		llm:          cfg.LLM,
		tts:          cfg.TTS,
		voices:       cfg.Voices,
		tools:        cfg.Tools,
		flow:         cfg.Flow,
		metrics:      cfg.Metrics,
		logger:       logger.With("session_id", cfg.ID, "profile", cfg.Profile.Name),
		historyLimit: limit,
		events:       make(chan Event, eventBufferSize),
		audio:        make(chan []byte, 64),
		replies:      make(chan string, 8),
		closed:       make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Audio returns the synthesized audio stream. The channel is closed when the
// session closes. A reply interrupted by barge-in simply stops emitting.
func (s *Session) Audio() <-chan []byte { return s.audio }

// Replies returns the spoken reply texts, one per finalized transcript. The
// channel is closed when the session closes.
func (s *Session) Replies() <-chan string { return s.replies }

// Start launches the control loop and speaks the greeting. The loop runs
// until ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.metrics.SessionOpened(ctx)
	s.logger.Info("session started")
	if s.profile.Greeting != "" {
		s.speak(ctx, s.profile.Greeting)
	}
	s.wg.Add(1)
	go s.run(ctx)
}

// Deliver queues an event for the control loop. Final transcripts block until
// the loop has room so every finalized utterance gets its reply; the
// speech-detected signal is idempotent and is dropped instead when the inbox
// is full.
func (s *Session) Deliver(ev Event) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if ev.Type == EventFinalTranscript {
		select {
		case s.events <- ev:
			return nil
		case <-s.closed:
			return ErrSessionClosed
		}
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		s.logger.Debug("event inbox full, dropping event", "event", ev.Type.String())
		return nil
	}
}

// HandleTranscript adapts an STT result into events: any transcript signals
// speech, and final ones additionally queue a turn. Partial text is never
// replied to.
func (s *Session) HandleTranscript(t types.Transcript) error {
	if err := s.Deliver(Event{Type: EventSpeechDetected}); err != nil {
		return err
	}
	if !t.IsFinal || strings.TrimSpace(t.Text) == "" {
		return nil
	}
	return s.Deliver(Event{Type: EventFinalTranscript, Transcript: t})
}

// Close stops the control loop, halts any in-flight speech, and closes the
// output channels. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.stopSpeech()
		s.wg.Wait()
		close(s.audio)
		close(s.replies)
		s.metrics.SessionClosed(context.Background())
		s.logger.Info("session closed")
	})
}

func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventSpeechDetected:
		if s.interruptSpeech() {
			s.metrics.RecordBargeIn(ctx)
			s.logger.Debug("barge-in: playback halted")
		}
	case EventFinalTranscript:
		// A finalized utterance implies the caller spoke over anything still
		// playing, so playback is halted before the reply is produced.
		s.interruptSpeech()
		s.runTurn(ctx, ev.Transcript.Text)
	}
}

// runTurn produces exactly one spoken reply for the finalized transcript.
// Reasoning or tool failures degrade to the fallback utterance instead of
// ending the session.
func (s *Session) runTurn(ctx context.Context, text string) {
	start := time.Now()
	s.appendHistory(types.Message{Role: "user", Content: text})

	reply, err := s.reason(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("turn failed, falling back", "error", err)
		s.metrics.RecordFallback(ctx)
		reply = s.profile.Fallback
	}

	s.appendHistory(types.Message{Role: "assistant", Content: reply})
	s.speak(ctx, reply)
	s.metrics.RecordTurn(ctx, s.profile.Name, time.Since(start).Seconds())
}

// reason asks the reasoning engine for a response and dispatches any tool
// calls it requests. Tool results are speakable text; when the engine calls
// tools, their results form the reply directly.
func (s *Session) reason(ctx context.Context, text string) (string, error) {
	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     s.history,
		Tools:        s.tools.Definitions(),
		Temperature:  s.profile.Temperature,
		SystemPrompt: s.profile.SystemPrompt,
	})
	if s.metrics != nil {
		s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		if strings.TrimSpace(resp.Content) == "" {
			return "", errors.New("completion returned no content and no tool calls")
		}
		return resp.Content, nil
	}

	s.appendHistory(types.Message{Role: "assistant", ToolCalls: resp.ToolCalls})

	var parts []string
	for _, call := range resp.ToolCalls {
		result, err := s.dispatch(ctx, call)
		if err != nil {
			return "", fmt.Errorf("tool %q: %w", call.Name, err)
		}
		s.appendHistory(types.Message{Role: "tool", Content: result, ToolCallID: call.ID})
		if result != "" {
			parts = append(parts, result)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("tool calls produced no speakable result")
	}
	return strings.Join(parts, " "), nil
}

// dispatch decodes the call's JSON arguments and executes it through the
// registry, recording the outcome.
func (s *Session) dispatch(ctx context.Context, call types.ToolCall) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			s.metrics.RecordToolCall(ctx, call.Name, "invalid_args")
			return "", fmt.Errorf("%w: decoding arguments: %v", toolhost.ErrInvalidArgs, err)
		}
	}

	start := time.Now()
	result, err := s.tools.Execute(ctx, call.Name, args)
	if s.metrics != nil {
		s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		s.metrics.RecordToolCall(ctx, call.Name, "error")
		return "", err
	}
	s.metrics.RecordToolCall(ctx, call.Name, "ok")
	return result, nil
}

// speak synthesizes text in the voice of the current mode and streams the
// audio to the session output. Synthesis runs in its own goroutine so the
// control loop stays responsive to barge-in.
func (s *Session) speak(ctx context.Context, text string) {
	profile := s.voices.Fallback()
	if s.flow != nil {
		profile = s.voices.Select(s.flow.Mode())
	}

	select {
	case s.replies <- text:
	default:
		s.logger.Warn("reply channel full, dropping reply text")
	}

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.speechCancel = cancel
	s.speechDone = done
	s.mu.Unlock()

	fragments := make(chan string, 1)
	fragments <- text
	close(fragments)

	audioCh, err := s.tts.SynthesizeStream(sctx, fragments, profile)
	if err != nil {
		s.logger.Error("synthesis failed", "error", err)
		cancel()
		close(done)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer cancel()
		start := time.Now()
		for chunk := range audioCh {
			select {
			case s.audio <- chunk:
			case <-sctx.Done():
				return
			case <-s.closed:
				return
			}
		}
		if s.metrics != nil {
			s.metrics.TTSDuration.Record(sctx, time.Since(start).Seconds())
		}
	}()
}

// interruptSpeech cancels in-flight synthesis, reporting whether there was
// any to cancel.
func (s *Session) interruptSpeech() bool {
	s.mu.Lock()
	cancel, done := s.speechCancel, s.speechDone
	s.speechCancel, s.speechDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	select {
	case <-done:
		// Playback had already finished; nothing was interrupted.
		cancel()
		return false
	default:
		cancel()
		return true
	}
}

// stopSpeech cancels in-flight synthesis unconditionally.
func (s *Session) stopSpeech() {
	s.mu.Lock()
	cancel := s.speechCancel
	s.speechCancel, s.speechDone = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) appendHistory(msg types.Message) {
	s.history = append(s.history, msg)
	if len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
}
