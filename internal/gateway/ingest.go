package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solivox/solivox/internal/session"
	"github.com/solivox/solivox/pkg/provider/stt"
	"github.com/solivox/solivox/pkg/provider/vad"
	"github.com/solivox/solivox/pkg/types"
)

// IngestConfig describes the audio format expected on inbound binary frames
// when server-side transcription is enabled.
type IngestConfig struct {
	// SampleRate is the PCM sample rate in Hz. Default 48000.
	SampleRate int

	// Language is the BCP-47 recognition hint. Empty lets the provider
	// auto-detect.
	Language string
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	return c
}

// ingest is the per-connection transcription pipeline: inbound PCM frames
// pass a VAD gate and feed an STT stream whose transcripts drive the session.
type ingest struct {
	stt    stt.SessionHandle
	vad    vad.SessionHandle
	sess   *session.Session
	logger *slog.Logger
}

// startIngest opens the STT stream and optional VAD session for one
// connection and starts the transcript forwarding goroutine.
func (s *Server) startIngest(ctx context.Context, sess *session.Session) (*ingest, error) {
	cfg := s.ingestCfg.withDefaults()

	sttSess, err := s.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: cfg.SampleRate,
		Channels:   1,
		Language:   cfg.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: start stt stream: %w", err)
	}

	var vadSess vad.SessionHandle
	if s.vad != nil {
		vadSess, err = s.vad.NewSession(vad.Config{
			SampleRate:       cfg.SampleRate,
			FrameSizeMs:      20,
			SpeechThreshold:  0.5,
			SilenceThreshold: 0.35,
		})
		if err != nil {
			sttSess.Close()
			return nil, fmt.Errorf("gateway: start vad session: %w", err)
		}
	}

	in := &ingest{
		stt:    sttSess,
		vad:    vadSess,
		sess:   sess,
		logger: s.logger.With("session_id", sess.ID()),
	}
	go in.forwardTranscripts(ctx)
	return in, nil
}

// forwardTranscripts drains the STT channels into the session. Partials feed
// barge-in detection; finals drive turns. The loop runs until both channels
// close, so a final buffered at stream shutdown still reaches the session.
func (in *ingest) forwardTranscripts(ctx context.Context) {
	partials, finals := in.stt.Partials(), in.stt.Finals()
	for partials != nil || finals != nil {
		var (
			t  types.Transcript
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case t, ok = <-partials:
			if !ok {
				partials = nil
				continue
			}
		case t, ok = <-finals:
			if !ok {
				finals = nil
				continue
			}
		}
		if err := in.sess.HandleTranscript(t); err != nil {
			if !errors.Is(err, session.ErrSessionClosed) {
				in.logger.Warn("dropping transcript", "error", err)
			}
			return
		}
	}
}

// handleChunk runs one inbound audio chunk through the VAD gate and forwards
// speech to the STT stream. Silence never reaches the provider.
func (in *ingest) handleChunk(chunk []byte) {
	if in.vad != nil {
		event, err := in.vad.ProcessFrame(chunk)
		if err != nil {
			in.logger.Warn("vad error", "error", err)
			return
		}
		switch event.Type {
		case vad.Silence:
			return
		case vad.SpeechStart:
			// Signal barge-in before the provider produces a partial.
			if err := in.sess.Deliver(session.Event{Type: session.EventSpeechDetected}); err != nil {
				return
			}
		}
	}
	if err := in.stt.SendAudio(chunk); err != nil {
		in.logger.Warn("stt send error", "error", err)
	}
}

// close tears down the pipeline. STT close flushes pending audio and closes
// the transcript channels, ending forwardTranscripts.
func (in *ingest) close() {
	if err := in.stt.Close(); err != nil {
		in.logger.Warn("stt close error", "error", err)
	}
	if in.vad != nil {
		if err := in.vad.Close(); err != nil {
			in.logger.Warn("vad close error", "error", err)
		}
	}
}
