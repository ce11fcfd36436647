// Package energy provides a dependency-free VAD engine based on short-term
// RMS energy with hysteresis. It is not as robust as a trained model but is
// sufficient for barge-in detection on close-mic audio, and it requires no
// model files or CGO.
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/solivox/solivox/pkg/provider/vad"
)

const (
	// fullScaleRMS is the RMS of a full-scale 16-bit sine wave, used to map raw
	// RMS energy onto a pseudo-probability in [0, 1].
	fullScaleRMS = 32768.0 / math.Sqrt2

	// hangoverFrames is the number of consecutive sub-threshold frames required
	// before an active speech segment is considered ended. Smooths over short
	// intra-word pauses.
	hangoverFrames = 8
)

// Engine implements vad.Engine using per-frame RMS energy.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New creates a new energy-based VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession creates a new VAD session with the given configuration.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %g out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %g must be in [0, speech threshold]", cfg.SilenceThreshold)
	}

	// 16-bit mono PCM.
	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2
	return &session{cfg: cfg, frameBytes: frameBytes}, nil
}

// session holds per-stream detection state. Not safe for concurrent use.
type session struct {
	cfg        vad.Config
	frameBytes int

	inSpeech     bool
	silenceCount int
	closed       bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame classifies a single PCM frame.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	prob := math.Min(frameRMS(frame)/fullScaleRMS*4, 1.0)

	switch {
	case !s.inSpeech && prob >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		s.silenceCount = 0
		return vad.Event{Type: vad.SpeechStart, Probability: prob}, nil

	case s.inSpeech && prob <= s.cfg.SilenceThreshold:
		s.silenceCount++
		if s.silenceCount >= hangoverFrames {
			s.inSpeech = false
			s.silenceCount = 0
			return vad.Event{Type: vad.SpeechEnd, Probability: prob}, nil
		}
		return vad.Event{Type: vad.SpeechContinue, Probability: prob}, nil

	case s.inSpeech:
		s.silenceCount = 0
		return vad.Event{Type: vad.SpeechContinue, Probability: prob}, nil

	default:
		return vad.Event{Type: vad.Silence, Probability: prob}, nil
	}
}

// Reset clears the detection state.
func (s *session) Reset() {
	s.inSpeech = false
	s.silenceCount = 0
}

// Close marks the session closed.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// frameRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM frame.
func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
