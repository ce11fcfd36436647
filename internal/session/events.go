package session

import "github.com/solivox/solivox/pkg/types"

// EventType identifies what happened upstream in the audio pipeline.
type EventType int

const (
	// EventFinalTranscript carries a finalized utterance from the STT layer.
	// Each one produces exactly one spoken reply.
	EventFinalTranscript EventType = iota

	// EventSpeechDetected signals that the caller started speaking. If the
	// agent is mid-playback this interrupts it; otherwise it is a no-op.
	EventSpeechDetected
)

// String returns the event type name for logging.
func (t EventType) String() string {
	switch t {
	case EventFinalTranscript:
		return "final_transcript"
	case EventSpeechDetected:
		return "speech_detected"
	default:
		return "unknown"
	}
}

// Event is one pipeline occurrence delivered to the session's control loop.
// All session state mutations happen on that single loop, so events never
// race with each other.
type Event struct {
	Type EventType

	// Transcript is set for EventFinalTranscript.
	Transcript types.Transcript
}
