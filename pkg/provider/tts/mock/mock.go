// Package mock provides a test double for the tts.Provider interface.
//
// The mock echoes each consumed text fragment back as a pseudo-audio chunk
// (the UTF-8 bytes of the text), which lets tests assert on exactly what was
// synthesised and in what order without decoding audio.
package mock

import (
	"context"
	"sync"

	"github.com/solivox/solivox/pkg/provider/tts"
	"github.com/solivox/solivox/pkg/types"
)

// SynthesizeCall records a single invocation of Provider.SynthesizeStream.
type SynthesizeCall struct {
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice types.VoiceProfile
	// Fragments holds every text fragment consumed from the text channel.
	// It is populated asynchronously; synchronise on the audio channel closing
	// before reading it.
	Fragments []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// Calls records every SynthesizeStream invocation in order.
	Calls []*SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records the call and echoes each text fragment back as an
// audio chunk containing the fragment's bytes. The audio channel closes when
// the text channel closes or ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		defer p.mu.Unlock()
		return nil, p.SynthesizeErr
	}
	call := &SynthesizeCall{Voice: voice}
	p.Calls = append(p.Calls, call)
	p.mu.Unlock()

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				call.Fragments = append(call.Fragments, fragment)
				p.mu.Unlock()
				select {
				case audioCh <- []byte(fragment):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.Voices, nil
}

// CallCount returns the number of SynthesizeStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastVoice returns the VoiceProfile of the most recent call, or a zero
// profile if there were no calls.
func (p *Provider) LastVoice() types.VoiceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return types.VoiceProfile{}
	}
	return p.Calls[len(p.Calls)-1].Voice
}
