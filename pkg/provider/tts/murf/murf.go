// Package murf provides a Murf-backed TTS provider using the Murf streaming
// WebSocket API. It implements the tts.Provider interface.
package murf

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"
	"github.com/solivox/solivox/pkg/provider/tts"
	"github.com/solivox/solivox/pkg/types"
)

const (
	wsEndpoint     = "wss://api.murf.ai/v1/speech/stream-input"
	voicesEndpoint = "https://api.murf.ai/v1/speech/voices"

	defaultFormat     = "PCM"
	defaultSampleRate = 24000
)

// Option is a functional option for configuring the Murf Provider.
type Option func(*Provider)

// WithSampleRate sets the PCM output sample rate in Hz (e.g., 24000, 44100).
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements tts.Provider backed by the Murf streaming API.
type Provider struct {
	apiKey     string
	sampleRate int
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new Murf Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("murf: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// voiceConfig is the configuration message sent once at the start of a stream.
type voiceConfig struct {
	VoiceConfig struct {
		VoiceID string  `json:"voiceId"`
		Style   string  `json:"style,omitempty"`
		Rate    float64 `json:"rate,omitempty"`
	} `json:"voice_config"`
}

// textMessage is the JSON payload sent to Murf for each text fragment.
type textMessage struct {
	Text string `json:"text"`
	End  bool   `json:"end,omitempty"`
}

// audioResponse is the JSON message received from Murf over the WebSocket.
type audioResponse struct {
	Audio string `json:"audio"` // base64-encoded PCM
	Final bool   `json:"final"`
}

// SynthesizeStream opens a WebSocket to Murf, pipes text fragments from the
// text channel, and returns a channel emitting raw PCM audio chunks.
//
// The returned audio channel is closed when synthesis is complete or ctx is
// cancelled. voice.Style and voice.SpeedFactor are forwarded to Murf as the
// stream's style and rate.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("murf: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.buildWSURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"api-key": []string{p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("murf: dial: %w", err)
	}

	// Configure the voice before any text is sent.
	cfgBytes, _ := json.Marshal(buildVoiceConfig(voice))
	if err := conn.Write(ctx, websocket.MessageText, cfgBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send voice config")
		return nil, fmt.Errorf("murf: send voice config: %w", err)
	}

	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var resp audioResponse
				if err := json.Unmarshal(msg, &resp); err != nil {
					continue
				}
				if resp.Audio != "" {
					pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
					if err == nil {
						select {
						case audioCh <- pcm:
						case <-ctx.Done():
							return
						}
					}
				}
				if resp.Final {
					return
				}
			}
		}()

		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					// Text channel closed — signal end of input and drain audio.
					endBytes, _ := json.Marshal(textMessage{End: true})
					_ = conn.Write(ctx, websocket.MessageText, endBytes)
					<-readDone
					return
				}
				if fragment == "" {
					continue
				}
				msgBytes, _ := json.Marshal(textMessage{Text: fragment})
				if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

// buildWSURL constructs the Murf streaming endpoint URL with output format
// parameters.
func (p *Provider) buildWSURL() string {
	q := url.Values{}
	q.Set("format", defaultFormat)
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channel_type", "MONO")
	return wsEndpoint + "?" + q.Encode()
}

// buildVoiceConfig maps a VoiceProfile onto the Murf voice_config message.
func buildVoiceConfig(voice types.VoiceProfile) voiceConfig {
	var cfg voiceConfig
	cfg.VoiceConfig.VoiceID = voice.ID
	cfg.VoiceConfig.Style = voice.Style
	if voice.SpeedFactor != 0 && voice.SpeedFactor != 1 {
		// Murf expresses rate as a percentage offset from normal speed.
		cfg.VoiceConfig.Rate = (voice.SpeedFactor - 1) * 100
	}
	return cfg
}

// ---- ListVoices ----

// murfVoice is a single voice entry from the Murf API.
type murfVoice struct {
	VoiceID         string   `json:"voiceId"`
	DisplayName     string   `json:"displayName"`
	Locale          string   `json:"locale"`
	Gender          string   `json:"gender"`
	AvailableStyles []string `json:"availableStyles"`
}

// ListVoices returns all voices available from Murf for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("murf: list voices: %w", err)
	}
	req.Header.Set("api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("murf: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("murf: list voices: unexpected status %d", resp.StatusCode)
	}

	var voices []murfVoice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("murf: list voices decode: %w", err)
	}
	return parseVoices(voices), nil
}

// parseVoices converts Murf voice entries into VoiceProfile values.
func parseVoices(voices []murfVoice) []types.VoiceProfile {
	profiles := make([]types.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		meta := map[string]string{}
		if v.Locale != "" {
			meta["locale"] = v.Locale
		}
		if v.Gender != "" {
			meta["gender"] = v.Gender
		}
		style := ""
		if len(v.AvailableStyles) > 0 {
			style = v.AvailableStyles[0]
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.DisplayName,
			Provider: "murf",
			Style:    style,
			Metadata: meta,
		})
	}
	return profiles
}
