// Package voice maps conversational modes to synthesis voice profiles, so a
// tutor can quiz in a brisker voice than it lectures in.
package voice

import (
	"github.com/solivox/solivox/pkg/types"
)

// Selector resolves the VoiceProfile to synthesise with for a given mode.
// Read-only after construction and safe for concurrent use.
type Selector struct {
	byMode   map[string]types.VoiceProfile
	fallback types.VoiceProfile
}

// NewSelector creates a Selector. byMode may be nil or partial; modes without
// an entry get the fallback profile.
func NewSelector(byMode map[string]types.VoiceProfile, fallback types.VoiceProfile) *Selector {
	cp := make(map[string]types.VoiceProfile, len(byMode))
	for k, v := range byMode {
		cp[k] = v
	}
	return &Selector{byMode: cp, fallback: fallback}
}

// Select returns the profile configured for mode, or the fallback.
func (s *Selector) Select(mode string) types.VoiceProfile {
	if p, ok := s.byMode[mode]; ok {
		return p
	}
	return s.fallback
}

// Fallback returns the default profile.
func (s *Selector) Fallback() types.VoiceProfile { return s.fallback }
