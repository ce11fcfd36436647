// Package mock provides a deterministic test double for embeddings.Provider.
//
// Vectors are derived from a stable hash of the input text, so identical texts
// always embed to identical vectors and distinct texts almost always differ.
// That is enough for tests exercising similarity ranking and index plumbing.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/solivox/solivox/pkg/provider/embeddings"
)

// DefaultDimensions is the vector length used when Dims is zero.
const DefaultDimensions = 16

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dims overrides the vector dimensionality. Zero means DefaultDimensions.
	Dims int

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Fixed maps exact input texts to fixed vectors, overriding the hash
	// derivation. Useful for forcing specific similarity orderings.
	Fixed map[string][]float32

	// EmbedCalls records every text passed to Embed or EmbedBatch, in order.
	EmbedCalls []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return DefaultDimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embeddings" }

// vectorFor derives a deterministic unit-ish vector from the text hash.
// Caller must hold p.mu.
func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Fixed[text]; ok {
		cp := make([]float32, len(v))
		copy(cp, v)
		return cp
	}

	dims := p.Dims
	if dims <= 0 {
		dims = DefaultDimensions
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int32(seed>>33)) / (1 << 31)
	}
	return vec
}
