// Package mock provides a mock LLM provider for testing.
package mock

import (
	"context"
	"sync"

	"github.com/solivox/solivox/pkg/provider/llm"
	"github.com/solivox/solivox/pkg/types"
)

// Provider is a mock implementation of llm.Provider that records calls
// and returns configurable canned responses.
type Provider struct {
	mu sync.Mutex

	// Responses are returned in order by Complete and StreamCompletion;
	// when exhausted, the last one repeats.
	Responses []llm.CompletionResponse

	// Err, when set, is returned by Complete and StreamCompletion.
	Err error

	// Calls records every request received, in order.
	Calls []llm.CompletionRequest

	next int
}

var _ llm.Provider = (*Provider)(nil)

// New creates a mock that answers every request with the given text.
func New(text string) *Provider {
	return &Provider{Responses: []llm.CompletionResponse{{Content: text}}}
}

// WithResponses creates a mock that answers requests with the given responses
// in sequence, repeating the last.
func WithResponses(responses ...llm.CompletionResponse) *Provider {
	return &Provider{Responses: responses}
}

func (p *Provider) nextResponse() llm.CompletionResponse {
	if len(p.Responses) == 0 {
		return llm.CompletionResponse{}
	}
	resp := p.Responses[p.next]
	if p.next < len(p.Responses)-1 {
		p.next++
	}
	return resp
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	resp := p.nextResponse()
	return &resp, nil
}

// StreamCompletion implements llm.Provider. The response content is emitted
// as a single text chunk followed by a finish chunk carrying any tool calls.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		p.mu.Unlock()
		return nil, p.Err
	}
	resp := p.nextResponse()
	p.mu.Unlock()

	ch := make(chan llm.Chunk, 2)
	go func() {
		defer close(ch)
		if resp.Content != "" {
			select {
			case ch <- llm.Chunk{Text: resp.Content}:
			case <-ctx.Done():
				return
			}
		}
		final := llm.Chunk{FinishReason: "stop", ToolCalls: resp.ToolCalls}
		if len(resp.ToolCalls) > 0 {
			final.FinishReason = "tool_calls"
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
}

// CallCount returns how many requests the mock has received.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent request, or a zero request if none.
func (p *Provider) LastCall() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Calls[len(p.Calls)-1]
}
