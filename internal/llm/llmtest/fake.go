// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// FakeModel streams Chunks through the streaming callback, then fails with
// Err if set. FailAfter > 0 makes it fail after that many chunks instead.
type FakeModel struct {
	Chunks    []string
	Err       error
	FailAfter int
	// Delay is waited before each chunk, honouring cancellation.
	Delay time.Duration
	// NoStream skips the streaming callback and only returns the full text.
	NoStream bool

	mu       sync.Mutex
	calls    int
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	f.mu.Lock()
	f.calls++
	f.messages = messages
	f.options = opts
	f.mu.Unlock()

	for i, c := range f.Chunks {
		if f.FailAfter > 0 && i == f.FailAfter {
			return nil, f.Err
		}
		if f.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.Delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.StreamingFunc != nil && !f.NoStream {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: strings.Join(f.Chunks, ""), StopReason: "stop"}},
	}, nil
}

func (f *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// Calls reports how many times GenerateContent ran.
func (f *FakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Messages returns the messages of the last call.
func (f *FakeModel) Messages() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

// Options returns the call options of the last call.
func (f *FakeModel) Options() llms.CallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options
}

// Text flattens a provider message to role and text for assertions.
func Text(m llms.MessageContent) (llms.ChatMessageType, string) {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return m.Role, sb.String()
}
