// Package ai defines the AI Adapter boundary: a single send operation
// that the executor's AI-typed handlers and the planner's reasoning
// steps call through. Grounded on the explicit-interface,
// explicit-construction style of the teacher's agents.ProcessSpawner
// (no framework, no global registry).
package ai

import (
	"context"
	"fmt"

	"github.com/CLIAIMONITOR/internal/errkind"
)

// Usage reports token accounting for a completed call, when the
// provider supplies it.
type Usage struct {
	InputTokens    int     `json:"inputTokens"`
	OutputTokens   int     `json:"outputTokens"`
	EstimatedCost  float64 `json:"estimatedCost"`
}

// Response is the result of a send call.
type Response struct {
	Text  string `json:"text"`
	Usage *Usage `json:"usage,omitempty"`
}

// Adapter is the AI Adapter interface from spec.md §6: a single
// send(systemPrompt, userPrompt) operation. Implementations classify
// their own failures into the Kind values recognized here; the core
// never inspects a raw provider error.
//
// golang.org/x/time/rate is a natural fit for outbound call throttling
// here but is left unwired: no concrete provider implementation ships
// in this core, so there is no outbound call site to rate-limit yet.
type Adapter interface {
	Send(ctx context.Context, systemPrompt, userPrompt string) (*Response, error)
}

// Config carries the provider settings forwarded from configuration.
type Config struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// StubAdapter is a deterministic, network-free Adapter used for
// local development and tests. It never calls out; it "refuses"
// deterministically when the prompt contains the sentinel word
// "REFUSE", to exercise the ProviderRefusal classification path.
type StubAdapter struct {
	Config Config
}

// NewStub returns a StubAdapter configured from cfg.
func NewStub(cfg Config) *StubAdapter {
	return &StubAdapter{Config: cfg}
}

func (s *StubAdapter) Send(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, errkind.Wrap(errkind.Network, ctx.Err()).WithRetriable(true)
	default:
	}

	if containsWord(userPrompt, "REFUSE") {
		return nil, errkind.New(errkind.ProviderRefusal, "provider declined to respond").WithRetriable(false)
	}

	text := fmt.Sprintf("[stub:%s] acknowledged: %s", s.Config.Model, firstLine(userPrompt))
	return &Response{
		Text: text,
		Usage: &Usage{
			InputTokens:  len(systemPrompt) + len(userPrompt),
			OutputTokens: len(text),
		},
	}, nil
}

func containsWord(s, word string) bool {
	for i := 0; i+len(word) <= len(s); i++ {
		if s[i:i+len(word)] == word {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
