// Package oracle defines the Oracle contract the core consumes as an
// external collaborator (spec §1, §6): a pure text-in/text-out reasoning
// call. Concrete provider adapters live in oracle/anthropic,
// oracle/openai and oracle/bedrock.
package oracle

import "context"

// Options tunes a single chat call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Oracle is the narrow interface the Planner and Step Runner depend on.
// Provider SDKs are never imported outside an adapter package, mirroring the
// dependency inversion the teacher applies to its model.Client interface.
type Oracle interface {
	Chat(ctx context.Context, userPrompt string, systemPrompt string, opts Options) (string, error)
}

// Func adapts a plain function to the Oracle interface, useful for tests and
// scripted fallbacks.
type Func func(ctx context.Context, userPrompt, systemPrompt string, opts Options) (string, error)

func (f Func) Chat(ctx context.Context, userPrompt, systemPrompt string, opts Options) (string, error) {
	return f(ctx, userPrompt, systemPrompt, opts)
}
