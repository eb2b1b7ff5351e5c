// Package llms provides the chat-completion provider used for routing
// decisions. Any OpenAI-compatible endpoint works.
package llms

import "context"

// Provider generates text completions.
type Provider interface {
	// Generate produces a completion for prompt under the given system
	// instruction.
	Generate(ctx context.Context, system, prompt string) (string, error)

	// GenerateJSON is Generate with the provider's JSON output mode
	// enabled, so the completion is a single JSON object.
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)

	// Model returns the configured model name.
	Model() string
}
