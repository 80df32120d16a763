// Package llm talks to the upstream large-language model.
package llm

import "context"

// Model generates a reply to a single user turn under a system instruction.
type Model interface {
	Generate(ctx context.Context, systemPrompt, userMessage string) (string, error)
}
