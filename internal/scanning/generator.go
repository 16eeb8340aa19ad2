package scanning

import "context"

// GenerateOptions tunes a single generation call
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int
}

// Generator defines the interface for text generation providers. Output is
// untrusted free text.
type Generator interface {
	// Generate sends prompt to the model and returns its raw text reply
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	// Close closes the generator and releases resources
	Close() error
}
