// Package ai talks to the text-generation oracle and turns its replies into
// typed stage results.
package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("oracle returned an empty response")

// Oracle produces text for a system prompt plus a context prompt.
type Oracle interface {
	Generate(ctx context.Context, systemPrompt, contextPrompt string) (string, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, systemPrompt, contextPrompt string) (string, error)

// Generate calls f.
func (f OracleFunc) Generate(ctx context.Context, systemPrompt, contextPrompt string) (string, error) {
	return f(ctx, systemPrompt, contextPrompt)
}
