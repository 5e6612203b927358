package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"botbuilder/internal/keys"
)

// GeminiOracle is a thin wrapper around the official genai client. Rate
// limiting and instrumentation are applied with Middleware.
type GeminiOracle struct {
	cli         *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// GeminiOptions configures NewGeminiOracle.
type GeminiOptions struct {
	APIKey      string
	Model       string
	Temperature float32
	// Timeout bounds a single call. Zero means no per-call timeout.
	Timeout time.Duration
}

// NewGeminiOracle creates a Gemini-backed oracle.
func NewGeminiOracle(ctx context.Context, opts GeminiOptions) (*GeminiOracle, error) {
	key := keys.Clean(opts.APIKey)
	if key == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("gemini: model is required")
	}

	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiOracle{
		cli:         cli,
		model:       opts.Model,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
	}, nil
}

// Name identifies the provider and model.
func (g *GeminiOracle) Name() string { return "gemini:" + g.model }

// Generate sends contextPrompt as the user turn with systemPrompt as the
// system instruction and returns the concatenated text parts of the first
// candidate.
func (g *GeminiOracle) Generate(ctx context.Context, systemPrompt, contextPrompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, genai.Text(contextPrompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
