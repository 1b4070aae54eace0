package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
)

// ModelType names a hosted model.
type ModelType string

const (
	// DefaultModel is the default model to use if none is specified
	DefaultModel  ModelType = "gemma-3-12b-it"
	FlashModel    ModelType = "gemini-2.5-flash"
	ProModel      ModelType = "gemini-2.5-pro"
	Claude4Sonnet ModelType = "claude-sonnet-4-20250514"
	Claude35Haiku ModelType = "claude-3-5-haiku-20241022"
)

func GoogleAi(ctx context.Context, apiKey string, model ModelType) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is not set")
	}
	if model == "" {
		model = DefaultModel
	}

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create google ai client: %w", err)
	}
	return llm, nil
}

func AnthropicAI(apiKey string, model ModelType) (*anthropic.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic client: %w", err)
	}
	return llm, nil
}
