package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// Sampling holds the generation parameters sent with every call.
// Zero values are left to the provider's defaults.
type Sampling struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"top_k"`
	TopP            float64 `json:"top_p"`
	MaxOutputTokens int     `json:"max_output_tokens"`
}

// DefaultSampling matches the deterministic settings used for research runs.
var DefaultSampling = Sampling{
	Temperature:     0,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 2048,
}

func (s Sampling) CallOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(s.Temperature)}
	if s.TopK > 0 {
		opts = append(opts, llms.WithTopK(s.TopK))
	}
	if s.TopP > 0 {
		opts = append(opts, llms.WithTopP(s.TopP))
	}
	if s.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(s.MaxOutputTokens))
	}
	return opts
}

// Completion adapts a langchaingo model to a plain text-in, text-out call.
type Completion struct {
	Model    llms.Model
	Sampling Sampling
}

func NewCompletion(model llms.Model, sampling Sampling) *Completion {
	return &Completion{Model: model, Sampling: sampling}
}

// WithSampling returns a copy of c that uses s.
func (c *Completion) WithSampling(s Sampling) *Completion {
	return &Completion{Model: c.Model, Sampling: s}
}

func (c *Completion) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := c.Model.GenerateContent(ctx, messages, c.Sampling.CallOptions()...)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// NewModel builds the configured provider's model.
func NewModel(ctx context.Context, provider, apiKey string, model ModelType) (llms.Model, error) {
	switch provider {
	case "", "google":
		llm, err := GoogleAi(ctx, apiKey, model)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case "anthropic":
		llm, err := AnthropicAI(apiKey, model)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
