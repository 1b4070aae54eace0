package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research"
)

// Mode selects how a chat turn is answered.
type Mode string

const (
	ModeChat         Mode = "chat"
	ModeWebSearch    Mode = "web_search"
	ModeRAG          Mode = "rag"
	ModeDeepResearch Mode = "deep_research"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeChat, nil
	case ModeChat, ModeWebSearch, ModeRAG, ModeDeepResearch:
		return m, nil
	default:
		return "", fmt.Errorf("unknown chat mode: %s", s)
	}
}

const webSearchInstructions = `Answer the user's question using the web search results below.
Stay factual, say so when the results do not contain the answer, and do not add a sources section.`

// Router answers the non-agent chat modes. It holds no per-request state and is
// safe for concurrent use.
type Router struct {
	// LLM answers with the configured default sampling.
	LLM research.Completer
	// WithSampling returns a completer that uses the caller's sampling.
	WithSampling func(s clients.Sampling) research.Completer
	Search       research.SearchProvider
	Research     research.Config
	Logger       *slog.Logger
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Chat continues the conversation in history with a plain completion.
func (r *Router) Chat(ctx context.Context, history []Message, sampling *clients.Sampling) (string, error) {
	llm := r.LLM
	if sampling != nil && r.WithSampling != nil {
		llm = r.WithSampling(*sampling)
	}
	return llm.Complete(ctx, toMessageContent(history))
}

// WebSearch runs a single search and answers from its results. The answer
// ends with a "### Sources" list of the result URLs.
func (r *Router) WebSearch(ctx context.Context, query string) (string, error) {
	resp, err := r.Search.Search(ctx, query, 1, false)
	if err != nil {
		return "", &research.UpstreamError{Service: "search", Err: err}
	}
	if resp == nil {
		resp = &research.SearchResponse{Query: query}
	}

	formatted, err := research.DeduplicateAndFormatSources(resp, r.tokenBudget(), false)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("IMPORTANT INSTRUCTIONS:\n%s\n\nQuestion: %s\n\n%s", webSearchInstructions, query, formatted)
	answer, err := r.LLM.Complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", &research.UpstreamError{Service: "completion", Err: err}
	}

	urls := make([]string, 0, len(resp.Results))
	for _, res := range resp.Results {
		urls = append(urls, res.URL)
	}
	return fmt.Sprintf("%s\n\n### Sources\n%s", strings.TrimSpace(answer), strings.Join(urls, "\n")), nil
}

// DeepResearch runs the iterative research loop on topic.
func (r *Router) DeepResearch(ctx context.Context, topic string) (string, error) {
	engine := research.NewEngine(r.Research, r.LLM, r.Search)
	engine.Logger = r.logger().With("mode", string(ModeDeepResearch))
	return engine.Run(ctx, topic)
}

func (r *Router) tokenBudget() int {
	if r.Research.TokenBudget > 0 {
		return r.Research.TokenBudget
	}
	return research.DefaultTokenBudget
}

func toMessageContent(history []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == "model" {
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}
