package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const tavilyURL = "https://api.tavily.com/search"

// ErrRateLimited is returned when Tavily answers with HTTP 429.
var ErrRateLimited = errors.New("tavily: rate limited")

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey  string
	BaseURL string
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
	client *http.Client
}

func NewTavily(apiKey string) *Tavily {
	return &Tavily{APIKey: apiKey, BaseURL: tavilyURL, Logger: slog.Default(), client: &http.Client{Timeout: 30 * time.Second}}
}

// NewTavilyWithClient uses the supplied HTTP client, e.g. to override the timeout.
func NewTavilyWithClient(apiKey, baseURL string, client *http.Client) *Tavily {
	if baseURL == "" {
		baseURL = tavilyURL
	}
	return &Tavily{APIKey: apiKey, BaseURL: baseURL, Logger: slog.Default(), client: client}
}

// WithLogger returns a copy of t that logs to logger.
func (t *Tavily) WithLogger(logger *slog.Logger) research.SearchProvider {
	out := *t
	out.Logger = logger
	return &out
}

func (t *Tavily) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent *string `json:"raw_content"`
	} `json:"results"`
}

// Search posts a query to Tavily. A 429 is returned as ErrRateLimited
// without retrying; the caller decides whether to try again.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int, includeRawContent bool) (*research.SearchResponse, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	payload, err := json.Marshal(tavilyRequest{
		Query:             query,
		MaxResults:        maxResults,
		IncludeRawContent: includeRawContent,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tavily: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusTooManyRequests {
			t.logger().Warn("Tavily rate limited", "query", query)
			return nil, fmt.Errorf("%w: http %d: %s", ErrRateLimited, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("tavily: http %d: %s", resp.StatusCode, msg)
	}

	var raw tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tavily: failed to decode response: %w", err)
	}

	out := &research.SearchResponse{Query: query, Results: make([]research.SearchResult, 0, len(raw.Results))}
	for _, r := range raw.Results {
		out.Results = append(out.Results, research.SearchResult{
			Title:      r.Title,
			URL:        r.URL,
			Content:    r.Content,
			RawContent: r.RawContent,
		})
	}
	t.logger().Info("Tavily search complete", "query", query, "results", len(out.Results))
	return out, nil
}
