package research

import (
	"fmt"
	"log/slog"
	"strings"
)

// DeduplicateAndFormatSources flattens one or more result collections, keeps the
// first record seen for each URL and renders them as a single text block.
//
// input may be a SearchResponse, *SearchResponse, []SearchResult, a slice of
// responses, or a []any holding any of those. Any other shape fails with
// ErrInvalidInputShape.
//
// With fetchFullPage set, each source's raw content is appended, cut to roughly
// maxTokensPerSource tokens (4 characters per token).
func DeduplicateAndFormatSources(input any, maxTokensPerSource int, fetchFullPage bool) (string, error) {
	sources, err := flattenResults(input)
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool, len(sources))
	unique := make([]SearchResult, 0, len(sources))
	for _, s := range sources {
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		unique = append(unique, s)
	}

	var sb strings.Builder
	sb.WriteString("Sources:\n\n")
	for _, s := range unique {
		sb.WriteString(fmt.Sprintf("Source: %s\n===\n", s.Title))
		sb.WriteString(fmt.Sprintf("URL: %s\n===\n", s.URL))
		sb.WriteString(fmt.Sprintf("Most relevant content from source: %s\n===\n", s.Content))
		if fetchFullPage {
			raw := ""
			if s.RawContent == nil {
				slog.Warn("No raw content found for source", "url", s.URL)
			} else {
				raw = truncateChars(*s.RawContent, maxTokensPerSource*4)
			}
			sb.WriteString(fmt.Sprintf("Full source content limited to %d tokens: %s\n\n", maxTokensPerSource, raw))
		}
	}

	return strings.TrimSpace(sb.String()), nil
}

// FormatSources renders one collection as a "* title : url" bullet list.
// No deduplication is done here.
func FormatSources(resp SearchResponse) string {
	lines := make([]string, 0, len(resp.Results))
	for _, s := range resp.Results {
		lines = append(lines, fmt.Sprintf("* %s : %s", s.Title, s.URL))
	}
	return strings.Join(lines, "\n")
}

func flattenResults(input any) ([]SearchResult, error) {
	switch v := input.(type) {
	case SearchResponse:
		return v.Results, nil
	case *SearchResponse:
		if v == nil {
			return nil, ErrInvalidInputShape
		}
		return v.Results, nil
	case []SearchResult:
		return v, nil
	case []SearchResponse:
		var out []SearchResult
		for _, r := range v {
			out = append(out, r.Results...)
		}
		return out, nil
	case []*SearchResponse:
		var out []SearchResult
		for _, r := range v {
			if r == nil {
				return nil, ErrInvalidInputShape
			}
			out = append(out, r.Results...)
		}
		return out, nil
	case []any:
		var out []SearchResult
		for _, item := range v {
			if _, nested := item.([]any); nested {
				return nil, ErrInvalidInputShape
			}
			results, err := flattenResults(item)
			if err != nil {
				return nil, err
			}
			out = append(out, results...)
		}
		return out, nil
	default:
		return nil, ErrInvalidInputShape
	}
}

// truncateChars cuts s to limit runes and marks the cut. A negative limit
// counts as zero.
func truncateChars(s string, limit int) string {
	limit = max(limit, 0)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "... [truncated]"
}
