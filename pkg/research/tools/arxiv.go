package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const arxivURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches arXiv papers. Raw content, when requested, is the OCR'd PDF.
type Arxiv struct {
	BaseURL string
	Scraper *PDFScraper
	Logger  *slog.Logger
	client  *http.Client
}

func NewArxiv(scraper *PDFScraper) *Arxiv {
	return &Arxiv{BaseURL: arxivURL, Scraper: scraper, Logger: slog.Default(), client: &http.Client{Timeout: 30 * time.Second}}
}

// WithLogger returns a copy of a that logs to logger.
func (a *Arxiv) WithLogger(logger *slog.Logger) research.SearchProvider {
	out := *a
	out.Logger = logger
	return &out
}

func (a *Arxiv) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Arxiv) Search(ctx context.Context, query string, maxResults int, includeRawContent bool) (*research.SearchResponse, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := a.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to create request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv: API returned non-200 status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: failed to unmarshal XML: %w", err)
	}

	out := &research.SearchResponse{Query: query}
	for _, entry := range feed.Entry {
		result := research.SearchResult{
			Title:   strings.Join(strings.Fields(entry.Title), " "),
			URL:     entryURL(entry),
			Content: strings.TrimSpace(entry.Summary),
		}
		if includeRawContent && a.Scraper != nil && result.URL != "" {
			text, err := a.Scraper.ScrapePDF(ctx, result.URL)
			if err != nil {
				a.logger().Warn("Failed to scrape, leaving raw content empty", "url", result.URL, "error", err)
			} else {
				result.RawContent = &text
			}
		}
		out.Results = append(out.Results, result)
	}

	a.logger().Info("Arxiv search complete", "query", query, "results", len(out.Results))
	return out, nil
}

// entryURL prefers the PDF link and falls back to the abstract page.
func entryURL(entry ArxivEntry) string {
	for _, link := range entry.Link {
		if link.Type == "application/pdf" {
			return link.Href
		}
	}
	if len(entry.Link) > 0 {
		return entry.Link[0].Href
	}
	return ""
}
