package tools

import (
	"fmt"

	"github.com/mikeboe/deep-research/pkg/research"
)

// NewSearchProvider returns the named search backend ("tavily" or "arxiv").
func NewSearchProvider(name, tavilyKey string, scraper *PDFScraper) (research.SearchProvider, error) {
	switch name {
	case "", "tavily":
		return NewTavily(tavilyKey), nil
	case "arxiv":
		return NewArxiv(scraper), nil
	default:
		return nil, fmt.Errorf("unknown search provider: %s", name)
	}
}
