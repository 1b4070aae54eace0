package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const mistralOCRURL = "https://api.mistral.ai/v1/ocr"

type PdfScrapeResponsePage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type OcrResponse struct {
	Pages []PdfScrapeResponsePage `json:"pages"`
}

// PDFScraper extracts the text of a PDF through the Mistral OCR API.
type PDFScraper struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

func NewPDFScraper(apiKey string) *PDFScraper {
	return &PDFScraper{APIKey: apiKey, BaseURL: mistralOCRURL, client: &http.Client{Timeout: 2 * time.Minute}}
}

// ScrapePDF returns the markdown of every page of the document at url.
func (s *PDFScraper) ScrapePDF(ctx context.Context, url string) (string, error) {
	if s.APIKey == "" {
		return "", fmt.Errorf("MISTRAL_API_KEY is not set")
	}
	url = strings.Replace(url, "http://", "https://", 1)

	slog.Info("Scraping PDF", "url", url)

	reqBody := map[string]interface{}{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": url,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var ocrResponse OcrResponse
	if err := json.Unmarshal(body, &ocrResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	for _, page := range ocrResponse.Pages {
		sb.WriteString(fmt.Sprintf("- Page %d -\n", page.Index))
		sb.WriteString(page.Markdown)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
