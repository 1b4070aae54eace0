package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Attention Is
      All You Need</title>
    <summary>  The dominant sequence transduction models...  </summary>
    <published>2017-06-12T17:57:34Z</published>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <title>No PDF</title>
    <summary>abstract only</summary>
    <link href="http://arxiv.org/abs/0000.00000" rel="alternate" type="text/html"/>
  </entry>
</feed>`

func TestArxivSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("search_query"); q != "all:transformers" {
			t.Errorf("search_query = %q", q)
		}
		if n := r.URL.Query().Get("max_results"); n != "2" {
			t.Errorf("max_results = %q", n)
		}
		w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	a := NewArxiv(nil)
	a.BaseURL = srv.URL

	resp, err := a.Search(context.Background(), "transformers", 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}

	first := resp.Results[0]
	if first.Title != "Attention Is All You Need" {
		t.Errorf("title = %q", first.Title)
	}
	if first.URL != "http://arxiv.org/pdf/1706.03762v7" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Content != "The dominant sequence transduction models..." {
		t.Errorf("content = %q", first.Content)
	}
	if first.RawContent != nil {
		t.Error("raw content should be nil without a scraper")
	}
	if resp.Results[1].URL != "http://arxiv.org/abs/0000.00000" {
		t.Errorf("fallback url = %q", resp.Results[1].URL)
	}
}

func TestArxivScrapesRawContent(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML))
	}))
	defer feed.Close()

	ocr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Document struct {
				URL string `json:"document_url"`
			} `json:"document"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if !strings.HasPrefix(body.Document.URL, "https://") {
			t.Errorf("document url = %q, want https", body.Document.URL)
		}
		if strings.Contains(body.Document.URL, "0000.00000") {
			http.Error(w, "not a pdf", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"pages":[{"index":0,"markdown":"# Intro"},{"index":1,"markdown":"body"}]}`))
	}))
	defer ocr.Close()

	scraper := NewPDFScraper("mistral")
	scraper.BaseURL = ocr.URL
	a := NewArxiv(scraper)
	a.BaseURL = feed.URL

	resp, err := a.Search(context.Background(), "transformers", 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := resp.Results[0].RawContent
	if raw == nil || *raw != "- Page 0 -\n# Intro\n\n- Page 1 -\nbody" {
		t.Errorf("raw content = %v", raw)
	}
	if resp.Results[1].RawContent != nil {
		t.Error("failed scrape should leave raw content nil")
	}
}

func TestNewSearchProvider(t *testing.T) {
	if p, err := NewSearchProvider("tavily", "k", nil); err != nil || p == nil {
		t.Errorf("tavily: %v", err)
	}
	if p, err := NewSearchProvider("arxiv", "", nil); err != nil || p == nil {
		t.Errorf("arxiv: %v", err)
	}
	if _, err := NewSearchProvider("bing", "", nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
