package chat

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/splitter"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// Embedder turns text into vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// RagToolset is the document context provider: it indexes uploaded documents
// and exposes retrieval as agent tools.
type RagToolset struct {
	Embedder Embedder
	Store    *vectorstore.PGVectorStore
	config   config.RagConfig
}

func NewRagToolset(embedder Embedder, store *vectorstore.PGVectorStore, cfg config.RagConfig) *RagToolset {
	return &RagToolset{
		Embedder: embedder,
		Store:    store,
		config:   cfg,
	}
}

func (t *RagToolset) Name() string {
	return "rag_tools"
}

func (t *RagToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchContentArgs, SearchContentResp](
		functiontool.Config{
			Name:        "search_content",
			Description: "Search the uploaded documents for passages relevant to a query.",
		},
		t.searchContentTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	findBySourceTool, err := functiontool.New[FindSourceArgs, FindSourceResp](
		functiontool.Config{
			Name:        "find_content_by_source",
			Description: "Return the full indexed text of one uploaded document.",
		},
		t.findContentBySourceTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_source tool: %w", err)
	}

	findByMetadataTool, err := functiontool.New[FindMetadataArgs, FindMetadataResp](
		functiontool.Config{
			Name:        "find_content_by_metadata",
			Description: "Find document passages using logical filters on their metadata.",
		},
		t.findContentByMetadataTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_metadata tool: %w", err)
	}

	return []tool.Tool{searchTool, findBySourceTool, findByMetadataTool}, nil
}

// IndexDocument chunks, embeds and stores text under source.
// It returns the number of chunks written; an already indexed source is skipped.
func (t *RagToolset) IndexDocument(ctx context.Context, source, title, text string) (int, error) {
	exists, err := t.Store.HasSource(ctx, source)
	if err != nil {
		return 0, err
	}
	if exists {
		slog.Info("Document already indexed", "source", source)
		return 0, nil
	}

	chunks, err := splitter.NewRecursiveCharacterTextSplitter(t.config.ChunkSize, t.config.ChunkOverlap).SplitText(text)
	if err != nil {
		return 0, fmt.Errorf("failed to split text: %w", err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s has no text", source)
	}

	vectors, err := t.Embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	documents := buildDocuments(source, title, chunks, vectors)
	if err := t.Store.AddDocuments(ctx, documents); err != nil {
		return 0, fmt.Errorf("failed to add documents to vector store: %w", err)
	}

	slog.Info("Indexed document", "source", source, "chunks", len(documents))
	return len(documents), nil
}

// GenerateContext returns the contents of the chunks closest to query,
// separated by blank lines.
func (t *RagToolset) GenerateContext(ctx context.Context, query string) (string, error) {
	queryEmbedding, err := t.Embedder.EmbedText(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := t.Store.SimilaritySearch(ctx, queryEmbedding, t.config.TopK, "")
	if err != nil {
		return "", fmt.Errorf("failed to search: %w", err)
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Document.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

func buildDocuments(source, title string, chunks []string, vectors [][]float32) []vectorstore.Document {
	documents := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		documents[i] = vectorstore.Document{
			Content: chunk,
			Metadata: map[string]interface{}{
				"source": source,
				"title":  title,
				"chunk":  i,
			},
			Embedding: vectors[i],
		}
	}
	return documents
}

// --- Tool Implementations ---

type SearchContentArgs struct {
	Query  string `json:"query" description:"The search query"`
	TopK   int    `json:"topK,omitempty" description:"Number of results to return"`
	Source string `json:"source,omitempty" description:"Optional source filter"`
}

type SearchContentResp struct {
	Results string `json:"results"`
}

// Wrapper for ADK tool interface
func (t *RagToolset) searchContentTool(ctx tool.Context, args SearchContentArgs) (SearchContentResp, error) {
	return t.SearchContent(ctx, args)
}

func (t *RagToolset) SearchContent(ctx context.Context, args SearchContentArgs) (SearchContentResp, error) {
	if args.TopK <= 0 {
		args.TopK = t.config.TopK
	}
	slog.Info("Search content", "query", args.Query, "topK", args.TopK, "source", args.Source)

	queryEmbedding, err := t.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return SearchContentResp{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := t.Store.SimilaritySearch(ctx, queryEmbedding, args.TopK, args.Source)
	if err != nil {
		return SearchContentResp{}, fmt.Errorf("failed to search: %w", err)
	}

	docs := make([]vectorstore.Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, r.Document)
	}
	return SearchContentResp{Results: formatDocuments(docs, true)}, nil
}

type FindSourceArgs struct {
	Source string `json:"source" description:"The source to find content for"`
}

type FindSourceResp struct {
	Content string `json:"content"`
}

// Wrapper for ADK tool interface
func (t *RagToolset) findContentBySourceTool(ctx tool.Context, args FindSourceArgs) (FindSourceResp, error) {
	return t.FindContentBySource(ctx, args)
}

func (t *RagToolset) FindContentBySource(ctx context.Context, args FindSourceArgs) (FindSourceResp, error) {
	results, err := t.Store.GetContentBySource(ctx, args.Source)
	if err != nil {
		return FindSourceResp{}, fmt.Errorf("failed to find content: %w", err)
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return FindSourceResp{Content: strings.Join(parts, "\n\n")}, nil
}

type FindMetadataArgs struct {
	Filter map[string]interface{} `json:"filter" description:"JSON filter object with logical operators ($and, $or, $not)"`
}

type FindMetadataResp struct {
	Content string `json:"content"`
}

// Wrapper for ADK tool interface
func (t *RagToolset) findContentByMetadataTool(ctx tool.Context, args FindMetadataArgs) (FindMetadataResp, error) {
	return t.FindContentByMetadata(ctx, args)
}

func (t *RagToolset) FindContentByMetadata(ctx context.Context, args FindMetadataArgs) (FindMetadataResp, error) {
	results, err := t.Store.GetContentByMetadata(ctx, args.Filter)
	if err != nil {
		return FindMetadataResp{}, fmt.Errorf("failed to find content: %w", err)
	}
	return FindMetadataResp{Content: formatDocuments(results, false)}, nil
}

// formatDocuments renders chunks as "[key]: value" blocks. With withSource the
// source goes first and is not repeated among the other metadata.
func formatDocuments(docs []vectorstore.Document, withSource bool) string {
	blocks := make([]string, 0, len(docs))
	for _, doc := range docs {
		var sb strings.Builder
		if withSource {
			source := "unknown"
			if s, ok := doc.Metadata["source"].(string); ok {
				source = s
			}
			sb.WriteString(fmt.Sprintf("[Source]: %s\n", source))
		}
		sb.WriteString(fmt.Sprintf("[Content]: %s", doc.Content))
		for _, k := range slices.Sorted(maps.Keys(doc.Metadata)) {
			if withSource && k == "source" {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n[%s]: %v", k, doc.Metadata[k]))
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}

var _ Embedder = (*embeddings.GoogleEmbedder)(nil)
