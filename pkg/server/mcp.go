package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/chat"
)

type deepResearchArgs struct {
	Topic string `json:"topic" jsonschema:"The research topic"`
}

// NewMCPServer exposes deep research and the document tools over MCP.
func NewMCPServer(h *Handler) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "deep-research-mcp",
		Version: "v1.0.0",
	}, nil)

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "deep_research",
		Description: "Research a topic with iterative web searches and return a summary with sources.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args deepResearchArgs) (*sdkmcp.CallToolResult, any, error) {
		if strings.TrimSpace(args.Topic) == "" {
			return toolResult("", errors.New("topic is required"))
		}
		return toolResult(h.Research.DeepResearch(ctx, args.Topic))
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "search_content",
		Description: "Search the indexed documents using semantic search.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args chat.SearchContentArgs) (*sdkmcp.CallToolResult, any, error) {
		resp, err := h.Tools.SearchContent(ctx, args)
		return toolResult(resp.Results, err)
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "find_content_by_source",
		Description: "Find all content for a specific source.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args chat.FindSourceArgs) (*sdkmcp.CallToolResult, any, error) {
		resp, err := h.Tools.FindContentBySource(ctx, args)
		return toolResult(resp.Content, err)
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "find_content_by_metadata",
		Description: "Find content using complex logical filters on metadata.",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, args chat.FindMetadataArgs) (*sdkmcp.CallToolResult, any, error) {
		resp, err := h.Tools.FindContentByMetadata(ctx, args)
		return toolResult(resp.Content, err)
	})

	return server
}

// NewStreamableHTTPHandler serves server over the streamable HTTP transport.
func NewStreamableHTTPHandler(server *sdkmcp.Server) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(r *http.Request) *sdkmcp.Server {
		return server
	}, nil)
}

// toolResult wraps text as a tool result. Failures become error results so the
// calling model sees the message.
func toolResult(text string, err error) (*sdkmcp.CallToolResult, any, error) {
	if err != nil {
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: err.Error()}},
			IsError: true,
		}, nil, nil
	}
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}, nil, nil
}
