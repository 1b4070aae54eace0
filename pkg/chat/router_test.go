package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research"
)

type recordingLLM struct {
	answer   string
	err      error
	messages []llms.MessageContent
}

func (r *recordingLLM) Complete(_ context.Context, messages []llms.MessageContent) (string, error) {
	r.messages = messages
	return r.answer, r.err
}

type stubSearch struct {
	resp    *research.SearchResponse
	err     error
	queries []string
	raw     []bool
}

func (s *stubSearch) Search(_ context.Context, query string, _ int, includeRaw bool) (*research.SearchResponse, error) {
	s.queries = append(s.queries, query)
	s.raw = append(s.raw, includeRaw)
	return s.resp, s.err
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeChat},
		{in: "chat", want: ModeChat},
		{in: " Web_Search ", want: ModeWebSearch},
		{in: "rag", want: ModeRAG},
		{in: "deep_research", want: ModeDeepResearch},
		{in: "telepathy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatMapsHistoryRoles(t *testing.T) {
	llm := &recordingLLM{answer: "hi there"}
	r := &Router{LLM: llm}

	out, err := r.Chat(context.Background(), []Message{
		{Role: "user", Content: "hello"},
		{Role: "model", Content: "hi"},
		{Role: "user", Content: "how are you"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)

	require.Len(t, llm.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, llm.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.messages[2].Role)
}

func TestChatUsesRequestSampling(t *testing.T) {
	base := &recordingLLM{answer: "default"}
	tuned := &recordingLLM{answer: "tuned"}
	var got clients.Sampling
	r := &Router{
		LLM: base,
		WithSampling: func(s clients.Sampling) research.Completer {
			got = s
			return tuned
		},
	}

	out, err := r.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, &clients.Sampling{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "tuned", out)
	assert.Equal(t, 0.2, got.Temperature)
	assert.Nil(t, base.messages)
}

func TestWebSearchAppendsSources(t *testing.T) {
	llm := &recordingLLM{answer: "  Go 1.22 added range over ints.  "}
	search := &stubSearch{resp: &research.SearchResponse{Results: []research.SearchResult{
		{Title: "Release notes", URL: "https://go.dev/doc/go1.22", Content: "range over int"},
	}}}
	r := &Router{LLM: llm, Search: search}

	out, err := r.WebSearch(context.Background(), "what is new in go 1.22")
	require.NoError(t, err)

	assert.Equal(t, "Go 1.22 added range over ints.\n\n### Sources\nhttps://go.dev/doc/go1.22", out)
	assert.Equal(t, []string{"what is new in go 1.22"}, search.queries)
	assert.Equal(t, []bool{false}, search.raw)

	require.Len(t, llm.messages, 1)
	prompt := llm.messages[0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, prompt, "IMPORTANT INSTRUCTIONS")
	assert.Contains(t, prompt, "Source: Release notes")
}

func TestWebSearchErrors(t *testing.T) {
	down := errors.New("connection refused")

	_, err := (&Router{LLM: &recordingLLM{}, Search: &stubSearch{err: down}}).WebSearch(context.Background(), "q")
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, err, research.ErrUpstream)

	_, err = (&Router{LLM: &recordingLLM{err: down}, Search: &stubSearch{}}).WebSearch(context.Background(), "q")
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, err, research.ErrUpstream)
}

func TestDeepResearchRunsEngine(t *testing.T) {
	llm := &recordingLLM{answer: "not json"}
	search := &stubSearch{}
	r := &Router{LLM: llm, Search: search, Research: research.Config{MaxLoops: 1}}

	_, err := r.DeepResearch(context.Background(), "topic")
	assert.ErrorIs(t, err, research.ErrQueryGenerationParse)
	assert.Empty(t, search.queries)
}
