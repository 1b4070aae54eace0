package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// scriptedLLM answers each prompt kind from its own queue.
type scriptedLLM struct {
	queries     []string
	summaries   []string
	reflections []string

	prompts []string
	failOn  string
	err     error
}

func (s *scriptedLLM) Complete(_ context.Context, messages []llms.MessageContent) (string, error) {
	prompt := messages[len(messages)-1].Parts[0].(llms.TextContent).Text
	s.prompts = append(s.prompts, prompt)

	if s.failOn != "" && strings.Contains(prompt, s.failOn) {
		return "", s.err
	}

	switch {
	case strings.Contains(prompt, "Generate a query for web search"):
		return pop(&s.queries)
	case strings.Contains(prompt, "Identify a knowledge gap"):
		return pop(&s.reflections)
	case strings.Contains(prompt, "Generate a summary of these search results"),
		strings.Contains(prompt, "Extend the existing summary"):
		return pop(&s.summaries)
	}
	return "", errors.New("unexpected prompt")
}

func pop(list *[]string) (string, error) {
	if len(*list) == 0 {
		return "", errors.New("no scripted response available")
	}
	out := (*list)[0]
	if len(*list) > 1 {
		*list = (*list)[1:]
	}
	return out, nil
}

type fakeSearch struct {
	queries    []string
	includeRaw []bool
	err        error
}

func (f *fakeSearch) Search(_ context.Context, query string, maxResults int, includeRaw bool) (*SearchResponse, error) {
	f.queries = append(f.queries, query)
	f.includeRaw = append(f.includeRaw, includeRaw)
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.queries)
	raw := fmt.Sprintf("raw page %d", n)
	return &SearchResponse{Query: query, Results: []SearchResult{{
		Title:      fmt.Sprintf("Result %d", n),
		URL:        fmt.Sprintf("https://example.com/%d", n),
		Content:    fmt.Sprintf("snippet %d", n),
		RawContent: &raw,
	}}}, nil
}

func fenced(body string) string {
	return "Here is the JSON:\n```json\n" + body + "\n```"
}

func newTestEngine(maxLoops int, llm Completer, search SearchProvider) *ResearchEngine {
	e := NewEngine(Config{MaxLoops: maxLoops}, llm, search)
	e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return e
}

func defaultLLM() *scriptedLLM {
	return &scriptedLLM{
		queries:     []string{fenced(`{"query": "initial query", "aspect": "overview", "rationale": "start"}`)},
		summaries:   []string{"summary text"},
		reflections: []string{fenced(`{"knowledge_gap": "gap", "follow_up_query": "follow up"}`)},
	}
}

func TestRunPerformsMaxLoopsPlusOneSearches(t *testing.T) {
	tests := []struct {
		maxLoops     int
		wantSearches int
	}{
		{maxLoops: 4, wantSearches: 5},
		{maxLoops: 0, wantSearches: 1},
		{maxLoops: 1, wantSearches: 2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("max_loops_%d", tt.maxLoops), func(t *testing.T) {
			search := &fakeSearch{}
			engine := newTestEngine(tt.maxLoops, defaultLLM(), search)

			var last ResearchState
			engine.OnStateUpdate = func(s ResearchState) {
				assert.Equal(t, len(s.SearchResultsHistory), s.LoopCount)
				assert.Equal(t, len(s.SourcesGathered), s.LoopCount)
				last = s
			}

			_, err := engine.Run(context.Background(), "topic")
			require.NoError(t, err)

			assert.Len(t, search.queries, tt.wantSearches)
			assert.Equal(t, tt.wantSearches, last.LoopCount)
			assert.Len(t, last.SearchResultsHistory, tt.wantSearches)
			assert.Len(t, last.SourcesGathered, tt.wantSearches)
			assert.Equal(t, StageDone, last.Stage)
		})
	}
}

func TestRunUsesGeneratedThenFollowUpQueries(t *testing.T) {
	search := &fakeSearch{}
	llm := defaultLLM()
	llm.reflections = []string{
		fenced(`{"knowledge_gap": "a", "follow_up_query": "second"}`),
		fenced(`{"knowledge_gap": "b", "follow_up_query": "third"}`),
		fenced(`{"knowledge_gap": "c", "follow_up_query": "unused"}`),
	}

	_, err := newTestEngine(1, llm, search).Run(context.Background(), "topic")
	require.NoError(t, err)

	assert.Equal(t, []string{"initial query", "second"}, search.queries)
}

func TestRunCreatesThenExtendsSummary(t *testing.T) {
	llm := defaultLLM()
	llm.summaries = []string{"first summary", "second summary"}

	report, err := newTestEngine(1, llm, &fakeSearch{}).Run(context.Background(), "quantum error correction")
	require.NoError(t, err)

	var summaryPrompts []string
	for _, p := range llm.prompts {
		if strings.Contains(p, "summary of these search results") || strings.Contains(p, "Extend the existing summary") {
			summaryPrompts = append(summaryPrompts, p)
		}
	}
	require.Len(t, summaryPrompts, 2)

	assert.Contains(t, summaryPrompts[0], "Generate a summary of these search results")
	assert.NotContains(t, summaryPrompts[0], "Extend the existing summary")
	assert.Contains(t, summaryPrompts[0], "quantum error correction")
	assert.Contains(t, summaryPrompts[0], "Source: Result 1")

	assert.Contains(t, summaryPrompts[1], "Extend the existing summary: first summary")
	assert.Contains(t, summaryPrompts[1], "Source: Result 2")
	assert.NotContains(t, summaryPrompts[1], "Source: Result 1")

	assert.Contains(t, report, "second summary")
}

func TestRunFinalReport(t *testing.T) {
	llm := defaultLLM()
	llm.summaries = []string{"the findings"}

	report, err := newTestEngine(1, llm, &fakeSearch{}).Run(context.Background(), "topic")
	require.NoError(t, err)

	want := "## Summary\n\nthe findings\n\nSources:\n" +
		"* Result 1 : https://example.com/1\n" +
		"* Result 2 : https://example.com/2"
	assert.Equal(t, want, report)
}

func TestRunOmitsFullPageByDefault(t *testing.T) {
	search := &fakeSearch{}
	engine := newTestEngine(0, defaultLLM(), search)

	var last ResearchState
	engine.OnStateUpdate = func(s ResearchState) { last = s }

	_, err := engine.Run(context.Background(), "topic")
	require.NoError(t, err)

	require.Len(t, last.SearchResultsHistory, 1)
	assert.Contains(t, last.SearchResultsHistory[0], "Most relevant content from source: snippet 1")
	assert.NotContains(t, last.SearchResultsHistory[0], "Full source content")
	assert.NotContains(t, last.SearchResultsHistory[0], "raw page 1")
	assert.Equal(t, []bool{false}, search.includeRaw)
}

func TestRunFetchFullPage(t *testing.T) {
	search := &fakeSearch{}
	engine := newTestEngine(0, defaultLLM(), search)
	engine.Config.FetchFullPage = true

	var last ResearchState
	engine.OnStateUpdate = func(s ResearchState) { last = s }

	_, err := engine.Run(context.Background(), "topic")
	require.NoError(t, err)

	require.Len(t, last.SearchResultsHistory, 1)
	assert.Contains(t, last.SearchResultsHistory[0], "Full source content limited to 1000 tokens: raw page 1")
	assert.Equal(t, []bool{true}, search.includeRaw)
}

func TestFinalReportShape(t *testing.T) {
	out := FinalReport("X", []string{"* A : u1", "* B : u2"})

	summaryAt := strings.Index(out, "## Summary")
	xAt := strings.Index(out, "X")
	sourcesAt := strings.Index(out, "Sources:")
	citationsAt := strings.Index(out, "* A : u1\n* B : u2")

	require.True(t, summaryAt >= 0 && xAt >= 0 && sourcesAt >= 0 && citationsAt >= 0, out)
	assert.True(t, summaryAt < xAt && xAt < sourcesAt && sourcesAt < citationsAt, out)
}

func TestRunQueryParseFailure(t *testing.T) {
	search := &fakeSearch{}
	llm := defaultLLM()
	llm.queries = []string{"You should search for the history of the printing press."}

	report, err := newTestEngine(4, llm, search).Run(context.Background(), "topic")

	require.ErrorIs(t, err, ErrQueryGenerationParse)
	assert.False(t, errors.Is(err, ErrReflectionParse))
	assert.Empty(t, report)
	assert.Empty(t, search.queries)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "You should search for the history of the printing press.", perr.Raw)
	assert.ErrorIs(t, err, ErrNoStructuredBlock)
}

func TestRunQueryMissingField(t *testing.T) {
	llm := defaultLLM()
	llm.queries = []string{fenced(`{"aspect": "x"}`)}

	_, err := newTestEngine(4, llm, &fakeSearch{}).Run(context.Background(), "topic")
	require.ErrorIs(t, err, ErrQueryGenerationParse)
}

func TestRunReflectionParseFailure(t *testing.T) {
	search := &fakeSearch{}
	llm := defaultLLM()
	llm.reflections = []string{"No gaps, the summary looks complete."}

	report, err := newTestEngine(4, llm, search).Run(context.Background(), "topic")

	require.ErrorIs(t, err, ErrReflectionParse)
	assert.Empty(t, report)
	assert.Len(t, search.queries, 1)
}

func TestRunPropagatesSearchError(t *testing.T) {
	quota := errors.New("quota exceeded")
	search := &fakeSearch{err: quota}

	report, err := newTestEngine(4, defaultLLM(), search).Run(context.Background(), "topic")

	require.ErrorIs(t, err, quota)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, report)

	var uerr *UpstreamError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "search", uerr.Service)
}

func TestRunPropagatesCompletionError(t *testing.T) {
	unavailable := errors.New("503 service unavailable")
	llm := defaultLLM()
	llm.failOn = "Identify a knowledge gap"
	llm.err = unavailable

	report, err := newTestEngine(4, llm, &fakeSearch{}).Run(context.Background(), "topic")

	require.ErrorIs(t, err, unavailable)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, report)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	search := &fakeSearch{}
	engine := newTestEngine(4, defaultLLM(), search)
	engine.OnStateUpdate = func(s ResearchState) {
		if s.LoopCount == 2 {
			cancel()
		}
	}

	report, err := engine.Run(ctx, "topic")

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report)
	assert.Len(t, search.queries, 2)
}

func TestStateApply(t *testing.T) {
	s := &ResearchState{Topic: "t"}
	q := "q1"
	s.Apply(StateUpdate{CurrentQuery: &q})
	s.Apply(StateUpdate{SearchResults: []string{"r1"}, Sources: []string{"s1"}, LoopIncrement: 1})
	s.Apply(StateUpdate{SearchResults: []string{"r2"}, Sources: []string{"s2"}, LoopIncrement: 1})

	sum := "summary"
	s.Apply(StateUpdate{RunningSummary: &sum})
	sum = "mutated after apply"

	assert.Equal(t, "q1", s.CurrentQuery)
	assert.Equal(t, []string{"r1", "r2"}, s.SearchResultsHistory)
	assert.Equal(t, []string{"s1", "s2"}, s.SourcesGathered)
	assert.Equal(t, 2, s.LoopCount)
	require.NotNil(t, s.RunningSummary)
	assert.Equal(t, "summary", *s.RunningSummary)

	snap := s.Snapshot()
	snap.SourcesGathered[0] = "changed"
	assert.Equal(t, "s1", s.SourcesGathered[0])
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "generating_query", StageGeneratingQuery.String())
	assert.Equal(t, "finalizing", StageFinalizing.String())
	assert.Equal(t, "unknown", Stage(99).String())
}

func TestStateJSONUsesStageNames(t *testing.T) {
	data, err := json.Marshal(ResearchState{Topic: "t", Stage: StageReflecting})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stage":"reflecting"`)
}
