package research

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// Config holds runtime configuration for a research run
type Config struct {
	MaxLoops    int
	TokenBudget int
	// FetchFullPage adds each source's raw page text, capped at TokenBudget,
	// to the search context. Off by default; snippets only.
	FetchFullPage bool
}

const (
	DefaultMaxLoops    = 4
	DefaultTokenBudget = 1000
)

// SearchResult is one source record returned by a search provider.
// RawContent is nil when the provider returned no full page text.
type SearchResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent *string `json:"raw_content,omitempty"`
}

// SearchResponse is one result collection from a single search call
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SearchProvider issues a single web search.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int, includeRawContent bool) (*SearchResponse, error)
}

// Completer sends role-tagged messages to a language model and returns the generated text.
type Completer interface {
	Complete(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// Stage names a step of the research loop
type Stage int

const (
	StageGeneratingQuery Stage = iota
	StageSearching
	StageSummarizing
	StageReflecting
	StageFinalizing
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageGeneratingQuery:
		return "generating_query"
	case StageSearching:
		return "searching"
	case StageSummarizing:
		return "summarizing"
	case StageReflecting:
		return "reflecting"
	case StageFinalizing:
		return "finalizing"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ResearchState tracks the progress of one research run.
//
// LoopCount always equals len(SearchResultsHistory), and SourcesGathered[i]
// lists the sources of SearchResultsHistory[i]. RunningSummary stays nil until
// the first summarization.
type ResearchState struct {
	Topic                string   `json:"topic"`
	CurrentQuery         string   `json:"current_query"`
	SearchResultsHistory []string `json:"search_results_history"`
	SourcesGathered      []string `json:"sources_gathered"`
	LoopCount            int      `json:"loop_count"`
	RunningSummary       *string  `json:"running_summary,omitempty"`
	Stage                Stage    `json:"stage"`
}

// StateUpdate is the partial result of a single stage.
// Nil pointer fields leave the state untouched.
type StateUpdate struct {
	CurrentQuery   *string
	SearchResults  []string
	Sources        []string
	LoopIncrement  int
	RunningSummary *string
}

// Apply merges an update into the state:
//   - CurrentQuery, RunningSummary: overwrite when set
//   - SearchResultsHistory, SourcesGathered: append
//   - LoopCount: add LoopIncrement
func (s *ResearchState) Apply(u StateUpdate) {
	if u.CurrentQuery != nil {
		s.CurrentQuery = *u.CurrentQuery
	}
	if u.RunningSummary != nil {
		summary := *u.RunningSummary
		s.RunningSummary = &summary
	}
	s.SearchResultsHistory = append(s.SearchResultsHistory, u.SearchResults...)
	s.SourcesGathered = append(s.SourcesGathered, u.Sources...)
	s.LoopCount += u.LoopIncrement
}

// Snapshot returns a deep copy safe to hand to observers.
func (s *ResearchState) Snapshot() ResearchState {
	out := *s
	out.SearchResultsHistory = append([]string(nil), s.SearchResultsHistory...)
	out.SourcesGathered = append([]string(nil), s.SourcesGathered...)
	if s.RunningSummary != nil {
		summary := *s.RunningSummary
		out.RunningSummary = &summary
	}
	return out
}

// queryResponse is the structured object requested during query generation
type queryResponse struct {
	Query     string `json:"query"`
	Aspect    string `json:"aspect"`
	Rationale string `json:"rationale"`
}

// reflectionResponse is the structured object requested during reflection
type reflectionResponse struct {
	KnowledgeGap  string `json:"knowledge_gap"`
	FollowUpQuery string `json:"follow_up_query"`
}
