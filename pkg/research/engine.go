package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

type ResearchEngine struct {
	Config        Config
	LLM           Completer
	Search        SearchProvider
	Logger        *slog.Logger
	OnStateUpdate func(state ResearchState)
}

func NewEngine(cfg Config, llm Completer, search SearchProvider) *ResearchEngine {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if cfg.MaxLoops < 0 {
		cfg.MaxLoops = 0
	}
	return &ResearchEngine{
		Config: cfg,
		LLM:    llm,
		Search: search,
		Logger: slog.Default(),
	}
}

// Run drives one research run for topic and returns the final report.
// Any failure aborts the run; no partial report is returned.
func (e *ResearchEngine) Run(ctx context.Context, topic string) (string, error) {
	state := &ResearchState{Topic: topic, Stage: StageGeneratingQuery}
	e.Logger.Info("Starting research loop", "topic", topic, "max_loops", e.Config.MaxLoops)
	e.notify(state)

	for state.Stage != StageDone {
		if err := ctx.Err(); err != nil {
			metrics.ResearchRuns.WithLabelValues("cancelled").Inc()
			return "", fmt.Errorf("research cancelled while %s: %w", state.Stage, err)
		}

		stage := state.Stage
		start := time.Now()

		var (
			update StateUpdate
			next   Stage
			err    error
		)
		switch stage {
		case StageGeneratingQuery:
			update, next, err = e.generateQuery(ctx, state)
		case StageSearching:
			update, next, err = e.webResearch(ctx, state)
		case StageSummarizing:
			update, next, err = e.summarizeSources(ctx, state)
		case StageReflecting:
			update, next, err = e.reflectOnSummary(ctx, state)
		case StageFinalizing:
			update, next, err = e.finalizeSummary(state)
		default:
			err = fmt.Errorf("unknown research stage %d", stage)
		}
		metrics.StageDuration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.ResearchRuns.WithLabelValues("failed").Inc()
			e.Logger.Error("Research stage failed", "stage", stage.String(), "error", err)
			return "", err
		}

		state.Apply(update)
		state.Stage = next
		e.notify(state)
	}

	metrics.ResearchRuns.WithLabelValues("completed").Inc()
	metrics.ResearchIterations.Observe(float64(state.LoopCount))
	e.Logger.Info("Final report generated", "iterations", state.LoopCount)
	return *state.RunningSummary, nil
}

func (e *ResearchEngine) notify(state *ResearchState) {
	if e.OnStateUpdate != nil {
		e.OnStateUpdate(state.Snapshot())
	}
}

// --- Stage Implementations ---

func (e *ResearchEngine) generateQuery(ctx context.Context, s *ResearchState) (StateUpdate, Stage, error) {
	e.Logger.Info("Generating search query")

	content, err := e.complete(ctx, queryWriterPrompt(s.Topic))
	if err != nil {
		return StateUpdate{}, 0, err
	}

	var resp queryResponse
	if err := ExtractJSONBlock(content, &resp); err != nil {
		return StateUpdate{}, 0, &ParseError{Stage: StageGeneratingQuery, Raw: content, Err: err}
	}
	query := strings.TrimSpace(resp.Query)
	if query == "" {
		return StateUpdate{}, 0, &ParseError{Stage: StageGeneratingQuery, Raw: content, Err: errors.New("missing query field")}
	}

	e.Logger.Info("Generated query", "query", query, "aspect", resp.Aspect)
	return StateUpdate{CurrentQuery: &query}, StageSearching, nil
}

func (e *ResearchEngine) webResearch(ctx context.Context, s *ResearchState) (StateUpdate, Stage, error) {
	e.Logger.Info("Searching the web", "query", s.CurrentQuery, "iteration", s.LoopCount+1)

	resp, err := e.Search.Search(ctx, s.CurrentQuery, 1, e.Config.FetchFullPage)
	if err != nil {
		return StateUpdate{}, 0, &UpstreamError{Service: "search", Err: err}
	}
	if resp == nil {
		resp = &SearchResponse{Query: s.CurrentQuery}
	}

	formatted, err := DeduplicateAndFormatSources(resp, e.Config.TokenBudget, e.Config.FetchFullPage)
	if err != nil {
		return StateUpdate{}, 0, err
	}

	e.Logger.Info("Search complete", "results", len(resp.Results))
	return StateUpdate{
		SearchResults: []string{formatted},
		Sources:       []string{FormatSources(*resp)},
		LoopIncrement: 1,
	}, StageSummarizing, nil
}

func (e *ResearchEngine) summarizeSources(ctx context.Context, s *ResearchState) (StateUpdate, Stage, error) {
	latest := s.SearchResultsHistory[len(s.SearchResultsHistory)-1]

	var prompt string
	if s.RunningSummary == nil {
		e.Logger.Info("Creating summary")
		prompt = newSummaryPrompt(s.Topic, latest)
	} else {
		e.Logger.Info("Extending summary", "current_length", len(*s.RunningSummary))
		prompt = extendSummaryPrompt(s.Topic, *s.RunningSummary, latest)
	}

	summary, err := e.complete(ctx, prompt)
	if err != nil {
		return StateUpdate{}, 0, err
	}
	return StateUpdate{RunningSummary: &summary}, StageReflecting, nil
}

func (e *ResearchEngine) reflectOnSummary(ctx context.Context, s *ResearchState) (StateUpdate, Stage, error) {
	e.Logger.Info("Reflecting on summary")

	content, err := e.complete(ctx, reflectionPrompt(s.Topic, *s.RunningSummary))
	if err != nil {
		return StateUpdate{}, 0, err
	}

	var resp reflectionResponse
	if err := ExtractJSONBlock(content, &resp); err != nil {
		return StateUpdate{}, 0, &ParseError{Stage: StageReflecting, Raw: content, Err: err}
	}
	query := strings.TrimSpace(resp.FollowUpQuery)
	if query == "" {
		return StateUpdate{}, 0, &ParseError{Stage: StageReflecting, Raw: content, Err: errors.New("missing follow_up_query field")}
	}

	e.Logger.Info("Knowledge gap identified", "gap", resp.KnowledgeGap, "follow_up", query)
	return StateUpdate{CurrentQuery: &query}, e.route(s), nil
}

// route decides whether to search again. The comparison is inclusive, so a
// run performs MaxLoops+1 searches before finalizing.
func (e *ResearchEngine) route(s *ResearchState) Stage {
	if s.LoopCount <= e.Config.MaxLoops {
		return StageSearching
	}
	return StageFinalizing
}

func (e *ResearchEngine) finalizeSummary(s *ResearchState) (StateUpdate, Stage, error) {
	e.Logger.Info("Compiling final report", "sources", len(s.SourcesGathered))

	summary := ""
	if s.RunningSummary != nil {
		summary = *s.RunningSummary
	}
	report := FinalReport(summary, s.SourcesGathered)
	return StateUpdate{RunningSummary: &report}, StageDone, nil
}

func (e *ResearchEngine) complete(ctx context.Context, prompt string) (string, error) {
	content, err := e.LLM.Complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", &UpstreamError{Service: "completion", Err: err}
	}
	return strings.TrimSpace(content), nil
}
