package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

const (
	jobTimeout  = 30 * time.Minute
	maxJobLoops = 20
)

var (
	ErrInvalidJob  = errors.New("invalid research job")
	ErrJobNotFound = errors.New("research job not found")
)

type Service struct {
	DB     *database.PostgresDB
	Cfg    research.Config
	LLM    research.Completer
	Search research.SearchProvider
	// Console receives a copy of every job log record when set.
	Console slog.Handler
}

func NewService(db *database.PostgresDB, cfg research.Config, llm research.Completer, search research.SearchProvider) *Service {
	return &Service{
		DB:     db,
		Cfg:    cfg,
		LLM:    llm,
		Search: search,
	}
}

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Status    string          `json:"status"`
	Report    *string         `json:"report,omitempty"`
	Error     *string         `json:"error,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Config    json.RawMessage `json:"config"`
}

type CreateJobRequest struct {
	Topic    string `json:"topic"`
	MaxLoops *int   `json:"max_loops,omitempty"`
}

// Validate trims the topic and checks the loop override.
func (r *CreateJobRequest) Validate() error {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidJob)
	}
	if r.MaxLoops != nil && (*r.MaxLoops < 0 || *r.MaxLoops > maxJobLoops) {
		return fmt.Errorf("%w: max_loops must be between 0 and %d", ErrInvalidJob, maxJobLoops)
	}
	return nil
}

// jobConfig applies the request overrides to the service defaults.
func (s *Service) jobConfig(req CreateJobRequest) research.Config {
	cfg := s.Cfg
	if req.MaxLoops != nil {
		cfg.MaxLoops = *req.MaxLoops
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = research.DefaultTokenBudget
	}
	return cfg
}

func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := s.jobConfig(req)

	configJSON, err := json.Marshal(map[string]interface{}{
		"max_loops":       cfg.MaxLoops,
		"token_budget":    cfg.TokenBudget,
		"fetch_full_page": cfg.FetchFullPage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job config: %w", err)
	}

	query := `
		INSERT INTO research_jobs (id, topic, status, config)
		VALUES ($1, $2, 'pending', $3)
		RETURNING id, topic, status, created_at, updated_at, config
	`

	job := &Job{}
	err = s.DB.Pool.QueryRow(ctx, query, uuid.New(), req.Topic, configJSON).Scan(
		&job.ID, &job.Topic, &job.Status, &job.CreatedAt, &job.UpdatedAt, &job.Config,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	go s.runWorker(job.ID, job.Topic, cfg)

	return job, nil
}

const jobColumns = `id, topic, status, report, error, state, created_at, updated_at, config`

func scanJob(row pgx.Row) (*Job, error) {
	job := &Job{}
	err := row.Scan(&job.ID, &job.Topic, &job.Status, &job.Report, &job.Error, &job.State, &job.CreatedAt, &job.UpdatedAt, &job.Config)
	return job, err
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := scanJob(s.DB.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.DB.Pool.Query(ctx, `SELECT `+jobColumns+` FROM research_jobs ORDER BY created_at DESC LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Service) jobLogger(jobID uuid.UUID) *slog.Logger {
	h := NewDBLogHandler(s.DB.Pool, jobID)
	h.Next = s.Console
	return slog.New(h).With("job_id", jobID.String())
}

// loggingSearch is implemented by providers that can log to a given logger.
type loggingSearch interface {
	WithLogger(*slog.Logger) research.SearchProvider
}

// jobSearch returns the search provider for one job, logging to logger when supported.
func (s *Service) jobSearch(logger *slog.Logger) research.SearchProvider {
	if ls, ok := s.Search.(loggingSearch); ok {
		return ls.WithLogger(logger)
	}
	return s.Search
}

func (s *Service) runWorker(jobID uuid.UUID, topic string, cfg research.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	_, _ = s.DB.Pool.Exec(ctx, "UPDATE research_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	dbLogger := s.jobLogger(jobID)

	engine := research.NewEngine(cfg, s.LLM, s.jobSearch(dbLogger))
	engine.Logger = dbLogger
	engine.OnStateUpdate = func(state research.ResearchState) {
		stateJSON, err := json.Marshal(state)
		if err != nil {
			dbLogger.Error("Failed to marshal state", "error", err)
			return
		}

		_, err = s.DB.Pool.Exec(context.WithoutCancel(ctx),
			"UPDATE research_jobs SET state = $2, updated_at = NOW() WHERE id = $1",
			jobID, stateJSON)
		if err != nil {
			dbLogger.Error("Failed to save state to DB", "error", err)
		}
	}

	report, err := engine.Run(ctx, topic)
	if err != nil {
		s.failJob(context.WithoutCancel(ctx), jobID, dbLogger, failureReason(err))
		return
	}

	_, err = s.DB.Pool.Exec(context.WithoutCancel(ctx),
		"UPDATE research_jobs SET status = 'completed', report = $2, updated_at = NOW() WHERE id = $1",
		jobID, report)
	if err != nil {
		dbLogger.Error("Failed to save final report to DB", "error", err)
	}
}

// failureReason turns an engine error into the message stored on the job.
func failureReason(err error) string {
	var perr *research.ParseError
	switch {
	case errors.As(err, &perr):
		return fmt.Sprintf("model output could not be parsed during %s: %q", perr.Stage, truncateRaw(perr.Raw))
	case errors.Is(err, context.DeadlineExceeded):
		return "research timed out"
	case errors.Is(err, context.Canceled):
		return "research was cancelled"
	case errors.Is(err, research.ErrUpstream):
		return fmt.Sprintf("upstream service failed: %v", err)
	default:
		return fmt.Sprintf("research failed: %v", err)
	}
}

// maxReasonRaw caps how much model output is kept in a stored failure reason.
const maxReasonRaw = 200

func truncateRaw(raw string) string {
	raw = strings.TrimSpace(raw)
	runes := []rune(raw)
	if len(runes) <= maxReasonRaw {
		return raw
	}
	return string(runes[:maxReasonRaw]) + "..."
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, logger *slog.Logger, reason string) {
	logger.Error(reason)

	_, err := s.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1",
		jobID, reason)
	if err != nil {
		logger.Error("Failed to mark job as failed", "error", err)
	}
}
