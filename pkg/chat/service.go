package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/metrics"
)

const (
	appName   = "deep-research"
	agentName = "document_assistant"
	userID    = "user" // Single user for now
)

const agentInstruction = `You are a helpful assistant answering questions about the user's uploaded documents.
ALWAYS use the search_content tool first and answer with the retrieved passages in mind.
If the passages do not contain the answer, say so instead of guessing.`

type Service struct {
	config *config.Config
	DB     *database.PostgresDB
	Client *genai.Client
	Agent  agent.Agent
	Router *Router
	Tools  *RagToolset
}

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Mode           Mode      `json:"mode"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamEvent represents a single event in the chat stream
type StreamEvent struct {
	Type    string      `json:"type"` // "status", "content", "tool_call", "tool_result", "error", "done"
	Payload interface{} `json:"payload"`
}

// SendOptions selects the mode of one chat turn. Sampling overrides the
// configured generation parameters for ModeChat only.
type SendOptions struct {
	Mode     Mode
	Sampling *clients.Sampling
}

func NewService(ctx context.Context, db *database.PostgresDB, cfg *config.Config, router *Router, ragTools *RagToolset) (*Service, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GoogleApiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	modelClient, err := gemini.NewModel(ctx, cfg.AgentModel, &genai.ClientConfig{
		APIKey: cfg.GoogleApiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	docAgent, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       modelClient,
		Description: "Answers questions from uploaded documents.",
		Instruction: agentInstruction,
		Toolsets:    []tool.Toolset{ragTools},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return &Service{
		config: cfg,
		DB:     db,
		Client: client,
		Agent:  docAgent,
		Router: router,
		Tools:  ragTools,
	}, nil
}

func (s *Service) CreateConversation(ctx context.Context) (*Conversation, error) {
	query := `INSERT INTO conversations (id) VALUES ($1) RETURNING id, title, created_at, updated_at`

	conv := &Conversation{}
	err := s.DB.Pool.QueryRow(ctx, query, uuid.New()).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]Conversation, error) {
	query := `SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Service) GetHistory(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	query := `SELECT id, conversation_id, role, mode, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`
	rows, err := s.DB.Pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Mode, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Service) saveMessage(ctx context.Context, conversationID uuid.UUID, role string, mode Mode, content string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.DB.Pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, mode, content) VALUES ($1, $2, $3, $4, $5)`,
		id, conversationID, role, string(mode), content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save %s message: %w", role, err)
	}
	return id, nil
}

// SendMessage stores the user's message and answers it in the requested mode.
// The answer is streamed; it is stored once the stream completes without error.
func (s *Service) SendMessage(ctx context.Context, conversationID uuid.UUID, content string, opts SendOptions) (iter.Seq2[StreamEvent, error], error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("message content is empty")
	}
	if opts.Mode == "" {
		opts.Mode = ModeChat
	}
	metrics.ChatMessages.WithLabelValues(string(opts.Mode)).Inc()

	userMsgID, err := s.saveMessage(ctx, conversationID, "user", opts.Mode, content)
	if err != nil {
		return nil, err
	}

	history, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	var answer iter.Seq2[StreamEvent, error]
	switch opts.Mode {
	case ModeRAG:
		answer, err = s.runAgent(ctx, conversationID, userMsgID, history, content)
		if err != nil {
			return nil, err
		}
	default:
		answer = s.route(ctx, history, content, opts)
	}

	return func(yield func(StreamEvent, error) bool) {
		var finalResponse strings.Builder
		for event, err := range answer {
			if err != nil {
				slog.Error("Chat turn failed", "conversation_id", conversationID, "mode", opts.Mode, "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			if event.Type == "content" {
				if text, ok := event.Payload.(string); ok {
					finalResponse.WriteString(text)
				}
			}
			if !yield(event, nil) {
				return
			}
		}

		if _, err := s.saveMessage(ctx, conversationID, "model", opts.Mode, finalResponse.String()); err != nil {
			slog.Error("Failed to save model message", "error", err)
		} else {
			_, _ = s.DB.Pool.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
		}

		yield(StreamEvent{Type: "done", Payload: "done"}, nil)

		// Generate title async (fire and forget)
		if len(history) <= 2 {
			go s.generateTitle(conversationID, content, finalResponse.String())
		}
	}, nil
}

// route answers the single-shot modes as one content event.
func (s *Service) route(ctx context.Context, history []Message, content string, opts SendOptions) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		var (
			text string
			err  error
		)
		switch opts.Mode {
		case ModeWebSearch:
			if !yield(StreamEvent{Type: "status", Payload: "searching the web"}, nil) {
				return
			}
			text, err = s.Router.WebSearch(ctx, content)
		case ModeDeepResearch:
			if !yield(StreamEvent{Type: "status", Payload: "researching"}, nil) {
				return
			}
			text, err = s.Router.DeepResearch(ctx, content)
		default:
			text, err = s.Router.Chat(ctx, history, opts.Sampling)
		}
		if err != nil {
			yield(StreamEvent{}, err)
			return
		}
		yield(StreamEvent{Type: "content", Payload: text}, nil)
	}
}

// runAgent answers from the indexed documents with the ADK agent, replaying
// earlier turns into a fresh in-memory session.
func (s *Service) runAgent(ctx context.Context, conversationID, userMsgID uuid.UUID, history []Message, content string) (iter.Seq2[StreamEvent, error], error) {
	sessionSvc := session.InMemoryService()
	sessionID := conversationID.String()

	createRes, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	for _, msg := range history {
		if msg.ID == userMsgID {
			continue
		}

		role, author := "user", "user"
		if msg.Role == "model" {
			role, author = "model", agentName
		}

		evt := session.NewEvent(uuid.NewString())
		evt.Author = author
		evt.LLMResponse = model.LLMResponse{
			Content: genai.NewContentFromText(msg.Content, genai.Role(role)),
		}
		if err := sessionSvc.AppendEvent(ctx, createRes.Session, evt); err != nil {
			return nil, fmt.Errorf("failed to replay history: %w", err)
		}
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          s.Agent,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := genai.NewContentFromText(content, genai.RoleUser)

	return func(yield func(StreamEvent, error) bool) {
		slog.Info("Starting agent run", "conversation_id", conversationID)
		runCfg := agent.RunConfig{
			StreamingMode: agent.StreamingModeSSE,
		}

		for event, err := range r.Run(ctx, userID, sessionID, userContent, runCfg) {
			if err != nil {
				yield(StreamEvent{}, err)
				return
			}
			if event.LLMResponse.Content == nil {
				continue
			}
			for _, part := range event.LLMResponse.Content.Parts {
				if part.Text != "" {
					if !yield(StreamEvent{Type: "content", Payload: part.Text}, nil) {
						return
					}
				}
				if part.FunctionCall != nil {
					slog.Info("Agent tool call", "tool", part.FunctionCall.Name)
					if !yield(StreamEvent{Type: "tool_call", Payload: part.FunctionCall}, nil) {
						return
					}
				}
				if part.FunctionResponse != nil {
					if !yield(StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}, nil) {
						return
					}
				}
			}
		}
		slog.Info("Agent run completed", "conversation_id", conversationID)
	}, nil
}

func (s *Service) generateTitle(convID uuid.UUID, userMsg, modelMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prompt := fmt.Sprintf("Generate a short, concise title (max 5 words) for this chat conversation:\nUser: %s\nModel: %s", userMsg, truncate(modelMsg, 2000))

	returnSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {Type: genai.TypeString},
		},
		Required: []string{"title"},
	}

	resp, err := s.Client.Models.GenerateContent(ctx, s.config.AgentModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   returnSchema,
	})
	if err != nil {
		slog.Warn("Title generation failed", "error", err)
		return
	}

	var respData struct {
		Title string `json:"title"`
	}
	rawJSON := resp.Text()
	if err := json.Unmarshal([]byte(rawJSON), &respData); err != nil {
		slog.Error("Failed to unmarshal title generation response", "error", err, "raw_json", rawJSON)
		return
	}

	if respData.Title != "" {
		if _, err := s.DB.Pool.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, convID, respData.Title); err != nil {
			slog.Error("Failed to update conversation title", "error", err)
		}
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
