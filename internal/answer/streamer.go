// Package answer turns a chat message into an ordered event stream:
// persist, optionally rewrite, embed, retrieve, generate, persist the
// answer, with token usage recorded along the way.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/embed"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
	"github.com/knowbase/knowbase/internal/retrieval"
)

const maxChatTitleRunes = 50

// Store is the persistence surface the streamer needs. Satisfied by
// core.DbClient.
type Store interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, orgID, id string) (*models.Chat, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	RecordTokenUsage(ctx context.Context, usage *models.TokenUsage) error
}

// Embedder embeds the (possibly rewritten) query.
type Embedder interface {
	Embed(ctx context.Context, text, orgID, userID string) ([]float32, error)
}

// Retriever builds the grounding context for a query embedding.
type Retriever interface {
	Retrieve(ctx context.Context, orgID, sourceID string, queryVec []float32) (*retrieval.ContextSet, error)
}

// Config tunes the streamer.
type Config struct {
	GenModel         string
	Temperature      float32
	HistoryWindow    int
	OptimizeMaxChars int

	// PersistPartialAnswers commits accumulated answer text when the
	// stream fails mid-generation. Off by default so a half answer
	// never pollutes the transcript.
	PersistPartialAnswers bool
}

// Request identifies one question. An empty ChatID starts a new chat;
// a non-empty SourceID restricts retrieval to that document.
type Request struct {
	OrgID    string
	UserID   string
	ChatID   string
	SourceID string
	Message  string
}

type Streamer struct {
	store     Store
	embedder  Embedder
	retriever Retriever
	llm       core.LLMProvider
	cfg       Config
	logger    logging.Logger
}

func NewStreamer(store Store, embedder Embedder, retriever Retriever, llm core.LLMProvider, cfg Config, logger logging.Logger) *Streamer {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.OptimizeMaxChars <= 0 {
		cfg.OptimizeMaxChars = 300
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.4
	}
	return &Streamer{
		store:     store,
		embedder:  embedder,
		retriever: retriever,
		llm:       llm,
		cfg:       cfg,
		logger:    logger.With("component", "answer"),
	}
}

// Answer runs the full question-to-answer sequence, emitting events in
// order. Internal failures become a single error event and a nil
// return; a non-nil return means the emitter itself failed (client
// disconnected) and the stream is already dead.
func (s *Streamer) Answer(ctx context.Context, req Request, emit Emitter) error {
	chat, err := s.resolveChat(ctx, req)
	if err != nil {
		return s.fail(emit, err)
	}
	if err := emit.Emit(Event{Type: EventChatID, ChatID: chat.ID}); err != nil {
		return err
	}

	// History is captured before the new message is appended so the
	// question is not duplicated into its own context.
	history, err := s.store.RecentMessages(ctx, chat.ID, s.cfg.HistoryWindow)
	if err != nil {
		return s.fail(emit, fmt.Errorf("load history: %w", err))
	}

	if err := s.store.AddMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ChatID:         chat.ID,
		OrganizationID: req.OrgID,
		SenderUserID:   req.UserID,
		Role:           models.RoleUser,
		Content:        req.Message,
	}); err != nil {
		return s.fail(emit, fmt.Errorf("save message: %w", err))
	}
	if err := emit.Emit(Event{Type: EventStatus, Status: StatusMessageSaved}); err != nil {
		return err
	}

	query := req.Message
	if shouldOptimize(req.Message, s.cfg.OptimizeMaxChars) {
		if rewritten := s.optimizeQuery(ctx, req.Message); rewritten != "" && rewritten != req.Message {
			query = rewritten
			if err := emit.Emit(Event{Type: EventOptimizedQuery, Content: rewritten}); err != nil {
				return err
			}
		}
	}

	queryVec, err := s.embedder.Embed(ctx, query, req.OrgID, req.UserID)
	if err != nil {
		return s.fail(emit, fmt.Errorf("embed query: %w", err))
	}
	if err := emit.Emit(Event{Type: EventStatus, Status: StatusEmbeddingGenerated}); err != nil {
		return err
	}

	set, err := s.retriever.Retrieve(ctx, req.OrgID, req.SourceID, queryVec)
	if err != nil {
		return s.fail(emit, fmt.Errorf("retrieve context: %w", err))
	}
	if err := emit.Emit(sourcesEvent(set.Sources)); err != nil {
		return err
	}

	// With nothing retrieved the grounded answer is fixed; no model
	// call, so an empty knowledge base can never surface a provider
	// error.
	if !set.Found || len(set.Chunks) == 0 {
		if err := emit.Emit(Event{Type: EventResponse, Content: notFoundAnswer}); err != nil {
			return err
		}
		if err := s.persistAnswer(ctx, chat.ID, req.OrgID, notFoundAnswer); err != nil {
			return s.fail(emit, err)
		}
		return emit.Emit(Event{Type: EventStatus, Status: StatusReady})
	}

	var (
		answer  strings.Builder
		emitErr error
	)
	usage, genErr := s.llm.GenerateStream(ctx, systemPrompt(set), userPrompt(history, req.Message), s.cfg.Temperature,
		func(token string) error {
			answer.WriteString(token)
			if err := emit.Emit(Event{Type: EventResponse, Content: token}); err != nil {
				emitErr = err
				return err
			}
			return nil
		})
	if emitErr != nil {
		return emitErr
	}
	if genErr != nil {
		if answer.Len() > 0 && s.cfg.PersistPartialAnswers {
			if perr := s.persistAnswer(ctx, chat.ID, req.OrgID, answer.String()); perr != nil {
				s.logger.Error("failed to persist partial answer", "chat_id", chat.ID, "error", perr)
			}
		}
		return s.fail(emit, fmt.Errorf("generate answer: %w", genErr))
	}

	if err := s.persistAnswer(ctx, chat.ID, req.OrgID, answer.String()); err != nil {
		return s.fail(emit, err)
	}
	s.recordUsage(ctx, req, usage)

	return emit.Emit(Event{Type: EventStatus, Status: StatusReady})
}

// resolveChat loads the requested chat or starts a new one titled
// after the question.
func (s *Streamer) resolveChat(ctx context.Context, req Request) (*models.Chat, error) {
	if req.ChatID != "" {
		chat, err := s.store.GetChat(ctx, req.OrgID, req.ChatID)
		if err != nil {
			return nil, fmt.Errorf("load chat: %w", err)
		}
		if chat == nil {
			return nil, fmt.Errorf("chat not found: %s", req.ChatID)
		}
		return chat, nil
	}

	chat := &models.Chat{
		ID:             uuid.NewString(),
		OrganizationID: req.OrgID,
		UserID:         req.UserID,
		Title:          chatTitle(req.Message),
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// optimizeQuery asks the model for a retrieval-friendly rewrite. Any
// failure falls back to the original question.
func (s *Streamer) optimizeQuery(ctx context.Context, message string) string {
	rewritten, err := s.llm.Generate(ctx, optimizerSystemPrompt, message)
	if err != nil {
		s.logger.Warn("query optimization failed, using original", "error", err)
		return ""
	}
	return strings.TrimSpace(rewritten)
}

func (s *Streamer) persistAnswer(ctx context.Context, chatID, orgID, text string) error {
	if err := s.store.AddMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ChatID:         chatID,
		OrganizationID: orgID,
		Role:           models.RoleAssistant,
		Content:        text,
	}); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// recordUsage is best-effort; accounting never fails an answered
// question.
func (s *Streamer) recordUsage(ctx context.Context, req Request, usage *core.GenUsage) {
	if usage == nil {
		return
	}
	u := &models.TokenUsage{
		OrganizationID:        req.OrgID,
		UserID:                req.UserID,
		TotalPromptTokens:     int64(usage.PromptTokens),
		TotalCompletionTokens: int64(usage.CompletionTokens),
		TotalCost:             embed.Cost(s.cfg.GenModel, usage.PromptTokens, usage.CompletionTokens),
	}
	if err := s.store.RecordTokenUsage(ctx, u); err != nil {
		s.logger.Warn("failed to record token usage", "error", err)
	}
}

// fail reports an internal error as the stream's single terminal error
// event.
func (s *Streamer) fail(emit Emitter, cause error) error {
	s.logger.Error("answer stream failed", "error", cause)
	return emit.Emit(Event{Type: EventError, Error: cause.Error()})
}

func chatTitle(message string) string {
	title := strings.TrimSpace(message)
	runes := []rune(title)
	if len(runes) > maxChatTitleRunes {
		title = string(runes[:maxChatTitleRunes])
	}
	if title == "" {
		title = "New chat"
	}
	return title
}
