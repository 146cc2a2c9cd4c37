package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/knowbase/knowbase/internal/api/middlewares"
	"github.com/knowbase/knowbase/internal/answer"
	"github.com/knowbase/knowbase/internal/api/sse"
	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

type ChatHandler struct {
	dbclient core.DbClient
	streamer *answer.Streamer
	logger   logging.Logger
}

func NewChatHandler(dbclient core.DbClient, streamer *answer.Streamer, logger logging.Logger) *ChatHandler {
	return &ChatHandler{dbclient: dbclient, streamer: streamer, logger: logger.With("component", "chat-api")}
}

type queryRequest struct {
	ChatID   string `json:"chat_id"`
	SourceID string `json:"source_id"`
	Message  string `json:"message"`
}

// Query streams the answer to one question as server-sent events.
func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	userID := middleware.UserID(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = h.streamer.Answer(r.Context(), answer.Request{
		OrgID:    orgID,
		UserID:   userID,
		ChatID:   req.ChatID,
		SourceID: req.SourceID,
		Message:  req.Message,
	}, answer.EmitterFunc(func(event answer.Event) error {
		return stream.Send(event)
	}))
	if err != nil {
		// The stream is already broken; nothing useful left to write.
		h.logger.Warn("client dropped answer stream", "error", err)
	}
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	userID := middleware.UserID(r.Context())

	chats, err := h.dbclient.ListChatsByUser(r.Context(), orgID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chats)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	chatID := chi.URLParam(r, "chat_id")

	chat, err := h.dbclient.GetChat(r.Context(), orgID, chatID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if chat == nil {
		http.Error(w, "chat not found", http.StatusNotFound)
		return
	}

	messages, err := h.dbclient.ListMessages(r.Context(), orgID, chatID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}
