package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	middleware "github.com/knowbase/knowbase/internal/api/middlewares"
	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

const maxUploadBytes = 50 << 20

// allowedContentTypes is the document upload allow-list.
var allowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain":                true,
	"application/vnd.ms-excel":  true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

type SourceHandler struct {
	dbclient     core.DbClient
	objectclient core.ObjectClient
	logger       logging.Logger
}

func NewSourceHandler(dbclient core.DbClient, objectclient core.ObjectClient, logger logging.Logger) *SourceHandler {
	return &SourceHandler{dbclient: dbclient, objectclient: objectclient, logger: logger.With("component", "sources")}
}

// S3 uploads of large files can outlive the default request timeout.
func contextWithUploadTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Minute)
}

// Upload stores a document in object storage and registers it as a
// pending trainable source.
func (h *SourceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	userID := middleware.UserID(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowedContentTypes[contentType] {
		http.Error(w, fmt.Sprintf("file type %q not allowed", contentType), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Error(w, "could not read file", http.StatusBadRequest)
		return
	}

	// filepath.Base strips any path components smuggled into the name.
	cleanName := filepath.Base(header.Filename)
	sourceID := uuid.NewString()
	s3Key := fmt.Sprintf("%s/%s/%s", orgID, sourceID, cleanName)

	uploadCtx, cancel := contextWithUploadTimeout(r)
	defer cancel()

	if _, err := h.objectclient.UploadFile(uploadCtx, s3Key, data, contentType); err != nil {
		h.logger.Error("upload failed", "key", s3Key, "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	src := &models.Source{
		ID:             sourceID,
		OrganizationID: orgID,
		CreatedBy:      userID,
		Kind:           models.SourceKindDocument,
		Title:          cleanName,
		S3Key:          s3Key,
		ContentType:    contentType,
		Trainable:      true,
		Status:         models.SourceStatusPending,
	}
	if err := h.dbclient.CreateSource(uploadCtx, src); err != nil {
		h.logger.Error("source insert failed", "source_id", sourceID, "error", err)
		http.Error(w, "failed to store source metadata", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(src)
}

type registerURLRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// RegisterURL registers a web page as a pending trainable source. The
// page itself is fetched during training, not here.
func (h *SourceHandler) RegisterURL(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	userID := middleware.UserID(r.Context())

	var req registerURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}

	title := req.Title
	if title == "" {
		title = req.URL
	}

	src := &models.Source{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		CreatedBy:      userID,
		Kind:           models.SourceKindURL,
		Title:          title,
		URL:            req.URL,
		Trainable:      true,
		Status:         models.SourceStatusPending,
	}
	if err := h.dbclient.CreateSource(r.Context(), src); err != nil {
		h.logger.Error("source insert failed", "url", req.URL, "error", err)
		http.Error(w, "failed to store source metadata", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(src)
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())

	sources, err := h.dbclient.ListSourcesByOrg(r.Context(), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sources)
}

// Download answers with a short-lived presigned URL for a document
// source.
func (h *SourceHandler) Download(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	sourceID := chi.URLParam(r, "source_id")

	src, err := h.dbclient.GetSourceByID(r.Context(), orgID, sourceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if src == nil || src.S3Key == "" {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}

	presigned, expiresAt, err := h.objectclient.PresignURL(r.Context(), src.S3Key, 15*time.Minute)
	if err != nil {
		h.logger.Error("presign failed", "key", src.S3Key, "error", err)
		http.Error(w, "could not generate download url", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"url":        presigned,
		"expires_at": expiresAt,
	})
}
