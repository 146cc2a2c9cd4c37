package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	middleware "github.com/knowbase/knowbase/internal/api/middlewares"
	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
	"github.com/knowbase/knowbase/internal/training"
)

type TrainingHandler struct {
	dbclient core.DbClient
	queue    training.JobQueue
	logger   logging.Logger
}

func NewTrainingHandler(dbclient core.DbClient, queue training.JobQueue, logger logging.Logger) *TrainingHandler {
	return &TrainingHandler{dbclient: dbclient, queue: queue, logger: logger.With("component", "train-api")}
}

type trainRequest struct {
	// SourceIDs empty or absent trains every trainable source of the
	// organization.
	SourceIDs []string `json:"source_ids"`
}

// Train creates a pending training job and hands it to the background
// worker. The response returns immediately with the job id; progress
// is polled through JobStatus.
func (h *TrainingHandler) Train(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	userID := middleware.UserID(r.Context())

	var req trainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}

	sources, err := h.dbclient.ListTrainableSources(r.Context(), orgID, req.SourceIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(sources) == 0 {
		http.Error(w, "no trainable sources", http.StatusBadRequest)
		return
	}

	job := &models.TrainingJob{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		InitiatedBy:    userID,
		Status:         models.JobStatusPending,
		TotalSources:   len(sources),
	}
	if err := h.dbclient.CreateTrainingJob(r.Context(), job); err != nil {
		h.logger.Error("job insert failed", "error", err)
		http.Error(w, "failed to create training job", http.StatusInternalServerError)
		return
	}

	if err := h.queue.Enqueue(r.Context(), training.Job{
		ID:        job.ID,
		OrgID:     orgID,
		UserID:    userID,
		SourceIDs: req.SourceIDs,
	}); err != nil {
		h.logger.Error("enqueue failed", "job_id", job.ID, "error", err)
		http.Error(w, "failed to enqueue training job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (h *TrainingHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	jobID := chi.URLParam(r, "job_id")

	job, err := h.dbclient.GetTrainingJob(r.Context(), orgID, jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}
