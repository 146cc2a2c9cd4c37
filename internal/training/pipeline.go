// Package training implements the ingestion pipeline: extraction,
// chunking, embedding, relation building, and transactional storage,
// with per-source failure isolation.
package training

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knowbase/knowbase/internal/extract"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

// Store is the persistence surface the pipeline needs. Satisfied by
// core.DbClient.
type Store interface {
	ListTrainableSources(ctx context.Context, orgID string, ids []string) ([]models.Source, error)
	UpdateSourceStatus(ctx context.Context, id, status, errorMessage string) error
	ReplaceSourceChunks(ctx context.Context, sourceID string, chunks []models.Chunk, relations []models.ChunkRelation) error
	UpdateTrainingJobStatus(ctx context.Context, id, status, errorMessage string) error
	UpdateTrainingJobProgress(ctx context.Context, id, status string, totalChunks, completedSources int) error
}

// Extractor turns a source into normalized text.
type Extractor interface {
	ExtractSource(ctx context.Context, src models.Source) (string, error)
}

// Embedder embeds one text with retry and usage accounting.
type Embedder interface {
	Embed(ctx context.Context, text, orgID, userID string) ([]float32, error)
}

// Config tunes the pipeline.
type Config struct {
	ChunkWindow       int
	ChunkOverlap      int
	RelationThreshold float64
	EmbedModel        string
	EmbedConcurrency  int
}

// Job is one training run over a set of sources. An empty SourceIDs
// list means every trainable source of the organization.
type Job struct {
	ID        string
	OrgID     string
	UserID    string
	SourceIDs []string
}

type Pipeline struct {
	store     Store
	extractor Extractor
	embedder  Embedder
	cfg       Config
	logger    logging.Logger
}

func NewPipeline(store Store, extractor Extractor, embedder Embedder, cfg Config, logger logging.Logger) *Pipeline {
	if cfg.ChunkWindow <= 0 {
		cfg.ChunkWindow = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkWindow {
		cfg.ChunkOverlap = 0
	}
	if cfg.RelationThreshold <= 0 {
		cfg.RelationThreshold = 0.7
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	return &Pipeline{
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger.With("component", "training"),
	}
}

// Run executes one training job. A failing source never aborts the
// remaining sources; an error return here means the job itself could
// not make progress and should be retried by the dispatching worker.
func (p *Pipeline) Run(ctx context.Context, job Job) error {
	if err := p.store.UpdateTrainingJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	sources, err := p.store.ListTrainableSources(ctx, job.OrgID, job.SourceIDs)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	var (
		totalChunks      int
		completedSources int
		anySuccess       bool
		anyFail          bool
	)

	for i := range sources {
		src := sources[i]
		n, err := p.processSource(ctx, job, src)
		if err != nil {
			p.logger.Warn("source failed", "job_id", job.ID, "source_id", src.ID, "error", err)
			p.markSourceFailed(ctx, src.ID, err)
			anyFail = true
			continue
		}

		if uerr := p.store.UpdateSourceStatus(ctx, src.ID, models.SourceStatusActive, ""); uerr != nil {
			p.logger.Warn("source activation failed", "job_id", job.ID, "source_id", src.ID, "error", uerr)
			p.markSourceFailed(ctx, src.ID, fmt.Errorf("activate source: %w", uerr))
			anyFail = true
			continue
		}
		totalChunks += n
		completedSources++
		anySuccess = true

		// Incremental progress so clients can observe the job mid-run.
		if uerr := p.store.UpdateTrainingJobProgress(ctx, job.ID, models.JobStatusRunning, totalChunks, completedSources); uerr != nil {
			p.logger.Warn("progress update failed", "job_id", job.ID, "error", uerr)
		}
	}

	final := models.JobStatusFailed
	switch {
	case anySuccess && anyFail:
		final = models.JobStatusPartialFailed
	case anySuccess:
		final = models.JobStatusCompleted
	}

	if err := p.store.UpdateTrainingJobProgress(ctx, job.ID, final, totalChunks, completedSources); err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	p.logger.Info("job finished", "job_id", job.ID, "status", final,
		"sources", completedSources, "chunks", totalChunks)
	return nil
}

// processSource runs extract → chunk → embed → relate → store for one
// source and returns the number of chunks written.
func (p *Pipeline) processSource(ctx context.Context, job Job, src models.Source) (int, error) {
	if err := p.store.UpdateSourceStatus(ctx, src.ID, models.SourceStatusProcessing, ""); err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}

	text, err := p.extractor.ExtractSource(ctx, src)
	if err != nil {
		return 0, err
	}

	parts := extract.ChunkText(text, p.cfg.ChunkWindow, p.cfg.ChunkOverlap)
	if len(parts) == 0 {
		return 0, fmt.Errorf("no chunks produced for source %s", src.ID)
	}

	// Chunks embed concurrently; each goroutine writes only its own
	// slot so the slice stays ordered by chunk index.
	chunks := make([]models.Chunk, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)
	for i, part := range parts {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, part, job.OrgID, job.UserID)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			chunks[i] = models.Chunk{
				ID:             uuid.NewString(),
				SourceID:       src.ID,
				OrganizationID: src.OrganizationID,
				Index:          i,
				Text:           part,
				Embedding:      vec,
				EmbeddingModel: p.cfg.EmbedModel,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	relations := p.buildRelations(chunks)

	if err := p.store.ReplaceSourceChunks(ctx, src.ID, chunks, relations); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	return len(chunks), nil
}

// buildRelations materializes a semantic edge for every ordered chunk
// pair whose cosine similarity exceeds the threshold.
func (p *Pipeline) buildRelations(chunks []models.Chunk) []models.ChunkRelation {
	var relations []models.ChunkRelation
	for i := 0; i < len(chunks); i++ {
		for j := i + 1; j < len(chunks); j++ {
			sim := CosineSimilarity(chunks[i].Embedding, chunks[j].Embedding)
			if sim <= p.cfg.RelationThreshold {
				continue
			}
			relations = append(relations, models.ChunkRelation{
				ID:             uuid.NewString(),
				OrganizationID: chunks[i].OrganizationID,
				FromChunkID:    chunks[i].ID,
				ToChunkID:      chunks[j].ID,
				RelationType:   models.RelationSemantic,
				Score:          sim,
			})
		}
	}
	return relations
}

func (p *Pipeline) markSourceFailed(ctx context.Context, sourceID string, cause error) {
	if err := p.store.UpdateSourceStatus(ctx, sourceID, models.SourceStatusFailed, cause.Error()); err != nil {
		p.logger.Error("failed to mark source failed", "source_id", sourceID, "error", err)
	}
}
