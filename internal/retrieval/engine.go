// Package retrieval builds the grounding context for a query: a
// vector-similarity seed search followed by a bounded expansion over
// the chunk relation graph.
package retrieval

import (
	"container/heap"
	"context"

	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
	"github.com/knowbase/knowbase/internal/vector"
)

const seedEpsilon = 1e-6

// Store is the lookup surface the engine needs. Satisfied by
// core.DbClient; tests use an in-memory graph.
type Store interface {
	SearchChunks(ctx context.Context, orgID, sourceID string, queryVec []float32, topK int) ([]core.ChunkMatch, error)
	RelatedChunks(ctx context.Context, chunkID string, limit int) ([]core.RelatedChunk, error)
	SourceTitles(ctx context.Context, orgID string, ids []string) (map[string]string, error)
}

// Config tunes the engine. Weights should sum to 1.
type Config struct {
	TopK             int
	MaxDepth         int
	RelatedPerNode   int
	SimilarityWeight float64
	RelationWeight   float64
	MaxContextChunks int
}

// ContextChunk is one retrieved chunk with its combined score and the
// graph depth it was discovered at (0 for seeds).
type ContextChunk struct {
	Chunk models.Chunk
	Score float64
	Depth int
}

// SourceRef attributes context back to a document.
type SourceRef struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
}

// ContextSet is the result of one retrieval. Found is false when the
// organization has no matching chunks at all; that is not an error.
type ContextSet struct {
	Found   bool
	Chunks  []ContextChunk
	Sources []SourceRef
}

type Engine struct {
	store  Store
	cfg    Config
	logger logging.Logger
}

func NewEngine(store Store, cfg Config, logger logging.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.RelatedPerNode <= 0 {
		cfg.RelatedPerNode = 3
	}
	if cfg.SimilarityWeight <= 0 {
		cfg.SimilarityWeight = 0.7
	}
	if cfg.RelationWeight <= 0 {
		cfg.RelationWeight = 0.3
	}
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = 15
	}
	return &Engine{store: store, cfg: cfg, logger: logger.With("component", "retrieval")}
}

// Retrieve runs the seed search and graph expansion. sourceID narrows
// the seed search to one document when non-empty. The result is
// ordered best score first; ties keep discovery order.
func (e *Engine) Retrieve(ctx context.Context, orgID, sourceID string, queryVec []float32) (*ContextSet, error) {
	seeds, err := e.store.SearchChunks(ctx, orgID, sourceID, queryVec, e.cfg.TopK)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return &ContextSet{Found: false}, nil
	}

	frontier := &scoreHeap{}
	heap.Init(frontier)
	seq := 0
	for _, m := range seeds {
		heap.Push(frontier, &frontierItem{
			chunk: m.Chunk,
			score: 1 / (m.Distance + seedEpsilon),
			depth: 0,
			seq:   seq,
		})
		seq++
	}

	visited := make(map[string]bool, e.cfg.MaxContextChunks)
	var result []ContextChunk

	for frontier.Len() > 0 && len(result) < e.cfg.MaxContextChunks {
		item := heap.Pop(frontier).(*frontierItem)
		if visited[item.chunk.ID] {
			continue
		}
		visited[item.chunk.ID] = true
		result = append(result, ContextChunk{Chunk: item.chunk, Score: item.score, Depth: item.depth})

		if item.depth >= e.cfg.MaxDepth {
			continue
		}
		related, err := e.store.RelatedChunks(ctx, item.chunk.ID, e.cfg.RelatedPerNode)
		if err != nil {
			// Expansion is best-effort; the seeds already in the result
			// still make a usable context.
			e.logger.Warn("relation lookup failed", "chunk_id", item.chunk.ID, "error", err)
			continue
		}
		for _, rc := range related {
			if visited[rc.Chunk.ID] {
				continue
			}
			combined := e.cfg.SimilarityWeight*vector.Cosine(queryVec, rc.Chunk.Embedding) +
				e.cfg.RelationWeight*rc.RelationScore
			heap.Push(frontier, &frontierItem{
				chunk: rc.Chunk,
				score: combined,
				depth: item.depth + 1,
				seq:   seq,
			})
			seq++
		}
	}

	set := &ContextSet{Found: true, Chunks: result}
	set.Sources, err = e.provenance(ctx, orgID, result)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// provenance lists each distinct source once, in result order, with a
// display title. A title lookup miss falls back to the source id.
func (e *Engine) provenance(ctx context.Context, orgID string, chunks []ContextChunk) ([]SourceRef, error) {
	var ids []string
	seen := make(map[string]bool)
	for _, c := range chunks {
		if seen[c.Chunk.SourceID] {
			continue
		}
		seen[c.Chunk.SourceID] = true
		ids = append(ids, c.Chunk.SourceID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	titles, err := e.store.SourceTitles(ctx, orgID, ids)
	if err != nil {
		return nil, err
	}
	refs := make([]SourceRef, 0, len(ids))
	for _, id := range ids {
		title := titles[id]
		if title == "" {
			title = id
		}
		refs = append(refs, SourceRef{SourceID: id, Title: title})
	}
	return refs, nil
}

// frontierItem is one queue entry. seq breaks score ties in favor of
// the earlier-discovered chunk so results are deterministic.
type frontierItem struct {
	chunk models.Chunk
	score float64
	depth int
	seq   int
}

type scoreHeap []*frontierItem

func (h scoreHeap) Len() int { return len(h) }

func (h scoreHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].seq < h[j].seq
}

func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x any) { *h = append(*h, x.(*frontierItem)) }

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
