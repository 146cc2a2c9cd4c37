package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

type fakeGraph struct {
	seeds     []core.ChunkMatch
	searchErr error
	related   map[string][]core.RelatedChunk
	relErr    error
	titles    map[string]string
}

func (f *fakeGraph) SearchChunks(ctx context.Context, orgID, sourceID string, queryVec []float32, topK int) ([]core.ChunkMatch, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if topK < len(f.seeds) {
		return f.seeds[:topK], nil
	}
	return f.seeds, nil
}

func (f *fakeGraph) RelatedChunks(ctx context.Context, chunkID string, limit int) ([]core.RelatedChunk, error) {
	if f.relErr != nil {
		return nil, f.relErr
	}
	related := f.related[chunkID]
	if limit < len(related) {
		return related[:limit], nil
	}
	return related, nil
}

func (f *fakeGraph) SourceTitles(ctx context.Context, orgID string, ids []string) (map[string]string, error) {
	if f.titles == nil {
		return map[string]string{}, nil
	}
	return f.titles, nil
}

func chunk(id, sourceID string, embedding []float32) models.Chunk {
	return models.Chunk{ID: id, SourceID: sourceID, OrganizationID: "org-1", Embedding: embedding}
}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, Config{
		TopK:             5,
		MaxDepth:         2,
		RelatedPerNode:   3,
		SimilarityWeight: 0.7,
		RelationWeight:   0.3,
		MaxContextChunks: 15,
	}, logging.NewNop())
}

func TestRetrieveNoSeeds(t *testing.T) {
	engine := newTestEngine(&fakeGraph{})

	set, err := engine.Retrieve(context.Background(), "org-1", "", []float32{1, 0})

	require.NoError(t, err)
	assert.False(t, set.Found)
	assert.Empty(t, set.Chunks)
	assert.Empty(t, set.Sources)
}

func TestRetrieveSeedsOrderedByDistance(t *testing.T) {
	graph := &fakeGraph{seeds: []core.ChunkMatch{
		{Chunk: chunk("c-far", "src-1", []float32{0, 1}), Distance: 0.8},
		{Chunk: chunk("c-near", "src-1", []float32{1, 0}), Distance: 0.1},
	}}
	engine := newTestEngine(graph)

	set, err := engine.Retrieve(context.Background(), "org-1", "", []float32{1, 0})

	require.NoError(t, err)
	require.True(t, set.Found)
	require.Len(t, set.Chunks, 2)
	assert.Equal(t, "c-near", set.Chunks[0].Chunk.ID)
	assert.Equal(t, "c-far", set.Chunks[1].Chunk.ID)
	assert.Greater(t, set.Chunks[0].Score, set.Chunks[1].Score)
}

func TestRetrieveExpandsRelations(t *testing.T) {
	query := []float32{1, 0}
	graph := &fakeGraph{
		seeds: []core.ChunkMatch{
			{Chunk: chunk("seed", "src-1", query), Distance: 0.1},
		},
		related: map[string][]core.RelatedChunk{
			"seed": {
				{Chunk: chunk("rel-1", "src-2", []float32{0.9, 0.1}), RelationScore: 0.95},
			},
		},
	}
	engine := newTestEngine(graph)

	set, err := engine.Retrieve(context.Background(), "org-1", "", query)

	require.NoError(t, err)
	require.Len(t, set.Chunks, 2)
	assert.Equal(t, "seed", set.Chunks[0].Chunk.ID)

	related := set.Chunks[1]
	assert.Equal(t, "rel-1", related.Chunk.ID)
	assert.Equal(t, 1, related.Depth)
	// combined = 0.7 * cosine(query, rel) + 0.3 * relation score
	assert.InDelta(t, 0.7*0.9938+0.3*0.95, related.Score, 0.001)
}

func TestRetrieveDepthCap(t *testing.T) {
	query := []float32{1, 0}
	v := []float32{1, 0}
	graph := &fakeGraph{
		seeds: []core.ChunkMatch{{Chunk: chunk("d0", "src-1", v), Distance: 0.1}},
		related: map[string][]core.RelatedChunk{
			"d0": {{Chunk: chunk("d1", "src-1", v), RelationScore: 0.9}},
			"d1": {{Chunk: chunk("d2", "src-1", v), RelationScore: 0.9}},
			"d2": {{Chunk: chunk("d3", "src-1", v), RelationScore: 0.9}},
		},
	}
	engine := newTestEngine(graph)

	set, err := engine.Retrieve(context.Background(), "org-1", "", query)

	require.NoError(t, err)
	ids := chunkIDs(set)
	assert.Contains(t, ids, "d2")
	// d2 sits at the depth limit, so its relations are never fetched.
	assert.NotContains(t, ids, "d3")
}

func TestRetrieveDeduplicatesAcrossPaths(t *testing.T) {
	query := []float32{1, 0}
	v := []float32{1, 0}
	shared := chunk("shared", "src-1", v)
	graph := &fakeGraph{
		seeds: []core.ChunkMatch{
			{Chunk: chunk("s1", "src-1", v), Distance: 0.1},
			{Chunk: chunk("s2", "src-1", v), Distance: 0.2},
		},
		related: map[string][]core.RelatedChunk{
			"s1": {{Chunk: shared, RelationScore: 0.9}},
			"s2": {{Chunk: shared, RelationScore: 0.8}},
		},
	}
	engine := newTestEngine(graph)

	set, err := engine.Retrieve(context.Background(), "org-1", "", query)

	require.NoError(t, err)
	count := 0
	for _, c := range set.Chunks {
		if c.Chunk.ID == "shared" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRetrieveResultCap(t *testing.T) {
	query := []float32{1, 0}
	var seeds []core.ChunkMatch
	related := map[string][]core.RelatedChunk{}
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		seeds = append(seeds, core.ChunkMatch{Chunk: chunk(id, "src-1", query), Distance: 0.1 + float64(i)/10})
		related[id] = []core.RelatedChunk{
			{Chunk: chunk(id+"-r1", "src-1", query), RelationScore: 0.9},
			{Chunk: chunk(id+"-r2", "src-1", query), RelationScore: 0.9},
		}
	}
	graph := &fakeGraph{seeds: seeds, related: related}
	engine := NewEngine(graph, Config{MaxContextChunks: 4}, logging.NewNop())

	set, err := engine.Retrieve(context.Background(), "org-1", "", query)

	require.NoError(t, err)
	assert.Len(t, set.Chunks, 4)
}

func TestRetrieveDeterministic(t *testing.T) {
	query := []float32{1, 0}
	v := []float32{1, 0}
	graph := &fakeGraph{
		seeds: []core.ChunkMatch{
			{Chunk: chunk("s1", "src-1", v), Distance: 0.3},
			{Chunk: chunk("s2", "src-1", v), Distance: 0.3},
			{Chunk: chunk("s3", "src-1", v), Distance: 0.3},
		},
	}
	engine := newTestEngine(graph)

	first, err := engine.Retrieve(context.Background(), "org-1", "", query)
	require.NoError(t, err)
	second, err := engine.Retrieve(context.Background(), "org-1", "", query)
	require.NoError(t, err)

	require.Equal(t, len(first.Chunks), len(second.Chunks))
	for i := range first.Chunks {
		assert.Equal(t, first.Chunks[i].Chunk.ID, second.Chunks[i].Chunk.ID)
	}
	// Equal scores keep seed discovery order.
	assert.Equal(t, []string{"s1", "s2", "s3"}, chunkIDs(first))
}

func TestRetrieveRelationLookupFailureDegrades(t *testing.T) {
	query := []float32{1, 0}
	graph := &fakeGraph{
		seeds:  []core.ChunkMatch{{Chunk: chunk("seed", "src-1", query), Distance: 0.1}},
		relErr: errors.New("relation table gone"),
	}
	engine := newTestEngine(graph)

	set, err := engine.Retrieve(context.Background(), "org-1", "", query)

	require.NoError(t, err)
	require.Len(t, set.Chunks, 1)
	assert.Equal(t, "seed", set.Chunks[0].Chunk.ID)
}

func TestRetrieveProvenance(t *testing.T) {
	query := []float32{1, 0}
	graph := &fakeGraph{
		seeds: []core.ChunkMatch{
			{Chunk: chunk("c1", "src-1", query), Distance: 0.1},
			{Chunk: chunk("c2", "src-2", query), Distance: 0.2},
			{Chunk: chunk("c3", "src-1", query), Distance: 0.3},
		},
		titles: map[string]string{"src-1": "Handbook.pdf"},
	}
	engine := newTestEngine(graph)

	set, err := engine.Retrieve(context.Background(), "org-1", "", query)

	require.NoError(t, err)
	require.Len(t, set.Sources, 2)
	assert.Equal(t, SourceRef{SourceID: "src-1", Title: "Handbook.pdf"}, set.Sources[0])
	// Unknown titles fall back to the source id.
	assert.Equal(t, SourceRef{SourceID: "src-2", Title: "src-2"}, set.Sources[1])
}

func chunkIDs(set *ContextSet) []string {
	ids := make([]string, 0, len(set.Chunks))
	for _, c := range set.Chunks {
		ids = append(ids, c.Chunk.ID)
	}
	return ids
}
