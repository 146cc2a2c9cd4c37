package training

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

type statusChange struct {
	id     string
	status string
	errMsg string
}

type fakeStore struct {
	sources []models.Source
	listErr error

	sourceStatuses []statusChange
	jobStatuses    []statusChange
	progress       []struct {
		status           string
		totalChunks      int
		completedSources int
	}
	stored      map[string][]models.Chunk
	storedRels  map[string][]models.ChunkRelation
	replaceErr  map[string]error
	activateErr map[string]error
}

func newFakeStore(sources ...models.Source) *fakeStore {
	return &fakeStore{
		sources:     sources,
		stored:      map[string][]models.Chunk{},
		storedRels:  map[string][]models.ChunkRelation{},
		replaceErr:  map[string]error{},
		activateErr: map[string]error{},
	}
}

func (f *fakeStore) ListTrainableSources(ctx context.Context, orgID string, ids []string) ([]models.Source, error) {
	return f.sources, f.listErr
}

func (f *fakeStore) UpdateSourceStatus(ctx context.Context, id, status, errorMessage string) error {
	if status == models.SourceStatusActive {
		if err := f.activateErr[id]; err != nil {
			return err
		}
	}
	f.sourceStatuses = append(f.sourceStatuses, statusChange{id, status, errorMessage})
	return nil
}

func (f *fakeStore) ReplaceSourceChunks(ctx context.Context, sourceID string, chunks []models.Chunk, relations []models.ChunkRelation) error {
	if err := f.replaceErr[sourceID]; err != nil {
		return err
	}
	f.stored[sourceID] = chunks
	f.storedRels[sourceID] = relations
	return nil
}

func (f *fakeStore) UpdateTrainingJobStatus(ctx context.Context, id, status, errorMessage string) error {
	f.jobStatuses = append(f.jobStatuses, statusChange{id, status, errorMessage})
	return nil
}

func (f *fakeStore) UpdateTrainingJobProgress(ctx context.Context, id, status string, totalChunks, completedSources int) error {
	f.progress = append(f.progress, struct {
		status           string
		totalChunks      int
		completedSources int
	}{status, totalChunks, completedSources})
	return nil
}

func (f *fakeStore) lastSourceStatus(id string) statusChange {
	var last statusChange
	for _, s := range f.sourceStatuses {
		if s.id == id {
			last = s
		}
	}
	return last
}

type fakeExtractor struct {
	texts map[string]string
	errs  map[string]error
}

func (f *fakeExtractor) ExtractSource(ctx context.Context, src models.Source) (string, error) {
	if err := f.errs[src.ID]; err != nil {
		return "", err
	}
	return f.texts[src.ID], nil
}

type fakeEmbedder struct {
	vectors  map[string][]float32
	errs     map[string]error
	fallback []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, orgID, userID string) ([]float32, error) {
	if err := f.errs[text]; err != nil {
		return nil, err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return []float32{1, 0}, nil
}

func source(id string) models.Source {
	return models.Source{ID: id, OrganizationID: "org-1", Kind: models.SourceKindDocument, Trainable: true}
}

func testPipeline(store Store, ex Extractor, em Embedder) *Pipeline {
	return NewPipeline(store, ex, em, Config{
		ChunkWindow:       10,
		ChunkOverlap:      2,
		RelationThreshold: 0.7,
		EmbedModel:        "text-embedding-004",
	}, logging.NewNop())
}

func TestRunAllSourcesSucceed(t *testing.T) {
	store := newFakeStore(source("src-1"), source("src-2"))
	ex := &fakeExtractor{texts: map[string]string{
		"src-1": "short text",
		"src-2": "other text",
	}}
	p := testPipeline(store, ex, &fakeEmbedder{})

	err := p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusActive, store.lastSourceStatus("src-1").status)
	assert.Equal(t, models.SourceStatusActive, store.lastSourceStatus("src-2").status)

	require.NotEmpty(t, store.progress)
	final := store.progress[len(store.progress)-1]
	assert.Equal(t, models.JobStatusCompleted, final.status)
	assert.Equal(t, 2, final.completedSources)
	assert.Equal(t, 2, final.totalChunks)
}

func TestRunFailingSourceIsIsolated(t *testing.T) {
	store := newFakeStore(source("src-bad"), source("src-good"))
	ex := &fakeExtractor{
		texts: map[string]string{"src-good": "fine text"},
		errs:  map[string]error{"src-bad": errors.New("download failed")},
	}
	p := testPipeline(store, ex, &fakeEmbedder{})

	err := p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NoError(t, err)

	bad := store.lastSourceStatus("src-bad")
	assert.Equal(t, models.SourceStatusFailed, bad.status)
	assert.Contains(t, bad.errMsg, "download failed")
	assert.Equal(t, models.SourceStatusActive, store.lastSourceStatus("src-good").status)

	final := store.progress[len(store.progress)-1]
	assert.Equal(t, models.JobStatusPartialFailed, final.status)
	assert.Equal(t, 1, final.completedSources)
}

func TestRunAllSourcesFail(t *testing.T) {
	store := newFakeStore(source("src-1"), source("src-2"))
	ex := &fakeExtractor{errs: map[string]error{
		"src-1": errors.New("boom"),
		"src-2": errors.New("boom"),
	}}
	p := testPipeline(store, ex, &fakeEmbedder{})

	err := p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NoError(t, err)
	final := store.progress[len(store.progress)-1]
	assert.Equal(t, models.JobStatusFailed, final.status)
	assert.Equal(t, 0, final.completedSources)
}

func TestRunEmbeddingFailureFailsSource(t *testing.T) {
	store := newFakeStore(source("src-1"))
	ex := &fakeExtractor{texts: map[string]string{"src-1": "some text"}}
	em := &fakeEmbedder{errs: map[string]error{"some text": errors.New("quota exceeded")}}
	p := testPipeline(store, ex, em)

	err := p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NoError(t, err)
	bad := store.lastSourceStatus("src-1")
	assert.Equal(t, models.SourceStatusFailed, bad.status)
	assert.Contains(t, bad.errMsg, "embed chunk 0")
	assert.Empty(t, store.stored["src-1"])
}

func TestRunActivationFailureFailsSource(t *testing.T) {
	store := newFakeStore(source("src-1"))
	store.activateErr["src-1"] = errors.New("connection reset")
	ex := &fakeExtractor{texts: map[string]string{"src-1": "fine text"}}
	p := testPipeline(store, ex, &fakeEmbedder{})

	err := p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NoError(t, err)

	// The row must not stay in processing; it carries the failure the
	// job accounting reports.
	bad := store.lastSourceStatus("src-1")
	assert.Equal(t, models.SourceStatusFailed, bad.status)
	assert.Contains(t, bad.errMsg, "connection reset")

	final := store.progress[len(store.progress)-1]
	assert.Equal(t, models.JobStatusFailed, final.status)
	assert.Equal(t, 0, final.completedSources)
}

func TestRunEmptyExtractionFailsSource(t *testing.T) {
	store := newFakeStore(source("src-1"))
	ex := &fakeExtractor{texts: map[string]string{"src-1": "   "}}
	p := testPipeline(store, ex, &fakeEmbedder{})

	err := p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NoError(t, err)
	assert.Equal(t, models.SourceStatusFailed, store.lastSourceStatus("src-1").status)
}

func TestRunMarksJobRunningFirst(t *testing.T) {
	store := newFakeStore()
	p := testPipeline(store, &fakeExtractor{}, &fakeEmbedder{})

	_ = p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NotEmpty(t, store.jobStatuses)
	assert.Equal(t, models.JobStatusRunning, store.jobStatuses[0].status)
}

func TestBuildRelationsThresholdAndDirection(t *testing.T) {
	p := testPipeline(newFakeStore(), &fakeExtractor{}, &fakeEmbedder{})

	chunks := []models.Chunk{
		{ID: "c0", OrganizationID: "org-1", Embedding: []float32{1, 0}},
		{ID: "c1", OrganizationID: "org-1", Embedding: []float32{0.9, 0.1}},
		{ID: "c2", OrganizationID: "org-1", Embedding: []float32{0, 1}},
	}

	relations := p.buildRelations(chunks)

	// c0~c1 are nearly parallel; c2 is orthogonal to both.
	require.Len(t, relations, 1)
	rel := relations[0]
	assert.Equal(t, "c0", rel.FromChunkID)
	assert.Equal(t, "c1", rel.ToChunkID)
	assert.Equal(t, models.RelationSemantic, rel.RelationType)
	assert.Greater(t, rel.Score, 0.7)
}

func TestProcessSourceStoresChunksWithIndexes(t *testing.T) {
	store := newFakeStore(source("src-1"))
	longText := ""
	for i := 0; i < 5; i++ {
		longText += fmt.Sprintf("part %d ", i)
	}
	ex := &fakeExtractor{texts: map[string]string{"src-1": longText}}
	p := testPipeline(store, ex, &fakeEmbedder{fallback: []float32{0.5, 0.5}})

	err := p.Run(context.Background(), Job{ID: "job-1", OrgID: "org-1"})

	require.NoError(t, err)
	chunks := store.stored["src-1"]
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "src-1", ch.SourceID)
		assert.Equal(t, "text-embedding-004", ch.EmbeddingModel)
		assert.NotEmpty(t, ch.ID)
	}
}
