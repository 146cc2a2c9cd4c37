package core

import (
	"context"
	"time"

	"github.com/knowbase/knowbase/internal/models"
)

// ChunkMatch is one nearest-neighbor search hit. Distance is cosine
// distance, ascending distance means descending relevance.
type ChunkMatch struct {
	Chunk    models.Chunk
	Distance float64
}

// RelatedChunk is a chunk reached through an outgoing relation edge,
// together with the score of that edge.
type RelatedChunk struct {
	Chunk         models.Chunk
	RelationScore float64
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a
// specific database.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateSource(ctx context.Context, src *models.Source) error
	GetSourceByID(ctx context.Context, orgID, id string) (*models.Source, error)
	ListSourcesByOrg(ctx context.Context, orgID string) ([]models.Source, error)
	ListTrainableSources(ctx context.Context, orgID string, ids []string) ([]models.Source, error)
	UpdateSourceStatus(ctx context.Context, id, status, errorMessage string) error
	// SourceTitles resolves display titles for the given source ids,
	// used when attributing retrieved chunks back to their documents.
	SourceTitles(ctx context.Context, orgID string, ids []string) (map[string]string, error)

	// ReplaceSourceChunks atomically deletes all chunks and relations of
	// the source and inserts the given replacement set.
	ReplaceSourceChunks(ctx context.Context, sourceID string, chunks []models.Chunk, relations []models.ChunkRelation) error
	SearchChunks(ctx context.Context, orgID, sourceID string, queryVec []float32, topK int) ([]ChunkMatch, error)
	RelatedChunks(ctx context.Context, chunkID string, limit int) ([]RelatedChunk, error)

	CreateTrainingJob(ctx context.Context, job *models.TrainingJob) error
	GetTrainingJob(ctx context.Context, orgID, id string) (*models.TrainingJob, error)
	UpdateTrainingJobStatus(ctx context.Context, id, status, errorMessage string) error
	UpdateTrainingJobProgress(ctx context.Context, id, status string, totalChunks, completedSources int) error

	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, orgID, id string) (*models.Chat, error)
	ListChatsByUser(ctx context.Context, orgID, userID string) ([]models.Chat, error)
	AddMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	ListMessages(ctx context.Context, orgID, chatID string) ([]models.Message, error)

	RecordTokenUsage(ctx context.Context, usage *models.TokenUsage) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	PresignURL(ctx context.Context, key string, ttl time.Duration) (url string, expiresAt time.Time, err error)
	DeleteFile(ctx context.Context, key string) error
}
