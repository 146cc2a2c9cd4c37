package models

import (
	"time"
)

// Source kinds.
const (
	SourceKindDocument = "document"
	SourceKindURL      = "url"
)

// Source statuses, mutated only by the training pipeline.
const (
	SourceStatusPending    = "pending"
	SourceStatusProcessing = "processing"
	SourceStatusActive     = "active"
	SourceStatusFailed     = "failed"
)

// Training job statuses.
const (
	JobStatusPending       = "pending"
	JobStatusRunning       = "running"
	JobStatusCompleted     = "completed"
	JobStatusPartialFailed = "partial_failed"
	JobStatusFailed        = "failed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RelationSemantic is the only relation type materialized today.
const RelationSemantic = "semantic"

// User represents an authenticated member of an organization.
type User struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	FirstName      string    `db:"first_name" json:"first_name"`
	Email          string    `db:"email" json:"email"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Source is a trainable document or URL belonging to an organization.
// Document sources live in object storage under S3Key; URL sources carry URL.
type Source struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	Kind           string    `db:"kind" json:"kind"` // "document" or "url"
	Title          string    `db:"title" json:"title"`
	S3Key          string    `db:"s3_key" json:"s3_key,omitempty"`
	URL            string    `db:"url" json:"url,omitempty"`
	ContentType    string    `db:"content_type" json:"content_type,omitempty"`
	Trainable      bool      `db:"trainable" json:"trainable"`
	Status         string    `db:"status" json:"status"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one contiguous slice of extracted text from a source.
// Chunks for a source are fully replaced on every retrain.
type Chunk struct {
	ID             string    `db:"id" json:"id"`
	SourceID       string    `db:"source_id" json:"source_id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	Index          int       `db:"chunk_index" json:"chunk_index"`
	Text           string    `db:"chunk_text" json:"chunk_text"`
	Embedding      []float32 `db:"embedding" json:"-"` // pgvector column
	EmbeddingModel string    `db:"embedding_model" json:"embedding_model"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ChunkRelation is a directed, scored semantic edge between two chunks.
// Rebuilt alongside the owning chunks on every retrain.
type ChunkRelation struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	FromChunkID    string    `db:"from_chunk_id" json:"from_chunk_id"`
	ToChunkID      string    `db:"to_chunk_id" json:"to_chunk_id"`
	RelationType   string    `db:"relation_type" json:"relation_type"`
	Score          float64   `db:"score" json:"score"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TrainingJob tracks one ingestion run over a set of sources.
type TrainingJob struct {
	ID               string     `db:"id" json:"id"`
	OrganizationID   string     `db:"organization_id" json:"organization_id"`
	InitiatedBy      string     `db:"initiated_by" json:"initiated_by"`
	Status           string     `db:"status" json:"status"`
	TotalSources     int        `db:"total_sources" json:"total_sources"`
	CompletedSources int        `db:"completed_sources" json:"completed_sources"`
	TotalChunks      int        `db:"total_chunks" json:"total_chunks"`
	ProgressPercent  float64    `db:"progress_percent" json:"progress_percent"`
	ErrorMessage     string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	FinishedAt       *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Chat is one conversation thread.
type Chat struct {
	ID             string     `db:"id" json:"id"`
	OrganizationID string     `db:"organization_id" json:"organization_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Title          string     `db:"title" json:"title"`
	Status         string     `db:"status" json:"status"`
	LastMessageAt  *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Message is one entry of a chat transcript. Append-only.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ChatID         string    `db:"chat_id" json:"chat_id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	SenderUserID   string    `db:"sender_user_id" json:"sender_user_id,omitempty"`
	Role           string    `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TokenUsage accumulates prompt/completion token counts and cost per
// organization and user. Upserted by the pipelines, never read by them.
type TokenUsage struct {
	OrganizationID        string    `db:"organization_id" json:"organization_id"`
	UserID                string    `db:"user_id" json:"user_id"`
	TotalPromptTokens     int64     `db:"total_prompt_tokens" json:"total_prompt_tokens"`
	TotalCompletionTokens int64     `db:"total_completion_tokens" json:"total_completion_tokens"`
	TotalCost             float64   `db:"total_cost" json:"total_cost"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}
