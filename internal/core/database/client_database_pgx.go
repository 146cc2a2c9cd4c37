package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/knowbase/knowbase/internal/config"
	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, organization_id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.OrganizationID, user.FirstName, user.Email, user.PasswordHash)
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, organization_id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.OrganizationID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Sources

func (c *DatabaseClient) CreateSource(ctx context.Context, src *models.Source) error {
	if src == nil {
		return errors.New("nil source")
	}
	const q = `
		INSERT INTO sources
			(id, organization_id, created_by, kind, title, s3_key, url, content_type, trainable, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		src.ID, src.OrganizationID, nullableID(src.CreatedBy), src.Kind, src.Title, src.S3Key, src.URL,
		src.ContentType, src.Trainable, src.Status)
	return err
}

const sourceColumns = `id, organization_id, COALESCE(created_by::text, ''), kind, title, s3_key, url, content_type, trainable, status, error_message, created_at, updated_at`

// nullableID maps an empty string to NULL for optional uuid columns.
func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func scanSource(row interface{ Scan(...any) error }) (*models.Source, error) {
	var s models.Source
	err := row.Scan(
		&s.ID, &s.OrganizationID, &s.CreatedBy, &s.Kind, &s.Title, &s.S3Key, &s.URL,
		&s.ContentType, &s.Trainable, &s.Status, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) GetSourceByID(ctx context.Context, orgID, id string) (*models.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1 AND organization_id = $2`
	s, err := scanSource(c.db.QueryRowContext(ctx, q, id, orgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (c *DatabaseClient) ListSourcesByOrg(ctx context.Context, orgID string) ([]models.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListTrainableSources returns trainable sources of the organization.
// With an empty id list every trainable source is returned.
func (c *DatabaseClient) ListTrainableSources(ctx context.Context, orgID string, ids []string) ([]models.Source, error) {
	q := `SELECT ` + sourceColumns + ` FROM sources WHERE organization_id = $1 AND trainable = TRUE`
	args := []any{orgID}
	if len(ids) > 0 {
		q += ` AND id = ANY($2::uuid[])`
		args = append(args, "{"+strings.Join(ids, ",")+"}")
	}
	q += ` ORDER BY created_at ASC`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// SourceTitles maps source ids to their display titles, scoped to the
// organization. URL sources without a title fall back to the URL.
func (c *DatabaseClient) SourceTitles(ctx context.Context, orgID string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
		SELECT id, CASE WHEN title <> '' THEN title ELSE url END
		FROM sources
		WHERE organization_id = $1 AND id = ANY($2::uuid[])
	`
	rows, err := c.db.QueryContext(ctx, q, orgID, "{"+strings.Join(ids, ",")+"}")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		out[id] = title
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateSourceStatus(ctx context.Context, id, status, errorMessage string) error {
	const q = `
		UPDATE sources
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errorMessage)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}

// Chunks and relations

// ReplaceSourceChunks swaps the full chunk and relation set of one
// source inside a single transaction, so readers never observe a
// half-replaced chunk set.
func (c *DatabaseClient) ReplaceSourceChunks(ctx context.Context, sourceID string, chunks []models.Chunk, relations []models.ChunkRelation) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunk_relations
		WHERE from_chunk_id IN (SELECT id FROM chunks WHERE source_id = $1)
		   OR to_chunk_id   IN (SELECT id FROM chunks WHERE source_id = $1)
	`, sourceID); err != nil {
		return fmt.Errorf("delete relations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	const insChunk = `
		INSERT INTO chunks
			(id, source_id, organization_id, chunk_index, chunk_text, embedding, embedding_model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`
	stmt, err := tx.PrepareContext(ctx, insChunk)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.SourceID, ch.OrganizationID, ch.Index, ch.Text, vec, ch.EmbeddingModel,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Index, err)
		}
	}

	const insRel = `
		INSERT INTO chunk_relations
			(id, organization_id, from_chunk_id, to_chunk_id, relation_type, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	relStmt, err := tx.PrepareContext(ctx, insRel)
	if err != nil {
		return err
	}
	defer relStmt.Close()

	for i := range relations {
		r := &relations[i]
		if _, err := relStmt.ExecContext(ctx,
			r.ID, r.OrganizationID, r.FromChunkID, r.ToChunkID, r.RelationType, r.Score,
		); err != nil {
			return fmt.Errorf("insert relation: %w", err)
		}
	}

	return tx.Commit()
}

// SearchChunks finds the topK nearest chunks for the organization by
// cosine distance, optionally restricted to one source.
func (c *DatabaseClient) SearchChunks(ctx context.Context, orgID, sourceID string, queryVec []float32, topK int) ([]core.ChunkMatch, error) {
	q := `
		SELECT id, source_id, organization_id, chunk_index, chunk_text, embedding, embedding_model, created_at,
		       (embedding <=> $2) AS distance
		FROM chunks
		WHERE organization_id = $1
	`
	vec := pgvector.NewVector(queryVec)
	args := []any{orgID, vec}
	if sourceID != "" {
		q += ` AND source_id = $3 ORDER BY distance ASC LIMIT $4`
		args = append(args, sourceID, topK)
	} else {
		q += ` ORDER BY distance ASC LIMIT $3`
		args = append(args, topK)
	}

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ChunkMatch
	for rows.Next() {
		var (
			m   core.ChunkMatch
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&m.Chunk.ID, &m.Chunk.SourceID, &m.Chunk.OrganizationID, &m.Chunk.Index,
			&m.Chunk.Text, &emb, &m.Chunk.EmbeddingModel, &m.Chunk.CreatedAt, &m.Distance,
		); err != nil {
			return nil, err
		}
		m.Chunk.Embedding = emb.Slice()
		out = append(out, m)
	}
	return out, rows.Err()
}

// RelatedChunks returns chunks reachable via outgoing relations of the
// given chunk, best-scored edges first.
func (c *DatabaseClient) RelatedChunks(ctx context.Context, chunkID string, limit int) ([]core.RelatedChunk, error) {
	const q = `
		SELECT ch.id, ch.source_id, ch.organization_id, ch.chunk_index, ch.chunk_text, ch.embedding, ch.embedding_model, ch.created_at,
		       r.score
		FROM chunk_relations r
		JOIN chunks ch ON ch.id = r.to_chunk_id
		WHERE r.from_chunk_id = $1
		ORDER BY r.score DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, chunkID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.RelatedChunk
	for rows.Next() {
		var (
			rc  core.RelatedChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&rc.Chunk.ID, &rc.Chunk.SourceID, &rc.Chunk.OrganizationID, &rc.Chunk.Index,
			&rc.Chunk.Text, &emb, &rc.Chunk.EmbeddingModel, &rc.Chunk.CreatedAt, &rc.RelationScore,
		); err != nil {
			return nil, err
		}
		rc.Chunk.Embedding = emb.Slice()
		out = append(out, rc)
	}
	return out, rows.Err()
}

// Training jobs

func (c *DatabaseClient) CreateTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	const q = `
		INSERT INTO training_jobs
			(id, organization_id, initiated_by, status, total_sources, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q,
		job.ID, job.OrganizationID, nullableID(job.InitiatedBy), job.Status, job.TotalSources)
	return err
}

func (c *DatabaseClient) GetTrainingJob(ctx context.Context, orgID, id string) (*models.TrainingJob, error) {
	const q = `
		SELECT id, organization_id, COALESCE(initiated_by::text, ''), status, total_sources, completed_sources,
		       total_chunks, progress_percent, error_message, created_at, updated_at, finished_at
		FROM training_jobs
		WHERE id = $1 AND organization_id = $2
	`
	var j models.TrainingJob
	err := c.db.QueryRowContext(ctx, q, id, orgID).Scan(
		&j.ID, &j.OrganizationID, &j.InitiatedBy, &j.Status, &j.TotalSources, &j.CompletedSources,
		&j.TotalChunks, &j.ProgressPercent, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *DatabaseClient) UpdateTrainingJobStatus(ctx context.Context, id, status, errorMessage string) error {
	const q = `
		UPDATE training_jobs
		SET status = $2,
		    error_message = $3,
		    updated_at = now(),
		    finished_at = CASE WHEN $2 IN ('completed', 'failed', 'partial_failed') THEN now() ELSE finished_at END
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, status, errorMessage)
	return err
}

func (c *DatabaseClient) UpdateTrainingJobProgress(ctx context.Context, id, status string, totalChunks, completedSources int) error {
	const q = `
		UPDATE training_jobs
		SET status = $2,
		    total_chunks = $3,
		    completed_sources = $4,
		    progress_percent = CASE WHEN total_sources > 0
		                            THEN $4::float / total_sources * 100
		                            ELSE 0 END,
		    updated_at = now(),
		    finished_at = CASE WHEN $2 IN ('completed', 'failed', 'partial_failed') THEN now() ELSE finished_at END
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, status, totalChunks, completedSources)
	return err
}

// Chats and messages

func (c *DatabaseClient) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil {
		return errors.New("nil chat")
	}
	const q = `
		INSERT INTO chats (id, organization_id, user_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', now(), now())
	`
	_, err := c.db.ExecContext(ctx, q, chat.ID, chat.OrganizationID, chat.UserID, chat.Title)
	return err
}

func (c *DatabaseClient) GetChat(ctx context.Context, orgID, id string) (*models.Chat, error) {
	const q = `
		SELECT id, organization_id, user_id, title, status, last_message_at, created_at, updated_at
		FROM chats WHERE id = $1 AND organization_id = $2
	`
	var ch models.Chat
	err := c.db.QueryRowContext(ctx, q, id, orgID).Scan(
		&ch.ID, &ch.OrganizationID, &ch.UserID, &ch.Title, &ch.Status, &ch.LastMessageAt, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *DatabaseClient) ListChatsByUser(ctx context.Context, orgID, userID string) ([]models.Chat, error) {
	const q = `
		SELECT id, organization_id, user_id, title, status, last_message_at, created_at, updated_at
		FROM chats
		WHERE organization_id = $1 AND user_id = $2 AND status = 'active'
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, orgID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chat
	for rows.Next() {
		var ch models.Chat
		if err := rows.Scan(
			&ch.ID, &ch.OrganizationID, &ch.UserID, &ch.Title, &ch.Status, &ch.LastMessageAt, &ch.CreatedAt, &ch.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// AddMessage appends a message and bumps the chat's last_message_at in
// the same transaction.
func (c *DatabaseClient) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const ins = `
		INSERT INTO messages (id, chat_id, organization_id, sender_user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	if _, err := tx.ExecContext(ctx, ins,
		msg.ID, msg.ChatID, msg.OrganizationID, nullableID(msg.SenderUserID), msg.Role, msg.Content); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET last_message_at = now(), updated_at = now() WHERE id = $1`, msg.ChatID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentMessages returns the last N messages of a chat in
// chronological order.
func (c *DatabaseClient) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	const q = `
		SELECT id, chat_id, organization_id, COALESCE(sender_user_id::text, ''), role, content, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.OrganizationID, &m.SenderUserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (c *DatabaseClient) ListMessages(ctx context.Context, orgID, chatID string) ([]models.Message, error) {
	const q = `
		SELECT id, chat_id, organization_id, COALESCE(sender_user_id::text, ''), role, content, created_at
		FROM messages
		WHERE chat_id = $1 AND organization_id = $2
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, chatID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.OrganizationID, &m.SenderUserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Token usage

// RecordTokenUsage upserts cumulative token usage per organization and
// user: insert if new, else increment totals.
func (c *DatabaseClient) RecordTokenUsage(ctx context.Context, usage *models.TokenUsage) error {
	if usage == nil {
		return errors.New("nil usage")
	}
	const q = `
		INSERT INTO token_usage
			(organization_id, user_id, total_prompt_tokens, total_completion_tokens, total_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (organization_id, user_id)
		DO UPDATE SET
			total_prompt_tokens = token_usage.total_prompt_tokens + EXCLUDED.total_prompt_tokens,
			total_completion_tokens = token_usage.total_completion_tokens + EXCLUDED.total_completion_tokens,
			total_cost = token_usage.total_cost + EXCLUDED.total_cost,
			updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q,
		usage.OrganizationID, usage.UserID, usage.TotalPromptTokens, usage.TotalCompletionTokens, usage.TotalCost)
	return err
}
