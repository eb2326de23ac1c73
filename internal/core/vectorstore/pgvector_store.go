package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/pgvector/pgvector-go"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

var _ core.VectorStore = (*PgvectorStore)(nil)

// DefaultEmbedBatchSize caps how many texts go to the embedding provider in
// one request.
const DefaultEmbedBatchSize = 25

// PgvectorStore keeps the retrieval index in the chunks table, embedding
// texts on the way in. The namespace column scopes every operation to one
// organization, so cross-tenant reads are impossible at the SQL level.
type PgvectorStore struct {
	db        *sql.DB
	embedder  core.EmbeddingProvider
	batchSize int
	logger    *slog.Logger
}

func NewPgvectorStore(db *sql.DB, embedder core.EmbeddingProvider, batchSize int, logger *slog.Logger) *PgvectorStore {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PgvectorStore{db: db, embedder: embedder, batchSize: batchSize, logger: logger}
}

// Upsert embeds the texts in provider-sized batches and writes id/text/
// embedding/metadata rows. Re-running with the same ids overwrites the prior
// rows, which is what incremental re-ingestion wants.
func (s *PgvectorStore) Upsert(ctx context.Context, ids []string, texts []string, metadatas []models.Metadata, namespace string) error {
	if len(ids) != len(texts) || len(ids) != len(metadatas) {
		return fmt.Errorf("vectorstore: %d ids, %d texts, %d metadatas", len(ids), len(texts), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks (id, namespace, text, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET namespace = EXCLUDED.namespace,
		    text = EXCLUDED.text,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range ids {
		// Merged(nil) copies the map and drops nil values; the index never
		// stores a null metadata field.
		meta, err := json.Marshal(metadatas[i].Merged(nil))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal metadata for %s: %w", ids[i], err)
		}
		vec := pgvector.NewVector(vectors[i])
		if _, err := stmt.ExecContext(ctx, ids[i], namespace, texts[i], vec, meta); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert chunk %s: %w", ids[i], err)
		}
	}
	return tx.Commit()
}

// Query embeds the query text and returns the topK nearest chunks in the
// namespace, optionally narrowed by a metadata containment filter.
func (s *PgvectorStore) Query(ctx context.Context, text string, filter models.Metadata, topK int, namespace string) ([]models.VectorMatch, error) {
	if topK <= 0 {
		topK = 5
	}

	vectors, err := s.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(vectors[0])

	q := `
		SELECT id, text, metadata, 1 - (embedding <=> $1) AS score
		FROM chunks
		WHERE namespace = $2
	`
	args := []any{vec, namespace}
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		args = append(args, filterJSON)
		q += fmt.Sprintf(` AND metadata @> $%d::jsonb`, len(args))
	}
	args = append(args, topK)
	q += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VectorMatch
	for rows.Next() {
		var (
			m        models.VectorMatch
			metaJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.Text, &metaJSON, &m.Score); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteByFilter removes every chunk in the namespace whose metadata contains
// the filter, returning how many rows went away.
func (s *PgvectorStore) DeleteByFilter(ctx context.Context, filter models.Metadata, namespace string) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("vectorstore: refusing to delete with empty filter")
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshal filter: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE namespace = $1 AND metadata @> $2::jsonb`,
		namespace, filterJSON)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateMetadataByFilter merges patch into the metadata of every matching
// chunk. Used when a folder is renamed so existing vectors keep filtering
// correctly.
func (s *PgvectorStore) UpdateMetadataByFilter(ctx context.Context, filter models.Metadata, patch models.Metadata, namespace string) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("vectorstore: refusing to update with empty filter")
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshal filter: %w", err)
	}
	patchJSON, err := json.Marshal(patch.Merged(nil))
	if err != nil {
		return 0, fmt.Errorf("marshal patch: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET metadata = metadata || $3::jsonb WHERE namespace = $1 AND metadata @> $2::jsonb`,
		namespace, filterJSON, patchJSON)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PgvectorStore) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := s.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("vectorstore: embedded %d of %d texts", len(out), len(texts))
	}
	return out, nil
}

// embedWithRetry retries transient provider failures with exponential
// backoff, bounded so a dead provider fails the document instead of hanging
// its governor slot.
func (s *PgvectorStore) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var vectors [][]float32
	op := func() error {
		var err error
		vectors, err = s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			s.logger.Warn("embedding call failed, retrying", slog.Int("texts", len(texts)), slog.String("error", err.Error()))
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("vectorstore: provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}
