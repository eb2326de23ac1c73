package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/corpora-hq/corpora/internal/config"
	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

var _ core.DocumentStore = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

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

	if err := EnsureBootstrapped(ctx, db); err != nil {
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

// DB exposes the underlying pool so the vector store can share it.
func (c *DatabaseClient) DB() *sql.DB {
	return c.db
}

// Implementing the store interface for users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, org_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), COALESCE($7, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, user.OrgID, nullTime(user.CreatedAt), nullTime(user.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, org_id, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.OrgID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Implementing the store interface for documents

const documentColumns = `
	id, user_id, org_id, folder_name, file_name, file_key, file_url,
	file_extension, file_size_mb, raw_content, status, stage, stage_description,
	progress_current, progress_total, error, metadata, created_at, updated_at, completed_at, failed_at
`

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := metadataJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `
		INSERT INTO documents
			(id, user_id, org_id, folder_name, file_name, file_key, file_url,
			 file_extension, file_size_mb, status, stage, stage_description, metadata,
			 created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			 COALESCE($14, now()), COALESCE($15, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.OrgID, doc.FolderName, doc.FileName, doc.FileKey, doc.FileURL,
		doc.FileExtension, doc.FileSizeMB, doc.Status, doc.Stage, doc.StageDescription, meta,
		nullTime(doc.CreatedAt), nullTime(doc.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	row := c.db.QueryRowContext(ctx, q, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments pages through an organization's documents, optionally scoped
// to one folder. folderName == "" means all folders.
func (c *DatabaseClient) ListDocuments(ctx context.Context, orgID, folderName string, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + documentColumns + ` FROM documents WHERE org_id = $1`
	args := []any{orgID}
	if folderName != "" {
		q += ` AND folder_name = $2`
		args = append(args, folderName)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListFolders(ctx context.Context, orgID string) ([]string, error) {
	const q = `
		SELECT DISTINCT folder_name FROM documents
		WHERE org_id = $1
		ORDER BY folder_name ASC
	`
	rows, err := c.db.QueryContext(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) RenameFolder(ctx context.Context, orgID, oldName, newName string) (int, error) {
	const q = `
		UPDATE documents
		SET folder_name = $3, updated_at = now()
		WHERE org_id = $1 AND folder_name = $2
	`
	res, err := c.db.ExecContext(ctx, q, orgID, oldName, newName)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateDocumentStage applies only the fields set on the patch, so concurrent
// progress updates never clobber columns they did not mean to touch.
func (c *DatabaseClient) UpdateDocumentStage(ctx context.Context, id string, patch core.StagePatch) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Stage != nil {
		add("stage", *patch.Stage)
	}
	if patch.StageDescription != nil {
		add("stage_description", *patch.StageDescription)
	}
	if patch.ProgressCurrent != nil {
		add("progress_current", *patch.ProgressCurrent)
	}
	if patch.ProgressTotal != nil {
		add("progress_total", *patch.ProgressTotal)
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.FailedAt != nil {
		add("failed_at", *patch.FailedAt)
	}

	q := fmt.Sprintf(`UPDATE documents SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// SetDocumentSource records file name, size and metadata for documents whose
// bytes arrive after the row, e.g. a video resolved from a URL.
func (c *DatabaseClient) SetDocumentSource(ctx context.Context, id, fileName string, fileSizeMB float64, metadata models.Metadata) error {
	meta, err := metadataJSON(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `
		UPDATE documents
		SET file_name = $2, file_size_mb = $3, metadata = $4, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, fileName, fileSizeMB, meta)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) SetDocumentContent(ctx context.Context, id, rawContent, stage, stageDescription string) error {
	const q = `
		UPDATE documents
		SET raw_content = $2, stage = $3, stage_description = $4, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, rawContent, stage, stageDescription)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d           models.Document
		meta        []byte
		completedAt sql.NullTime
		failedAt    sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.UserID, &d.OrgID, &d.FolderName, &d.FileName, &d.FileKey, &d.FileURL,
		&d.FileExtension, &d.FileSizeMB, &d.RawContent, &d.Status, &d.Stage, &d.StageDescription,
		&d.ProgressCurrent, &d.ProgressTotal, &d.Error, &meta, &d.CreatedAt, &d.UpdatedAt, &completedAt, &failedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal document metadata: %w", err)
		}
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		d.FailedAt = &failedAt.Time
	}
	return &d, nil
}

func metadataJSON(m models.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
