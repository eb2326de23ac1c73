package core

import (
	"context"
	"time"

	"github.com/corpora-hq/corpora/internal/models"
)

// DocumentStore defines all persistence operations the pipeline needs for
// Document records. It abstracts Postgres so higher layers never depend on a
// specific database.
type DocumentStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, orgID, folderName string, limit, offset int) ([]models.Document, error)
	ListFolders(ctx context.Context, orgID string) ([]string, error)
	DeleteDocument(ctx context.Context, id string) error
	RenameFolder(ctx context.Context, orgID, oldName, newName string) (int, error)

	// UpdateDocumentStage applies a partial, field-level update of the
	// lifecycle columns. Nil/zero fields in the patch are left untouched.
	UpdateDocumentStage(ctx context.Context, id string, patch StagePatch) error
	SetDocumentContent(ctx context.Context, id, rawContent, stage, stageDescription string) error

	// SetDocumentSource fills in file fields that are only known after the
	// row was created, for sources resolved asynchronously such as a
	// downloaded video.
	SetDocumentSource(ctx context.Context, id, fileName string, fileSizeMB float64, metadata models.Metadata) error
}

// StagePatch carries the lifecycle fields a stage transition wants to touch.
// A nil pointer means "leave the column as is".
type StagePatch struct {
	Status           *string
	Stage            *string
	StageDescription *string
	ProgressCurrent  *int
	ProgressTotal    *int
	Error            *string
	CompletedAt      *time.Time
	FailedAt         *time.Time
}

// ObjectStore defines interactions with S3 or any compatible object storage.
// Keys are tenant-scoped paths: {org_id}/{folder}/{document_id}{ext}.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// VectorStore is the retrieval index. Namespace is the organization ID, which
// gives tenant isolation at the storage layer. The boundary is synchronous by
// design; any client-side concurrency quirks belong to the adapter, not here.
//
// Metadata maps passed to Upsert must not contain nil values.
type VectorStore interface {
	Upsert(ctx context.Context, ids []string, texts []string, metadatas []models.Metadata, namespace string) error
	Query(ctx context.Context, text string, filter models.Metadata, topK int, namespace string) ([]models.VectorMatch, error)
	DeleteByFilter(ctx context.Context, filter models.Metadata, namespace string) (int, error)
	UpdateMetadataByFilter(ctx context.Context, filter models.Metadata, patch models.Metadata, namespace string) (int, error)
}
