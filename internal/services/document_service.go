package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

// DocumentService is the read side of the document API: listings, status
// polls and folder views. Writes go through the ingest orchestrator.
type DocumentService struct {
	store      core.DocumentStore
	storage    core.ObjectStore
	presignTTL time.Duration
	logger     *slog.Logger
}

func NewDocumentService(store core.DocumentStore, storage core.ObjectStore, presignTTL time.Duration, logger *slog.Logger) *DocumentService {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{store: store, storage: storage, presignTTL: presignTTL, logger: logger}
}

// Get returns one document scoped to the caller's organization, with the
// storage key swapped for a time-limited URL.
func (s *DocumentService) Get(ctx context.Context, orgID, id string) (*models.Document, error) {
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.OrgID != orgID {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	s.attachURL(ctx, doc)
	return doc, nil
}

// List pages an organization's documents, optionally one folder's worth.
func (s *DocumentService) List(ctx context.Context, orgID, folderName string, limit, offset int) ([]models.Document, error) {
	docs, err := s.store.ListDocuments(ctx, orgID, folderName, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		s.attachURL(ctx, &docs[i])
	}
	return docs, nil
}

func (s *DocumentService) ListFolders(ctx context.Context, orgID string) ([]string, error) {
	return s.store.ListFolders(ctx, orgID)
}

// attachURL is best-effort: a presign failure downgrades to no URL rather
// than failing the read.
func (s *DocumentService) attachURL(ctx context.Context, doc *models.Document) {
	if doc.FileKey == "" {
		return
	}
	url, err := s.storage.PresignURL(ctx, doc.FileKey, s.presignTTL)
	if err != nil {
		s.logger.Warn("presign failed", slog.String("document_id", doc.ID), slog.String("error", err.Error()))
		return
	}
	doc.FileURL = url
}
