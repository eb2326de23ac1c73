package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corpora-hq/corpora/internal/models"
)

// DeleteDocument removes every trace of a document: the storage object, its
// vectors in the org namespace, and finally the row. Vector and object
// deletion happen before the row goes away so a crash mid-delete leaves the
// row behind as evidence, never orphaned vectors.
func (o *Orchestrator) DeleteDocument(ctx context.Context, orgID, docID string) error {
	doc, err := o.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil || doc.OrgID != orgID {
		return fmt.Errorf("document not found: %s", docID)
	}

	if doc.FileKey != "" {
		if err := o.objects.Delete(ctx, doc.FileKey); err != nil {
			o.logger.Warn("storage object delete failed, continuing",
				slog.String("document_id", docID), slog.String("error", err.Error()))
		}
	}

	n, err := o.vectors.DeleteByFilter(ctx, models.Metadata{"document_id": docID}, orgID)
	if err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	o.logger.Info("deleted document vectors", slog.String("document_id", docID), slog.Int("vectors", n))

	return o.store.DeleteDocument(ctx, docID)
}

// DeleteFolder cascades DeleteDocument over every document in the folder and
// returns how many documents went away. One failing document stops the
// cascade so the caller can retry; already-deleted documents stay deleted.
func (o *Orchestrator) DeleteFolder(ctx context.Context, orgID, folderName string) (int, error) {
	deleted := 0
	for {
		docs, err := o.store.ListDocuments(ctx, orgID, folderName, 100, 0)
		if err != nil {
			return deleted, fmt.Errorf("list folder %q: %w", folderName, err)
		}
		if len(docs) == 0 {
			return deleted, nil
		}
		for _, doc := range docs {
			if err := o.DeleteDocument(ctx, orgID, doc.ID); err != nil {
				return deleted, fmt.Errorf("delete %s: %w", doc.ID, err)
			}
			deleted++
		}
	}
}

// RenameFolder moves every document row to the new folder name and patches
// the vector metadata so folder-scoped retrieval keeps working.
func (o *Orchestrator) RenameFolder(ctx context.Context, orgID, oldName, newName string) (int, error) {
	rows, err := o.store.RenameFolder(ctx, orgID, oldName, newName)
	if err != nil {
		return 0, fmt.Errorf("rename folder rows: %w", err)
	}

	vectors, err := o.vectors.UpdateMetadataByFilter(ctx,
		models.Metadata{"folder_name": oldName},
		models.Metadata{"folder_name": newName},
		orgID)
	if err != nil {
		return rows, fmt.Errorf("rename folder vectors: %w", err)
	}

	o.logger.Info("renamed folder",
		slog.String("org_id", orgID),
		slog.String("from", oldName),
		slog.String("to", newName),
		slog.Int("documents", rows),
		slog.Int("vectors", vectors))
	return rows, nil
}
