package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/core/chunker"
	"github.com/corpora-hq/corpora/internal/core/governor"
	"github.com/corpora-hq/corpora/internal/models"
)

// Orchestrator drives one document through the ingestion state machine:
// row creation, upload + extraction, chunking, indexing. All collaborators
// are injected; the orchestrator owns only the sequencing and the Document's
// lifecycle columns.
type Orchestrator struct {
	store      core.DocumentStore
	objects    core.ObjectStore
	vectors    core.VectorStore
	extractor  core.ContentExtractor
	downloader core.VideoDownloader
	chunker    *chunker.Chunker
	gov        *governor.Governor
	logger     *slog.Logger
}

func NewOrchestrator(
	store core.DocumentStore,
	objects core.ObjectStore,
	vectors core.VectorStore,
	extractor core.ContentExtractor,
	downloader core.VideoDownloader,
	ch *chunker.Chunker,
	gov *governor.Governor,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      store,
		objects:    objects,
		vectors:    vectors,
		extractor:  extractor,
		downloader: downloader,
		chunker:    ch,
		gov:        gov,
		logger:     logger,
	}
}

// Request is one file to ingest.
type Request struct {
	UserID      string
	OrgID       string
	FolderName  string
	FileName    string
	ContentType string
	Data        []byte
}

// Prepare inserts the Document row with status=processing before any heavy
// work starts, so callers can poll it while the pipeline is still queued.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(req.FileName))
	doc := &models.Document{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		OrgID:            req.OrgID,
		FolderName:       req.FolderName,
		FileName:         filepath.Base(req.FileName),
		FileExtension:    ext,
		FileSizeMB:       float64(len(req.Data)) / (1 << 20),
		Status:           models.StatusProcessing,
		Stage:            models.StageInitializing,
		StageDescription: "queued for processing",
	}
	// The key embeds the document ID so delete can derive it without a lookup.
	doc.FileKey = fmt.Sprintf("%s/%s/%s%s", req.OrgID, req.FolderName, doc.ID, ext)

	if err := o.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document row: %w", err)
	}
	return doc, nil
}

// Run drives a prepared document through the pipeline inside a governor slot.
// On failure the row carries the stage-tagged error verbatim and the returned
// error is an *IngestError; sibling documents are unaffected either way.
func (o *Orchestrator) Run(ctx context.Context, doc *models.Document, req Request) (*models.Document, error) {
	if err := o.gov.Acquire(ctx); err != nil {
		return o.fail(doc, uploadFailed(fmt.Errorf("admission cancelled: %w", err)))
	}
	defer o.gov.Release()

	if ingErr := o.run(ctx, doc, req); ingErr != nil {
		return o.fail(doc, ingErr)
	}

	final, err := o.store.GetDocumentByID(ctx, doc.ID)
	if err != nil || final == nil {
		return doc, nil
	}
	return final, nil
}

// Process ingests a single file synchronously: Prepare then Run. The HTTP
// surface enqueues through the Dispatcher instead; Process is for callers
// that want to block on the outcome.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*models.Document, error) {
	doc, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, doc, req)
}

// fail records the terminal error on the row and mirrors it onto the local
// copy so callers holding doc see the same state a poll would.
func (o *Orchestrator) fail(doc *models.Document, ingErr *IngestError) (*models.Document, error) {
	o.logger.Error("ingestion failed",
		slog.String("document_id", doc.ID),
		slog.String("stage", string(ingErr.Stage)),
		slog.String("error", ingErr.Err.Error()))
	o.markFailed(doc.ID, ingErr)
	doc.Status = models.StatusFailed
	doc.Stage = models.StageFailed
	doc.Error = ingErr.Error()
	return doc, ingErr
}

// run executes steps 1-4 inside an acquired governor slot.
func (o *Orchestrator) run(ctx context.Context, doc *models.Document, req Request) *IngestError {
	// Step 1: upload and extract concurrently within the slot.
	o.setStage(doc.ID, models.StageUploadingExtracting, "uploading file and extracting content")

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var content *models.ExtractedContent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := o.putWithRetry(gctx, doc.FileKey, req.Data, contentType); err != nil {
			return uploadFailed(err)
		}
		return nil
	})
	g.Go(func() error {
		c, err := o.extractor.Extract(gctx, req.Data, doc.FileName, doc.FolderName)
		if err != nil {
			return extractionFailed(err)
		}
		content = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return asIngestError(err)
	}
	if err := ctx.Err(); err != nil {
		return extractionFailed(err)
	}
	// Extraction that yields nothing is an extraction failure, not a
	// chunking one; the row must say which stage actually let the file down.
	if !content.IsVideo() && strings.TrimSpace(content.Text) == "" {
		return extractionFailed(fmt.Errorf("no content extracted from %s", doc.FileName))
	}

	// Step 2: persist what was extracted.
	if err := o.store.SetDocumentContent(ctx, doc.ID, content.Text, models.StageContentExtracted, "content extracted"); err != nil {
		return extractionFailed(fmt.Errorf("persist content: %w", err))
	}

	// Step 3: index.
	var count int
	if content.IsVideo() {
		n, ingErr := o.indexVideo(ctx, doc, content.Video)
		if ingErr != nil {
			return ingErr
		}
		count = n
	} else {
		n, ingErr := o.indexText(ctx, doc, content.Text)
		if ingErr != nil {
			return ingErr
		}
		count = n
	}
	if err := ctx.Err(); err != nil {
		return indexingFailed(err)
	}

	// Step 4: done.
	now := time.Now()
	patch := core.StagePatch{
		Status:           ptr(models.StatusCompleted),
		Stage:            ptr(models.StageCompleted),
		StageDescription: ptr(fmt.Sprintf("indexed %d chunks", count)),
		CompletedAt:      &now,
	}
	if err := o.store.UpdateDocumentStage(ctx, doc.ID, patch); err != nil {
		return indexingFailed(fmt.Errorf("finalize document: %w", err))
	}
	return nil
}

// indexText chunks plain text and upserts one pre-chunk at a time so progress
// stays visible on huge documents.
func (o *Orchestrator) indexText(ctx context.Context, doc *models.Document, text string) (int, *IngestError) {
	chunks, err := o.chunker.Chunk(doc.ID, text, o.baseMetadata(doc))
	if err != nil {
		return 0, chunkingFailed(err)
	}
	if len(chunks) == 0 {
		return 0, chunkingFailed(fmt.Errorf("chunker produced nothing for %s", doc.FileName))
	}

	o.setProgress(doc.ID, models.StageEmbedding, "embedding chunks", 0, len(chunks))

	done := 0
	for _, group := range groupByPreChunk(chunks) {
		ids := make([]string, len(group))
		texts := make([]string, len(group))
		metas := make([]models.Metadata, len(group))
		for i, ch := range group {
			ids[i] = ch.ID
			texts[i] = ch.Text
			metas[i] = ch.Metadata
		}
		if err := o.vectors.Upsert(ctx, ids, texts, metas, doc.OrgID); err != nil {
			return 0, indexingFailed(err)
		}
		done += len(group)
		o.setProgress(doc.ID, models.StageEmbedding, "embedding chunks", done, len(chunks))
	}
	return len(chunks), nil
}

// indexVideo stores pre-built scene chunks in one batch; scene boundaries are
// already semantic units so the chunker is bypassed.
func (o *Orchestrator) indexVideo(ctx context.Context, doc *models.Document, bundle *models.VideoBundle) (int, *IngestError) {
	if len(bundle.Chunks) == 0 {
		return 0, chunkingFailed(fmt.Errorf("no scenes detected in %s", doc.FileName))
	}

	o.setProgress(doc.ID, models.StageEmbedding, "embedding scene chunks", 0, len(bundle.Chunks))

	base := o.baseMetadata(doc)
	ids := make([]string, len(bundle.Chunks))
	texts := make([]string, len(bundle.Chunks))
	metas := make([]models.Metadata, len(bundle.Chunks))
	for i, sc := range bundle.Chunks {
		ids[i] = fmt.Sprintf("%s_%d", doc.ID, sc.SceneID)
		texts[i] = sc.Text
		metas[i] = base.Merged(models.Metadata{
			"scene_id":            sc.SceneID,
			"clip_start":          sc.ClipStart,
			"clip_end":            sc.ClipEnd,
			"duration":            sc.Duration,
			"key_frame_timestamp": sc.KeyFrameTimestamp,
		})
		if sc.KeyFrameKey != "" {
			metas[i]["key_frame_key"] = sc.KeyFrameKey
		}
	}

	if err := o.vectors.Upsert(ctx, ids, texts, metas, doc.OrgID); err != nil {
		return 0, indexingFailed(err)
	}
	o.setProgress(doc.ID, models.StageEmbedding, "embedding scene chunks", len(bundle.Chunks), len(bundle.Chunks))
	return len(bundle.Chunks), nil
}

func (o *Orchestrator) baseMetadata(doc *models.Document) models.Metadata {
	return models.Metadata{
		"document_id": doc.ID,
		"user_id":     doc.UserID,
		"folder_name": doc.FolderName,
		"file_name":   doc.FileName,
		"file_type":   strings.TrimPrefix(doc.FileExtension, "."),
	}
}

// putWithRetry retries transient storage failures; a put that keeps failing
// fails the document rather than blocking its governor slot forever.
func (o *Orchestrator) putWithRetry(ctx context.Context, key string, data []byte, contentType string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		return o.objects.Put(ctx, key, data, contentType)
	}, policy)
}

// setStage and setProgress are best-effort: a lost progress update must never
// fail the pipeline.
func (o *Orchestrator) setStage(docID, stage, description string) {
	patch := core.StagePatch{Stage: ptr(stage), StageDescription: ptr(description)}
	if err := o.store.UpdateDocumentStage(context.Background(), docID, patch); err != nil {
		o.logger.Warn("stage update lost", slog.String("document_id", docID), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) setProgress(docID, stage, description string, current, total int) {
	patch := core.StagePatch{
		Stage:            ptr(stage),
		StageDescription: ptr(description),
		ProgressCurrent:  ptr(current),
		ProgressTotal:    ptr(total),
	}
	if err := o.store.UpdateDocumentStage(context.Background(), docID, patch); err != nil {
		o.logger.Warn("progress update lost", slog.String("document_id", docID), slog.String("error", err.Error()))
	}
}

// markFailed records the terminal error on the row. It uses a fresh context:
// the failure being recorded may itself be a cancellation.
func (o *Orchestrator) markFailed(docID string, ingErr *IngestError) {
	now := time.Now()
	patch := core.StagePatch{
		Status:           ptr(models.StatusFailed),
		Stage:            ptr(models.StageFailed),
		StageDescription: ptr(fmt.Sprintf("failed during %s", ingErr.Stage)),
		Error:            ptr(ingErr.Error()),
		FailedAt:         &now,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.store.UpdateDocumentStage(ctx, docID, patch); err != nil {
		o.logger.Error("could not record failure", slog.String("document_id", docID), slog.String("error", err.Error()))
	}
}

// groupByPreChunk partitions chunks by their pre-chunk index, preserving
// order within and across groups.
func groupByPreChunk(chunks []chunker.Chunk) [][]chunker.Chunk {
	var groups [][]chunker.Chunk
	for _, ch := range chunks {
		if len(groups) == 0 || groups[len(groups)-1][0].PreChunkIndex != ch.PreChunkIndex {
			groups = append(groups, []chunker.Chunk{ch})
			continue
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], ch)
	}
	return groups
}

// asIngestError normalizes an errgroup error: pipeline steps already return
// *IngestError, anything else is treated as an extraction failure.
func asIngestError(err error) *IngestError {
	if ie, ok := err.(*IngestError); ok {
		return ie
	}
	return extractionFailed(err)
}

func ptr[T any](v T) *T {
	return &v
}
