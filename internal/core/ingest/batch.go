package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/panjf2000/ants/v2"

	"github.com/corpora-hq/corpora/internal/models"
)

// FileResult is the per-file outcome of an enqueue call. The batch itself
// never fails: each entry reports its own document's fate.
type FileResult struct {
	FileName   string `json:"file_name"`
	DocumentID string `json:"document_id,omitempty"`
	Status     string `json:"status"`
	Stage      string `json:"stage,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher schedules ingestion onto a shared goroutine pool. Rows are
// created synchronously so callers get a document ID to poll; everything
// heavy runs after the enqueue call has returned. The pool bounds
// goroutines, not pipeline concurrency; that is the governor's job.
type Dispatcher struct {
	orch   *Orchestrator
	pool   *ants.Pool
	logger *slog.Logger
}

func NewDispatcher(orch *Orchestrator, workers int, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{orch: orch, pool: pool, logger: logger}, nil
}

// Release tears down the pool. In-flight documents finish first.
func (d *Dispatcher) Release() {
	d.pool.Release()
}

// Enqueue creates a processing row for every request and returns as soon as
// the rows exist; the pipeline runs on the pool afterwards. A request whose
// row could not be created reports failed in its slot and never disturbs the
// others. Callers poll the document records for progress.
func (d *Dispatcher) Enqueue(ctx context.Context, reqs []Request) []FileResult {
	results := make([]FileResult, len(reqs))
	for i := range reqs {
		req := reqs[i]
		doc, err := d.orch.Prepare(ctx, req)
		if err != nil {
			d.logger.Warn("could not enqueue document",
				slog.String("file", req.FileName), slog.String("error", err.Error()))
			results[i] = FileResult{FileName: req.FileName, Status: models.StatusFailed, Error: err.Error()}
			continue
		}
		results[i] = FileResult{FileName: doc.FileName, DocumentID: doc.ID, Status: doc.Status, Stage: doc.Stage}
		d.schedule(doc, func(runCtx context.Context) error {
			_, err := d.orch.Run(runCtx, doc, req)
			return err
		})
	}
	return results
}

// EnqueueYouTube creates the row for a linked video and schedules its
// download and ingestion. The returned error covers row creation only; the
// pipeline's outcome lands on the document record.
func (d *Dispatcher) EnqueueYouTube(ctx context.Context, req YouTubeRequest) (FileResult, error) {
	doc, err := d.orch.PrepareYouTube(ctx, req)
	if err != nil {
		return FileResult{FileName: req.URL, Status: models.StatusFailed, Error: err.Error()}, err
	}
	res := FileResult{FileName: doc.FileName, DocumentID: doc.ID, Status: doc.Status, Stage: doc.Stage}
	d.schedule(doc, func(runCtx context.Context) error {
		_, err := d.orch.RunYouTube(runCtx, doc, req)
		return err
	})
	return res, nil
}

// schedule submits one pipeline run. The run gets a background context: the
// request context dies with the HTTP response, and a client disconnect must
// not fail a document that is already admitted.
func (d *Dispatcher) schedule(doc *models.Document, run func(context.Context) error) {
	submitErr := d.pool.Submit(func() {
		if err := run(context.Background()); err != nil {
			d.logger.Warn("document failed",
				slog.String("document_id", doc.ID), slog.String("error", err.Error()))
		}
	})
	if submitErr != nil {
		// The row already exists; leave it terminal so polls don't hang on
		// a document that will never run.
		d.orch.markFailed(doc.ID, uploadFailed(fmt.Errorf("schedule ingestion: %w", submitErr)))
		d.logger.Error("could not schedule ingestion",
			slog.String("document_id", doc.ID), slog.String("error", submitErr.Error()))
	}
}
