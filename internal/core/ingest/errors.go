package ingest

import "fmt"

// FailStage identifies which pipeline step a document died in. The set is
// closed: every failure an orchestrator run can produce is one of these.
type FailStage string

const (
	FailUpload     FailStage = "upload"
	FailExtraction FailStage = "extraction"
	FailChunking   FailStage = "chunking"
	FailIndexing   FailStage = "indexing"
)

// IngestError is the terminal error for one document. It is caught at the
// document boundary, persisted verbatim on the row, and never aborts sibling
// documents.
type IngestError struct {
	Stage FailStage
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

func uploadFailed(err error) *IngestError {
	return &IngestError{Stage: FailUpload, Err: err}
}

func extractionFailed(err error) *IngestError {
	return &IngestError{Stage: FailExtraction, Err: err}
}

func chunkingFailed(err error) *IngestError {
	return &IngestError{Stage: FailChunking, Err: err}
}

func indexingFailed(err error) *IngestError {
	return &IngestError{Stage: FailIndexing, Err: err}
}
