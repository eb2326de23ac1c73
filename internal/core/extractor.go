package core

import (
	"context"

	"github.com/corpora-hq/corpora/internal/models"
)

// ContentExtractor converts raw file bytes into either plain text or a video
// bundle, dispatching on the file's extension. Malformed or unsupported input
// is an extraction error; the orchestrator treats it as terminal for the
// document rather than retrying.
type ContentExtractor interface {
	Extract(ctx context.Context, data []byte, fileName string, folderName string) (*models.ExtractedContent, error)
}
