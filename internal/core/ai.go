package core

import (
	"context"

	"github.com/corpora-hq/corpora/internal/models"
)

// EmbeddingProvider turns texts into vectors. Implementations must accept
// arbitrary batch sizes; callers cap batches to respect provider limits.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider generates a completion from a system and user prompt.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// Captioner extracts content from an image using a vision-capable model:
// verbatim transcription of structured content, or an exhaustive description
// when the image carries no text.
type Captioner interface {
	CaptionImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Transcriber converts audio bytes into timestamped transcript segments.
// Timestamps are relative to the start of the given audio, not the whole
// file; window offset correction is the caller's job.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) ([]models.TranscriptSegment, error)
}
