package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"code.sajari.com/docconv"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/core/video"
	"github.com/corpora-hq/corpora/internal/models"
)

var _ core.ContentExtractor = (*Extractor)(nil)

// Extractor turns an uploaded file into indexable content, dispatching on the
// file's extension. Documents go through docconv, images through the vision
// captioner, audio through the transcriber (windowed when oversize), and
// video through the scene pipeline.
type Extractor struct {
	captioner   core.Captioner
	transcriber core.Transcriber
	segmenter   *video.Segmenter
	readability bool
	logger      *slog.Logger
}

func NewExtractor(captioner core.Captioner, transcriber core.Transcriber, segmenter *video.Segmenter, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		captioner:   captioner,
		transcriber: transcriber,
		segmenter:   segmenter,
		logger:      logger,
	}
}

// Extract produces the text (and, for video, the scene bundle) for a file.
// The folder name travels with the call only for logging.
func (e *Extractor) Extract(ctx context.Context, data []byte, fileName, folderName string) (*models.ExtractedContent, error) {
	kind := KindForExtension(fileName)
	e.logger.Info("extracting content",
		slog.String("file", fileName),
		slog.String("folder", folderName),
		slog.String("kind", kind.String()),
		slog.Int("bytes", len(data)))

	switch kind {
	case KindDocument:
		return e.extractDocument(data, fileName)
	case KindImage:
		return e.extractImage(ctx, data, fileName)
	case KindAudio:
		return e.extractAudio(ctx, data, fileName)
	case KindVideo:
		return e.extractVideo(ctx, data, fileName)
	default:
		return nil, fmt.Errorf("unsupported file type %q", fileName)
	}
}

func (e *Extractor) extractDocument(data []byte, fileName string) (*models.ExtractedContent, error) {
	mime := docconv.MimeTypeByExtension(fileName)
	res, err := docconv.Convert(bytes.NewReader(data), mime, e.readability)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", fileName, err)
	}
	text := strings.TrimSpace(res.Body)
	if text == "" {
		return nil, fmt.Errorf("no text content in %s", fileName)
	}
	return &models.ExtractedContent{Text: text}, nil
}

func (e *Extractor) extractImage(ctx context.Context, data []byte, fileName string) (*models.ExtractedContent, error) {
	caption, err := e.captioner.CaptionImage(ctx, data, mimeForExtension(fileName))
	if err != nil {
		return nil, fmt.Errorf("caption %s: %w", fileName, err)
	}
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return nil, fmt.Errorf("empty caption for %s", fileName)
	}
	return &models.ExtractedContent{Text: caption}, nil
}

func (e *Extractor) extractAudio(ctx context.Context, data []byte, fileName string) (*models.ExtractedContent, error) {
	segments, err := transcribe(ctx, e.transcriber, data, mimeForExtension(fileName))
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", fileName, err)
	}
	text := video.FlattenTranscript(segments)
	if text == "" {
		return nil, fmt.Errorf("no speech in %s", fileName)
	}
	return &models.ExtractedContent{Text: text}, nil
}

// extractVideo runs scene detection over the frame stream and blends the
// spoken transcript into per-scene chunks. The chunks are indexed as-is
// downstream; a video never passes through the generic chunker.
func (e *Extractor) extractVideo(ctx context.Context, data []byte, fileName string) (*models.ExtractedContent, error) {
	factory := video.MJPEGFactory(data, 0)

	src, err := factory()
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", fileName, err)
	}
	scenes, err := e.segmenter.DetectScenes(src)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", fileName, err)
	}
	keyFrames, err := e.segmenter.SelectKeyFrames(factory, scenes)
	if err != nil {
		return nil, fmt.Errorf("key frames for %s: %w", fileName, err)
	}

	// The transcript is best-effort: a video with no decodable audio track
	// still yields scene chunks with positional captions.
	segments, err := transcribe(ctx, e.transcriber, data, mimeForExtension(fileName))
	if err != nil {
		e.logger.Warn("video transcription failed, indexing scenes without speech",
			slog.String("file", fileName), slog.String("error", err.Error()))
		segments = nil
	}

	chunks, err := video.BuildSceneChunks(scenes, keyFrames, segments)
	if err != nil {
		return nil, fmt.Errorf("scene chunks for %s: %w", fileName, err)
	}

	e.logger.Info("video segmented",
		slog.String("file", fileName),
		slog.Int("scenes", len(scenes)),
		slog.Int("transcript_segments", len(segments)))

	return &models.ExtractedContent{
		Text: video.FlattenTranscript(segments),
		Video: &models.VideoBundle{
			Transcript: video.FlattenTranscript(segments),
			Chunks:     chunks,
		},
	}, nil
}
