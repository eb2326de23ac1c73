// Package youtube fetches YouTube videos into memory so linked videos ride
// the same ingestion pipeline as uploaded files.
package youtube

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	yt "github.com/kkdai/youtube/v2"

	"github.com/corpora-hq/corpora/internal/core"
)

var _ core.VideoDownloader = (*Downloader)(nil)

// DefaultMaxBytes caps how much video is pulled into memory for one document.
const DefaultMaxBytes = 512 << 20

// Downloader resolves a YouTube URL to a progressive stream and reads it
// whole. Streams above MaxBytes are refused rather than truncated.
type Downloader struct {
	client   yt.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewDownloader(logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{maxBytes: DefaultMaxBytes, logger: logger}
}

func (d *Downloader) Download(ctx context.Context, url string) (*core.VideoDownload, error) {
	video, err := d.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("resolve video: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, fmt.Errorf("no progressive format available for %s", url)
	}
	formats.Sort()
	// Lowest quality with audio: scene detection downscales frames anyway.
	format := &formats[len(formats)-1]

	stream, size, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if size > d.maxBytes {
		return nil, fmt.Errorf("video is %d bytes, above the %d byte limit", size, d.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(stream, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("video exceeds the %d byte limit", d.maxBytes)
	}

	d.logger.Info("downloaded video",
		slog.String("title", video.Title), slog.Int("bytes", len(data)))

	return &core.VideoDownload{
		Data:            data,
		Title:           video.Title,
		MimeType:        format.MimeType,
		Extension:       ".mp4",
		DurationSeconds: video.Duration.Seconds(),
	}, nil
}
