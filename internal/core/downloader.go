package core

import "context"

// VideoDownload is remote media fetched into memory, ready for ingestion.
type VideoDownload struct {
	Data            []byte
	Title           string
	MimeType        string
	Extension       string
	DurationSeconds float64
}

// VideoDownloader fetches a video from an external platform by URL.
type VideoDownloader interface {
	Download(ctx context.Context, url string) (*VideoDownload, error)
}
