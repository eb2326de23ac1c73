package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/corpora-hq/corpora/internal/models"
)

// YouTubeRequest is one video URL to ingest.
type YouTubeRequest struct {
	UserID     string
	OrgID      string
	FolderName string
	URL        string
}

// PrepareYouTube inserts the Document row for a linked video before anything
// is fetched. File name and size are placeholders until the download resolves;
// the source URL is kept on the document's metadata so the origin survives.
func (o *Orchestrator) PrepareYouTube(ctx context.Context, req YouTubeRequest) (*models.Document, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, errors.New("empty video url")
	}
	doc := &models.Document{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		OrgID:            req.OrgID,
		FolderName:       req.FolderName,
		FileName:         "youtube video",
		FileExtension:    ".mp4",
		Status:           models.StatusProcessing,
		Stage:            models.StageInitializing,
		StageDescription: "queued for download",
		Metadata: models.Metadata{
			"source":     "youtube",
			"source_url": req.URL,
		},
	}
	doc.FileKey = fmt.Sprintf("%s/%s/%s%s", req.OrgID, req.FolderName, doc.ID, doc.FileExtension)

	if err := o.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document row: %w", err)
	}
	return doc, nil
}

// RunYouTube downloads the video inside a governor slot, records the resolved
// title, size and duration on the row, then hands the bytes to the regular
// pipeline. Download failures are upload failures: the file never made it in.
func (o *Orchestrator) RunYouTube(ctx context.Context, doc *models.Document, req YouTubeRequest) (*models.Document, error) {
	if o.downloader == nil {
		return o.fail(doc, uploadFailed(errors.New("video downloads are not configured")))
	}

	if err := o.gov.Acquire(ctx); err != nil {
		return o.fail(doc, uploadFailed(fmt.Errorf("admission cancelled: %w", err)))
	}
	defer o.gov.Release()

	o.setStage(doc.ID, models.StageUploadingExtracting, "downloading video")
	dl, err := o.downloader.Download(ctx, req.URL)
	if err != nil {
		return o.fail(doc, uploadFailed(fmt.Errorf("download video: %w", err)))
	}

	fileName := downloadFileName(dl.Title, dl.Extension)
	sizeMB := float64(len(dl.Data)) / (1 << 20)
	meta := doc.Metadata.Merged(models.Metadata{
		"title":            dl.Title,
		"duration_seconds": dl.DurationSeconds,
	})
	if err := o.store.SetDocumentSource(ctx, doc.ID, fileName, sizeMB, meta); err != nil {
		return o.fail(doc, uploadFailed(fmt.Errorf("record video source: %w", err)))
	}
	doc.FileName = fileName
	doc.FileSizeMB = sizeMB
	doc.Metadata = meta

	ingErr := o.run(ctx, doc, Request{
		UserID:      req.UserID,
		OrgID:       req.OrgID,
		FolderName:  req.FolderName,
		FileName:    fileName,
		ContentType: dl.MimeType,
		Data:        dl.Data,
	})
	if ingErr != nil {
		return o.fail(doc, ingErr)
	}

	final, err := o.store.GetDocumentByID(ctx, doc.ID)
	if err != nil || final == nil {
		return doc, nil
	}
	return final, nil
}

// downloadFileName turns a video title into a safe file name. Path
// separators and control characters would leak into object keys otherwise.
func downloadFileName(title, ext string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if cleaned == "" {
		cleaned = "video"
	}
	if ext == "" {
		ext = ".mp4"
	}
	return cleaned + ext
}
