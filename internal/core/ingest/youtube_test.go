package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

// fakeDownloader returns canned media, or fails when err is set.
type fakeDownloader struct {
	dl  *core.VideoDownload
	err error
}

func (d *fakeDownloader) Download(context.Context, string) (*core.VideoDownload, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.dl, nil
}

func ytReq(url string) YouTubeRequest {
	return YouTubeRequest{UserID: "user-1", OrgID: "org-1", FolderName: "research", URL: url}
}

func TestYouTubeIngestion(t *testing.T) {
	ex := &fakeExtractor{text: "A lecture transcript worth indexing in full."}
	orch, store, objects, _ := newTestOrchestrator(t, 2, ex)
	orch.downloader = &fakeDownloader{dl: &core.VideoDownload{
		Data:            []byte("video-bytes"),
		Title:           "Intro Lecture",
		MimeType:        "video/mp4",
		Extension:       ".mp4",
		DurationSeconds: 120,
	}}

	d, err := NewDispatcher(orch, 2, nil)
	require.NoError(t, err)
	defer d.Release()

	res, err := d.EnqueueYouTube(context.Background(), ytReq("https://youtube.com/watch?v=abc123"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, res.Status)
	require.NotEmpty(t, res.DocumentID)

	// The row is pollable before any bytes were fetched, and it remembers
	// where it came from.
	stored, _ := store.GetDocumentByID(context.Background(), res.DocumentID)
	require.NotNil(t, stored)
	assert.Equal(t, "https://youtube.com/watch?v=abc123", stored.Metadata["source_url"])

	final := waitForStatus(t, store, res.DocumentID, models.StatusCompleted)
	assert.Equal(t, "Intro Lecture.mp4", final.FileName)
	assert.Equal(t, "Intro Lecture", final.Metadata["title"])
	assert.Equal(t, float64(120), final.Metadata["duration_seconds"])
	assert.Equal(t, "youtube", final.Metadata["source"])
	assert.Equal(t, 1, objects.count())
}

func TestYouTubeDownloadFailureIsUploadFailure(t *testing.T) {
	ex := &fakeExtractor{text: "never reached"}
	orch, store, objects, vectors := newTestOrchestrator(t, 2, ex)
	orch.downloader = &fakeDownloader{err: fmt.Errorf("video unavailable")}

	d, err := NewDispatcher(orch, 2, nil)
	require.NoError(t, err)
	defer d.Release()

	res, err := d.EnqueueYouTube(context.Background(), ytReq("https://youtube.com/watch?v=gone"))
	require.NoError(t, err)

	stored := waitForStatus(t, store, res.DocumentID, models.StatusFailed)
	assert.Equal(t, "failed during upload", stored.StageDescription)
	assert.Contains(t, stored.Error, "video unavailable")
	assert.Equal(t, 0, objects.count())
	assert.Equal(t, 0, vectors.size())
}

func TestYouTubeRejectsEmptyURL(t *testing.T) {
	ex := &fakeExtractor{}
	orch, store, _, _ := newTestOrchestrator(t, 2, ex)

	_, err := orch.PrepareYouTube(context.Background(), ytReq("   "))
	require.Error(t, err)

	docs, _ := store.ListDocuments(context.Background(), "org-1", "", 100, 0)
	assert.Empty(t, docs)
}

func TestDownloadFileName(t *testing.T) {
	assert.Equal(t, "Intro Lecture.mp4", downloadFileName("Intro Lecture", ".mp4"))
	assert.Equal(t, "a_b_c.mp4", downloadFileName("a/b\\c", ".mp4"))
	assert.Equal(t, "video.mp4", downloadFileName("   ", ""))
}
