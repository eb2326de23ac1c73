package models

import (
	"time"
)

// Document status values. Status is the coarse lifecycle; Stage tracks the
// sub-step within "processing" so clients can poll progress.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Processing stages, in pipeline order.
const (
	StageInitializing        = "initializing"
	StageUploadingExtracting = "uploading_extracting"
	StageContentExtracted    = "content_extracted"
	StageEmbedding           = "embedding"
	StageCompleted           = "completed"
	StageFailed              = "failed"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	OrgID        string    `db:"org_id" json:"org_id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents one ingested artifact. The row is created with
// status=processing before any heavy work starts, so callers always have
// something to poll, and only the ingestion orchestrator mutates it afterwards.
type Document struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	OrgID            string     `db:"org_id" json:"org_id"`
	FolderName       string     `db:"folder_name" json:"folder_name"`
	FileName         string     `db:"file_name" json:"file_name"`
	FileKey          string     `db:"file_key" json:"file_key,omitempty"`
	FileURL          string     `db:"-" json:"file_url,omitempty"`
	FileExtension    string     `db:"file_extension" json:"file_extension"`
	FileSizeMB       float64    `db:"file_size_mb" json:"file_size_mb"`
	RawContent       string     `db:"raw_content" json:"-"`
	Status           string     `db:"status" json:"status"`
	Stage            string     `db:"stage" json:"processing_stage"`
	StageDescription string     `db:"stage_description" json:"processing_stage_description"`
	ProgressCurrent  int        `db:"progress_current" json:"progress_current"`
	ProgressTotal    int        `db:"progress_total" json:"progress_total"`
	Error            string     `db:"error" json:"error,omitempty"`
	Metadata         Metadata   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt         *time.Time `db:"failed_at" json:"failed_at,omitempty"`
}

// Metadata is the free-form bag attached to chunks. Values must never be nil
// when written to the vector store (the store rejects nulls); Merged drops
// them at the boundary instead.
type Metadata map[string]any

// Merged returns a copy of m with overlay applied on top. Nil values from
// either side are dropped, never written.
func (m Metadata) Merged(overlay Metadata) Metadata {
	out := make(Metadata, len(m)+len(overlay))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	for k, v := range overlay {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// TranscriptSegment is a timestamped slice of a speech-to-text result.
// Start and End are seconds relative to the whole source file.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Scene is a contiguous interval of a video delimited by a detected visual
// content change. Frame indices are half-open: [StartFrame, EndFrame).
// Scenes are ephemeral; they exist only to derive scene chunks.
type Scene struct {
	ID         int     `json:"scene_id"`
	StartFrame int     `json:"start_frame"`
	EndFrame   int     `json:"end_frame"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

// Duration returns the scene length in seconds.
func (s Scene) Duration() float64 {
	return s.EndTime - s.StartTime
}

// NumFrames returns the number of frames the scene spans.
func (s Scene) NumFrames() int {
	return s.EndFrame - s.StartFrame
}

// KeyFrame is the representative frame chosen for a scene: the temporal
// midpoint. Entropy is the Shannon entropy of the grayscale histogram,
// recorded for diagnostics; it does not gate selection.
type KeyFrame struct {
	FrameNumber int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"`
	SceneID     int     `json:"scene_id"`
	Entropy     float64 `json:"entropy"`
}

// SceneChunk is a retrieval-ready unit derived from one video scene.
type SceneChunk struct {
	SceneID           int     `json:"scene_id"`
	Text              string  `json:"text"`
	ClipStart         float64 `json:"clip_start"`
	ClipEnd           float64 `json:"clip_end"`
	Duration          float64 `json:"duration"`
	KeyFrameTimestamp float64 `json:"key_frame_timestamp"`
	KeyFrameKey       string  `json:"keyframe_file_key,omitempty"`
}

// VideoBundle is the extraction output for video files: a flattened transcript
// for storage/preview plus scene chunks that bypass the generic chunker.
type VideoBundle struct {
	Transcript string       `json:"transcript"`
	Chunks     []SceneChunk `json:"chunks"`
}

// ExtractedContent is the tagged result of content extraction: either plain
// text or a video bundle, never both.
type ExtractedContent struct {
	Text  string
	Video *VideoBundle
}

// IsVideo reports whether the extraction produced a video bundle.
func (e *ExtractedContent) IsVideo() bool {
	return e != nil && e.Video != nil
}

// VectorMatch is one vector store query hit.
type VectorMatch struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}
