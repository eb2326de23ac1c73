package video

import (
	"fmt"
	"strings"

	"github.com/corpora-hq/corpora/internal/models"
)

// BuildSceneChunks pairs each scene with its key frame and the transcript
// segments overlapping its time window, producing retrieval-ready chunks.
// Scene boundaries are already semantically meaningful units, so these
// bypass the generic chunker entirely.
func BuildSceneChunks(scenes []models.Scene, keyFrames []models.KeyFrame, transcript []models.TranscriptSegment) ([]models.SceneChunk, error) {
	if len(keyFrames) != len(scenes) {
		return nil, fmt.Errorf("video: %d key frames for %d scenes", len(keyFrames), len(scenes))
	}

	chunks := make([]models.SceneChunk, 0, len(scenes))
	for i, sc := range scenes {
		text := transcriptWindow(transcript, sc.StartTime, sc.EndTime)
		if text == "" {
			// Silent scene: a positional caption keeps the chunk
			// retrievable by time reference.
			text = fmt.Sprintf("Scene %d (%s - %s), no speech.",
				sc.ID+1, formatTimestamp(sc.StartTime), formatTimestamp(sc.EndTime))
		}
		chunks = append(chunks, models.SceneChunk{
			SceneID:           sc.ID,
			Text:              text,
			ClipStart:         sc.StartTime,
			ClipEnd:           sc.EndTime,
			Duration:          sc.Duration(),
			KeyFrameTimestamp: keyFrames[i].Timestamp,
		})
	}
	return chunks, nil
}

// FlattenTranscript joins segments into the single transcript text persisted
// on the Document record, one timestamped line per segment.
func FlattenTranscript(segments []models.TranscriptSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", formatTimestamp(seg.Start), strings.TrimSpace(seg.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

// transcriptWindow joins the text of all segments overlapping [start, end).
func transcriptWindow(segments []models.TranscriptSegment, start, end float64) string {
	var parts []string
	for _, seg := range segments {
		if seg.End <= start || seg.Start >= end {
			continue
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
