// Package video turns a video stream into retrievable, time-bounded units.
// Scene boundaries come from frame-to-frame content differencing over
// downscaled grayscale frames; each scene is summarized by its temporal
// midpoint frame.
package video

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/corpora-hq/corpora/internal/models"
)

const (
	// DefaultThreshold is the content-difference score (0..255 scale) that
	// opens a new scene. The conventional detector default is 27; we run
	// more sensitive on purpose so lecture-style videos with subtle slide
	// changes still split.
	DefaultThreshold = 18.0

	// DefaultDownscale shrinks frames by this factor before comparison.
	// It trades detection fidelity for throughput; 1 = full resolution.
	DefaultDownscale = 2
)

// ErrNoFrames is returned when the source yields no decodable frames.
var ErrNoFrames = errors.New("video: source has no frames")

// FrameSource yields decoded frames in presentation order. Next returns
// io.EOF after the last frame. FPS is the constant frame rate of the source.
type FrameSource interface {
	Next() (image.Image, error)
	FPS() float64
}

// SourceFactory reopens the underlying stream. The segmenter makes two passes
// over the video (boundary detection, then key-frame capture), so the source
// must be reopenable; for in-memory bytes this is free.
type SourceFactory func() (FrameSource, error)

// Config tunes the segmenter.
type Config struct {
	Threshold float64
	Downscale int
}

// Segmenter detects scenes and selects key frames. Safe for concurrent use;
// all state is per call.
type Segmenter struct {
	threshold float64
	downscale int
}

// NewSegmenter applies defaults for unset config fields.
func NewSegmenter(cfg Config) *Segmenter {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Downscale < 1 {
		cfg.Downscale = DefaultDownscale
	}
	return &Segmenter{threshold: cfg.Threshold, downscale: cfg.Downscale}
}

// DetectScenes walks the stream once and returns the ordered scene list.
// The scenes partition [0, totalFrames) exactly: contiguous, non-overlapping,
// with the final scene ending at the total frame count. A video with no
// detected content change yields exactly one scene spanning the whole
// duration. A candidate boundary that would produce a scene shorter than one
// frame is merged into the current scene instead.
func (s *Segmenter) DetectScenes(src FrameSource) ([]models.Scene, error) {
	fps := src.FPS()
	if fps <= 0 {
		return nil, fmt.Errorf("video: non-positive fps %v", fps)
	}

	var (
		scenes     []models.Scene
		sceneStart int
		prev       *grayFrame
		frameIdx   int
	)

	for {
		img, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("video: decode frame %d: %w", frameIdx, err)
		}

		cur := downscaleGray(img, s.downscale)
		if prev != nil {
			score := contentDelta(prev, cur)
			// A boundary at frameIdx closes [sceneStart, frameIdx).
			if score >= s.threshold && frameIdx-sceneStart >= 1 {
				scenes = append(scenes, s.makeScene(len(scenes), sceneStart, frameIdx, fps))
				sceneStart = frameIdx
			}
		}
		prev = cur
		frameIdx++
	}

	if frameIdx == 0 {
		return nil, ErrNoFrames
	}

	// Close the final scene at the total frame count; this also covers the
	// zero-boundary case with a single full-duration scene.
	scenes = append(scenes, s.makeScene(len(scenes), sceneStart, frameIdx, fps))
	return scenes, nil
}

func (s *Segmenter) makeScene(id, startFrame, endFrame int, fps float64) models.Scene {
	return models.Scene{
		ID:         id,
		StartFrame: startFrame,
		EndFrame:   endFrame,
		StartTime:  float64(startFrame) / fps,
		EndTime:    float64(endFrame) / fps,
	}
}

// SelectKeyFrames reopens the stream and captures the midpoint frame of each
// scene. The midpoint is a deterministic, cheap approximation of a
// representative frame; the entropy recorded alongside is diagnostic only.
func (s *Segmenter) SelectKeyFrames(open SourceFactory, scenes []models.Scene) ([]models.KeyFrame, error) {
	src, err := open()
	if err != nil {
		return nil, fmt.Errorf("video: reopen source: %w", err)
	}

	wanted := make(map[int]int, len(scenes)) // frame number -> scene index
	for i, sc := range scenes {
		wanted[midpointFrame(sc)] = i
	}

	out := make([]models.KeyFrame, len(scenes))
	frameIdx := 0
	remaining := len(wanted)
	for remaining > 0 {
		img, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("video: decode frame %d: %w", frameIdx, err)
		}
		if si, ok := wanted[frameIdx]; ok {
			sc := scenes[si]
			out[si] = models.KeyFrame{
				FrameNumber: frameIdx,
				Timestamp:   KeyFrameTimestamp(sc, frameIdx),
				SceneID:     sc.ID,
				Entropy:     Entropy(downscaleGray(img, 1)),
			}
			remaining--
		}
		frameIdx++
	}
	if remaining > 0 {
		return nil, fmt.Errorf("video: stream ended before %d key frame(s) were reached", remaining)
	}
	return out, nil
}

// midpointFrame returns the temporal midpoint of a scene, clamped inside the
// half-open frame interval.
func midpointFrame(sc models.Scene) int {
	mid := (sc.StartFrame + sc.EndFrame) / 2
	if mid >= sc.EndFrame {
		mid = sc.EndFrame - 1
	}
	if mid < sc.StartFrame {
		mid = sc.StartFrame
	}
	return mid
}

// KeyFrameTimestamp interpolates the key frame's position into seconds:
//
//	start_time + (kf-start)/(end-start) * (end_time-start_time)
//
// guarding the degenerate single-frame scene by falling back to start_time.
func KeyFrameTimestamp(sc models.Scene, frameNumber int) float64 {
	frames := sc.EndFrame - sc.StartFrame
	if frames <= 0 {
		return sc.StartTime
	}
	offset := float64(frameNumber-sc.StartFrame) / float64(frames)
	return sc.StartTime + offset*sc.Duration()
}
