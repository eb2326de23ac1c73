package video

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-hq/corpora/internal/models"
)

// fakeSource yields one solid-gray frame per entry in levels.
type fakeSource struct {
	levels []uint8
	idx    int
	fps    float64
}

func (f *fakeSource) FPS() float64 { return f.fps }

func (f *fakeSource) Next() (image.Image, error) {
	if f.idx >= len(f.levels) {
		return nil, io.EOF
	}
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = f.levels[f.idx]
	}
	f.idx++
	return img, nil
}

func fakeFactory(levels []uint8, fps float64) SourceFactory {
	return func() (FrameSource, error) {
		return &fakeSource{levels: levels, fps: fps}, nil
	}
}

// repeated builds a level sequence of len(counts) shots, where shot i holds
// value vals[i] for counts[i] frames.
func repeated(vals []uint8, counts []int) []uint8 {
	var out []uint8
	for i, v := range vals {
		for j := 0; j < counts[i]; j++ {
			out = append(out, v)
		}
	}
	return out
}

func assertCoverage(t *testing.T, scenes []models.Scene, totalFrames int) {
	t.Helper()
	require.NotEmpty(t, scenes)
	assert.Equal(t, 0, scenes[0].StartFrame)
	assert.Equal(t, totalFrames, scenes[len(scenes)-1].EndFrame)
	for i := 1; i < len(scenes); i++ {
		assert.Equal(t, scenes[i-1].EndFrame, scenes[i].StartFrame, "gap or overlap at scene %d", i)
	}
	for _, sc := range scenes {
		assert.GreaterOrEqual(t, sc.NumFrames(), 1)
	}
}

func TestDetectScenesSplitsOnContentChange(t *testing.T) {
	levels := repeated([]uint8{10, 200, 80}, []int{10, 10, 10})
	s := NewSegmenter(Config{Downscale: 1})

	scenes, err := s.DetectScenes(&fakeSource{levels: levels, fps: 10})
	require.NoError(t, err)

	require.Len(t, scenes, 3)
	assertCoverage(t, scenes, 30)
	assert.Equal(t, 10, scenes[0].EndFrame)
	assert.Equal(t, 20, scenes[1].EndFrame)
	assert.InDelta(t, 1.0, scenes[0].EndTime, 1e-9)
	assert.InDelta(t, 3.0, scenes[2].EndTime, 1e-9)
}

func TestDetectScenesStaticVideoYieldsOneScene(t *testing.T) {
	levels := repeated([]uint8{42}, []int{25})
	s := NewSegmenter(Config{})

	scenes, err := s.DetectScenes(&fakeSource{levels: levels, fps: 25})
	require.NoError(t, err)

	require.Len(t, scenes, 1)
	assertCoverage(t, scenes, 25)
	assert.InDelta(t, 1.0, scenes[0].EndTime, 1e-9)
}

func TestDetectScenesEmptySource(t *testing.T) {
	s := NewSegmenter(Config{})
	_, err := s.DetectScenes(&fakeSource{fps: 25})
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestDetectScenesBelowThresholdDoesNotSplit(t *testing.T) {
	// Deltas of 5 intensity levels stay under the default threshold of 18.
	levels := repeated([]uint8{100, 105, 100, 105}, []int{5, 5, 5, 5})
	s := NewSegmenter(Config{Downscale: 1})

	scenes, err := s.DetectScenes(&fakeSource{levels: levels, fps: 20})
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
}

func TestKeyFrameTimestampFormula(t *testing.T) {
	sc := models.Scene{StartFrame: 100, EndFrame: 200, StartTime: 4.0, EndTime: 8.0}
	assert.InDelta(t, 6.0, KeyFrameTimestamp(sc, 150), 1e-9)

	// Degenerate scene: fall back to start time.
	degenerate := models.Scene{StartFrame: 30, EndFrame: 30, StartTime: 1.5, EndTime: 1.5}
	assert.InDelta(t, 1.5, KeyFrameTimestamp(degenerate, 30), 1e-9)
}

func TestSelectKeyFramesPicksMidpoints(t *testing.T) {
	levels := repeated([]uint8{10, 200}, []int{10, 10})
	s := NewSegmenter(Config{Downscale: 1})

	factory := fakeFactory(levels, 10)
	src, err := factory()
	require.NoError(t, err)
	scenes, err := s.DetectScenes(src)
	require.NoError(t, err)
	require.Len(t, scenes, 2)

	kfs, err := s.SelectKeyFrames(factory, scenes)
	require.NoError(t, err)
	require.Len(t, kfs, 2)

	assert.Equal(t, 5, kfs[0].FrameNumber)
	assert.Equal(t, 15, kfs[1].FrameNumber)
	assert.Equal(t, scenes[0].ID, kfs[0].SceneID)
	assert.InDelta(t, 0.5, kfs[0].Timestamp, 1e-9)
	// A solid frame has zero entropy.
	assert.InDelta(t, 0.0, kfs[0].Entropy, 1e-9)
}

func TestEntropy(t *testing.T) {
	solid := &grayFrame{pix: bytes.Repeat([]byte{7}, 64), w: 8, h: 8}
	assert.InDelta(t, 0.0, Entropy(solid), 1e-9)

	half := &grayFrame{pix: append(bytes.Repeat([]byte{0}, 32), bytes.Repeat([]byte{255}, 32)...), w: 8, h: 8}
	assert.InDelta(t, 1.0, Entropy(half), 1e-9)
}

func TestBuildSceneChunks(t *testing.T) {
	scenes := []models.Scene{
		{ID: 0, StartFrame: 0, EndFrame: 100, StartTime: 0, EndTime: 10},
		{ID: 1, StartFrame: 100, EndFrame: 200, StartTime: 10, EndTime: 20},
	}
	kfs := []models.KeyFrame{
		{FrameNumber: 50, Timestamp: 5, SceneID: 0},
		{FrameNumber: 150, Timestamp: 15, SceneID: 1},
	}
	transcript := []models.TranscriptSegment{
		{Start: 1, End: 4, Text: "welcome to the course"},
		{Start: 4, End: 9, Text: "today we cover chunking"},
	}

	chunks, err := BuildSceneChunks(scenes, kfs, transcript)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "welcome to the course today we cover chunking", chunks[0].Text)
	assert.InDelta(t, 10.0, chunks[0].Duration, 1e-9)
	assert.InDelta(t, 5.0, chunks[0].KeyFrameTimestamp, 1e-9)

	// The second scene has no speech: placeholder caption.
	assert.Contains(t, chunks[1].Text, "Scene 2")
	assert.Contains(t, chunks[1].Text, "no speech")
}

func TestBuildSceneChunksLengthMismatch(t *testing.T) {
	_, err := BuildSceneChunks([]models.Scene{{ID: 0}}, nil, nil)
	assert.Error(t, err)
}

func TestFlattenTranscript(t *testing.T) {
	got := FlattenTranscript([]models.TranscriptSegment{
		{Start: 0, End: 2, Text: "hello"},
		{Start: 65, End: 70, Text: "goodbye"},
		{Start: 80, End: 81, Text: "   "},
	})
	assert.Equal(t, "[00:00] hello\n[01:05] goodbye", got)
}

func TestMJPEGSourceIteratesFrames(t *testing.T) {
	var stream bytes.Buffer
	for _, level := range []uint8{0, 128, 255} {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		for i := range img.Pix {
			img.Pix[i] = level
		}
		require.NoError(t, jpeg.Encode(&stream, img, nil))
	}

	src := NewMJPEGSource(stream.Bytes(), 0)
	assert.InDelta(t, DefaultFPS, src.FPS(), 1e-9)

	var n int
	for {
		img, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
		n++
	}
	assert.Equal(t, 3, n)
}

func TestDownscaleGrayHandlesColorInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	f := downscaleGray(img, 2)
	assert.Equal(t, 8, f.w)
	assert.Equal(t, 8, f.h)
}
