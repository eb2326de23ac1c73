package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

// DefaultFPS is assumed when the container carries no timing information.
const DefaultFPS = 25.0

// jpeg start/end-of-image markers.
var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// MJPEGSource decodes a motion-JPEG stream: back-to-back JPEG images with no
// container framing. It is the bundled FrameSource; other codecs plug in by
// implementing FrameSource over an external decoder.
type MJPEGSource struct {
	data []byte
	off  int
	fps  float64
}

// NewMJPEGSource wraps raw MJPEG bytes. fps <= 0 falls back to DefaultFPS.
func NewMJPEGSource(data []byte, fps float64) *MJPEGSource {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &MJPEGSource{data: data, fps: fps}
}

// MJPEGFactory returns a SourceFactory over the same bytes, for the
// segmenter's two-pass walk.
func MJPEGFactory(data []byte, fps float64) SourceFactory {
	return func() (FrameSource, error) {
		return NewMJPEGSource(data, fps), nil
	}
}

// FPS returns the configured frame rate.
func (s *MJPEGSource) FPS() float64 { return s.fps }

// Next scans for the next SOI..EOI window and decodes it. Returns io.EOF
// when the stream is exhausted; trailing garbage after the last EOI is
// ignored.
func (s *MJPEGSource) Next() (image.Image, error) {
	rest := s.data[s.off:]
	start := bytes.Index(rest, jpegSOI)
	if start < 0 {
		return nil, io.EOF
	}
	end := bytes.Index(rest[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		return nil, io.EOF
	}
	frame := rest[start : start+len(jpegSOI)+end+len(jpegEOI)]
	s.off += start + len(frame)

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("mjpeg: decode frame at offset %d: %w", s.off-len(frame), err)
	}
	return img, nil
}
