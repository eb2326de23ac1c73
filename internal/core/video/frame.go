package video

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// grayFrame is a downscaled grayscale frame used for content differencing.
type grayFrame struct {
	pix  []uint8
	w, h int
}

// downscaleGray shrinks img by factor and converts it to 8-bit grayscale.
// Nearest-neighbor is enough here: we compare frames against each other, so
// both sides carry the same resampling bias.
func downscaleGray(img image.Image, factor int) *grayFrame {
	b := img.Bounds()
	w := b.Dx() / factor
	h := b.Dy() / factor
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	scaled := image.NewGray(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
	return &grayFrame{pix: scaled.Pix, w: w, h: h}
}

// contentDelta scores the visual difference between two frames as the mean
// absolute pixel delta on the 0..255 scale. Frames of mismatched size (e.g.
// a mid-stream resolution change) score as a guaranteed boundary.
func contentDelta(a, b *grayFrame) float64 {
	if a.w != b.w || a.h != b.h || len(a.pix) == 0 {
		return 255
	}
	var sum uint64
	for i := range a.pix {
		d := int(a.pix[i]) - int(b.pix[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return float64(sum) / float64(len(a.pix))
}

// Entropy computes the Shannon entropy of the frame's intensity histogram:
// -sum(p * log2(p)). Higher means more information in the frame.
func Entropy(f *grayFrame) float64 {
	if len(f.pix) == 0 {
		return 0
	}
	var hist [256]int
	for _, p := range f.pix {
		hist[p]++
	}
	total := float64(len(f.pix))
	var e float64
	for _, n := range hist {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		e -= p * math.Log2(p)
	}
	return e
}
