package compute

import (
	"fmt"
	"math"
)

const (
	// Channels is fixed: every frame is three-channel.
	Channels = 3
	// Levels is the number of intensity levels per channel.
	Levels = 256
	// HistogramSize is the number of bins of a Histogram or entries of a LUT.
	HistogramSize = Channels * Levels
)

// Image is a width x height x 3 grid of intensity samples, interleaved in the
// decoder's channel order. Samples are float32 so blending never clips.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

func NewImage(width, height int) (Image, error) {
	if width <= 0 || height <= 0 {
		return Image{}, fmt.Errorf("invalid dimensions: %dx%d", width, height)
	}
	return Image{Width: width, Height: height, Pix: make([]float32, width*height*Channels)}, nil
}

// Pixels returns width*height.
func (img Image) Pixels() int { return img.Width * img.Height }

// SameShape reports whether both images have identical dimensions.
func (img Image) SameShape(other Image) bool {
	return img.Width == other.Width && img.Height == other.Height && len(img.Pix) == len(other.Pix)
}

func (img Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", img.Width, img.Height)
	}
	if len(img.Pix) != img.Width*img.Height*Channels {
		return fmt.Errorf("pixel buffer holds %d samples, want %d", len(img.Pix), img.Width*img.Height*Channels)
	}
	return nil
}

func (img Image) At(x, y, c int) float32 {
	return img.Pix[(y*img.Width+x)*Channels+c]
}

func (img Image) Set(x, y, c int, v float32) {
	img.Pix[(y*img.Width+x)*Channels+c] = v
}

// Clone returns a deep copy.
func (img Image) Clone() Image {
	pix := make([]float32, len(img.Pix))
	copy(pix, img.Pix)
	return Image{Width: img.Width, Height: img.Height, Pix: pix}
}

// Fill sets every sample of every channel to v.
func (img Image) Fill(v float32) {
	for i := range img.Pix {
		img.Pix[i] = v
	}
}

// Bytes converts samples to 8 bits per channel. Values are clamped into
// [0,255] and truncated toward zero.
func (img Image) Bytes(dst []byte) []byte {
	if cap(dst) < len(img.Pix) {
		dst = make([]byte, len(img.Pix))
	}
	dst = dst[:len(img.Pix)]
	for i, v := range img.Pix {
		switch {
		case !(v > 0):
			dst[i] = 0
		case v >= 255:
			dst[i] = 255
		default:
			dst[i] = uint8(v)
		}
	}
	return dst
}

// SetBytes loads 8-bit interleaved samples into img.
func (img Image) SetBytes(src []byte) error {
	if len(src) != len(img.Pix) {
		return fmt.Errorf("byte buffer holds %d samples, want %d", len(src), len(img.Pix))
	}
	for i, b := range src {
		img.Pix[i] = float32(b)
	}
	return nil
}

// Histogram holds 256 counts per channel, channel-major: bin c*256+level.
type Histogram []int32

func NewHistogram() Histogram { return make(Histogram, HistogramSize) }

// Channel returns the 256-bin view of channel c.
func (h Histogram) Channel(c int) []int32 { return h[c*Levels : (c+1)*Levels] }

// Sum returns the total count of channel c.
func (h Histogram) Sum(c int) int64 {
	var total int64
	for _, n := range h.Channel(c) {
		total += int64(n)
	}
	return total
}

func (h Histogram) Validate() error {
	if len(h) != HistogramSize {
		return fmt.Errorf("histogram holds %d bins, want %d", len(h), HistogramSize)
	}
	return nil
}

// LUT is a per-channel remap table, channel-major like Histogram.
type LUT []int32

func NewLUT() LUT { return make(LUT, HistogramSize) }

// IdentityLUT returns the table mapping every level to itself.
func IdentityLUT() LUT {
	lut := NewLUT()
	for c := 0; c < Channels; c++ {
		for v := 0; v < Levels; v++ {
			lut[c*Levels+v] = int32(v)
		}
	}
	return lut
}

func (l LUT) Channel(c int) []int32 { return l[c*Levels : (c+1)*Levels] }

func (l LUT) Validate() error {
	if len(l) != HistogramSize {
		return fmt.Errorf("lut holds %d entries, want %d", len(l), HistogramSize)
	}
	return nil
}

// Quantize rounds half away from zero and clamps into [0,255]. NaN maps to 0.
func Quantize(v float32) int {
	r := math.Round(float64(v))
	switch {
	case math.IsNaN(r), r <= 0:
		return 0
	case r >= Levels-1:
		return Levels - 1
	default:
		return int(r)
	}
}
