package cpu

import (
	"fmt"
	"math"
	"sync/atomic"

	"backplate/internal/compute"
)

// program implements compute.Program on the host. Per-pixel kernels run
// over row bands on the pool; per-channel scans run one goroutine per channel.
type program struct {
	pool  *WorkerPool
	bands int
}

var _ compute.Program = (*program)(nil)

func (p *program) ComputeHistogram(hist compute.Histogram, img compute.Image) error {
	if err := hist.Validate(); err != nil {
		return err
	}
	if err := img.Validate(); err != nil {
		return err
	}

	rowSamples := img.Width * compute.Channels
	return p.pool.Bands(img.Height, p.bands, func(start, end int) {
		var local [compute.HistogramSize]int32
		for i := start * rowSamples; i < end*rowSamples; i += compute.Channels {
			for c := 0; c < compute.Channels; c++ {
				local[c*compute.Levels+compute.Quantize(img.Pix[i+c])]++
			}
		}
		for b, n := range local {
			if n != 0 {
				atomic.AddInt32(&hist[b], n)
			}
		}
	})
}

func (p *program) FinalizeHistogram(hist compute.Histogram) error {
	if err := hist.Validate(); err != nil {
		return err
	}
	return p.perChannel(func(c int) {
		bins := hist.Channel(c)
		for v := 1; v < compute.Levels; v++ {
			bins[v] += bins[v-1]
		}
	})
}

func (p *program) BuildLUT(referenceCDF, currentCDF compute.Histogram, lut compute.LUT) error {
	if err := referenceCDF.Validate(); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	if err := currentCDF.Validate(); err != nil {
		return fmt.Errorf("current: %w", err)
	}
	if err := lut.Validate(); err != nil {
		return err
	}
	return p.perChannel(func(c int) {
		MatchChannel(referenceCDF.Channel(c), currentCDF.Channel(c), lut.Channel(c))
	})
}

// MatchChannel fills out with the histogram-matching remap of one channel.
//
// A level present in the current frame maps to the smallest s whose
// normalized reference CDF reaches the level's normalized current CDF. A
// level absent from the frame maps to itself, clamped between the values of
// its nearest present neighbours, so out stays non-decreasing.
func MatchChannel(ref, cur, out []int32) {
	refTotal := int64(ref[compute.Levels-1])
	curTotal := int64(cur[compute.Levels-1])
	if refTotal <= 0 || curTotal <= 0 {
		for v := range out {
			out[v] = int32(v)
		}
		return
	}

	var populated [compute.Levels]bool
	s := 0
	var prev int32
	for v := 0; v < compute.Levels; v++ {
		if cur[v] == prev {
			continue
		}
		prev = cur[v]
		populated[v] = true

		target := int64(cur[v]) * refTotal
		for s < compute.Levels-1 && int64(ref[s])*curTotal < target {
			s++
		}
		out[v] = int32(s)
	}

	var lo [compute.Levels]int32
	last := int32(0)
	for v := 0; v < compute.Levels; v++ {
		if populated[v] {
			last = out[v]
		} else {
			lo[v] = last
		}
	}

	next := int32(compute.Levels - 1)
	for v := compute.Levels - 1; v >= 0; v-- {
		if populated[v] {
			next = out[v]
			continue
		}
		out[v] = min(max(int32(v), lo[v]), next)
	}
}

func (p *program) Deflicker(lut compute.LUT, img compute.Image) error {
	if err := lut.Validate(); err != nil {
		return err
	}
	if err := img.Validate(); err != nil {
		return err
	}

	rowSamples := img.Width * compute.Channels
	return p.pool.Bands(img.Height, p.bands, func(start, end int) {
		for i := start * rowSamples; i < end*rowSamples; i += compute.Channels {
			for c := 0; c < compute.Channels; c++ {
				img.Pix[i+c] = float32(lut[c*compute.Levels+compute.Quantize(img.Pix[i+c])])
			}
		}
	})
}

func (p *program) JoinHistogram(reference, current compute.Histogram, joinWeight int32) error {
	if err := reference.Validate(); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	if err := current.Validate(); err != nil {
		return fmt.Errorf("current: %w", err)
	}
	if joinWeight < 0 {
		return fmt.Errorf("join weight %d is negative", joinWeight)
	}

	jw := int64(joinWeight)
	den := jw + 1
	return p.perChannel(func(c int) {
		ref, cur := reference.Channel(c), current.Channel(c)
		for b := range ref {
			num := int64(ref[b])*jw + int64(cur[b])
			// round half away from zero; counts are never negative
			ref[b] = int32((2*num + den) / (2 * den))
		}
	})
}

func (p *program) Backsub(background, img compute.Image, weight, threshold float32) error {
	if err := background.Validate(); err != nil {
		return fmt.Errorf("background: %w", err)
	}
	if !background.SameShape(img) {
		return fmt.Errorf("frame %dx%d does not match background %dx%d",
			img.Width, img.Height, background.Width, background.Height)
	}
	if math.IsNaN(float64(weight)) || weight < 0 {
		return fmt.Errorf("invalid weight %v", weight)
	}

	denom := weight + 1
	rowSamples := img.Width * compute.Channels
	return p.pool.Bands(img.Height, p.bands, func(start, end int) {
		bg, cur := background.Pix, img.Pix
		for i := start * rowSamples; i < end*rowSamples; i++ {
			d := cur[i] - bg[i]
			if d > threshold || -d > threshold {
				bg[i] += d / denom
			}
		}
	})
}

func (p *program) Release() error {
	p.pool.Close()
	return nil
}

func (p *program) perChannel(fn func(c int)) error {
	work := make([]func(), compute.Channels)
	for c := range work {
		work[c] = func() { fn(c) }
	}
	return p.pool.ExecuteAll(work)
}
