// Package surface holds the persistent buffers of a run. They are sized from
// the first frame, allocated once, reused for every later frame and released
// together when the run ends.
package surface

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"backplate/internal/compute"
	"backplate/internal/logger"
)

// Buffer identifiers used when declaring plan dependencies.
const (
	Frame              compute.BufferID = "frame"
	Current            compute.BufferID = "current"
	Background         compute.BufferID = "background"
	ReferenceHistogram compute.BufferID = "referenceHistogram"
	CurrentHistogram   compute.BufferID = "currentHistogram"
	ReferenceCDF       compute.BufferID = "referenceCDF"
	CurrentCDF         compute.BufferID = "currentCDF"
	LUT                compute.BufferID = "lut"
	Result             compute.BufferID = "result"
)

var (
	ErrAllocated          = errors.New("surfaces already allocated")
	ErrNotAllocated       = errors.New("surfaces not allocated")
	ErrResolutionMismatch = errors.New("frame resolution does not match surfaces")
)

// Mode selects which surfaces a run needs.
type Mode struct {
	Background bool
	Deflicker  bool
}

func (m Mode) String() string {
	switch {
	case m.Background && m.Deflicker:
		return "background+deflicker"
	case m.Background:
		return "background"
	case m.Deflicker:
		return "deflicker"
	default:
		return "passthrough"
	}
}

// Stats mirrors the allocation accounting of the set.
type Stats struct {
	Surfaces    int
	Bytes       int64
	AllocatedAt time.Time
	Released    bool
}

type record struct {
	id   compute.BufferID
	size int64
}

// Set is the run's surface collection. Fields that the mode does not need
// stay nil.
type Set struct {
	Mode Mode

	Current            compute.Image
	Background         compute.Image
	ReferenceHistogram compute.Histogram
	CurrentHistogram   compute.Histogram
	ReferenceCDF       compute.Histogram
	CurrentCDF         compute.Histogram
	LUT                compute.LUT
	Result             compute.Image

	mu        sync.RWMutex
	allocated bool
	records   []record
	stats     Stats
	logger    logger.Logger
}

func NewSet(mode Mode, log logger.Logger) *Set {
	if log == nil {
		log = logger.Nop()
	}
	return &Set{Mode: mode, logger: log}
}

// Allocate sizes every surface of the mode from first. Current and
// Background become bit-for-bit copies of first; histogram and LUT surfaces
// start zeroed. It fails with ErrAllocated when called twice.
func (s *Set) Allocate(first compute.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allocated {
		return ErrAllocated
	}
	if err := first.Validate(); err != nil {
		return fmt.Errorf("first frame: %w", err)
	}

	s.Current = first.Clone()
	s.track(Current, imageBytes(s.Current))

	s.Result = compute.Image{Width: first.Width, Height: first.Height, Pix: make([]float32, len(first.Pix))}
	s.track(Result, imageBytes(s.Result))

	if s.Mode.Background {
		s.Background = first.Clone()
		s.track(Background, imageBytes(s.Background))
	}

	if s.Mode.Deflicker {
		s.ReferenceHistogram = compute.NewHistogram()
		s.CurrentHistogram = compute.NewHistogram()
		s.ReferenceCDF = compute.NewHistogram()
		s.CurrentCDF = compute.NewHistogram()
		s.LUT = compute.NewLUT()
		s.track(ReferenceHistogram, histogramBytes)
		s.track(CurrentHistogram, histogramBytes)
		s.track(ReferenceCDF, histogramBytes)
		s.track(CurrentCDF, histogramBytes)
		s.track(LUT, histogramBytes)
	}

	s.allocated = true
	s.stats.AllocatedAt = time.Now()

	s.logger.Debug("SurfaceSet", "surfaces allocated", map[string]interface{}{
		"mode":     s.Mode.String(),
		"width":    first.Width,
		"height":   first.Height,
		"surfaces": s.stats.Surfaces,
		"bytes":    s.stats.Bytes,
	})
	return nil
}

const histogramBytes = int64(compute.HistogramSize * 4)

func imageBytes(img compute.Image) int64 { return int64(len(img.Pix) * 4) }

func (s *Set) track(id compute.BufferID, size int64) {
	s.records = append(s.records, record{id: id, size: size})
	s.stats.Surfaces++
	s.stats.Bytes += size
}

func (s *Set) Allocated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocated && !s.stats.Released
}

// Width and Height report the resolution fixed at allocation.
func (s *Set) Width() int  { return s.Current.Width }
func (s *Set) Height() int { return s.Current.Height }

// Check reports ErrResolutionMismatch when img cannot be uploaded into the set.
func (s *Set) Check(img compute.Image) error {
	if !s.Allocated() {
		return ErrNotAllocated
	}
	if !img.SameShape(s.Current) {
		return fmt.Errorf("%w: got %dx%d, surfaces are %dx%d",
			ErrResolutionMismatch, img.Width, img.Height, s.Current.Width, s.Current.Height)
	}
	return nil
}

// Has reports whether the surface id exists in this set.
func (s *Set) Has(id compute.BufferID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.id == id {
			return true
		}
	}
	return false
}

// Final returns the surface whose content is the run's output: the
// background when it is estimated, the current frame otherwise.
func (s *Set) Final() (compute.BufferID, compute.Image) {
	if s.Mode.Background {
		return Background, s.Background
	}
	return Current, s.Current
}

func (s *Set) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Release drops every surface. It is safe to call more than once.
func (s *Set) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allocated || s.stats.Released {
		return
	}

	s.Current, s.Background, s.Result = compute.Image{}, compute.Image{}, compute.Image{}
	s.ReferenceHistogram, s.CurrentHistogram = nil, nil
	s.ReferenceCDF, s.CurrentCDF, s.LUT = nil, nil, nil
	s.stats.Released = true

	s.logger.Debug("SurfaceSet", "surfaces released", map[string]interface{}{
		"surfaces": s.stats.Surfaces,
		"bytes":    s.stats.Bytes,
		"lifetime": time.Since(s.stats.AllocatedAt).String(),
	})
}

// Shutdown lets the set be registered with a shutdown manager.
func (s *Set) Shutdown() { s.Release() }
